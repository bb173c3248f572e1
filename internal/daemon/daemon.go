package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/api"
	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/app/rewards"
	"github.com/coachpoints/coachpoints/internal/health"
	"github.com/coachpoints/coachpoints/internal/infra/logger"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
	"github.com/coachpoints/coachpoints/internal/infra/userlock"
)

// Daemon is the coachpoints runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *zap.Logger
	DB     *sqlite.DB

	Ledger       *engagement.Ledger
	Achievements *engagement.Achievements
	Policy       *engagement.Policy
	Directory    *engagement.Directory
	Rewards      *rewards.Service
	Maintenance  *rewards.Maintenance
	Health       *health.Checker
	Signer       *api.Signer
	Server       *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon from the loaded configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration. The API
// server is built only when a token secret is configured; CLI commands
// that work on the store directly do not need one.
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Ledger and rewards share one lock table so that debits, refunds and
	// credits of a user never interleave.
	locks := userlock.New()
	ledger := engagement.NewLedger(db, locks, engagement.WithLogger(log.Named("ledger")))
	svc := rewards.New(db, locks, rewards.WithLogger(log.Named("rewards")))

	d := &Daemon{
		Config:       cfg,
		Log:          log,
		DB:           db,
		Ledger:       ledger,
		Achievements: engagement.NewAchievements(ledger, engagement.DefaultPredicates()),
		Policy:       engagement.NewPolicy(db),
		Directory:    engagement.NewDirectory(db),
		Rewards:      svc,
		Maintenance: rewards.NewMaintenance(svc, rewards.MaintenanceConfig{
			Interval:      cfg.Scheduler.Interval.Duration,
			RetentionDays: cfg.Scheduler.RetentionDays,
		}),
		Health: health.NewChecker(db, cfg.Storage.Dir, log.Named("health")),
	}

	if cfg.Auth.JWTSecret != "" {
		d.Signer = api.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
		d.Server = api.NewServer(api.Services{
			Ledger:       d.Ledger,
			Achievements: d.Achievements,
			Policy:       d.Policy,
			Directory:    d.Directory,
			Rewards:      d.Rewards,
			Health:       d.Health,
		}, d.Signer, api.Options{
			CORSOrigins:    cfg.API.CORSOrigins,
			RateLimitRPS:   cfg.API.RateLimitRPS,
			RateLimitBurst: cfg.API.RateLimitBurst,
			Logger:         log.Named("http"),
		})
		if cfg.Telemetry.Prometheus {
			d.Server.EnableMetrics()
		}
	}

	return d, nil
}

// Serve starts the background jobs and the HTTP API, blocking until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if d.Server == nil {
		return errors.New("api server not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// ─── Background services ───────────────────────────────────────────

	go d.Health.Run(ctx)
	go d.Maintenance.Run(ctx)

	addr := d.Config.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.Log.Warn("http shutdown", zap.Error(err))
		}
	}()

	d.Log.Info("coachpoints serving",
		zap.String("addr", "http://"+addr),
		zap.String("data_dir", d.Config.Storage.Dir),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus),
	)

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	cancel()
	<-done
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
