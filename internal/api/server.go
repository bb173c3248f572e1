// Package api provides the coachpoints HTTP server.
// All routes live under /api/v1 and require a bearer token, except
// /health and /metrics.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/app/rewards"
	"github.com/coachpoints/coachpoints/internal/health"
	"github.com/coachpoints/coachpoints/internal/infra/logger"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
)

// Services are the application services the API exposes.
type Services struct {
	Ledger       *engagement.Ledger
	Achievements *engagement.Achievements
	Policy       *engagement.Policy
	Directory    *engagement.Directory
	Rewards      *rewards.Service
	Health       *health.Checker // optional
}

// Options tune the HTTP layer.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64 // writes per identity, 0 disables
	RateLimitBurst int
	Logger         *zap.Logger
}

// Server is the coachpoints HTTP API server.
type Server struct {
	svc            Services
	signer         *Signer
	log            *zap.Logger
	validate       *validator.Validate
	limiter        *writeLimiter
	corsOrigins    []string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(svc Services, signer *Signer, opts Options) *Server {
	return &Server{
		svc:         svc,
		signer:      signer,
		log:         logger.OrNop(opts.Logger),
		validate:    newValidator(),
		limiter:     newWriteLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		corsOrigins: opts.CORSOrigins,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.limitWrites)

		r.Post("/users", s.handleRegisterUser)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Get("/points", s.handleGetPoints)
			r.Get("/activities", s.handleHistory)
			r.Post("/streak", s.handleTouchStreak)
			r.Get("/achievements", s.handleUserAchievements)
			r.Post("/achievements/evaluate", s.handleEvaluateAchievements)
		})

		r.Post("/activities", s.handleRecordActivity)
		r.Get("/levels/{points}", s.handleLevel)

		r.Get("/achievements", s.handleListAchievements)
		r.Post("/achievements", s.handleCreateAchievement)
		r.Put("/achievements/{id}", s.handleUpdateAchievement)
		r.Delete("/achievements/{id}", s.handleDeactivateAchievement)

		r.Get("/rewards", s.handleListRewards)
		r.Post("/rewards", s.handleCreateReward)
		r.Put("/rewards/{id}", s.handleUpdateReward)
		r.Delete("/rewards/{id}", s.handleDeactivateReward)
		r.Post("/rewards/{id}/redeem", s.handleRedeem)

		r.Get("/redemptions", s.handleListRedemptions)
		r.Patch("/redemptions/{id}", s.handleUpdateRedemption)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/resets", s.handleResetHistory)
		r.Post("/resets", s.handleReset)

		r.Get("/leaderboard", s.handleLeaderboard)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.svc.Health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.svc.Health.Statuses(),
	})
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// accessLog writes one line per request and observes its duration.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors adds CORS headers for the configured origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
