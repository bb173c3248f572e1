package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
)

// MaintenanceConfig tunes the scheduled jobs.
type MaintenanceConfig struct {
	Interval      time.Duration  // tick period, default 1h
	RetentionDays int            // 0 disables event retention
	Location      *time.Location // calendar for due dates, default time.Local
}

// MaintenanceReport summarizes one run.
type MaintenanceReport struct {
	Resets       []domain.ResetRecord `json:"resets"`
	EventsPurged int64                `json:"events_purged"`
}

// Maintenance runs due automatic resets and soft-deletes events older
// than the retention window.
type Maintenance struct {
	svc *Service
	cfg MaintenanceConfig
}

// NewMaintenance creates the scheduled job runner.
func NewMaintenance(svc *Service, cfg MaintenanceConfig) *Maintenance {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Maintenance{svc: svc, cfg: cfg}
}

// Run executes the jobs immediately and then on every tick until ctx is
// done. Call in a goroutine.
func (m *Maintenance) Run(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Maintenance) tick(ctx context.Context) {
	if _, err := m.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.svc.log.Error("maintenance run failed", zap.Error(err))
	}
}

// RunOnce performs one maintenance pass. A failing tenant reset does not
// stop the others; all failures are joined into the returned error.
func (m *Maintenance) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	var errs []error

	resets, err := m.RunAutoResets(ctx)
	report.Resets = resets
	if err != nil {
		errs = append(errs, err)
	}

	if m.cfg.RetentionDays > 0 {
		n, err := m.PurgeEvents(ctx, m.cfg.RetentionDays)
		report.EventsPurged = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// RunAutoResets resets every tenant whose next_reset_date is today or
// earlier, with trigger "scheduled".
func (m *Maintenance) RunAutoResets(ctx context.Context) ([]domain.ResetRecord, error) {
	now := m.svc.now()
	today := domain.CalendarDate(now, m.cfg.Location)

	due, err := m.svc.db.DueAutoResets(ctx, today)
	if err != nil {
		return nil, domain.Persistence(fmt.Errorf("list due resets: %w", err))
	}

	var out []domain.ResetRecord
	var errs []error
	for _, s := range due {
		rec, err := m.svc.reset(ctx, s.TeacherID, "scheduled "+string(s.ResetFrequency)+" reset",
			domain.ResetScheduled, now, today)
		if errors.Is(err, errNotDue) {
			// An overlapping run got there first.
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", s.TeacherID, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

// PurgeEvents soft-deletes activity events older than days. Purged events
// leave History but still count toward achievement conditions.
func (m *Maintenance) PurgeEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, domain.Invalid("retention days must be positive, got %d", days)
	}
	now := m.svc.now()
	n, err := m.svc.db.SoftDeleteEventsBefore(ctx, now.AddDate(0, 0, -days), now)
	if err != nil {
		return 0, domain.Persistence(err)
	}
	if n > 0 {
		metrics.EventsPurged.Add(float64(n))
		m.svc.log.Info("activity events purged", zap.Int64("count", n), zap.Int("retention_days", days))
	}
	return n, nil
}
