package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
)

// DefaultResetHistoryLimit caps ResetHistory when no limit is given.
const DefaultResetHistoryLimit = 50

// errNotDue aborts a scheduled reset whose settings no longer call for it.
var errNotDue = errors.New("scheduled reset not due")

// ResetAllStudentPoints zeroes totals, levels and streaks of every student
// under teacherID in one transaction and records the pre-reset rows as a
// JSON backup. Callers must obtain explicit confirmation first.
func (s *Service) ResetAllStudentPoints(ctx context.Context, actor domain.Actor, teacherID, reason string) (domain.ResetRecord, error) {
	if teacherID == "" {
		return domain.ResetRecord{}, domain.Invalid("reset requires teacher_id")
	}
	if !actor.CanManageTenant(teacherID) {
		return domain.ResetRecord{}, domain.ErrForbidden
	}
	now := s.now()
	return s.reset(ctx, teacherID, reason, domain.ResetManual, now, domain.CalendarDate(now, time.Local))
}

// reset runs one tenant reset. Per-user locks are not taken: the store's
// single connection serializes this transaction against every other unit.
// A scheduled reset advances next_reset_date past today, and fails with
// errNotDue when the stored settings are no longer due.
func (s *Service) reset(ctx context.Context, teacherID, reason string, trigger domain.ResetTrigger, now, today time.Time) (domain.ResetRecord, error) {
	rec := domain.ResetRecord{
		ID:        uuid.New().String(),
		TeacherID: teacherID,
		Reason:    reason,
		Trigger:   trigger,
		CreatedAt: now,
	}

	err := s.db.Tx(ctx, func(q *sqlite.Queries) error {
		if _, err := q.GetUser(ctx, teacherID); err != nil {
			return err
		}
		settings, found, err := q.GetSettings(ctx, teacherID)
		if err != nil {
			return err
		}
		if trigger == domain.ResetScheduled && !settings.ResetDue(today) {
			return errNotDue
		}

		before, err := q.TenantPoints(ctx, teacherID)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if before == nil {
			before = []domain.UserPoints{}
		}
		if rec.Backup, err = json.Marshal(before); err != nil {
			return fmt.Errorf("encode backup: %w", err)
		}
		for _, p := range before {
			rec.PointsRemoved += p.TotalPoints
		}

		affected, err := q.ResetTenantPoints(ctx, teacherID, now)
		if err != nil {
			return fmt.Errorf("reset points: %w", err)
		}
		rec.StudentsAffected = int(affected)

		if err := q.InsertReset(ctx, rec); err != nil {
			return fmt.Errorf("insert reset: %w", err)
		}

		if !found {
			return nil
		}
		settings.LastResetAt = &now
		if trigger == domain.ResetScheduled && settings.NextResetDate != nil {
			next := *settings.NextResetDate
			for !next.After(today) {
				next = settings.ResetFrequency.Next(next)
			}
			settings.NextResetDate = &next
		}
		settings.UpdatedAt = now
		return q.UpsertSettings(ctx, settings)
	})
	if errors.Is(err, errNotDue) {
		return domain.ResetRecord{}, err
	}
	if err != nil {
		return domain.ResetRecord{}, domain.Persistence(err)
	}

	metrics.Resets.WithLabelValues(string(trigger)).Inc()
	s.log.Info("student points reset",
		zap.String("teacher_id", teacherID),
		zap.String("trigger", string(trigger)),
		zap.Int("students_affected", rec.StudentsAffected),
		zap.Int64("points_removed", rec.PointsRemoved))
	return rec, nil
}

// ResetHistory returns a teacher's resets, newest first.
func (s *Service) ResetHistory(ctx context.Context, teacherID string, limit int) ([]domain.ResetRecord, error) {
	if limit <= 0 {
		limit = DefaultResetHistoryLimit
	}
	out, err := s.db.ListResets(ctx, teacherID, limit)
	return out, domain.Persistence(err)
}

// Backup decodes the pre-reset points rows stored with rec.
func Backup(rec domain.ResetRecord) ([]domain.UserPoints, error) {
	var rows []domain.UserPoints
	if err := json.Unmarshal(rec.Backup, &rows); err != nil {
		return nil, fmt.Errorf("decode backup of %s: %w", rec.ID, err)
	}
	return rows, nil
}
