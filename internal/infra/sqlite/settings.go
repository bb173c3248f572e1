package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── Gamification Settings ──────────────────────────────────────────────────

const settingsColumns = `teacher_id, point_values, max_daily_points, level_up_bonus, streak_multiplier,
	auto_reset_enabled, reset_frequency, next_reset_date, last_reset_at, updated_at`

// GetSettings returns the stored row for teacherID ("" = global row).
// found is false when no row exists.
func (q *Queries) GetSettings(ctx context.Context, teacherID string) (s domain.Settings, found bool, err error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM gamification_settings WHERE teacher_id = ?`, teacherID)
	s, err = scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	return s, true, nil
}

// UpsertSettings stores a full settings row.
func (q *Queries) UpsertSettings(ctx context.Context, s domain.Settings) error {
	values, err := json.Marshal(s.PointValues)
	if err != nil {
		return fmt.Errorf("encode point values: %w", err)
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO gamification_settings (`+settingsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(teacher_id) DO UPDATE SET
			point_values=excluded.point_values,
			max_daily_points=excluded.max_daily_points,
			level_up_bonus=excluded.level_up_bonus,
			streak_multiplier=excluded.streak_multiplier,
			auto_reset_enabled=excluded.auto_reset_enabled,
			reset_frequency=excluded.reset_frequency,
			next_reset_date=excluded.next_reset_date,
			last_reset_at=excluded.last_reset_at,
			updated_at=excluded.updated_at`,
		s.TeacherID, string(values), s.MaxDailyPoints, s.LevelUpBonus, s.StreakMultiplier,
		s.AutoResetEnabled, string(s.ResetFrequency), nullableDate(s.NextResetDate),
		nullableMilli(s.LastResetAt), unixMilli(s.UpdatedAt),
	)
	return err
}

// DueAutoResets returns teacher rows whose scheduled reset is due on day.
// The global row is never reset.
func (q *Queries) DueAutoResets(ctx context.Context, day time.Time) ([]domain.Settings, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+settingsColumns+` FROM gamification_settings
		 WHERE auto_reset_enabled = 1 AND teacher_id != ''
		   AND next_reset_date IS NOT NULL AND next_reset_date <= ?
		 ORDER BY teacher_id`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Settings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSettings(sc scanner) (domain.Settings, error) {
	var s domain.Settings
	var values string
	var nextReset sql.NullString
	var lastReset sql.NullInt64
	var updatedAt int64
	err := sc.Scan(&s.TeacherID, &values, &s.MaxDailyPoints, &s.LevelUpBonus,
		&s.StreakMultiplier, &s.AutoResetEnabled, &s.ResetFrequency, &nextReset,
		&lastReset, &updatedAt)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(values), &s.PointValues); err != nil {
		return s, fmt.Errorf("decode point values: %w", err)
	}
	if s.NextResetDate, err = parseNullDate(nextReset); err != nil {
		return s, err
	}
	if lastReset.Valid {
		t := fromMilli(lastReset.Int64)
		s.LastResetAt = &t
	}
	s.UpdatedAt = fromMilli(updatedAt)
	return s, nil
}

// ─── Point Resets ───────────────────────────────────────────────────────────

// InsertReset stores a reset audit record with its backup blob.
func (q *Queries) InsertReset(ctx context.Context, r domain.ResetRecord) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO point_resets (id, teacher_id, reason, trigger_kind, students_affected, points_removed, backup, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TeacherID, r.Reason, string(r.Trigger), r.StudentsAffected,
		r.PointsRemoved, r.Backup, unixMilli(r.CreatedAt),
	)
	return err
}

// ListResets returns a teacher's reset history, newest first.
// The backup blob is included.
func (q *Queries) ListResets(ctx context.Context, teacherID string, limit int) ([]domain.ResetRecord, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, teacher_id, reason, trigger_kind, students_affected, points_removed, backup, created_at
		 FROM point_resets WHERE teacher_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		teacherID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResetRecord
	for rows.Next() {
		var r domain.ResetRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.TeacherID, &r.Reason, &r.Trigger, &r.StudentsAffected,
			&r.PointsRemoved, &r.Backup, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMilli(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
