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

// ─── Points Records ─────────────────────────────────────────────────────────

const pointsColumns = `user_id, total_points, level, current_streak, longest_streak, last_activity_date, updated_at`

// GetPoints returns the user's points record. found is false when the user
// has never been credited; the zero record is returned in that case.
func (q *Queries) GetPoints(ctx context.Context, userID string) (p domain.UserPoints, found bool, err error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+pointsColumns+` FROM user_points WHERE user_id = ?`, userID)
	p, err = scanPoints(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewUserPoints(userID), false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

// SavePoints upserts the full points record.
func (q *Queries) SavePoints(ctx context.Context, p domain.UserPoints) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO user_points (`+pointsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			total_points=excluded.total_points,
			level=excluded.level,
			current_streak=excluded.current_streak,
			longest_streak=excluded.longest_streak,
			last_activity_date=excluded.last_activity_date,
			updated_at=excluded.updated_at`,
		p.UserID, p.TotalPoints, p.Level, p.CurrentStreak, p.LongestStreak,
		nullableDate(p.LastActivityDate), unixMilli(p.UpdatedAt),
	)
	return err
}

// TenantPoints returns the points rows of every student under a teacher.
// Students never credited are omitted.
func (q *Queries) TenantPoints(ctx context.Context, teacherID string) ([]domain.UserPoints, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT p.user_id, p.total_points, p.level, p.current_streak, p.longest_streak,
		        p.last_activity_date, p.updated_at
		 FROM user_points p JOIN users u ON u.id = p.user_id
		 WHERE u.teacher_id = ? AND u.role = ?
		 ORDER BY p.user_id`,
		teacherID, string(domain.RoleStudent))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserPoints
	for rows.Next() {
		p, err := scanPoints(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResetTenantPoints zeroes totals and streaks for a teacher's students.
func (q *Queries) ResetTenantPoints(ctx context.Context, teacherID string, now time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE user_points
		 SET total_points = 0, level = 1, current_streak = 0, longest_streak = 0,
		     last_activity_date = NULL, updated_at = ?
		 WHERE user_id IN (SELECT id FROM users WHERE teacher_id = ? AND role = ?)`,
		unixMilli(now), teacherID, string(domain.RoleStudent))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Leaderboard ranks a teacher's students by total points.
func (q *Queries) Leaderboard(ctx context.Context, teacherID string, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT p.user_id, p.total_points, p.level, p.current_streak, p.longest_streak
		 FROM user_points p JOIN users u ON u.id = p.user_id
		 WHERE u.teacher_id = ? AND u.role = ?
		 ORDER BY p.total_points DESC, p.longest_streak DESC, p.user_id ASC
		 LIMIT ?`,
		teacherID, string(domain.RoleStudent), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.TotalPoints, &e.Level, &e.CurrentStreak, &e.LongestStreak); err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPoints(s scanner) (domain.UserPoints, error) {
	var p domain.UserPoints
	var lastDate sql.NullString
	var updatedAt int64
	err := s.Scan(&p.UserID, &p.TotalPoints, &p.Level, &p.CurrentStreak,
		&p.LongestStreak, &lastDate, &updatedAt)
	if err != nil {
		return p, err
	}
	p.LastActivityDate, err = parseNullDate(lastDate)
	if err != nil {
		return p, err
	}
	p.UpdatedAt = fromMilli(updatedAt)
	return p, nil
}

// ─── Activity Events ────────────────────────────────────────────────────────

// InsertEvent appends an activity event.
func (q *Queries) InsertEvent(ctx context.Context, e domain.ActivityEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO activity_events (id, user_id, activity_type, points_earned, description, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.ActivityType), e.PointsEarned, e.Description,
		string(meta), unixMilli(e.CreatedAt),
	)
	return err
}

// PointsEarnedBetween sums points of the user's events in [from, to).
func (q *Queries) PointsEarnedBetween(ctx context.Context, userID string, from, to time.Time) (int64, error) {
	var sum sql.NullInt64
	err := q.q.QueryRowContext(ctx,
		`SELECT SUM(points_earned) FROM activity_events
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID, unixMilli(from), unixMilli(to),
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// CountEvents counts a user's events of one type, soft-deleted included.
func (q *Queries) CountEvents(ctx context.Context, userID string, t domain.ActivityType) (int64, error) {
	var n int64
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_events WHERE user_id = ? AND activity_type = ?`,
		userID, string(t),
	).Scan(&n)
	return n, err
}

// ListEvents returns the user's visible events, newest first.
func (q *Queries) ListEvents(ctx context.Context, userID string, limit int) ([]domain.ActivityEvent, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, user_id, activity_type, points_earned, description, metadata, created_at
		 FROM activity_events
		 WHERE user_id = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var e domain.ActivityEvent
		var meta string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActivityType, &e.PointsEarned,
			&e.Description, &meta, &createdAt); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
			}
		}
		e.CreatedAt = fromMilli(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SoftDeleteEventsBefore marks events created before cutoff as deleted.
func (q *Queries) SoftDeleteEventsBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE activity_events SET deleted_at = ? WHERE created_at < ? AND deleted_at IS NULL`,
		unixMilli(now), unixMilli(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
