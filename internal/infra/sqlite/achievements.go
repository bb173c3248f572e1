package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── Achievement Definitions ────────────────────────────────────────────────

const achievementColumns = `id, teacher_id, title, description, rarity, points_reward,
	condition_type, condition_value, condition_key, is_active, created_at, updated_at`

// InsertAchievement stores a new definition.
func (q *Queries) InsertAchievement(ctx context.Context, a domain.Achievement) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO achievements (`+achievementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TeacherID, a.Title, a.Description, string(a.Rarity), a.PointsReward,
		string(a.ConditionType), a.ConditionValue, a.ConditionKey, a.IsActive,
		unixMilli(a.CreatedAt), unixMilli(a.UpdatedAt),
	)
	return err
}

// UpdateAchievement rewrites a definition's mutable fields.
func (q *Queries) UpdateAchievement(ctx context.Context, a domain.Achievement) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE achievements SET title = ?, description = ?, rarity = ?, points_reward = ?,
			condition_type = ?, condition_value = ?, condition_key = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		a.Title, a.Description, string(a.Rarity), a.PointsReward,
		string(a.ConditionType), a.ConditionValue, a.ConditionKey, a.IsActive,
		unixMilli(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAchievementNotFound
	}
	return nil
}

// GetAchievement retrieves one definition.
func (q *Queries) GetAchievement(ctx context.Context, id string) (domain.Achievement, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE id = ?`, id)
	a, err := scanAchievement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, domain.ErrAchievementNotFound
	}
	return a, err
}

// ListAchievements returns a teacher's definitions plus global ones.
func (q *Queries) ListAchievements(ctx context.Context, teacherID string, activeOnly bool) ([]domain.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements
		WHERE (teacher_id = ? OR teacher_id = '')`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, id`
	return q.queryAchievements(ctx, query, teacherID)
}

// PendingAchievements returns active definitions visible to the tenant that
// the user has not been granted yet.
func (q *Queries) PendingAchievements(ctx context.Context, userID, teacherID string) ([]domain.Achievement, error) {
	return q.queryAchievements(ctx,
		`SELECT `+achievementColumns+` FROM achievements a
		 WHERE (a.teacher_id = ? OR a.teacher_id = '') AND a.is_active = 1
		   AND NOT EXISTS (
			SELECT 1 FROM user_achievements ua
			WHERE ua.achievement_id = a.id AND ua.user_id = ?)
		 ORDER BY a.created_at, a.id`,
		teacherID, userID)
}

func (q *Queries) queryAchievements(ctx context.Context, query string, args ...any) ([]domain.Achievement, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAchievement(s scanner) (domain.Achievement, error) {
	var a domain.Achievement
	var createdAt, updatedAt int64
	err := s.Scan(&a.ID, &a.TeacherID, &a.Title, &a.Description, &a.Rarity,
		&a.PointsReward, &a.ConditionType, &a.ConditionValue, &a.ConditionKey,
		&a.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}
	a.CreatedAt = fromMilli(createdAt)
	a.UpdatedAt = fromMilli(updatedAt)
	return a, nil
}

// ─── Grants ─────────────────────────────────────────────────────────────────

// GrantAchievement inserts a grant guarded by the (user, achievement)
// uniqueness constraint. Returns false, nil if it already existed.
func (q *Queries) GrantAchievement(ctx context.Context, ua domain.UserAchievement) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO user_achievements (id, achievement_id, user_id, points_earned, earned_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		ua.ID, ua.AchievementID, ua.UserID, ua.PointsEarned, unixMilli(ua.EarnedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListUserAchievements returns a user's grants, oldest first.
func (q *Queries) ListUserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, achievement_id, user_id, points_earned, earned_at
		 FROM user_achievements WHERE user_id = ? ORDER BY earned_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserAchievement
	for rows.Next() {
		var ua domain.UserAchievement
		var earnedAt int64
		if err := rows.Scan(&ua.ID, &ua.AchievementID, &ua.UserID, &ua.PointsEarned, &earnedAt); err != nil {
			return nil, fmt.Errorf("scan user achievement: %w", err)
		}
		ua.EarnedAt = fromMilli(earnedAt)
		out = append(out, ua)
	}
	return out, rows.Err()
}
