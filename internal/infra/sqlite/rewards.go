package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── Rewards Catalog ────────────────────────────────────────────────────────

const rewardColumns = `id, teacher_id, title, description, points_cost, stock, is_active, created_at, updated_at`

// InsertReward stores a new catalog item.
func (q *Queries) InsertReward(ctx context.Context, r domain.Reward) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO rewards (`+rewardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TeacherID, r.Title, r.Description, r.PointsCost, nullableInt(r.Stock),
		r.IsActive, unixMilli(r.CreatedAt), unixMilli(r.UpdatedAt),
	)
	return err
}

// UpdateReward rewrites a catalog item's mutable fields.
func (q *Queries) UpdateReward(ctx context.Context, r domain.Reward) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE rewards SET title = ?, description = ?, points_cost = ?, stock = ?,
			is_active = ?, updated_at = ?
		 WHERE id = ?`,
		r.Title, r.Description, r.PointsCost, nullableInt(r.Stock), r.IsActive,
		unixMilli(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

// GetReward retrieves one catalog item.
func (q *Queries) GetReward(ctx context.Context, id string) (domain.Reward, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, domain.ErrRewardNotFound
	}
	return r, err
}

// ListRewards returns a teacher's catalog.
func (q *Queries) ListRewards(ctx context.Context, teacherID string, activeOnly bool) ([]domain.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE teacher_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY points_cost, id`

	rows, err := q.q.QueryContext(ctx, query, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AdjustStock adds delta to a finite stock. Unlimited stock is untouched,
// so callers only debit rewards whose Stock is non-nil. The update refuses
// to go below zero and reports domain.ErrOutOfStock.
func (q *Queries) AdjustStock(ctx context.Context, rewardID string, delta int64, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE rewards SET stock = stock + ?, updated_at = ?
		 WHERE id = ? AND stock IS NOT NULL AND stock + ? >= 0`,
		delta, unixMilli(now), rewardID, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && delta < 0 {
		return domain.ErrOutOfStock
	}
	return nil
}

func scanReward(s scanner) (domain.Reward, error) {
	var r domain.Reward
	var stock sql.NullInt64
	var createdAt, updatedAt int64
	err := s.Scan(&r.ID, &r.TeacherID, &r.Title, &r.Description, &r.PointsCost,
		&stock, &r.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if stock.Valid {
		v := stock.Int64
		r.Stock = &v
	}
	r.CreatedAt = fromMilli(createdAt)
	r.UpdatedAt = fromMilli(updatedAt)
	return r, nil
}

// ─── Redemptions ────────────────────────────────────────────────────────────

const redemptionColumns = `id, reward_id, user_id, teacher_id, points_spent, status, admin_notes, created_at, updated_at`

// InsertRedemption stores a new redemption request.
func (q *Queries) InsertRedemption(ctx context.Context, r domain.Redemption) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO reward_redemptions (`+redemptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RewardID, r.UserID, r.TeacherID, r.PointsSpent, string(r.Status),
		r.AdminNotes, unixMilli(r.CreatedAt), unixMilli(r.UpdatedAt),
	)
	return err
}

// GetRedemption retrieves one redemption.
func (q *Queries) GetRedemption(ctx context.Context, id string) (domain.Redemption, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+redemptionColumns+` FROM reward_redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, domain.ErrRedemptionNotFound
	}
	return r, err
}

// TransitionRedemption moves a redemption from one status to another.
// The WHERE clause guards against a concurrent transition; a lost race
// reports domain.ErrInvalidTransition.
func (q *Queries) TransitionRedemption(ctx context.Context, id string, from, to domain.RedemptionStatus, notes string, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE reward_redemptions SET status = ?, admin_notes = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), notes, unixMilli(now), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// ListRedemptions returns redemptions matching the filter, newest first.
func (q *Queries) ListRedemptions(ctx context.Context, f domain.RedemptionFilter) ([]domain.Redemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM reward_redemptions WHERE 1 = 1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.TeacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, f.TeacherID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRedemption(s scanner) (domain.Redemption, error) {
	var r domain.Redemption
	var createdAt, updatedAt int64
	err := s.Scan(&r.ID, &r.RewardID, &r.UserID, &r.TeacherID, &r.PointsSpent,
		&r.Status, &r.AdminNotes, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.CreatedAt = fromMilli(createdAt)
	r.UpdatedAt = fromMilli(updatedAt)
	return r, nil
}
