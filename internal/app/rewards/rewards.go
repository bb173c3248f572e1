// Package rewards implements the reward catalog, the redemption approval
// workflow, bulk point resets and the scheduled maintenance that drives
// automatic resets and event retention.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/logger"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
	"github.com/coachpoints/coachpoints/internal/infra/userlock"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Nil means no-op.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(log) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns catalog and redemption state. Debits and refunds take the
// same per-user lock as the points ledger.
type Service struct {
	db    *sqlite.DB
	locks *userlock.Locker
	log   *zap.Logger
	now   func() time.Time
}

// New creates a rewards service. locks must be the ledger's locker.
func New(db *sqlite.DB, locks *userlock.Locker, opts ...Option) *Service {
	s := &Service{db: db, locks: locks, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// CreateReward adds an active catalog item. Teachers create under their
// own tenant; admins must name one.
func (s *Service) CreateReward(ctx context.Context, actor domain.Actor, r domain.Reward) (domain.Reward, error) {
	if actor.Role == domain.RoleTeacher {
		r.TeacherID = actor.UserID
	}
	if r.TeacherID == "" {
		return r, domain.Invalid("reward requires teacher_id")
	}
	if !actor.CanManageTenant(r.TeacherID) {
		return r, domain.ErrForbidden
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	now := s.now()
	r.ID = uuid.New().String()
	r.IsActive = true
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, domain.Persistence(s.db.InsertReward(ctx, r))
}

// UpdateReward replaces the editable fields of a catalog item. Price
// changes never touch existing redemptions.
func (s *Service) UpdateReward(ctx context.Context, actor domain.Actor, r domain.Reward) (domain.Reward, error) {
	cur, err := s.db.GetReward(ctx, r.ID)
	if err != nil {
		return r, domain.Persistence(err)
	}
	if !actor.CanManageTenant(cur.TeacherID) {
		return r, domain.ErrForbidden
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	r.TeacherID = cur.TeacherID
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.now()
	return r, domain.Persistence(s.db.UpdateReward(ctx, r))
}

// DeactivateReward withdraws an item from redemption.
func (s *Service) DeactivateReward(ctx context.Context, actor domain.Actor, id string) (domain.Reward, error) {
	cur, err := s.db.GetReward(ctx, id)
	if err != nil {
		return cur, domain.Persistence(err)
	}
	if !actor.CanManageTenant(cur.TeacherID) {
		return cur, domain.ErrForbidden
	}
	cur.IsActive = false
	cur.UpdatedAt = s.now()
	return cur, domain.Persistence(s.db.UpdateReward(ctx, cur))
}

// Reward returns one catalog item.
func (s *Service) Reward(ctx context.Context, id string) (domain.Reward, error) {
	r, err := s.db.GetReward(ctx, id)
	return r, domain.Persistence(err)
}

// ListRewards returns a tenant's catalog.
func (s *Service) ListRewards(ctx context.Context, teacherID string, activeOnly bool) ([]domain.Reward, error) {
	items, err := s.db.ListRewards(ctx, teacherID, activeOnly)
	return items, domain.Persistence(err)
}

// ─── Redemption ─────────────────────────────────────────────────────────────

// Redeem debits the reward's cost from userID, takes one unit of finite
// stock and opens a pending redemption. Any failed check leaves every row
// untouched.
func (s *Service) Redeem(ctx context.Context, actor domain.Actor, userID, rewardID string) (domain.Redemption, error) {
	var red domain.Redemption
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return red, err
	}
	defer unlock()

	now := s.now()
	err = s.db.Tx(ctx, func(q *sqlite.Queries) error {
		user, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !actor.CanActFor(user) {
			return domain.ErrForbidden
		}
		reward, err := q.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward.TeacherID != user.TenantID() {
			return domain.ErrRewardNotFound
		}
		if !reward.IsActive {
			return domain.ErrRewardInactive
		}
		if !reward.InStock() {
			return domain.ErrOutOfStock
		}

		p, _, err := q.GetPoints(ctx, userID)
		if err != nil {
			return err
		}
		if p.TotalPoints < reward.PointsCost {
			return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientPoints, p.TotalPoints, reward.PointsCost)
		}

		if reward.Stock != nil {
			if err := q.AdjustStock(ctx, reward.ID, -1, now); err != nil {
				return err
			}
		}
		if err := s.credit(ctx, q, p, -reward.PointsCost, now); err != nil {
			return err
		}

		red = domain.Redemption{
			ID:          uuid.New().String(),
			RewardID:    reward.ID,
			UserID:      userID,
			TeacherID:   reward.TeacherID,
			PointsSpent: reward.PointsCost,
			Status:      domain.RedemptionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return q.InsertRedemption(ctx, red)
	})
	if err != nil {
		return domain.Redemption{}, domain.Persistence(err)
	}

	metrics.Redemptions.WithLabelValues(string(domain.RedemptionPending)).Inc()
	s.log.Info("redemption created",
		zap.String("redemption_id", red.ID),
		zap.String("user_id", userID),
		zap.String("reward_id", rewardID),
		zap.Int64("points_spent", red.PointsSpent))
	return red, nil
}

// UpdateRedemptionStatus resolves a pending redemption. Rejection refunds
// the snapshotted points and returns one unit of finite stock; approval
// changes nothing else.
func (s *Service) UpdateRedemptionStatus(ctx context.Context, actor domain.Actor, id string, to domain.RedemptionStatus, notes string) (domain.Redemption, error) {
	red, err := s.db.GetRedemption(ctx, id)
	if err != nil {
		return red, domain.Persistence(err)
	}
	if !actor.CanManageTenant(red.TeacherID) {
		return red, domain.ErrForbidden
	}
	if !domain.CanTransition(red.Status, to) {
		return red, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, red.Status, to)
	}

	unlock, err := s.locks.Lock(ctx, red.UserID)
	if err != nil {
		return red, err
	}
	defer unlock()

	now := s.now()
	err = s.db.Tx(ctx, func(q *sqlite.Queries) error {
		// Status is re-checked in the UPDATE; a concurrent resolution loses.
		if err := q.TransitionRedemption(ctx, id, red.Status, to, notes, now); err != nil {
			return err
		}
		if to != domain.RedemptionRejected {
			return nil
		}
		if err := q.AdjustStock(ctx, red.RewardID, 1, now); err != nil {
			return err
		}
		p, _, err := q.GetPoints(ctx, red.UserID)
		if err != nil {
			return err
		}
		return s.credit(ctx, q, p, red.PointsSpent, now)
	})
	if err != nil {
		return red, domain.Persistence(err)
	}

	red.Status = to
	red.AdminNotes = notes
	red.UpdatedAt = now
	metrics.Redemptions.WithLabelValues(string(to)).Inc()
	s.log.Info("redemption resolved",
		zap.String("redemption_id", id),
		zap.String("status", string(to)),
		zap.String("by", actor.UserID))
	return red, nil
}

// Redemption returns one redemption.
func (s *Service) Redemption(ctx context.Context, id string) (domain.Redemption, error) {
	r, err := s.db.GetRedemption(ctx, id)
	return r, domain.Persistence(err)
}

// Redemptions lists redemptions matching f, newest first.
func (s *Service) Redemptions(ctx context.Context, f domain.RedemptionFilter) ([]domain.Redemption, error) {
	out, err := s.db.ListRedemptions(ctx, f)
	return out, domain.Persistence(err)
}

// credit applies delta to p's total and keeps the cached level in step.
func (s *Service) credit(ctx context.Context, q *sqlite.Queries, p domain.UserPoints, delta int64, now time.Time) error {
	p.TotalPoints += delta
	level, err := engagement.LevelForPoints(p.TotalPoints)
	if err != nil {
		return err
	}
	p.Level = level
	p.UpdatedAt = now
	return q.SavePoints(ctx, p)
}
