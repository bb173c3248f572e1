package engagement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/logger"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
	"github.com/coachpoints/coachpoints/internal/infra/userlock"
)

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 50

// Activity is one point-earning action submitted by a caller.
// A non-nil, non-negative CustomPoints overrides the policy value.
type Activity struct {
	UserID       string              `json:"user_id"`
	Type         domain.ActivityType `json:"activity_type"`
	CustomPoints *int64              `json:"custom_points,omitempty"`
	Description  string              `json:"description,omitempty"`
	Metadata     domain.Metadata     `json:"metadata,omitempty"`
}

// ActivityResult is the observable outcome of RecordActivity.
type ActivityResult struct {
	Event     domain.ActivityEvent     `json:"event"`
	Points    domain.UserPoints        `json:"points"`
	Nominal   int64                    `json:"nominal_points"` // value before the daily cap
	LeveledUp bool                     `json:"leveled_up"`
	Bonus     *domain.ActivityEvent    `json:"level_up_bonus,omitempty"`
	Unlocked  []domain.UserAchievement `json:"unlocked,omitempty"`
}

// Evaluator runs achievement evaluation after a points or streak change.
type Evaluator interface {
	EvaluateAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Nil means no-op.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = logger.OrNop(log) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the calendar used for users without a timezone.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// Ledger is the single entry point that mutates user points.
// Read-modify-write units of one user are serialized by locks, which
// rewards shares for debits and refunds.
type Ledger struct {
	db        *sqlite.DB
	locks     *userlock.Locker
	log       *zap.Logger
	now       func() time.Time
	loc       *time.Location
	evaluator Evaluator
}

// NewLedger creates a points ledger.
func NewLedger(db *sqlite.DB, locks *userlock.Locker, opts ...Option) *Ledger {
	l := &Ledger{
		db:    db,
		locks: locks,
		log:   zap.NewNop(),
		now:   time.Now,
		loc:   time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// Location returns the fallback calendar location.
func (l *Ledger) Location() *time.Location { return l.loc }

// ─── Record ─────────────────────────────────────────────────────────────────

// RecordActivity appends an event and credits its points, truncated to the
// remaining daily headroom. Event, total, level, streak and any level-up
// bonus are written in one transaction; achievement evaluation runs after
// it commits and never fails the call.
func (l *Ledger) RecordActivity(ctx context.Context, actor domain.Actor, a Activity) (ActivityResult, error) {
	if !a.Type.Submittable() {
		return ActivityResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidActivityType, a.Type)
	}
	if err := a.Metadata.Validate(); err != nil {
		return ActivityResult{}, err
	}
	// Only staff may override the policy value.
	if a.CustomPoints != nil && actor.Role == domain.RoleStudent {
		return ActivityResult{}, fmt.Errorf("%w: custom points require a teacher or admin", domain.ErrForbidden)
	}

	res, err := l.record(ctx, actor, a)
	if err != nil {
		return res, err
	}

	metrics.ActivitiesRecorded.WithLabelValues(string(a.Type)).Inc()
	metrics.PointsAwarded.WithLabelValues(string(a.Type)).Add(float64(res.Event.PointsEarned))
	if res.Event.PointsEarned < res.Nominal {
		metrics.PointsTruncated.Inc()
	}
	if res.Bonus != nil {
		metrics.PointsAwarded.WithLabelValues(string(domain.ActivityLevelUp)).Add(float64(res.Bonus.PointsEarned))
	}

	res.Unlocked = l.evaluate(ctx, a.UserID)
	if len(res.Unlocked) > 0 {
		if p, err := l.Points(ctx, a.UserID); err == nil {
			res.Points = p
		}
	}
	return res, nil
}

func (l *Ledger) record(ctx context.Context, actor domain.Actor, a Activity) (res ActivityResult, err error) {
	unlock, err := l.locks.Lock(ctx, a.UserID)
	if err != nil {
		return res, err
	}
	defer unlock()

	now := l.now()
	err = l.db.Tx(ctx, func(q *sqlite.Queries) error {
		user, err := q.GetUser(ctx, a.UserID)
		if err != nil {
			return err
		}
		if !actor.CanActFor(user) {
			return domain.ErrForbidden
		}
		settings, err := Resolve(ctx, q, user.TenantID())
		if err != nil {
			return fmt.Errorf("resolve settings: %w", err)
		}
		cur, _, err := q.GetPoints(ctx, a.UserID)
		if err != nil {
			return fmt.Errorf("get points: %w", err)
		}

		loc := user.Location(l.loc)
		p, _, err := AdvanceStreak(cur, domain.CalendarDate(now, loc))
		if err != nil {
			return err
		}

		res.Nominal = nominalPoints(a, settings, p.CurrentStreak)
		earned, err := earnedToday(ctx, q, a.UserID, now, loc)
		if err != nil {
			return err
		}
		res.Event = domain.ActivityEvent{
			ID:           uuid.New().String(),
			UserID:       a.UserID,
			ActivityType: a.Type,
			PointsEarned: capAward(res.Nominal, settings, earned),
			Description:  a.Description,
			Metadata:     a.Metadata,
			CreatedAt:    now,
		}
		if err := q.InsertEvent(ctx, res.Event); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		earned += res.Event.PointsEarned

		p.TotalPoints += res.Event.PointsEarned
		p.Level = levelFor(p.TotalPoints)
		res.LeveledUp = p.Level > cur.Level

		if res.LeveledUp && settings.LevelUpBonus > 0 {
			bonus := domain.ActivityEvent{
				ID:           uuid.New().String(),
				UserID:       a.UserID,
				ActivityType: domain.ActivityLevelUp,
				PointsEarned: capAward(settings.LevelUpBonus, settings, earned),
				Description:  fmt.Sprintf("reached level %d", p.Level),
				Metadata:     domain.Metadata{"level": fmt.Sprint(p.Level)},
				CreatedAt:    now,
			}
			if err := q.InsertEvent(ctx, bonus); err != nil {
				return fmt.Errorf("insert level-up bonus: %w", err)
			}
			p.TotalPoints += bonus.PointsEarned
			p.Level = levelFor(p.TotalPoints)
			res.Bonus = &bonus
		}

		p.UpdatedAt = now
		if err := q.SavePoints(ctx, p); err != nil {
			return fmt.Errorf("save points: %w", err)
		}
		res.Points = p
		return nil
	})
	return res, domain.Persistence(err)
}

// nominalPoints resolves the pre-cap value of a. Policy values are scaled
// by the streak multiplier from the second consecutive day on.
func nominalPoints(a Activity, s domain.Settings, streak int) int64 {
	if a.CustomPoints != nil && *a.CustomPoints >= 0 {
		return *a.CustomPoints
	}
	v := s.PointsFor(a.Type)
	if streak >= 2 && s.StreakMultiplier > 1 {
		v = int64(math.Floor(float64(v) * s.StreakMultiplier))
	}
	return v
}

// capAward truncates nominal to the headroom left under the daily cap.
func capAward(nominal int64, s domain.Settings, earnedToday int64) int64 {
	if nominal <= 0 {
		return 0
	}
	if !s.Capped() {
		return nominal
	}
	headroom := s.MaxDailyPoints - earnedToday
	if headroom <= 0 {
		return 0
	}
	return min(nominal, headroom)
}

// earnedToday sums the user's points in [local midnight, next local midnight).
func earnedToday(ctx context.Context, q *sqlite.Queries, userID string, now time.Time, loc *time.Location) (int64, error) {
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	earned, err := q.PointsEarnedBetween(ctx, userID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("sum daily points: %w", err)
	}
	return earned, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Points returns the user's running state; a user never credited gets the
// zero record at level 1.
func (l *Ledger) Points(ctx context.Context, userID string) (domain.UserPoints, error) {
	if _, err := l.db.GetUser(ctx, userID); err != nil {
		return domain.UserPoints{}, domain.Persistence(err)
	}
	p, _, err := l.db.GetPoints(ctx, userID)
	return p, domain.Persistence(err)
}

// History returns the user's visible events, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if _, err := l.db.GetUser(ctx, userID); err != nil {
		return nil, domain.Persistence(err)
	}
	events, err := l.db.ListEvents(ctx, userID, limit)
	return events, domain.Persistence(err)
}

// Leaderboard ranks a teacher's students by total points, then longest
// streak, then id.
func (l *Ledger) Leaderboard(ctx context.Context, teacherID string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := l.db.Leaderboard(ctx, teacherID, limit)
	return entries, domain.Persistence(err)
}

// ─── Achievements hook ──────────────────────────────────────────────────────

// SetEvaluator installs the achievement evaluator run after each mutation.
func (l *Ledger) SetEvaluator(e Evaluator) { l.evaluator = e }

// evaluate runs achievement evaluation, logging instead of failing.
func (l *Ledger) evaluate(ctx context.Context, userID string) []domain.UserAchievement {
	if l.evaluator == nil {
		return nil
	}
	unlocked, err := l.evaluator.EvaluateAchievements(ctx, userID)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("achievement evaluation failed",
			zap.String("user_id", userID),
			zap.Int("unlocked", len(unlocked)),
			zap.Error(err))
	}
	return unlocked
}
