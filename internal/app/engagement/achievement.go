package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/metrics"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
)

// Predicate decides a custom achievement condition against a stats snapshot.
type Predicate func(stats domain.UserStats, def domain.Achievement) bool

// Predicates maps a definition's condition_key to its predicate.
type Predicates map[string]Predicate

// DefaultPredicates returns the built-in custom conditions.
func DefaultPredicates() Predicates {
	return Predicates{
		"longest_streak": func(s domain.UserStats, d domain.Achievement) bool {
			return int64(s.LongestStreak) >= d.ConditionValue
		},
		"level": func(s domain.UserStats, d domain.Achievement) bool {
			return int64(s.Level) >= d.ConditionValue
		},
		"all_rounder": func(s domain.UserStats, d domain.Achievement) bool {
			v := d.ConditionValue
			return s.TrainingCount >= v && s.ProgressMilestones >= v && s.AppointmentCount >= v
		},
	}
}

// Achievements manages definitions and grants one-time unlocks.
type Achievements struct {
	ledger     *Ledger
	predicates Predicates
}

// NewAchievements creates the engine and registers it with l so that every
// ledger mutation is followed by an evaluation.
func NewAchievements(l *Ledger, predicates Predicates) *Achievements {
	if predicates == nil {
		predicates = Predicates{}
	}
	a := &Achievements{ledger: l, predicates: predicates}
	l.SetEvaluator(a)
	return a
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Stats builds the aggregate snapshot conditions are tested against.
// Event counts include soft-deleted events.
func (a *Achievements) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := a.stats(ctx, a.ledger.db.Queries, userID)
	return stats, domain.Persistence(err)
}

func (a *Achievements) stats(ctx context.Context, q *sqlite.Queries, userID string) (domain.UserStats, error) {
	s := domain.UserStats{UserID: userID}
	p, _, err := q.GetPoints(ctx, userID)
	if err != nil {
		return s, err
	}
	s.CurrentStreak = p.CurrentStreak
	s.LongestStreak = p.LongestStreak
	s.TotalPoints = p.TotalPoints
	s.Level = p.Level

	counts := []struct {
		t   domain.ActivityType
		dst *int64
	}{
		{domain.ActivityWorkout, &s.TrainingCount},
		{domain.ActivityProgressUpdate, &s.ProgressMilestones},
		{domain.ActivityAppointment, &s.AppointmentCount},
	}
	for _, c := range counts {
		if *c.dst, err = q.CountEvents(ctx, userID, c.t); err != nil {
			return s, fmt.Errorf("count %s: %w", c.t, err)
		}
	}
	return s, nil
}

// Satisfied reports whether stats meets def's condition. Unknown custom
// keys are never satisfied.
func (a *Achievements) Satisfied(def domain.Achievement, stats domain.UserStats) bool {
	switch def.ConditionType {
	case domain.ConditionTrainingCount:
		return stats.TrainingCount >= def.ConditionValue
	case domain.ConditionStreakDays:
		return int64(stats.CurrentStreak) >= def.ConditionValue
	case domain.ConditionProgressMilestone:
		return stats.ProgressMilestones >= def.ConditionValue
	case domain.ConditionAppointmentCount:
		return stats.AppointmentCount >= def.ConditionValue
	case domain.ConditionPointsTotal:
		return stats.TotalPoints >= def.ConditionValue
	case domain.ConditionCustom:
		p, ok := a.predicates[def.ConditionKey]
		return ok && p(stats, def)
	}
	return false
}

// EvaluateAchievements grants every active, not-yet-granted definition
// whose condition holds. Passes repeat until one grants nothing, so a
// bonus that crosses a threshold unlocks in the same call. A failed grant
// is logged and counted and does not block the others; the joined
// failures are returned alongside what was unlocked.
func (a *Achievements) EvaluateAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	user, err := a.ledger.db.GetUser(ctx, userID)
	if err != nil {
		return nil, domain.Persistence(err)
	}

	var unlocked []domain.UserAchievement
	var failures []error
	failed := make(map[string]bool)
	for {
		stats, err := a.stats(ctx, a.ledger.db.Queries, userID)
		if err != nil {
			return unlocked, domain.Persistence(err)
		}
		pending, err := a.ledger.db.PendingAchievements(ctx, userID, user.TenantID())
		if err != nil {
			return unlocked, domain.Persistence(err)
		}

		granted := 0
		for _, def := range pending {
			if failed[def.ID] || !a.Satisfied(def, stats) {
				continue
			}
			ua, ok, err := a.grant(ctx, user, def)
			if err != nil {
				failed[def.ID] = true
				failures = append(failures, fmt.Errorf("grant %s: %w", def.ID, err))
				metrics.AchievementEvalFailures.Inc()
				a.ledger.log.Warn("achievement grant failed",
					zap.String("user_id", userID),
					zap.String("achievement_id", def.ID),
					zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			granted++
			unlocked = append(unlocked, ua)
			metrics.AchievementsUnlocked.Inc()
			metrics.PointsAwarded.WithLabelValues(string(domain.ActivityAchievementUnlock)).Add(float64(ua.PointsEarned))
			a.ledger.log.Info("achievement unlocked",
				zap.String("user_id", userID),
				zap.String("achievement_id", def.ID),
				zap.String("title", def.Title),
				zap.Int64("points", ua.PointsEarned))
		}
		if granted == 0 {
			break
		}
	}
	return unlocked, errors.Join(failures...)
}

// grant inserts the unlock row and credits its bonus in one transaction.
// The definition and its condition are re-checked under the user lock.
// ok is false when def no longer applies or was already granted.
func (a *Achievements) grant(ctx context.Context, user domain.User, def domain.Achievement) (ua domain.UserAchievement, ok bool, err error) {
	l := a.ledger
	unlock, err := l.locks.Lock(ctx, user.ID)
	if err != nil {
		return ua, false, err
	}
	defer unlock()

	now := l.now()
	err = l.db.Tx(ctx, func(q *sqlite.Queries) error {
		cur, err := q.GetAchievement(ctx, def.ID)
		if err != nil {
			return err
		}
		stats, err := a.stats(ctx, q, user.ID)
		if err != nil {
			return err
		}
		if !cur.IsActive || !a.Satisfied(cur, stats) {
			return nil
		}
		def = cur

		settings, err := Resolve(ctx, q, user.TenantID())
		if err != nil {
			return err
		}
		earned, err := earnedToday(ctx, q, user.ID, now, user.Location(l.loc))
		if err != nil {
			return err
		}
		ua = domain.UserAchievement{
			ID:            uuid.New().String(),
			AchievementID: def.ID,
			UserID:        user.ID,
			PointsEarned:  capAward(def.PointsReward, settings, earned),
			EarnedAt:      now,
		}
		if ok, err = q.GrantAchievement(ctx, ua); err != nil || !ok {
			return err
		}

		if err := q.InsertEvent(ctx, domain.ActivityEvent{
			ID:           uuid.New().String(),
			UserID:       user.ID,
			ActivityType: domain.ActivityAchievementUnlock,
			PointsEarned: ua.PointsEarned,
			Description:  def.Title,
			Metadata:     domain.Metadata{"achievement_id": def.ID},
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("insert unlock event: %w", err)
		}

		p, _, err := q.GetPoints(ctx, user.ID)
		if err != nil {
			return err
		}
		p.TotalPoints += ua.PointsEarned
		p.Level = levelFor(p.TotalPoints)
		p.UpdatedAt = now
		return q.SavePoints(ctx, p)
	})
	if err != nil {
		return ua, false, domain.Persistence(err)
	}
	return ua, ok, nil
}

// ─── Definitions ────────────────────────────────────────────────────────────

// CreateAchievement stores a new active definition. Teachers own what they
// create; admins may create for any tenant or globally (TeacherID "").
func (a *Achievements) CreateAchievement(ctx context.Context, actor domain.Actor, def domain.Achievement) (domain.Achievement, error) {
	switch actor.Role {
	case domain.RoleTeacher:
		def.TeacherID = actor.UserID
	case domain.RoleAdmin:
	default:
		return def, domain.ErrForbidden
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	now := a.ledger.now()
	def.ID = uuid.New().String()
	def.IsActive = true
	def.CreatedAt = now
	def.UpdatedAt = now
	return def, domain.Persistence(a.ledger.db.InsertAchievement(ctx, def))
}

// UpdateAchievement replaces a definition's editable fields. Existing
// grants keep their snapshotted points.
func (a *Achievements) UpdateAchievement(ctx context.Context, actor domain.Actor, def domain.Achievement) (domain.Achievement, error) {
	cur, err := a.ledger.db.GetAchievement(ctx, def.ID)
	if err != nil {
		return def, domain.Persistence(err)
	}
	if !actor.CanManageTenant(cur.TeacherID) {
		return def, domain.ErrForbidden
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	def.TeacherID = cur.TeacherID
	def.CreatedAt = cur.CreatedAt
	def.UpdatedAt = a.ledger.now()
	return def, domain.Persistence(a.ledger.db.UpdateAchievement(ctx, def))
}

// DeactivateAchievement hides a definition from evaluation. Definitions
// are never deleted so that grants keep their reference.
func (a *Achievements) DeactivateAchievement(ctx context.Context, actor domain.Actor, id string) (domain.Achievement, error) {
	cur, err := a.ledger.db.GetAchievement(ctx, id)
	if err != nil {
		return cur, domain.Persistence(err)
	}
	if !actor.CanManageTenant(cur.TeacherID) {
		return cur, domain.ErrForbidden
	}
	cur.IsActive = false
	cur.UpdatedAt = a.ledger.now()
	return cur, domain.Persistence(a.ledger.db.UpdateAchievement(ctx, cur))
}

// Achievement returns one definition.
func (a *Achievements) Achievement(ctx context.Context, id string) (domain.Achievement, error) {
	def, err := a.ledger.db.GetAchievement(ctx, id)
	return def, domain.Persistence(err)
}

// ListAchievements returns a tenant's definitions plus global ones.
func (a *Achievements) ListAchievements(ctx context.Context, teacherID string, activeOnly bool) ([]domain.Achievement, error) {
	defs, err := a.ledger.db.ListAchievements(ctx, teacherID, activeOnly)
	return defs, domain.Persistence(err)
}

// UserAchievements returns the user's grants, oldest first.
func (a *Achievements) UserAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	if _, err := a.ledger.db.GetUser(ctx, userID); err != nil {
		return nil, domain.Persistence(err)
	}
	grants, err := a.ledger.db.ListUserAchievements(ctx, userID)
	return grants, domain.Persistence(err)
}
