package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
)

// Policy resolves and updates gamification settings.
// Lookup order: teacher row, global row, built-in defaults.
type Policy struct {
	db       *sqlite.DB
	validate *validator.Validate
	now      func() time.Time
}

// NewPolicy creates a settings policy backed by db.
func NewPolicy(db *sqlite.DB) *Policy {
	return &Policy{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Resolve returns the effective settings for teacherID using q, so that it
// can run inside a caller's transaction.
func Resolve(ctx context.Context, q *sqlite.Queries, teacherID string) (domain.Settings, error) {
	if teacherID != "" {
		s, found, err := q.GetSettings(ctx, teacherID)
		if err != nil {
			return s, err
		}
		if found {
			return s, nil
		}
	}
	s, found, err := q.GetSettings(ctx, "")
	if err != nil {
		return s, err
	}
	if found {
		s.TeacherID = teacherID
		return s, nil
	}
	s = domain.DefaultSettings()
	s.TeacherID = teacherID
	return s, nil
}

// Settings returns the effective settings for teacherID.
func (p *Policy) Settings(ctx context.Context, teacherID string) (domain.Settings, error) {
	s, err := Resolve(ctx, p.db.Queries, teacherID)
	return s, domain.Persistence(err)
}

// UpdateSettings replaces the settings row of teacherID ("" = global,
// admin only). Point values missing from s keep their resolved value.
func (p *Policy) UpdateSettings(ctx context.Context, actor domain.Actor, teacherID string, s domain.Settings) (domain.Settings, error) {
	if !actor.CanManageTenant(teacherID) || (teacherID == "" && !actor.IsAdmin()) {
		return s, domain.ErrForbidden
	}
	for t := range s.PointValues {
		if !t.Submittable() {
			return s, fmt.Errorf("%w: no point value for %q", domain.ErrInvalidActivityType, t)
		}
	}
	if s.ResetFrequency == "" {
		s.ResetFrequency = domain.ResetMonthly
	}
	if s.StreakMultiplier == 0 {
		s.StreakMultiplier = 1
	}
	if s.PointValues == nil {
		s.PointValues = map[domain.ActivityType]int64{}
	}
	if err := p.validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return s, domain.Invalid("settings field %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return s, domain.Invalid("settings: %v", err)
	}

	err := p.db.Tx(ctx, func(q *sqlite.Queries) error {
		cur, err := Resolve(ctx, q, teacherID)
		if err != nil {
			return err
		}
		merged := make(map[domain.ActivityType]int64, len(domain.SubmittableActivities))
		for _, t := range domain.SubmittableActivities {
			merged[t] = cur.PointsFor(t)
		}
		for t, v := range s.PointValues {
			merged[t] = v
		}
		s.PointValues = merged
		s.TeacherID = teacherID
		s.LastResetAt = cur.LastResetAt
		s.UpdatedAt = p.now()
		return q.UpsertSettings(ctx, s)
	})
	return s, domain.Persistence(err)
}
