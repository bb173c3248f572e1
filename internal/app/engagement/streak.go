// Package engagement implements the points side of coachpoints: the level
// curve, daily streaks, settings resolution, the points ledger and the
// achievement engine.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
)

// AdvanceStreak applies one activity on calendar date day to p.
// Same day: unchanged. Next day: extend. Gap or first activity: restart
// at 1. A day before the last recorded activity fails with
// ErrStaleActivityDate. changed reports whether p was modified.
func AdvanceStreak(p domain.UserPoints, day time.Time) (out domain.UserPoints, changed bool, err error) {
	day = domain.CalendarDate(day, time.UTC)
	out = p

	if p.LastActivityDate != nil {
		last := domain.CalendarDate(*p.LastActivityDate, time.UTC)
		switch {
		case day.Before(last):
			return p, false, fmt.Errorf("%w: %s before %s", domain.ErrStaleActivityDate,
				domain.FormatDate(day), domain.FormatDate(last))
		case day.Equal(last):
			return p, false, nil
		case day.Equal(last.AddDate(0, 0, 1)):
			out.CurrentStreak++
		default:
			out.CurrentStreak = 1
		}
	} else {
		out.CurrentStreak = 1
	}

	if out.CurrentStreak > out.LongestStreak {
		out.LongestStreak = out.CurrentStreak
	}
	out.LastActivityDate = &day
	return out, true, nil
}

// TouchStreak records activity for userID on calendar date day without
// awarding points. A day after the user's local today fails with
// ErrInvalidArgument. Achievement evaluation follows a change.
func (l *Ledger) TouchStreak(ctx context.Context, actor domain.Actor, userID string, day time.Time) (domain.UserPoints, error) {
	p, changed, err := l.touchStreak(ctx, actor, userID, day)
	if err != nil {
		return p, err
	}
	if changed {
		l.evaluate(ctx, userID)
	}
	return p, nil
}

func (l *Ledger) touchStreak(ctx context.Context, actor domain.Actor, userID string, day time.Time) (p domain.UserPoints, changed bool, err error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return p, false, err
	}
	defer unlock()

	err = l.db.Tx(ctx, func(q *sqlite.Queries) error {
		user, err := q.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !actor.CanActFor(user) {
			return domain.ErrForbidden
		}
		today := domain.CalendarDate(l.now(), user.Location(l.loc))
		if day = domain.CalendarDate(day, time.UTC); day.After(today) {
			return domain.Invalid("activity date %s is after today (%s)",
				domain.FormatDate(day), domain.FormatDate(today))
		}
		cur, _, err := q.GetPoints(ctx, userID)
		if err != nil {
			return err
		}
		p, changed, err = AdvanceStreak(cur, day)
		if err != nil || !changed {
			return err
		}
		p.UpdatedAt = l.now()
		return q.SavePoints(ctx, p)
	})
	return p, changed, domain.Persistence(err)
}
