package rewards_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpoints/coachpoints/internal/app/rewards"
	"github.com/coachpoints/coachpoints/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Reset Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestResetAllStudentPoints(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 250)
	f.award(t, "s2", 40)
	f.award(t, "s3", 70) // other tenant

	rec, err := f.svc.ResetAllStudentPoints(ctx, teacher, "t1", "new season")
	require.NoError(t, err)
	assert.Equal(t, domain.ResetManual, rec.Trigger)
	assert.Equal(t, 2, rec.StudentsAffected)
	assert.Equal(t, int64(290), rec.PointsRemoved)

	backup, err := rewards.Backup(rec)
	require.NoError(t, err)
	require.Len(t, backup, 2)
	assert.Equal(t, "s1", backup[0].UserID)
	assert.Equal(t, int64(250), backup[0].TotalPoints)

	for _, id := range []string{"s1", "s2"} {
		p := f.total(t, id)
		assert.Zero(t, p.TotalPoints, id)
		assert.Equal(t, 1, p.Level, id)
		assert.Zero(t, p.CurrentStreak, id)
		assert.Zero(t, p.LongestStreak, id)
		assert.Nil(t, p.LastActivityDate, id)
	}
	assert.Equal(t, int64(70), f.total(t, "s3").TotalPoints, "other tenant untouched")

	history, err := f.svc.ResetHistory(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "new season", history[0].Reason)
	assert.NotEmpty(t, history[0].Backup)
}

func TestResetAllStudentPoints_Authorization(t *testing.T) {
	f := newFixture(t)

	t2 := domain.Actor{UserID: "t2", Role: domain.RoleTeacher}
	_, err := f.svc.ResetAllStudentPoints(ctx, t2, "t1", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.ResetAllStudentPoints(ctx, student, "t1", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.ResetAllStudentPoints(ctx, admin, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.ResetAllStudentPoints(ctx, admin, "nobody", "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestResetAllStudentPoints_EmptyTenant(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.ResetAllStudentPoints(ctx, admin, "t2", "")
	require.NoError(t, err)
	assert.Zero(t, rec.StudentsAffected)
	assert.JSONEq(t, `[]`, string(rec.Backup))
}

// Streak and points restart cleanly after a reset.
func TestResetAllStudentPoints_ThenActivity(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 120)

	_, err := f.svc.ResetAllStudentPoints(ctx, teacher, "t1", "")
	require.NoError(t, err)

	f.award(t, "s1", 5)
	p := f.total(t, "s1")
	assert.Equal(t, int64(5), p.TotalPoints)
	assert.Equal(t, 1, p.CurrentStreak)
}

// ═══════════════════════════════════════════════════════════════════════════
// Maintenance Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestMaintenance_AutoReset(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 100)

	today := domain.CalendarDate(f.clock(), time.Local)
	_, err := f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		AutoResetEnabled: true,
		ResetFrequency:   domain.ResetWeekly,
		NextResetDate:    &today,
	})
	require.NoError(t, err)

	m := rewards.NewMaintenance(f.svc, rewards.MaintenanceConfig{Location: time.Local})
	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, report.Resets, 1)
	assert.Equal(t, domain.ResetScheduled, report.Resets[0].Trigger)
	assert.Zero(t, f.total(t, "s1").TotalPoints)

	s, err := f.policy.Settings(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, s.NextResetDate)
	assert.Equal(t, today.AddDate(0, 0, 7), *s.NextResetDate)
	assert.NotNil(t, s.LastResetAt)

	report, err = m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Resets, "not due again until next week")
}

func TestMaintenance_AutoResetCatchesUp(t *testing.T) {
	f := newFixture(t)

	overdue := domain.CalendarDate(f.clock(), time.Local).AddDate(0, -3, 0)
	_, err := f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		AutoResetEnabled: true,
		ResetFrequency:   domain.ResetMonthly,
		NextResetDate:    &overdue,
	})
	require.NoError(t, err)

	m := rewards.NewMaintenance(f.svc, rewards.MaintenanceConfig{})
	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Resets, 1, "one reset for a missed backlog")

	s, err := f.policy.Settings(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, s.NextResetDate.After(domain.CalendarDate(f.clock(), time.Local)))
}

func TestMaintenance_OverlappingRunsResetOnce(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 100)

	today := domain.CalendarDate(f.clock(), time.Local)
	_, err := f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		AutoResetEnabled: true,
		ResetFrequency:   domain.ResetWeekly,
		NextResetDate:    &today,
	})
	require.NoError(t, err)

	m := rewards.NewMaintenance(f.svc, rewards.MaintenanceConfig{Location: time.Local})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RunAutoResets(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := f.svc.ResetHistory(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "one scheduled reset per due date")
	assert.Equal(t, int64(100), history[0].PointsRemoved)
}

func TestMaintenance_DisabledAutoResetSkipped(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 100)

	today := domain.CalendarDate(f.clock(), time.Local)
	_, err := f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		AutoResetEnabled: false,
		ResetFrequency:   domain.ResetWeekly,
		NextResetDate:    &today,
	})
	require.NoError(t, err)

	resets, err := rewards.NewMaintenance(f.svc, rewards.MaintenanceConfig{Location: time.Local}).RunAutoResets(ctx)
	require.NoError(t, err)
	assert.Empty(t, resets)
	assert.Equal(t, int64(100), f.total(t, "s1").TotalPoints)
}

func TestMaintenance_Retention(t *testing.T) {
	f := newFixture(t)
	f.award(t, "s1", 10)
	f.advance(31 * 24 * time.Hour)
	f.award(t, "s1", 20)

	m := rewards.NewMaintenance(f.svc, rewards.MaintenanceConfig{RetentionDays: 30})
	report, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.EventsPurged)

	events, err := f.ledger.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(20), events[0].PointsEarned)

	// Totals are never recomputed from events.
	assert.Equal(t, int64(30), f.total(t, "s1").TotalPoints)

	_, err = m.PurgeEvents(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
