package engagement_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
	"github.com/coachpoints/coachpoints/internal/infra/userlock"
)

// clock is a settable time source shared by the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	path   string // database file
	db     *sqlite.DB
	clock  *clock
	ledger *engagement.Ledger
	ach    *engagement.Achievements
	policy *engagement.Policy
	dir    *engagement.Directory
}

var (
	ctx     = context.Background()
	admin   = domain.SystemActor
	teacher = domain.Actor{UserID: "t1", Role: domain.RoleTeacher}
	student = domain.Actor{UserID: "s1", Role: domain.RoleStudent}
)

// newFixture opens a temp store with teacher t1 and student s1 registered.
func newFixture(t *testing.T, opts ...engagement.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
	opts = append([]engagement.Option{
		engagement.WithClock(c.Now),
		engagement.WithLocation(time.UTC),
	}, opts...)
	ledger := engagement.NewLedger(db, userlock.New(), opts...)
	f := &fixture{
		path:   filepath.Join(dir, "coachpoints.db"),
		db:     db,
		clock:  c,
		ledger: ledger,
		ach:    engagement.NewAchievements(ledger, engagement.DefaultPredicates()),
		policy: engagement.NewPolicy(db),
		dir:    engagement.NewDirectory(db),
	}

	_, err = f.dir.RegisterUser(ctx, admin, domain.User{ID: "t1", Role: domain.RoleTeacher})
	require.NoError(t, err)
	_, err = f.dir.RegisterUser(ctx, teacher, domain.User{ID: "s1", Role: domain.RoleStudent, TeacherID: "t1"})
	require.NoError(t, err)
	return f
}

func (f *fixture) settings(t *testing.T, s domain.Settings) {
	t.Helper()
	_, err := f.policy.UpdateSettings(ctx, teacher, "t1", s)
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T, typ domain.ActivityType) engagement.ActivityResult {
	t.Helper()
	res, err := f.ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: typ})
	require.NoError(t, err)
	return res
}

func points(v int64) *int64 { return &v }

// ═══════════════════════════════════════════════════════════════════════════
// Level Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestLevelForPoints(t *testing.T) {
	tests := []struct {
		points int64
		want   int
	}{
		{0, 1}, {99, 1}, {100, 2}, {250, 2}, {399, 2}, {400, 3},
		{899, 3}, {900, 4}, {10000, 11}, {9999, 10},
	}
	for _, tt := range tests {
		got, err := engagement.LevelForPoints(tt.points)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "points=%d", tt.points)

		// (L-1)²×100 ≤ p < L²×100
		assert.LessOrEqual(t, engagement.PointsForLevel(got), tt.points)
		assert.Greater(t, engagement.PointsForLevel(got+1), tt.points)
	}
}

func TestLevelForPoints_Negative(t *testing.T) {
	_, err := engagement.LevelForPoints(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLevel_Progress(t *testing.T) {
	info, err := engagement.Level(250)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Level)
	assert.Equal(t, int64(100), info.LevelFloor)
	assert.Equal(t, int64(400), info.NextLevelPoints)
	assert.InDelta(t, 0.5, info.Progress, 1e-9)

	p, err := engagement.Progress(0)
	require.NoError(t, err)
	assert.Zero(t, p)
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Tests
// ═══════════════════════════════════════════════════════════════════════════

func day(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC) }

func TestAdvanceStreak_GapResets(t *testing.T) {
	p := domain.NewUserPoints("u")

	p, changed, err := engagement.AdvanceStreak(p, day(1))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, p.CurrentStreak)

	p, _, err = engagement.AdvanceStreak(p, day(2))
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)

	p, _, err = engagement.AdvanceStreak(p, day(4))
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak, "longest survives a gap")
	assert.Equal(t, day(4), *p.LastActivityDate)
}

func TestAdvanceStreak_SameDayNoop(t *testing.T) {
	p, _, err := engagement.AdvanceStreak(domain.NewUserPoints("u"), day(1))
	require.NoError(t, err)

	again, changed, err := engagement.AdvanceStreak(p, day(1).Add(20*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, p, again)
}

func TestAdvanceStreak_Stale(t *testing.T) {
	p, _, err := engagement.AdvanceStreak(domain.NewUserPoints("u"), day(5))
	require.NoError(t, err)

	_, _, err = engagement.AdvanceStreak(p, day(4))
	assert.ErrorIs(t, err, domain.ErrStaleActivityDate)
}

func TestTouchStreak(t *testing.T) {
	f := newFixture(t)
	march := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	p, err := f.ledger.TouchStreak(ctx, student, "s1", march(1))
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentStreak)

	p, err = f.ledger.TouchStreak(ctx, teacher, "s1", march(2))
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentStreak)

	_, err = f.ledger.TouchStreak(ctx, student, "s1", march(1))
	assert.ErrorIs(t, err, domain.ErrStaleActivityDate)

	other := domain.Actor{UserID: "s2", Role: domain.RoleStudent}
	_, err = f.ledger.TouchStreak(ctx, other, "s1", march(3))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.ledger.TouchStreak(ctx, admin, "ghost", march(3))
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestTouchStreak_RejectsFutureDates(t *testing.T) {
	f := newFixture(t)
	today := domain.CalendarDate(f.clock.Now(), time.UTC)

	for i := 1; i <= 30; i++ {
		_, err := f.ledger.TouchStreak(ctx, student, "s1", today.AddDate(0, 0, i))
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	p, err := f.ledger.Points(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, p.CurrentStreak)
	assert.Nil(t, p.LastActivityDate)

	// Today is accepted and recording afterwards still works.
	p, err = f.ledger.TouchStreak(ctx, student, "s1", today)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentStreak)
	res := f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(10), res.Event.PointsEarned)
}

func TestTouchStreak_FutureUsesUserTimezone(t *testing.T) {
	f := newFixture(t)
	_, err := f.dir.RegisterUser(ctx, teacher, domain.User{
		ID: "s2", Role: domain.RoleStudent, TeacherID: "t1", Timezone: "Pacific/Auckland",
	})
	require.NoError(t, err)

	// 14:00 UTC on March 10 is already March 11 in Auckland.
	f.clock.t = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	s2 := domain.Actor{UserID: "s2", Role: domain.RoleStudent}
	_, err = f.ledger.TouchStreak(ctx, s2, "s2", time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = f.ledger.TouchStreak(ctx, s2, "s2", time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestRecordActivity_DefaultPoints(t *testing.T) {
	f := newFixture(t)

	res := f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(10), res.Event.PointsEarned)
	assert.Equal(t, int64(10), res.Points.TotalPoints)
	assert.Equal(t, 1, res.Points.Level)
	assert.Equal(t, 1, res.Points.CurrentStreak)

	p, err := f.ledger.Points(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.TotalPoints)

	events, err := f.ledger.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ActivityWorkout, events[0].ActivityType)
}

func TestRecordActivity_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: "yoga"})
	assert.ErrorIs(t, err, domain.ErrInvalidActivityType)

	_, err = f.ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: domain.ActivityAchievementUnlock})
	assert.ErrorIs(t, err, domain.ErrInvalidActivityType, "reserved types are ledger-internal")

	_, err = f.ledger.RecordActivity(ctx, admin, engagement.Activity{UserID: "ghost", Type: domain.ActivityWorkout})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.ledger.RecordActivity(ctx, student, engagement.Activity{
		UserID: "s1", Type: domain.ActivityWorkout, Metadata: domain.Metadata{"Bad Key": "x"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, err := f.ledger.Points(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, p.TotalPoints, "rejected calls leave no writes")
}

func TestRecordActivity_DailyCapBoundary(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{
		PointValues:    map[domain.ActivityType]int64{domain.ActivityWorkout: 30},
		MaxDailyPoints: 100,
	})

	res, err := f.ledger.RecordActivity(ctx, teacher, engagement.Activity{
		UserID: "s1", Type: domain.ActivityCheckin, CustomPoints: points(90),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.Event.PointsEarned)

	res = f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(30), res.Nominal)
	assert.Equal(t, int64(10), res.Event.PointsEarned, "truncated to headroom")

	res = f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(0), res.Event.PointsEarned, "no headroom left")
	assert.Equal(t, int64(100), res.Points.TotalPoints)

	events, err := f.ledger.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 3, "zero-point event still recorded")

	// Next calendar day has fresh headroom.
	f.clock.Advance(24 * time.Hour)
	res = f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(30), res.Event.PointsEarned)
}

func TestRecordActivity_CustomPointsRequireStaff(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{MaxDailyPoints: 0})

	_, err := f.ledger.RecordActivity(ctx, student, engagement.Activity{
		UserID: "s1", Type: domain.ActivityCheckin, CustomPoints: points(1 << 40),
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	p, err := f.ledger.Points(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, p.TotalPoints)
	events, err := f.ledger.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	res, err := f.ledger.RecordActivity(ctx, admin, engagement.Activity{
		UserID: "s1", Type: domain.ActivityCheckin, CustomPoints: points(40),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Event.PointsEarned)
}

func TestRecordActivity_Uncapped(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{MaxDailyPoints: 0})

	res, err := f.ledger.RecordActivity(ctx, teacher, engagement.Activity{
		UserID: "s1", Type: domain.ActivityCheckin, CustomPoints: points(5000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.Event.PointsEarned)
	assert.Equal(t, 8, res.Points.Level)
}

func TestRecordActivity_DayWindowUsesUserTimezone(t *testing.T) {
	f := newFixture(t)
	_, err := f.dir.RegisterUser(ctx, teacher, domain.User{
		ID: "s2", Role: domain.RoleStudent, TeacherID: "t1", Timezone: "America/Sao_Paulo",
	})
	require.NoError(t, err)
	f.settings(t, domain.Settings{MaxDailyPoints: 100})

	// 01:00 UTC is still the previous day in São Paulo (UTC-3).
	f.clock.t = time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC)
	s2 := domain.Actor{UserID: "s2", Role: domain.RoleStudent}
	_, err = f.ledger.RecordActivity(ctx, teacher, engagement.Activity{UserID: "s2", Type: domain.ActivityCheckin, CustomPoints: points(100)})
	require.NoError(t, err)

	// 04:00 UTC is 01:00 local on the next day.
	f.clock.t = time.Date(2025, 3, 11, 4, 0, 0, 0, time.UTC)
	res, err := f.ledger.RecordActivity(ctx, s2, engagement.Activity{UserID: "s2", Type: domain.ActivityWorkout})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Event.PointsEarned)
	assert.Equal(t, 2, res.Points.CurrentStreak)
}

func TestRecordActivity_StreakMultiplier(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{StreakMultiplier: 1.5, MaxDailyPoints: 0})

	res := f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(10), res.Event.PointsEarned, "day one is not multiplied")

	f.clock.Advance(24 * time.Hour)
	res = f.record(t, domain.ActivityWorkout)
	assert.Equal(t, int64(15), res.Event.PointsEarned)

	res, err := f.ledger.RecordActivity(ctx, teacher, engagement.Activity{
		UserID: "s1", Type: domain.ActivityWorkout, CustomPoints: points(7),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Event.PointsEarned, "custom points are never multiplied")
}

func TestRecordActivity_LevelUpBonus(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{LevelUpBonus: 20, MaxDailyPoints: 0})

	res, err := f.ledger.RecordActivity(ctx, teacher, engagement.Activity{
		UserID: "s1", Type: domain.ActivityAssessment, CustomPoints: points(100),
	})
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	require.NotNil(t, res.Bonus)
	assert.Equal(t, domain.ActivityLevelUp, res.Bonus.ActivityType)
	assert.Equal(t, int64(120), res.Points.TotalPoints)
	assert.Equal(t, 2, res.Points.Level)

	res = f.record(t, domain.ActivityCheckin)
	assert.False(t, res.LeveledUp)
	assert.Nil(t, res.Bonus)
}

func TestRecordActivity_ConcurrentSameUser(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{MaxDailyPoints: 0})

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: domain.ActivityCheckin})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.ledger.Points(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(n*5), p.TotalPoints, "no lost updates")
	lvl, _ := engagement.LevelForPoints(p.TotalPoints)
	assert.Equal(t, lvl, p.Level)
}

func TestRecordActivity_TeacherForStudent(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.RecordActivity(ctx, teacher, engagement.Activity{UserID: "s1", Type: domain.ActivityFeedback})
	require.NoError(t, err)

	other := domain.Actor{UserID: "t2", Role: domain.RoleTeacher}
	_, err = f.ledger.RecordActivity(ctx, other, engagement.Activity{UserID: "s1", Type: domain.ActivityFeedback})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	f.settings(t, domain.Settings{MaxDailyPoints: 0})
	for _, id := range []string{"s2", "s3"} {
		_, err := f.dir.RegisterUser(ctx, teacher, domain.User{ID: id, Role: domain.RoleStudent, TeacherID: "t1"})
		require.NoError(t, err)
	}
	award := func(id string, pts int64) {
		_, err := f.ledger.RecordActivity(ctx, admin, engagement.Activity{UserID: id, Type: domain.ActivityCheckin, CustomPoints: points(pts)})
		require.NoError(t, err)
	}
	award("s1", 50)
	award("s2", 300)
	award("s3", 50)

	board, err := f.ledger.Leaderboard(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "s2", board[0].UserID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "s1", board[1].UserID, "ties break by id")
	assert.Equal(t, 3, board[2].Rank)
}

// ═══════════════════════════════════════════════════════════════════════════
// Settings Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestPolicy_Resolution(t *testing.T) {
	f := newFixture(t)

	s, err := f.policy.Settings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings().MaxDailyPoints, s.MaxDailyPoints, "built-in defaults")

	_, err = f.policy.UpdateSettings(ctx, admin, "", domain.Settings{MaxDailyPoints: 150})
	require.NoError(t, err)
	s, err = f.policy.Settings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), s.MaxDailyPoints, "global row")
	assert.Equal(t, "t1", s.TeacherID)

	f.settings(t, domain.Settings{MaxDailyPoints: 80, PointValues: map[domain.ActivityType]int64{domain.ActivityMealLog: 9}})
	s, err = f.policy.Settings(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), s.MaxDailyPoints)
	assert.Equal(t, int64(9), s.PointsFor(domain.ActivityMealLog))
	assert.Equal(t, int64(10), s.PointsFor(domain.ActivityWorkout), "unset values keep resolved default")
}

func TestPolicy_UpdateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.policy.UpdateSettings(ctx, student, "t1", domain.Settings{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.policy.UpdateSettings(ctx, teacher, "", domain.Settings{})
	assert.ErrorIs(t, err, domain.ErrForbidden, "global row is admin only")

	_, err = f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{StreakMultiplier: 9})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{AutoResetEnabled: true})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "auto reset needs a date")

	_, err = f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		PointValues: map[domain.ActivityType]int64{domain.ActivityLevelUp: 5},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidActivityType)

	_, err = f.policy.UpdateSettings(ctx, teacher, "t1", domain.Settings{
		PointValues: map[domain.ActivityType]int64{domain.ActivityWorkout: -1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// ═══════════════════════════════════════════════════════════════════════════
// Directory Tests
// ═══════════════════════════════════════════════════════════════════════════

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.dir.RegisterUser(ctx, teacher, domain.User{ID: "s1", Role: domain.RoleStudent, TeacherID: "t1"})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = f.dir.RegisterUser(ctx, teacher, domain.User{ID: "x", Role: domain.RoleStudent, TeacherID: "t9"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.dir.RegisterUser(ctx, admin, domain.User{ID: "x", Role: domain.RoleStudent, TeacherID: "t9"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.dir.RegisterUser(ctx, admin, domain.User{ID: "x", Role: domain.RoleStudent, TeacherID: "s1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.dir.RegisterUser(ctx, admin, domain.User{ID: "x", Role: domain.RoleTeacher, Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	students, err := f.dir.Students(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, students, 1)
}
