// Package domain holds the gamification model: users, point records,
// activity events, achievements, rewards, redemptions and settings.
// Types here carry no storage or transport dependency.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// ─── Users ──────────────────────────────────────────────────────────────────

// Role is the identity role supplied by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// User is a tenant membership record. Students belong to one teacher.
type User struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	TeacherID string    `json:"teacher_id,omitempty"`
	Timezone  string    `json:"timezone,omitempty"` // IANA name, empty = server local
	CreatedAt time.Time `json:"created_at"`
}

// Location resolves the user's timezone, falling back to fallback.
func (u User) Location(fallback *time.Location) *time.Location {
	if u.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// TenantID returns the teacher scope the user belongs to.
// Teachers are their own tenant; admins have none.
func (u User) TenantID() string {
	switch u.Role {
	case RoleTeacher:
		return u.ID
	case RoleStudent:
		return u.TeacherID
	}
	return ""
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// SystemActor is used by the CLI and scheduled jobs.
var SystemActor = Actor{UserID: "system", Role: RoleAdmin}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanManageTenant reports whether the actor may administer teacherID's scope.
func (a Actor) CanManageTenant(teacherID string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleTeacher && a.UserID == teacherID
}

// CanActFor reports whether the actor may act on behalf of u.
func (a Actor) CanActFor(u User) bool {
	if a.IsAdmin() || a.UserID == u.ID {
		return true
	}
	return a.Role == RoleTeacher && u.Role == RoleStudent && u.TeacherID == a.UserID
}

// ─── Points Record ──────────────────────────────────────────────────────────

// UserPoints is the per-user running state. Level is derived from
// TotalPoints and cached.
type UserPoints struct {
	UserID           string     `json:"user_id"`
	TotalPoints      int64      `json:"total_points"`
	Level            int        `json:"level"`
	CurrentStreak    int        `json:"current_streak"`
	LongestStreak    int        `json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"` // calendar date, midnight UTC
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewUserPoints returns the zero record for a user with no activity yet.
func NewUserPoints(userID string) UserPoints {
	return UserPoints{UserID: userID, Level: 1}
}

// ─── Activity Events ────────────────────────────────────────────────────────

// ActivityType enumerates point-earning actions.
type ActivityType string

const (
	ActivityWorkout        ActivityType = "workout"
	ActivityCheckin        ActivityType = "checkin"
	ActivityAIInteraction  ActivityType = "ai_interaction"
	ActivityAssessment     ActivityType = "assessment"
	ActivityGoalAchieved   ActivityType = "goal_achieved"
	ActivityMealLog        ActivityType = "meal_log"
	ActivityMedicalExam    ActivityType = "medical_exam"
	ActivityProgressUpdate ActivityType = "progress_update"
	ActivityTeacherMessage ActivityType = "teacher_message"
	ActivityAppointment    ActivityType = "appointment"
	ActivityFeedback       ActivityType = "feedback"

	// Reserved for the ledger itself.
	ActivityAchievementUnlock ActivityType = "achievement_unlock"
	ActivityLevelUp           ActivityType = "level_up"
)

// SubmittableActivities lists the types callers may record directly.
var SubmittableActivities = []ActivityType{
	ActivityWorkout, ActivityCheckin, ActivityAIInteraction, ActivityAssessment,
	ActivityGoalAchieved, ActivityMealLog, ActivityMedicalExam,
	ActivityProgressUpdate, ActivityTeacherMessage, ActivityAppointment,
	ActivityFeedback,
}

// Submittable reports whether t may be recorded by a caller.
func (t ActivityType) Submittable() bool {
	for _, s := range SubmittableActivities {
		if s == t {
			return true
		}
	}
	return false
}

// Metadata is structured, string-valued event context.
type Metadata map[string]string

var metadataKey = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

const (
	maxMetadataEntries = 32
	maxMetadataValue   = 512
)

// Validate checks key shape and size limits.
func (m Metadata) Validate() error {
	if len(m) > maxMetadataEntries {
		return Invalid("metadata has %d entries, max %d", len(m), maxMetadataEntries)
	}
	for k, v := range m {
		if !metadataKey.MatchString(k) {
			return Invalid("metadata key %q", k)
		}
		if len(v) > maxMetadataValue {
			return Invalid("metadata value for %q exceeds %d bytes", k, maxMetadataValue)
		}
	}
	return nil
}

// ActivityEvent is an immutable ledger entry. PointsEarned is the policy
// value at event time and is never recomputed.
type ActivityEvent struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	ActivityType ActivityType `json:"activity_type"`
	PointsEarned int64        `json:"points_earned"`
	Description  string       `json:"description,omitempty"`
	Metadata     Metadata     `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ─── Achievements ───────────────────────────────────────────────────────────

// Rarity is a presentational tier.
type Rarity string

const (
	RarityBronze   Rarity = "bronze"
	RaritySilver   Rarity = "silver"
	RarityGold     Rarity = "gold"
	RarityPlatinum Rarity = "platinum"
	RarityDiamond  Rarity = "diamond"
)

var rarityRank = map[Rarity]int{
	RarityBronze: 1, RaritySilver: 2, RarityGold: 3, RarityPlatinum: 4, RarityDiamond: 5,
}

// Rank orders tiers, 0 for unknown.
func (r Rarity) Rank() int { return rarityRank[r] }

// ConditionType selects which aggregate an achievement tests.
type ConditionType string

const (
	ConditionTrainingCount     ConditionType = "training_count"
	ConditionStreakDays        ConditionType = "streak_days"
	ConditionProgressMilestone ConditionType = "progress_milestone"
	ConditionAppointmentCount  ConditionType = "appointment_count"
	ConditionPointsTotal       ConditionType = "points_total"
	ConditionCustom            ConditionType = "custom"
)

// Valid reports whether c is a known condition type.
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionTrainingCount, ConditionStreakDays, ConditionProgressMilestone,
		ConditionAppointmentCount, ConditionPointsTotal, ConditionCustom:
		return true
	}
	return false
}

// Achievement is a teacher-owned unlock definition. Never hard-deleted.
type Achievement struct {
	ID             string        `json:"id"`
	TeacherID      string        `json:"teacher_id,omitempty"` // empty = global
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Rarity         Rarity        `json:"rarity"`
	PointsReward   int64         `json:"points_reward"`
	ConditionType  ConditionType `json:"condition_type"`
	ConditionValue int64         `json:"condition_value"`
	ConditionKey   string        `json:"condition_key,omitempty"` // custom predicate name
	IsActive       bool          `json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks a definition before it is stored.
func (a Achievement) Validate() error {
	if a.Title == "" {
		return Invalid("achievement title is required")
	}
	if a.Rarity.Rank() == 0 {
		return Invalid("rarity %q", a.Rarity)
	}
	if !a.ConditionType.Valid() {
		return Invalid("condition type %q", a.ConditionType)
	}
	if a.ConditionType == ConditionCustom && a.ConditionKey == "" {
		return Invalid("custom condition requires condition_key")
	}
	if a.PointsReward < 0 || a.ConditionValue < 0 {
		return Invalid("points_reward and condition_value must be non-negative")
	}
	return nil
}

// UserAchievement records a one-time grant; unique per (user, achievement).
type UserAchievement struct {
	ID            string    `json:"id"`
	AchievementID string    `json:"achievement_id"`
	UserID        string    `json:"user_id"`
	PointsEarned  int64     `json:"points_earned"`
	EarnedAt      time.Time `json:"earned_at"`
}

// UserStats is the aggregate snapshot fed to achievement conditions.
type UserStats struct {
	UserID             string `json:"user_id"`
	TrainingCount      int64  `json:"training_count"`
	ProgressMilestones int64  `json:"progress_milestones"`
	AppointmentCount   int64  `json:"appointment_count"`
	CurrentStreak      int    `json:"current_streak"`
	LongestStreak      int    `json:"longest_streak"`
	TotalPoints        int64  `json:"total_points"`
	Level              int    `json:"level"`
}

// ─── Rewards ────────────────────────────────────────────────────────────────

// Reward is a catalog item. Nil Stock means unlimited.
type Reward struct {
	ID          string    `json:"id"`
	TeacherID   string    `json:"teacher_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PointsCost  int64     `json:"points_cost"`
	Stock       *int64    `json:"stock"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks a catalog item before it is stored.
func (r Reward) Validate() error {
	if r.Title == "" {
		return Invalid("reward title is required")
	}
	if r.PointsCost < 0 {
		return Invalid("points_cost must be non-negative")
	}
	if r.Stock != nil && *r.Stock < 0 {
		return Invalid("stock must be non-negative")
	}
	return nil
}

// InStock reports whether one more unit can be redeemed.
func (r Reward) InStock() bool {
	return r.Stock == nil || *r.Stock > 0
}

// RedemptionStatus is the approval state of a redemption.
type RedemptionStatus string

const (
	RedemptionPending  RedemptionStatus = "pending"
	RedemptionApproved RedemptionStatus = "approved"
	RedemptionRejected RedemptionStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionApproved || s == RedemptionRejected
}

// CanTransition reports whether from → to is legal.
// Only pending → approved and pending → rejected are.
func CanTransition(from, to RedemptionStatus) bool {
	return from == RedemptionPending && to.Terminal()
}

// Redemption is a request to exchange points for a reward. PointsSpent is
// the cost snapshot at creation and is what a rejection refunds.
type Redemption struct {
	ID          string           `json:"id"`
	RewardID    string           `json:"reward_id"`
	UserID      string           `json:"user_id"`
	TeacherID   string           `json:"teacher_id"`
	PointsSpent int64            `json:"points_spent"`
	Status      RedemptionStatus `json:"status"`
	AdminNotes  string           `json:"admin_notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RedemptionFilter narrows redemption listings. Zero fields match all.
type RedemptionFilter struct {
	UserID    string
	TeacherID string
	Status    RedemptionStatus
	Limit     int
}

// ─── Resets ─────────────────────────────────────────────────────────────────

// ResetTrigger records what started a bulk reset.
type ResetTrigger string

const (
	ResetManual    ResetTrigger = "manual"
	ResetScheduled ResetTrigger = "scheduled"
)

// ResetRecord is the audit entry of a bulk reset. Backup holds the
// pre-reset points rows as JSON.
type ResetRecord struct {
	ID               string       `json:"id"`
	TeacherID        string       `json:"teacher_id"`
	Reason           string       `json:"reason,omitempty"`
	Trigger          ResetTrigger `json:"trigger"`
	StudentsAffected int          `json:"students_affected"`
	PointsRemoved    int64        `json:"points_removed"`
	Backup           []byte       `json:"-"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ─── Leaderboard ────────────────────────────────────────────────────────────

// LeaderboardEntry is one ranked student.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"user_id"`
	TotalPoints   int64  `json:"total_points"`
	Level         int    `json:"level"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// ─── Dates ──────────────────────────────────────────────────────────────────

// CalendarDate returns t's calendar date in loc as midnight UTC, the form
// streak dates are stored and compared in.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(d time.Time) string { return d.Format("2006-01-02") }

// ParseDate parses YYYY-MM-DD into a calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidArgument, s)
	}
	return d, nil
}
