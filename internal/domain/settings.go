package domain

import "time"

// ResetFrequency is the cadence of scheduled point resets.
type ResetFrequency string

const (
	ResetWeekly    ResetFrequency = "weekly"
	ResetMonthly   ResetFrequency = "monthly"
	ResetQuarterly ResetFrequency = "quarterly"
	ResetYearly    ResetFrequency = "yearly"
)

// Next returns the date one period after d.
func (f ResetFrequency) Next(d time.Time) time.Time {
	switch f {
	case ResetWeekly:
		return d.AddDate(0, 0, 7)
	case ResetQuarterly:
		return d.AddDate(0, 3, 0)
	case ResetYearly:
		return d.AddDate(1, 0, 0)
	default:
		return d.AddDate(0, 1, 0)
	}
}

// Settings is the per-teacher gamification policy. TeacherID "" is the
// global default row.
type Settings struct {
	TeacherID        string                 `json:"teacher_id"`
	PointValues      map[ActivityType]int64 `json:"point_values" validate:"required,dive,gte=0"`
	MaxDailyPoints   int64                  `json:"max_daily_points" validate:"gte=0"` // 0 = uncapped
	LevelUpBonus     int64                  `json:"level_up_bonus" validate:"gte=0"`
	StreakMultiplier float64                `json:"streak_multiplier" validate:"gte=1,lte=5"`
	AutoResetEnabled bool                   `json:"auto_reset_enabled"`
	ResetFrequency   ResetFrequency         `json:"reset_frequency" validate:"oneof=weekly monthly quarterly yearly"`
	NextResetDate    *time.Time             `json:"next_reset_date,omitempty" validate:"required_if=AutoResetEnabled true"`
	LastResetAt      *time.Time             `json:"last_reset_at,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// DefaultSettings is the built-in policy used when neither the teacher nor
// the global row exists.
func DefaultSettings() Settings {
	return Settings{
		PointValues: map[ActivityType]int64{
			ActivityWorkout:        10,
			ActivityCheckin:        5,
			ActivityAIInteraction:  2,
			ActivityAssessment:     15,
			ActivityGoalAchieved:   25,
			ActivityMealLog:        3,
			ActivityMedicalExam:    20,
			ActivityProgressUpdate: 5,
			ActivityTeacherMessage: 1,
			ActivityAppointment:    10,
			ActivityFeedback:       5,
		},
		MaxDailyPoints:   200,
		LevelUpBonus:     0,
		StreakMultiplier: 1.0,
		ResetFrequency:   ResetMonthly,
	}
}

// PointsFor returns the configured value for t. Types missing from the
// map fall back to the built-in default.
func (s Settings) PointsFor(t ActivityType) int64 {
	if v, ok := s.PointValues[t]; ok {
		return v
	}
	return DefaultSettings().PointValues[t]
}

// Capped reports whether a daily cap applies.
func (s Settings) Capped() bool { return s.MaxDailyPoints > 0 }

// ResetDue reports whether a scheduled reset should run on day.
func (s Settings) ResetDue(day time.Time) bool {
	return s.AutoResetEnabled && s.NextResetDate != nil && !s.NextResetDate.After(day)
}
