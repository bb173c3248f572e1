// Package metrics provides Prometheus metrics for coachpoints.
// Counters for points, achievements, redemptions and resets, plus HTTP
// latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Points Ledger ──────────────────────────────────────────────────────────

// ActivitiesRecorded counts ledger events by activity type.
var ActivitiesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "activities_recorded_total",
	Help:      "Activity events written to the ledger.",
}, []string{"activity_type"})

// PointsAwarded sums credited points by activity type.
var PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "points_awarded_total",
	Help:      "Points credited after the daily cap.",
}, []string{"activity_type"})

// PointsTruncated counts awards reduced by the daily cap.
var PointsTruncated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "points_truncated_total",
	Help:      "Awards truncated by the daily point cap.",
})

// EventsPurged counts events soft-deleted by the retention job.
var EventsPurged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "events_purged_total",
	Help:      "Activity events soft-deleted by retention.",
})

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementsUnlocked counts grants.
var AchievementsUnlocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "achievements_unlocked_total",
	Help:      "Achievements granted.",
})

// AchievementEvalFailures counts definitions whose grant failed.
var AchievementEvalFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "achievement_eval_failures_total",
	Help:      "Achievement grants that failed and will be retried on a later pass.",
})

// ─── Rewards ────────────────────────────────────────────────────────────────

// Redemptions counts redemption lifecycle events by resulting status.
var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "redemptions_total",
	Help:      "Redemptions created (pending) and resolved (approved/rejected).",
}, []string{"status"})

// Resets counts bulk point resets by trigger.
var Resets = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coachpoints",
	Name:      "resets_total",
	Help:      "Bulk student point resets.",
}, []string{"trigger"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPDuration tracks request latency by route pattern and status code.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "coachpoints",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})
