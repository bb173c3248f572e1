package engagement

import (
	"math"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// pointsPerLevelUnit scales the quadratic curve: level L starts at
// (L-1)² × 100 cumulative points.
const pointsPerLevelUnit = 100

// LevelInfo describes where a points total sits on the level curve.
type LevelInfo struct {
	Points          int64   `json:"points"`
	Level           int     `json:"level"`
	LevelFloor      int64   `json:"level_floor"`      // points where Level starts
	NextLevelPoints int64   `json:"next_level_points"` // points where Level+1 starts
	Progress        float64 `json:"progress"`          // [0,1] toward Level+1
}

// PointsForLevel returns the cumulative points at which level starts.
func PointsForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return n * n * pointsPerLevelUnit
}

// LevelForPoints returns the largest L ≥ 1 with (L-1)² × 100 ≤ points.
func LevelForPoints(points int64) (int, error) {
	if points < 0 {
		return 0, domain.Invalid("points must be non-negative, got %d", points)
	}
	return levelFor(points), nil
}

// levelFor is LevelForPoints for values already known to be non-negative.
func levelFor(points int64) int {
	if points <= 0 {
		return 1
	}
	n := int64(math.Sqrt(float64(points / pointsPerLevelUnit)))
	// Float sqrt can be off by one near perfect squares.
	for n > 0 && n*n*pointsPerLevelUnit > points {
		n--
	}
	for (n+1)*(n+1)*pointsPerLevelUnit <= points {
		n++
	}
	return int(n) + 1
}

// Progress returns the fraction of the way from the current level's floor
// to the next level, clamped to [0,1].
func Progress(points int64) (float64, error) {
	info, err := Level(points)
	if err != nil {
		return 0, err
	}
	return info.Progress, nil
}

// Level computes the full position of points on the curve.
func Level(points int64) (LevelInfo, error) {
	level, err := LevelForPoints(points)
	if err != nil {
		return LevelInfo{}, err
	}
	floor := PointsForLevel(level)
	next := PointsForLevel(level + 1)
	progress := float64(points-floor) / float64(next-floor)
	switch {
	case progress < 0:
		progress = 0
	case progress > 1:
		progress = 1
	}
	return LevelInfo{
		Points:          points,
		Level:           level,
		LevelFloor:      floor,
		NextLevelPoints: next,
		Progress:        progress,
	}, nil
}
