package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Validation errors. Detected before any mutation.
	ErrInvalidActivityType = errors.New("invalid activity type")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStaleActivityDate   = errors.New("activity date is before the last recorded activity")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrRewardInactive      = errors.New("reward is not active")
	ErrOutOfStock          = errors.New("reward is out of stock")
	ErrInvalidTransition   = errors.New("invalid redemption status transition")

	// Lookup errors
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrRedemptionNotFound  = errors.New("redemption not found")
	ErrAchievementNotFound = errors.New("achievement not found")

	// Authorization
	ErrForbidden = errors.New("operation not permitted for this actor")

	// Storage. Any failure inside a unit of work rolls the unit back.
	ErrPersistence = errors.New("persistence error")
)

// Persistence wraps a storage failure so that it matches ErrPersistence and
// still unwraps to the cause. Domain errors pass through unchanged.
func Persistence(err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// Invalid returns an ErrInvalidArgument carrying a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

var domainErrors = []error{
	ErrInvalidActivityType, ErrInvalidArgument, ErrStaleActivityDate,
	ErrInsufficientPoints, ErrRewardInactive, ErrOutOfStock,
	ErrInvalidTransition, ErrUserNotFound, ErrUserExists, ErrRewardNotFound,
	ErrRedemptionNotFound, ErrAchievementNotFound, ErrForbidden, ErrPersistence,
}

// IsDomainError reports whether err belongs to the domain taxonomy.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidActivityType):
		return "invalid_activity_type"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrStaleActivityDate):
		return "stale_activity_date"
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrRewardInactive):
		return "reward_inactive"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrUserExists):
		return "user_exists"
	case errors.Is(err, ErrRewardNotFound):
		return "reward_not_found"
	case errors.Is(err, ErrRedemptionNotFound):
		return "redemption_not_found"
	case errors.Is(err, ErrAchievementNotFound):
		return "achievement_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}
