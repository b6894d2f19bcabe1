package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled once at package initialization; validation runs on every request.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxMessageLength = 2000

// IsValidUserID checks if a user ID meets format requirements.
// 1-50 characters, alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidTier checks if the tier is one of the known user tiers.
func IsValidTier(tier string) bool {
	switch tier {
	case TierStandard, TierRegular, TierStaff:
		return true
	default:
		return false
	}
}

// Validate ensures a user row is storable.
func (u *User) Validate() error {
	if !IsValidUserID(u.ID) {
		return fmt.Errorf("%w: invalid user ID", ErrValidation)
	}
	if strings.TrimSpace(u.DisplayName) == "" || len(u.DisplayName) > 100 {
		return fmt.Errorf("%w: display name must be 1-100 characters", ErrValidation)
	}
	if !IsValidTier(u.Tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, u.Tier)
	}
	return nil
}

// ValidateMessageContent checks room message content before it reaches the
// spam classifier.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	}
	if len(content) > maxMessageLength {
		return fmt.Errorf("%w: message content exceeds %d characters", ErrValidation, maxMessageLength)
	}
	return nil
}

// ValidateSharedInterest checks the interest tag attached to a poke.
func ValidateSharedInterest(interest string) error {
	if strings.TrimSpace(interest) == "" {
		return fmt.Errorf("%w: shared interest cannot be empty", ErrValidation)
	}
	if len(interest) > 50 {
		return fmt.Errorf("%w: shared interest exceeds 50 characters", ErrValidation)
	}
	return nil
}

// IsValidPokeAction checks a poke response action.
func IsValidPokeAction(action string) bool {
	return action == PokeActionAccept || action == PokeActionDecline
}
