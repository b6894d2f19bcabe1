package types

import (
	"time"
)

// User tiers control per-tier rate limit quotas.
const (
	TierStandard = "standard"
	TierRegular  = "regular"
	TierStaff    = "staff"
)

// Rate-limited resource names. Every limiter key is scoped to one of these.
const (
	ResourceMessage = "message"
	ResourceAgent   = "agent"
	ResourcePoke    = "poke"
)

// Poke lifecycle states. A poke in "pending" or "accepted" is still open:
// it blocks duplicate pokes between the pair and can participate in a match.
// "declined", "expired" and "matched" are terminal.
const (
	PokeStatusPending  = "pending"
	PokeStatusAccepted = "accepted"
	PokeStatusDeclined = "declined"
	PokeStatusExpired  = "expired"
	PokeStatusMatched  = "matched"
)

// Responses a recipient can give to a poke.
const (
	PokeActionAccept  = "accept"
	PokeActionDecline = "decline"
)

// User represents a café member.
type User struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	Tier          string    `json:"tier"`
	PokingEnabled bool      `json:"poking_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// Poke is a one-directional interest-based introduction request.
type Poke struct {
	ID             string     `json:"id"`
	FromUserID     string     `json:"from_user_id"`
	ToUserID       string     `json:"to_user_id"`
	SharedInterest string     `json:"shared_interest"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
}

// IsOpen reports whether the poke still blocks duplicates and can match.
func (p *Poke) IsOpen() bool {
	return p.Status == PokeStatusPending || p.Status == PokeStatusAccepted
}

// IsExpired checks the deadline directly; the status field may lag behind
// until the periodic sweep runs.
func (p *Poke) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// DMChannel is the private chat channel created on a mutual match.
// User1ID < User2ID canonical ordering guarantees at most one channel
// per unordered pair via the database uniqueness constraint.
type DMChannel struct {
	ID        string    `json:"id"`
	User1ID   string    `json:"user1_id"`
	User2ID   string    `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CanonicalPair orders two user IDs for DM channel storage.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Message is a café room chat message.
type Message struct {
	ID        string    `json:"id"`
	CafeID    string    `json:"cafe_id"`
	FromUser  string    `json:"from_user"`
	Content   string    `json:"content"`
	Flagged   bool      `json:"flagged"`
	Timestamp time.Time `json:"timestamp"`
}

// Spam violation types.
const (
	ViolationDuplicateMessage   = "duplicate_message"
	ViolationExcessiveCaps      = "excessive_caps"
	ViolationURLSpam            = "url_spam"
	ViolationRepeatedCharacters = "repeated_characters"
	ViolationProfanity          = "profanity"
	ViolationMuted              = "muted"
)

// Violation severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Moderation actions recommended by the spam classifier, in escalating order.
const (
	ActionAllow = "allow"
	ActionWarn  = "warn"
	ActionBlock = "block"
	ActionMute  = "mute"
)

// SpamViolation records a single heuristic violation. Transient: computed
// per message and only persisted as part of a MuteRecord.
type SpamViolation struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

// MuteRecord is the TTL-bound record backing a temporary mute.
type MuteRecord struct {
	UserID     string          `json:"user_id"`
	MutedUntil time.Time       `json:"muted_until"`
	Reason     string          `json:"reason"`
	Violations []SpamViolation `json:"violations"`
}

// RateLimitDecision is the result of a single rate limit check.
type RateLimitDecision struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds
	Reason     string    `json:"reason,omitempty"`
}

// RateLimitStatus aggregates decisions across all resources for one user.
type RateLimitStatus struct {
	UserID    string                       `json:"user_id"`
	Resources map[string]RateLimitDecision `json:"resources"`
}
