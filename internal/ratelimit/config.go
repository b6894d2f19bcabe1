package ratelimit

import "time"

// TierLimit defines the message token bucket for one user tier.
// Count tokens per Window, with a mandatory Cooldown between sends that
// applies independently of remaining tokens.
type TierLimit struct {
	Count    int
	Window   time.Duration
	Cooldown time.Duration
}

// Config holds the limits for all three gated resources.
type Config struct {
	// Disabled short-circuits every check to allowed. Used in development
	// and as an emergency lever.
	Disabled bool

	// MessageTiers maps a user tier to its message bucket. Unknown tiers
	// fall back to the "standard" entry.
	MessageTiers map[string]TierLimit

	// AgentGlobalCooldown paces expensive agent queries across all users:
	// any user's query arms a single shared cooldown.
	AgentGlobalCooldown time.Duration

	// AgentSessionLimit caps agent queries per session. The counter does
	// not reset until the session key's TTL expires.
	AgentSessionLimit int
	AgentSessionTTL   time.Duration

	// PokeLimit pokes per PokeWindow, fixed window armed on first use.
	PokeLimit  int
	PokeWindow time.Duration
}

// DefaultConfig mirrors production defaults: 10 messages per minute with a
// 2s cooldown for standard users, 2 agent queries per 24h session behind a
// 30s global cooldown, and 5 pokes per 24h.
func DefaultConfig() *Config {
	return &Config{
		MessageTiers: map[string]TierLimit{
			"standard": {Count: 10, Window: time.Minute, Cooldown: 2 * time.Second},
			"regular":  {Count: 20, Window: time.Minute, Cooldown: time.Second},
			"staff":    {Count: 60, Window: time.Minute, Cooldown: 0},
		},
		AgentGlobalCooldown: 30 * time.Second,
		AgentSessionLimit:   2,
		AgentSessionTTL:     24 * time.Hour,
		PokeLimit:           5,
		PokeWindow:          24 * time.Hour,
	}
}

// tierLimit resolves the bucket for a tier, falling back to standard.
func (c *Config) tierLimit(tier string) TierLimit {
	if limit, ok := c.MessageTiers[tier]; ok {
		return limit
	}
	return c.MessageTiers["standard"]
}
