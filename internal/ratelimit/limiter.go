// Package ratelimit gates the three café resources (message, agent, poke)
// against a shared key-value store. Buckets are created lazily on first
// consumption and destroyed by TTL expiry, so an absent key always means a
// fresh window.
//
// The limiter fails OPEN: if the store is unreachable a check reports
// allowed and logs a warning, because blocking all traffic over an
// infrastructure hiccup is worse than briefly under-enforcing a quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"brewline/internal/kv"
	"brewline/pkg/types"
)

// syntheticRemaining is reported when limiting is disabled or failing open.
const syntheticRemaining = 999999

// Limiter decides, per (user, resource), whether an action is allowed.
// Check never mutates state; callers consume a token only after the
// underlying action actually happened.
type Limiter struct {
	store kv.Store
	cfg   *Config
	now   func() time.Time
}

func NewLimiter(store kv.Store, cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func messageCountKey(userID string) string { return "ratelimit:message:" + userID + ":count" }
func messageLastKey(userID string) string  { return "ratelimit:message:" + userID + ":last" }
func agentGlobalKey() string               { return "ratelimit:agent:global" }
func agentSessionKey(userID, sessionID string) string {
	return "ratelimit:agent:" + userID + ":" + sessionID
}
func pokeKey(userID string) string { return "ratelimit:poke:" + userID }

// Check reports whether an action on resource is currently allowed.
// Pure read: no counters move until the matching Consume call.
func (l *Limiter) Check(ctx context.Context, userID, resource, tier, sessionID string) types.RateLimitDecision {
	if l.cfg.Disabled {
		return types.RateLimitDecision{Allowed: true, Remaining: syntheticRemaining}
	}

	switch resource {
	case types.ResourceMessage:
		return l.checkMessage(ctx, userID, tier)
	case types.ResourceAgent:
		return l.checkAgent(ctx, userID, sessionID)
	case types.ResourcePoke:
		return l.checkPoke(ctx, userID)
	default:
		// Unknown resources are not limited.
		return types.RateLimitDecision{Allowed: true, Remaining: syntheticRemaining}
	}
}

// checkMessage enforces the per-send cooldown and the tier token bucket.
// Cooldown is checked first: it is the cheaper lookup and produces the more
// actionable error when both constraints are active.
func (l *Limiter) checkMessage(ctx context.Context, userID, tier string) types.RateLimitDecision {
	limit := l.cfg.tierLimit(tier)
	now := l.now()

	if limit.Cooldown > 0 {
		val, err := l.store.Get(ctx, messageLastKey(userID))
		if err != nil && !errors.Is(err, kv.ErrNoKey) {
			return l.failOpen(types.ResourceMessage, err)
		}
		if err == nil {
			lastUnix, parseErr := strconv.ParseInt(val, 10, 64)
			if parseErr == nil {
				elapsed := now.Sub(time.Unix(lastUnix, 0))
				if elapsed < limit.Cooldown {
					wait := limit.Cooldown - elapsed
					return types.RateLimitDecision{
						Allowed:    false,
						Remaining:  0,
						ResetAt:    now.Add(wait),
						RetryAfter: ceilSeconds(wait),
						Reason:     "message cooldown active",
					}
				}
			}
		}
	}

	used, ttl, err := l.readCounter(ctx, messageCountKey(userID))
	if err != nil {
		return l.failOpen(types.ResourceMessage, err)
	}

	remaining := limit.Count - used
	if remaining <= 0 {
		if ttl <= 0 {
			ttl = limit.Window
		}
		return types.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(ttl),
			RetryAfter: ceilSeconds(ttl),
			Reason:     fmt.Sprintf("message limit of %d per %s reached", limit.Count, limit.Window),
		}
	}

	resetAt := now.Add(limit.Window)
	if ttl > 0 {
		resetAt = now.Add(ttl)
	}
	return types.RateLimitDecision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// checkAgent enforces two independent gates: the deployment-wide cooldown
// shared by every user, and the small per-session counter.
func (l *Limiter) checkAgent(ctx context.Context, userID, sessionID string) types.RateLimitDecision {
	now := l.now()

	ttl, err := l.store.TTL(ctx, agentGlobalKey())
	if err != nil && !errors.Is(err, kv.ErrNoKey) {
		return l.failOpen(types.ResourceAgent, err)
	}
	if err == nil {
		if ttl <= 0 {
			ttl = l.cfg.AgentGlobalCooldown
		}
		return types.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(ttl),
			RetryAfter: ceilSeconds(ttl),
			Reason:     "the barista is busy, try again shortly",
		}
	}

	used, sessionTTL, err := l.readCounter(ctx, agentSessionKey(userID, sessionID))
	if err != nil {
		return l.failOpen(types.ResourceAgent, err)
	}

	remaining := l.cfg.AgentSessionLimit - used
	if remaining <= 0 {
		if sessionTTL <= 0 {
			sessionTTL = l.cfg.AgentSessionTTL
		}
		return types.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(sessionTTL),
			RetryAfter: ceilSeconds(sessionTTL),
			Reason:     fmt.Sprintf("agent limit of %d per session reached", l.cfg.AgentSessionLimit),
		}
	}

	return types.RateLimitDecision{Allowed: true, Remaining: remaining, ResetAt: now.Add(l.cfg.AgentSessionTTL)}
}

// checkPoke enforces the fixed-window poke counter.
func (l *Limiter) checkPoke(ctx context.Context, userID string) types.RateLimitDecision {
	now := l.now()

	used, ttl, err := l.readCounter(ctx, pokeKey(userID))
	if err != nil {
		return l.failOpen(types.ResourcePoke, err)
	}

	remaining := l.cfg.PokeLimit - used
	if remaining <= 0 {
		if ttl <= 0 {
			ttl = l.cfg.PokeWindow
		}
		return types.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(ttl),
			RetryAfter: ceilSeconds(ttl),
			Reason:     fmt.Sprintf("poke limit of %d per %s reached", l.cfg.PokeLimit, l.cfg.PokeWindow),
		}
	}

	resetAt := now.Add(l.cfg.PokeWindow)
	if ttl > 0 {
		resetAt = now.Add(ttl)
	}
	return types.RateLimitDecision{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

// ConsumeMessageToken records one sent message: bumps the bucket counter,
// arming the window TTL on first use, and stamps the cooldown key. Call
// only after the message was actually stored.
func (l *Limiter) ConsumeMessageToken(ctx context.Context, userID, tier string) {
	if l.cfg.Disabled {
		return
	}
	limit := l.cfg.tierLimit(tier)

	if err := l.bumpCounter(ctx, messageCountKey(userID), limit.Window); err != nil {
		log.Printf("WARNING: failed to consume message token for %s: %v", userID, err)
	}

	if limit.Cooldown > 0 {
		stamp := strconv.FormatInt(l.now().Unix(), 10)
		// The cooldown key's own TTL clears it, so absence means the
		// cooldown has passed.
		if err := l.store.Set(ctx, messageLastKey(userID), stamp, limit.Cooldown); err != nil {
			log.Printf("WARNING: failed to stamp message cooldown for %s: %v", userID, err)
		}
	}
}

// ArmAgentCooldown stamps the shared agent cooldown. Called before the
// backend query goes out, so concurrent prompts pace each other even when
// the query itself fails.
func (l *Limiter) ArmAgentCooldown(ctx context.Context) {
	if l.cfg.Disabled || l.cfg.AgentGlobalCooldown <= 0 {
		return
	}
	stamp := strconv.FormatInt(l.now().Unix(), 10)
	if err := l.store.Set(ctx, agentGlobalKey(), stamp, l.cfg.AgentGlobalCooldown); err != nil {
		log.Printf("WARNING: failed to arm global agent cooldown: %v", err)
	}
}

// ConsumeAgentToken bumps the per-session counter. Called only once the
// backend actually produced a reply, so a failed query does not cost the
// user one of their session tokens.
func (l *Limiter) ConsumeAgentToken(ctx context.Context, userID, sessionID string) {
	if l.cfg.Disabled {
		return
	}
	if err := l.bumpCounter(ctx, agentSessionKey(userID, sessionID), l.cfg.AgentSessionTTL); err != nil {
		log.Printf("WARNING: failed to consume agent token for %s: %v", userID, err)
	}
}

// ConsumePokeToken bumps the poke window counter.
func (l *Limiter) ConsumePokeToken(ctx context.Context, userID string) {
	if l.cfg.Disabled {
		return
	}
	if err := l.bumpCounter(ctx, pokeKey(userID), l.cfg.PokeWindow); err != nil {
		log.Printf("WARNING: failed to consume poke token for %s: %v", userID, err)
	}
}

// Status aggregates the current decision for every resource. The three
// reads are independent, so they run concurrently.
func (l *Limiter) Status(ctx context.Context, userID, tier, sessionID string) types.RateLimitStatus {
	resources := [...]string{types.ResourceMessage, types.ResourceAgent, types.ResourcePoke}
	decisions := make([]types.RateLimitDecision, len(resources))

	var wg sync.WaitGroup
	for i, resource := range resources {
		wg.Add(1)
		go func(i int, resource string) {
			defer wg.Done()
			decisions[i] = l.Check(ctx, userID, resource, tier, sessionID)
		}(i, resource)
	}
	wg.Wait()

	status := types.RateLimitStatus{
		UserID:    userID,
		Resources: make(map[string]types.RateLimitDecision, len(resources)),
	}
	for i, resource := range resources {
		status.Resources[resource] = decisions[i]
	}
	return status
}

// Reset clears one resource's buckets for a user, or all of them when
// resource is empty. Agent counters are keyed per session, so resetting
// the agent resource requires a session id; a reset of all resources
// includes the agent session only when one is given. Admin operation.
func (l *Limiter) Reset(ctx context.Context, userID, resource, sessionID string) error {
	keys := map[string][]string{
		types.ResourceMessage: {messageCountKey(userID), messageLastKey(userID)},
		types.ResourceAgent:   nil,
		types.ResourcePoke:    {pokeKey(userID)},
	}
	if sessionID != "" {
		keys[types.ResourceAgent] = []string{agentSessionKey(userID, sessionID)}
	} else if resource == types.ResourceAgent {
		return fmt.Errorf("%w: agent resets require a session id", types.ErrValidation)
	}

	var targets []string
	if resource == "" {
		for _, ks := range keys {
			targets = append(targets, ks...)
		}
	} else {
		ks, ok := keys[resource]
		if !ok {
			return fmt.Errorf("%w: unknown resource %q", types.ErrValidation, resource)
		}
		targets = ks
	}

	for _, key := range targets {
		if err := l.store.Del(ctx, key); err != nil {
			return fmt.Errorf("failed to reset %s for %s: %w", resource, userID, err)
		}
	}
	log.Printf("Reset rate limits for user %s (resource=%q)", userID, resource)
	return nil
}

// readCounter returns the current integer at key (0 when absent) and its
// remaining TTL.
func (l *Limiter) readCounter(ctx context.Context, key string) (int, time.Duration, error) {
	val, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNoKey) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	used, parseErr := strconv.Atoi(val)
	if parseErr != nil {
		// Corrupt counter. Treat the window as fresh rather than locking
		// the user out.
		return 0, 0, nil
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNoKey) {
		return 0, 0, err
	}
	return used, ttl, nil
}

// bumpCounter increments key and arms the window TTL when this increment
// created it.
func (l *Limiter) bumpCounter(ctx context.Context, key string, window time.Duration) error {
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return err
	}
	if n == 1 && window > 0 {
		if err := l.store.Expire(ctx, key, window); err != nil {
			return err
		}
	}
	return nil
}

// failOpen logs a store failure and lets the action through.
func (l *Limiter) failOpen(resource string, err error) types.RateLimitDecision {
	log.Printf("WARNING: rate limit store failure on %s, failing open: %v", resource, err)
	return types.RateLimitDecision{Allowed: true, Remaining: syntheticRemaining}
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
