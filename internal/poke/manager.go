// Package poke manages the lifecycle of interest-based introduction
// requests: pending through accept/decline/expire, and the mutual-match
// transition that opens a DM channel.
//
// Unlike the rate limiter, this component fails CLOSED: a store failure
// rejects the request, because a half-applied match is worse than an error
// the client can retry.
package poke

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"brewline/pkg/interfaces"
	"brewline/pkg/types"
)

// Config holds poke lifecycle settings.
type Config struct {
	// Expiration is how long a poke waits for a response.
	Expiration time.Duration

	// MaxPerWindow / Window is the trailing-window send guard, a secondary
	// check alongside the KV rate limiter.
	MaxPerWindow int
	Window       time.Duration

	// SweepInterval is how often the background sweep expires stale rows.
	SweepInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Expiration:    24 * time.Hour,
		MaxPerWindow:  5,
		Window:        24 * time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// Response is the outcome of responding to a poke.
type Response struct {
	Poke      *types.Poke `json:"poke"`
	Matched   bool        `json:"matched"`
	ChannelID string      `json:"channel_id,omitempty"`
}

// MatchNotifier pushes a match event to both users. The websocket registry
// implements this; a nil notifier skips the push.
type MatchNotifier interface {
	NotifyMatch(user1ID, user2ID, channelID string)
}

// Manager drives poke state transitions against the relational store.
type Manager struct {
	db       interfaces.DatabaseManager
	cfg      *Config
	notifier MatchNotifier
	now      func() time.Time
}

func NewManager(db interfaces.DatabaseManager, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{db: db, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetNotifier wires the match push channel. Called once during startup.
func (m *Manager) SetNotifier(n MatchNotifier) { m.notifier = n }

// SweepInterval exposes the configured sweep cadence to the scheduler.
func (m *Manager) SweepInterval() time.Duration { return m.cfg.SweepInterval }

// Send creates a new pending poke from one user to another.
func (m *Manager) Send(ctx context.Context, fromUserID, toUserID, sharedInterest string) (*types.Poke, error) {
	if !types.IsValidUserID(fromUserID) || !types.IsValidUserID(toUserID) {
		return nil, fmt.Errorf("%w: invalid user ID", types.ErrValidation)
	}
	if fromUserID == toUserID {
		return nil, ErrSelfPoke
	}
	if err := types.ValidateSharedInterest(sharedInterest); err != nil {
		return nil, err
	}

	recipient, err := m.db.GetUser(ctx, toUserID)
	if err != nil {
		return nil, err
	}
	if !recipient.PokingEnabled {
		return nil, ErrPokingDisabled
	}

	// At most one open poke may exist between the pair, in either
	// direction.
	for _, pair := range [][2]string{{fromUserID, toUserID}, {toUserID, fromUserID}} {
		existing, err := m.db.FindOpenPoke(ctx, pair[0], pair[1])
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if existing != nil && !existing.IsExpired(m.now()) {
			return nil, ErrDuplicatePoke
		}
	}

	count, err := m.db.CountRecentPokes(ctx, fromUserID, m.now().Add(-m.cfg.Window))
	if err != nil {
		return nil, err
	}
	if count >= m.cfg.MaxPerWindow {
		return nil, &types.RateLimitError{
			Resource:   types.ResourcePoke,
			Reason:     fmt.Sprintf("limit of %d pokes per %s reached", m.cfg.MaxPerWindow, m.cfg.Window),
			RetryAfter: int(m.cfg.Window / time.Second),
		}
	}

	now := m.now()
	poke := &types.Poke{
		ID:             uuid.New().String(),
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		SharedInterest: sharedInterest,
		Status:         types.PokeStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.Expiration),
	}
	if err := m.db.CreatePoke(ctx, poke); err != nil {
		return nil, err
	}

	log.Printf("Poke sent: %s -> %s (interest=%s)", fromUserID, toUserID, sharedInterest)
	return poke, nil
}

// Respond processes an accept or decline from the poke's recipient.
//
// Accept checks for a mutual open poke in the reverse direction; when one
// exists both rows transition to matched and the DM channel is created or
// reused in a single transaction. Without a mutual poke the row moves to
// accepted and waits; a match happens only after the other party pokes
// back and accepts.
func (m *Manager) Respond(ctx context.Context, pokeID, userID, action string) (*Response, error) {
	if !types.IsValidPokeAction(action) {
		return nil, fmt.Errorf("%w: action must be %q or %q",
			types.ErrValidation, types.PokeActionAccept, types.PokeActionDecline)
	}

	poke, err := m.db.GetPoke(ctx, pokeID)
	if err != nil {
		return nil, err
	}
	if poke.ToUserID != userID {
		return nil, ErrNotRecipient
	}
	if poke.Status != types.PokeStatusPending {
		return nil, ErrAlreadyResponded
	}

	now := m.now()

	// Lazy expiry: the sweep may not have run yet, but the deadline still
	// rules the row out.
	if poke.IsExpired(now) {
		if err := m.db.UpdatePokeStatus(ctx, pokeID, types.PokeStatusExpired, nil); err != nil {
			return nil, err
		}
		return nil, ErrPokeExpired
	}

	if action == types.PokeActionDecline {
		if err := m.db.UpdatePokeStatus(ctx, pokeID, types.PokeStatusDeclined, &now); err != nil {
			return nil, err
		}
		poke.Status = types.PokeStatusDeclined
		poke.RespondedAt = &now
		log.Printf("Poke %s declined by %s", pokeID, userID)
		return &Response{Poke: poke, Matched: false}, nil
	}

	mutual, err := m.db.FindOpenPoke(ctx, userID, poke.FromUserID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	if mutual != nil && !mutual.IsExpired(now) {
		channelID, err := m.db.MatchPokes(ctx, poke.ID, mutual.ID, poke.FromUserID, poke.ToUserID, now)
		if err != nil {
			return nil, err
		}
		poke.Status = types.PokeStatusMatched
		poke.RespondedAt = &now
		log.Printf("Mutual match: %s and %s (channel=%s)", poke.FromUserID, poke.ToUserID, channelID)
		if m.notifier != nil {
			m.notifier.NotifyMatch(poke.FromUserID, poke.ToUserID, channelID)
		}
		return &Response{Poke: poke, Matched: true, ChannelID: channelID}, nil
	}

	if err := m.db.UpdatePokeStatus(ctx, pokeID, types.PokeStatusAccepted, &now); err != nil {
		return nil, err
	}
	poke.Status = types.PokeStatusAccepted
	poke.RespondedAt = &now
	log.Printf("Poke %s accepted by %s, awaiting mutual interest", pokeID, userID)
	return &Response{Poke: poke, Matched: false}, nil
}

// Pending returns unexpired pokes awaiting the user's response, newest
// first.
func (m *Manager) Pending(ctx context.Context, userID string) ([]*types.Poke, error) {
	return m.db.ListPendingPokes(ctx, userID, m.now())
}

// Sent returns the user's own open, unexpired pokes, newest first.
func (m *Manager) Sent(ctx context.Context, userID string) ([]*types.Poke, error) {
	return m.db.ListSentPokes(ctx, userID, m.now())
}

// ExpireOld transitions every open poke past its deadline to expired and
// returns the count. Idempotent: an immediate re-run affects zero rows.
func (m *Manager) ExpireOld(ctx context.Context) (int, error) {
	affected, err := m.db.ExpirePokes(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		log.Printf("Expired %d stale pokes", affected)
	}
	return affected, nil
}
