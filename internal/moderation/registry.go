// Package moderation tracks temporary mutes. Records live in the key-value
// store under per-user keys with a TTL, so mutes lift themselves on expiry
// and no cleanup job is needed.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"brewline/internal/kv"
	"brewline/pkg/types"
)

const muteKeyPrefix = "mute:"

// Registry is the single source of truth for "is this user muted".
type Registry struct {
	store    kv.Store
	duration time.Duration
}

// NewRegistry creates a mute registry. duration is how long a mute lasts;
// muting an already-muted user overwrites the record and restarts the TTL
// rather than stacking durations.
func NewRegistry(store kv.Store, duration time.Duration) *Registry {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &Registry{store: store, duration: duration}
}

// Duration returns the configured mute length.
func (r *Registry) Duration() time.Duration {
	return r.duration
}

// Mute records a mute for userID. Idempotent: repeated calls overwrite.
func (r *Registry) Mute(ctx context.Context, userID, reason string, violations []types.SpamViolation) error {
	record := types.MuteRecord{
		UserID:     userID,
		MutedUntil: time.Now().Add(r.duration),
		Reason:     reason,
		Violations: violations,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal mute record: %w", err)
	}

	if err := r.store.Set(ctx, muteKeyPrefix+userID, string(data), r.duration); err != nil {
		return fmt.Errorf("failed to store mute record: %w", err)
	}

	log.Printf("Muted user %s until %s: %s (%d violations)",
		userID, record.MutedUntil.Format(time.RFC3339), reason, len(violations))
	return nil
}

// IsMuted reports whether userID has an active mute. Store failures are
// treated as "not muted" so an infrastructure hiccup cannot silence the
// whole room; the failure is logged.
func (r *Registry) IsMuted(ctx context.Context, userID string) bool {
	_, err := r.store.Get(ctx, muteKeyPrefix+userID)
	if err == nil {
		return true
	}
	if !errors.Is(err, kv.ErrNoKey) {
		log.Printf("WARNING: mute lookup failed for %s, treating as unmuted: %v", userID, err)
	}
	return false
}

// Info returns the active mute record for userID, or nil without error
// when the user is not muted.
func (r *Registry) Info(ctx context.Context, userID string) (*types.MuteRecord, error) {
	data, err := r.store.Get(ctx, muteKeyPrefix+userID)
	if errors.Is(err, kv.ErrNoKey) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mute record: %w", err)
	}

	var record types.MuteRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mute record: %w", err)
	}
	return &record, nil
}

// Unmute lifts a mute early. Unmuting a user who is not muted is a no-op.
func (r *Registry) Unmute(ctx context.Context, userID string) error {
	if err := r.store.Del(ctx, muteKeyPrefix+userID); err != nil {
		return fmt.Errorf("failed to remove mute record: %w", err)
	}
	log.Printf("Unmuted user %s", userID)
	return nil
}
