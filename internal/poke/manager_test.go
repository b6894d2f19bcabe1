package poke

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"brewline/internal/database"
	dbconfig "brewline/pkg/database"
	"brewline/pkg/types"
)

func setupManager(t *testing.T) (*Manager, *database.Manager) {
	t.Helper()

	config := &dbconfig.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
	}
	db, err := database.NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create database manager: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewManager(db, DefaultConfig()), db
}

func addUser(t *testing.T, db *database.Manager, id string, pokingEnabled bool) {
	t.Helper()
	user := &types.User{
		ID:            id,
		DisplayName:   "User " + id,
		Tier:          types.TierStandard,
		PokingEnabled: pokingEnabled,
		CreatedAt:     time.Now(),
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", id, err)
	}
}

// insertPoke bypasses Send's duplicate check so tests can stage states
// (mutual pending pokes, stale rows) that only arise under races.
func insertPoke(t *testing.T, db *database.Manager, id, from, to string, expiresAt time.Time) {
	t.Helper()
	err := db.CreatePoke(context.Background(), &types.Poke{
		ID:             id,
		FromUserID:     from,
		ToUserID:       to,
		SharedInterest: "coffee",
		Status:         types.PokeStatusPending,
		CreatedAt:      time.Now(),
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("Failed to insert poke: %v", err)
	}
}

func TestManager_SendValidation(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "grumpy", false)

	tests := []struct {
		name     string
		from, to string
		interest string
		wantErr  error
	}{
		{"self poke", "alice", "alice", "coffee", ErrSelfPoke},
		{"bad user id", "alice", "no spaces", "coffee", types.ErrValidation},
		{"empty interest", "alice", "grumpy", "  ", types.ErrValidation},
		{"missing recipient", "alice", "nobody", "coffee", types.ErrNotFound},
		{"poking disabled", "alice", "grumpy", "coffee", ErrPokingDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Send(ctx, tt.from, tt.to, tt.interest)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Send = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_SendAndDuplicateGuard(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	poke, err := m.Send(ctx, "alice", "bob", "espresso")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if poke.Status != types.PokeStatusPending {
		t.Errorf("Status = %s, want pending", poke.Status)
	}
	if !poke.ExpiresAt.After(poke.CreatedAt) {
		t.Error("ExpiresAt not in the future")
	}

	// Same direction conflicts.
	if _, err := m.Send(ctx, "alice", "bob", "espresso"); !errors.Is(err, ErrDuplicatePoke) {
		t.Errorf("same-direction repeat = %v, want duplicate conflict", err)
	}
	// Reverse direction conflicts too.
	if _, err := m.Send(ctx, "bob", "alice", "espresso"); !errors.Is(err, ErrDuplicatePoke) {
		t.Errorf("reverse-direction repeat = %v, want duplicate conflict", err)
	}
}

func TestManager_DeclineRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	poke, err := m.Send(ctx, "alice", "bob", "cold brew")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	resp, err := m.Respond(ctx, poke.ID, "bob", types.PokeActionDecline)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Matched {
		t.Error("decline reported a match")
	}
	if resp.Poke.Status != types.PokeStatusDeclined || resp.Poke.RespondedAt == nil {
		t.Errorf("poke after decline = %+v", resp.Poke)
	}

	// No lingering conflict: a fresh poke between the pair succeeds.
	if _, err := m.Send(ctx, "alice", "bob", "cold brew"); err != nil {
		t.Errorf("re-send after decline failed: %v", err)
	}
}

func TestManager_RespondGuards(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)
	addUser(t, db, "mallory", true)

	poke, err := m.Send(ctx, "alice", "bob", "matcha")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if _, err := m.Respond(ctx, "missing", "bob", types.PokeActionAccept); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing poke = %v, want not found", err)
	}
	if _, err := m.Respond(ctx, poke.ID, "mallory", types.PokeActionAccept); !errors.Is(err, ErrNotRecipient) {
		t.Errorf("wrong recipient = %v, want not-the-recipient", err)
	}
	if _, err := m.Respond(ctx, poke.ID, "bob", "maybe"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bad action = %v, want validation", err)
	}

	if _, err := m.Respond(ctx, poke.ID, "bob", types.PokeActionDecline); err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if _, err := m.Respond(ctx, poke.ID, "bob", types.PokeActionAccept); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("respond after terminal status = %v, want already-responded", err)
	}
}

func TestManager_LazyExpiryOnRespond(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	// Stale pending row the sweep has not seen yet.
	insertPoke(t, db, "stale", "alice", "bob", time.Now().Add(-time.Hour))

	_, err := m.Respond(ctx, "stale", "bob", types.PokeActionAccept)
	if !errors.Is(err, ErrPokeExpired) {
		t.Fatalf("Respond on stale poke = %v, want expired", err)
	}

	// The row was transitioned, not just rejected.
	got, err := db.GetPoke(ctx, "stale")
	if err != nil {
		t.Fatalf("GetPoke failed: %v", err)
	}
	if got.Status != types.PokeStatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestManager_AcceptWithoutMutual(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	poke, err := m.Send(ctx, "alice", "bob", "pour over")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	resp, err := m.Respond(ctx, poke.ID, "bob", types.PokeActionAccept)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Matched {
		t.Error("accept without mutual poke reported a match")
	}
	if resp.Poke.Status != types.PokeStatusAccepted {
		t.Errorf("status = %s, want accepted", resp.Poke.Status)
	}
	if resp.ChannelID != "" {
		t.Errorf("channel created without a match: %s", resp.ChannelID)
	}
}

func TestManager_MutualMatch(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	// Both pokes pending, as happens when two sends race past the
	// duplicate guard.
	future := time.Now().Add(24 * time.Hour)
	insertPoke(t, db, "poke-ab", "alice", "bob", future)
	insertPoke(t, db, "poke-ba", "bob", "alice", future)

	// Alice accepts Bob's poke; the mutual pending poke from Alice to Bob
	// must be detected.
	resp, err := m.Respond(ctx, "poke-ba", "alice", types.PokeActionAccept)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !resp.Matched {
		t.Fatal("mutual pending pokes did not match")
	}
	if resp.ChannelID == "" {
		t.Fatal("match returned no channel id")
	}

	for _, id := range []string{"poke-ab", "poke-ba"} {
		got, _ := db.GetPoke(ctx, id)
		if got.Status != types.PokeStatusMatched {
			t.Errorf("poke %s status = %s, want matched", id, got.Status)
		}
	}

	// Racing a second accept cannot create a second channel.
	if _, err := m.Respond(ctx, "poke-ba", "alice", types.PokeActionAccept); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("second accept = %v, want already-responded", err)
	}
	ch, err := db.GetDMChannel(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetDMChannel failed: %v", err)
	}
	if ch.ID != resp.ChannelID {
		t.Errorf("channel id changed: %s vs %s", ch.ID, resp.ChannelID)
	}
}

func TestManager_SendWindowGuard(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		addUser(t, db, id, true)
	}

	for i, to := range []string{"u1", "u2", "u3", "u4", "u5"} {
		if _, err := m.Send(ctx, "alice", to, "coffee"); err != nil {
			t.Fatalf("poke %d failed: %v", i+1, err)
		}
	}

	// 6th poke inside the 24h window is rejected with a window reason.
	_, err := m.Send(ctx, "alice", "u6", "coffee")
	var rl *types.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("6th Send = %v, want rate limit error", err)
	}
	if rl.Resource != types.ResourcePoke || rl.RetryAfter <= 0 {
		t.Errorf("unexpected rate limit error: %+v", rl)
	}
}

func TestManager_PendingAndSentLists(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)
	addUser(t, db, "carol", true)

	if _, err := m.Send(ctx, "alice", "bob", "coffee"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := m.Send(ctx, "carol", "bob", "tea"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	pending, err := m.Pending(ctx, "bob")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending for bob = %d, want 2", len(pending))
	}

	sent, err := m.Sent(ctx, "carol")
	if err != nil {
		t.Fatalf("Sent failed: %v", err)
	}
	if len(sent) != 1 || sent[0].ToUserID != "bob" {
		t.Errorf("sent by carol = %+v", sent)
	}
}

func TestManager_ExpireOldIdempotent(t *testing.T) {
	ctx := context.Background()
	m, db := setupManager(t)
	addUser(t, db, "alice", true)
	addUser(t, db, "bob", true)

	insertPoke(t, db, "stale", "alice", "bob", time.Now().Add(-time.Minute))

	affected, err := m.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("first sweep = %d, want 1", affected)
	}

	affected, err = m.ExpireOld(ctx)
	if err != nil {
		t.Fatalf("second ExpireOld failed: %v", err)
	}
	if affected != 0 {
		t.Errorf("second sweep = %d, want 0", affected)
	}
}
