package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	dbconfig "brewline/pkg/database"
	"brewline/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := &dbconfig.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
	}

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func createTestUser(t *testing.T, m *Manager, id string) *types.User {
	t.Helper()
	user := &types.User{
		ID:            id,
		DisplayName:   "User " + id,
		Tier:          types.TierStandard,
		PokingEnabled: true,
		CreatedAt:     time.Now(),
	}
	if err := m.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("Failed to create user %s: %v", id, err)
	}
	return user
}

func createTestPoke(t *testing.T, m *Manager, from, to string, expiresAt time.Time) *types.Poke {
	t.Helper()
	poke := &types.Poke{
		ID:             "poke-" + from + "-" + to,
		FromUserID:     from,
		ToUserID:       to,
		SharedInterest: "espresso",
		Status:         types.PokeStatusPending,
		CreatedAt:      time.Now(),
		ExpiresAt:      expiresAt,
	}
	if err := m.CreatePoke(context.Background(), poke); err != nil {
		t.Fatalf("Failed to create poke: %v", err)
	}
	return poke
}

func TestManager_UserLifecycle(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)

	created := createTestUser(t, m, "alice")

	got, err := m.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.ID != created.ID || got.Tier != types.TierStandard || !got.PokingEnabled {
		t.Errorf("GetUser = %+v", got)
	}

	// Duplicate insert is a conflict.
	err = m.CreateUser(ctx, created)
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("duplicate CreateUser: got %v, want conflict", err)
	}

	// Missing user is a not-found.
	if _, err := m.GetUser(ctx, "nobody"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetUser on missing user: got %v, want not found", err)
	}

	if err := m.SetPokingEnabled(ctx, "alice", false); err != nil {
		t.Fatalf("SetPokingEnabled failed: %v", err)
	}
	got, _ = m.GetUser(ctx, "alice")
	if got.PokingEnabled {
		t.Error("poking still enabled after opt-out")
	}

	if err := m.SetPokingEnabled(ctx, "nobody", true); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("SetPokingEnabled on missing user: got %v, want not found", err)
	}
}

func TestManager_PokeCRUD(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)
	createTestUser(t, m, "alice")
	createTestUser(t, m, "bob")

	expires := time.Now().Add(24 * time.Hour)
	poke := createTestPoke(t, m, "alice", "bob", expires)

	got, err := m.GetPoke(ctx, poke.ID)
	if err != nil {
		t.Fatalf("GetPoke failed: %v", err)
	}
	if got.Status != types.PokeStatusPending || got.RespondedAt != nil {
		t.Errorf("GetPoke = %+v", got)
	}

	if _, err := m.GetPoke(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetPoke on missing row: got %v, want not found", err)
	}

	// Directional open-poke lookup.
	if _, err := m.FindOpenPoke(ctx, "alice", "bob"); err != nil {
		t.Errorf("FindOpenPoke alice->bob failed: %v", err)
	}
	if _, err := m.FindOpenPoke(ctx, "bob", "alice"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("FindOpenPoke bob->alice: got %v, want not found", err)
	}

	now := time.Now()
	if err := m.UpdatePokeStatus(ctx, poke.ID, types.PokeStatusDeclined, &now); err != nil {
		t.Fatalf("UpdatePokeStatus failed: %v", err)
	}
	got, _ = m.GetPoke(ctx, poke.ID)
	if got.Status != types.PokeStatusDeclined || got.RespondedAt == nil {
		t.Errorf("after decline: %+v", got)
	}

	// Declined pokes no longer count as open.
	if _, err := m.FindOpenPoke(ctx, "alice", "bob"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("declined poke still open: %v", err)
	}
}

func TestManager_MatchPokesCreatesSingleChannel(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)
	createTestUser(t, m, "alice")
	createTestUser(t, m, "bob")

	expires := time.Now().Add(24 * time.Hour)
	pokeAB := createTestPoke(t, m, "alice", "bob", expires)
	pokeBA := createTestPoke(t, m, "bob", "alice", expires)

	now := time.Now()
	channelID, err := m.MatchPokes(ctx, pokeAB.ID, pokeBA.ID, "bob", "alice", now)
	if err != nil {
		t.Fatalf("MatchPokes failed: %v", err)
	}
	if channelID == "" {
		t.Fatal("MatchPokes returned empty channel id")
	}

	for _, id := range []string{pokeAB.ID, pokeBA.ID} {
		poke, _ := m.GetPoke(ctx, id)
		if poke.Status != types.PokeStatusMatched {
			t.Errorf("poke %s status = %s, want matched", id, poke.Status)
		}
		if poke.RespondedAt == nil {
			t.Errorf("poke %s missing responded_at", id)
		}
	}

	// A second match over the same pair reuses the channel.
	again, err := m.MatchPokes(ctx, pokeAB.ID, pokeBA.ID, "alice", "bob", now)
	if err != nil {
		t.Fatalf("repeat MatchPokes failed: %v", err)
	}
	if again != channelID {
		t.Errorf("repeat match created channel %s, want reuse of %s", again, channelID)
	}

	ch, err := m.GetDMChannel(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("GetDMChannel failed: %v", err)
	}
	if ch.User1ID >= ch.User2ID {
		t.Errorf("channel pair not canonical: %+v", ch)
	}
}

func TestManager_ListAndCountPokes(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)
	createTestUser(t, m, "alice")
	createTestUser(t, m, "bob")
	createTestUser(t, m, "carol")

	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	createTestPoke(t, m, "alice", "bob", future)
	createTestPoke(t, m, "carol", "bob", future)
	stale := createTestPoke(t, m, "bob", "alice", past) // already past deadline

	pending, err := m.ListPendingPokes(ctx, "bob", now)
	if err != nil {
		t.Fatalf("ListPendingPokes failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending for bob = %d, want 2", len(pending))
	}

	// Expired-by-deadline pokes are filtered from lists even before the
	// sweep updates their status.
	pendingAlice, _ := m.ListPendingPokes(ctx, "alice", now)
	if len(pendingAlice) != 0 {
		t.Errorf("pending for alice = %d, want 0 (poke %s past deadline)", len(pendingAlice), stale.ID)
	}

	sent, err := m.ListSentPokes(ctx, "alice", now)
	if err != nil {
		t.Fatalf("ListSentPokes failed: %v", err)
	}
	if len(sent) != 1 {
		t.Errorf("sent by alice = %d, want 1", len(sent))
	}

	count, err := m.CountRecentPokes(ctx, "alice", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountRecentPokes failed: %v", err)
	}
	if count != 1 {
		t.Errorf("recent pokes by alice = %d, want 1", count)
	}
}

func TestManager_ExpirePokesIdempotent(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)
	createTestUser(t, m, "alice")
	createTestUser(t, m, "bob")

	now := time.Now()
	createTestPoke(t, m, "alice", "bob", now.Add(-time.Hour))
	createTestPoke(t, m, "bob", "alice", now.Add(time.Hour))

	affected, err := m.ExpirePokes(ctx, now)
	if err != nil {
		t.Fatalf("ExpirePokes failed: %v", err)
	}
	if affected != 1 {
		t.Errorf("first sweep expired %d, want 1", affected)
	}

	// Re-running immediately finds nothing new.
	affected, err = m.ExpirePokes(ctx, now)
	if err != nil {
		t.Fatalf("second ExpirePokes failed: %v", err)
	}
	if affected != 0 {
		t.Errorf("second sweep expired %d, want 0", affected)
	}
}

func TestManager_Messages(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)
	createTestUser(t, m, "alice")

	base := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		msg := &types.Message{
			ID:        content,
			CafeID:    "cafe-1",
			FromUser:  "alice",
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := m.StoreMessage(ctx, msg); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}

	messages, err := m.RecentMessages(ctx, "cafe-1", 2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("RecentMessages = %d rows, want 2", len(messages))
	}
	// Chronological order of the latest two.
	if messages[0].Content != "second" || messages[1].Content != "third" {
		t.Errorf("unexpected order: %s, %s", messages[0].Content, messages[1].Content)
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t)

	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is a no-op.
	if err := m.Close(); err != nil {
		t.Errorf("second Close errored: %v", err)
	}
}
