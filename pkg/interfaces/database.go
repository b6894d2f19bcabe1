package interfaces

import (
	"context"
	"time"

	"brewline/pkg/types"
)

// DatabaseManager is the persistence contract consumed by the poke state
// machine and the chat pipeline. A single interface keeps transaction
// handling and connection management behind one implementation.
type DatabaseManager interface {
	// User operations.
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)
	SetPokingEnabled(ctx context.Context, userID string, enabled bool) error

	// Poke operations. FindOpenPoke is directional; callers that need the
	// pair in either direction ask twice.
	CreatePoke(ctx context.Context, poke *types.Poke) error
	GetPoke(ctx context.Context, pokeID string) (*types.Poke, error)
	FindOpenPoke(ctx context.Context, fromUserID, toUserID string) (*types.Poke, error)
	UpdatePokeStatus(ctx context.Context, pokeID, status string, respondedAt *time.Time) error

	// MatchPokes atomically marks both rows matched and creates or reuses
	// the DM channel for the pair, returning the channel id.
	MatchPokes(ctx context.Context, pokeID1, pokeID2, userA, userB string, respondedAt time.Time) (string, error)
	GetDMChannel(ctx context.Context, userA, userB string) (*types.DMChannel, error)

	ListPendingPokes(ctx context.Context, userID string, now time.Time) ([]*types.Poke, error)
	ListSentPokes(ctx context.Context, userID string, now time.Time) ([]*types.Poke, error)
	CountRecentPokes(ctx context.Context, userID string, since time.Time) (int, error)
	ExpirePokes(ctx context.Context, now time.Time) (int, error)

	// Message operations.
	StoreMessage(ctx context.Context, message *types.Message) error
	RecentMessages(ctx context.Context, cafeID string, limit int) ([]*types.Message, error)

	// Health and lifecycle.
	HealthCheck(ctx context.Context) error
	Close() error
}
