package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "brewline/pkg/database"
	"brewline/pkg/types"
)

// Manager implements the DatabaseManager interface over SQLite.
// All writes funnel through a single goroutine; WAL mode lets reads run
// concurrently against the pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and
// starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. SQLite
// allows one writer at a time; serializing here avoids lock contention.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateUser inserts a new café member.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, display_name, tier, poking_enabled, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, user.ID, user.DisplayName, user.Tier, user.PokingEnabled, user.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: user %s already exists", types.ErrConflict, user.ID)
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser retrieves a café member by ID.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, display_name, tier, poking_enabled, created_at
		FROM users WHERE id = ?
	`, userID)

	var user types.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Tier, &user.PokingEnabled, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// SetPokingEnabled flips a member's poke opt-in.
func (m *Manager) SetPokingEnabled(ctx context.Context, userID string, enabled bool) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE users SET poking_enabled = ? WHERE id = ?", enabled, userID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
		}
		return nil
	})
}

// CreatePoke inserts a new poke row.
func (m *Manager) CreatePoke(ctx context.Context, poke *types.Poke) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO pokes (id, from_user, to_user, shared_interest, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, poke.ID, poke.FromUserID, poke.ToUserID, poke.SharedInterest,
			poke.Status, poke.CreatedAt, poke.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert poke: %w", err)
		}
		return nil
	})
}

// GetPoke retrieves a poke by ID.
func (m *Manager) GetPoke(ctx context.Context, pokeID string) (*types.Poke, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, from_user, to_user, shared_interest, status, created_at, expires_at, responded_at
		FROM pokes WHERE id = ?
	`, pokeID)

	poke, err := scanPoke(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: poke %s", types.ErrNotFound, pokeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query poke: %w", err)
	}
	return poke, nil
}

// FindOpenPoke returns the open (pending or accepted) poke from one user to
// another, or a not-found error. Direction matters; callers check both.
func (m *Manager) FindOpenPoke(ctx context.Context, fromUserID, toUserID string) (*types.Poke, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, from_user, to_user, shared_interest, status, created_at, expires_at, responded_at
		FROM pokes
		WHERE from_user = ? AND to_user = ? AND status IN ('pending', 'accepted')
		ORDER BY created_at DESC
		LIMIT 1
	`, fromUserID, toUserID)

	poke, err := scanPoke(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no open poke from %s to %s", types.ErrNotFound, fromUserID, toUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open poke: %w", err)
	}
	return poke, nil
}

// UpdatePokeStatus moves one poke to a new status, stamping responded_at
// when provided.
func (m *Manager) UpdatePokeStatus(ctx context.Context, pokeID, status string, respondedAt *time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE pokes SET status = ?, responded_at = COALESCE(?, responded_at)
			WHERE id = ?
		`, status, respondedAt, pokeID)
		if err != nil {
			return fmt.Errorf("failed to update poke: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("%w: poke %s", types.ErrNotFound, pokeID)
		}
		return nil
	})
}

// MatchPokes finalizes a mutual match: both rows become matched and the DM
// channel for the pair is created or reused, all inside one transaction.
// Under concurrent accepts from both sides exactly one channel exists
// afterwards and neither row is left partially transitioned.
func (m *Manager) MatchPokes(ctx context.Context, pokeID1, pokeID2, userA, userB string, respondedAt time.Time) (string, error) {
	var channelID string
	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, id := range []string{pokeID1, pokeID2} {
			if _, err := tx.ExecContext(ctx, `
				UPDATE pokes SET status = ?, responded_at = ?
				WHERE id = ?
			`, types.PokeStatusMatched, respondedAt, id); err != nil {
				return fmt.Errorf("failed to mark poke %s matched: %w", id, err)
			}
		}

		user1, user2 := types.CanonicalPair(userA, userB)

		// Upsert: a concurrent accept or an older match may already have
		// created the channel; reuse it instead of erroring.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dm_channels (id, user1, user2, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user1, user2) DO NOTHING
		`, newChannelID(), user1, user2, respondedAt); err != nil {
			return fmt.Errorf("failed to upsert dm channel: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			"SELECT id FROM dm_channels WHERE user1 = ? AND user2 = ?", user1, user2)
		if err := row.Scan(&channelID); err != nil {
			return fmt.Errorf("failed to read dm channel: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit match: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return channelID, nil
}

// GetDMChannel returns the channel for an unordered user pair, if any.
func (m *Manager) GetDMChannel(ctx context.Context, userA, userB string) (*types.DMChannel, error) {
	user1, user2 := types.CanonicalPair(userA, userB)
	row := m.db.QueryRowContext(ctx, `
		SELECT id, user1, user2, created_at FROM dm_channels
		WHERE user1 = ? AND user2 = ?
	`, user1, user2)

	var ch types.DMChannel
	err := row.Scan(&ch.ID, &ch.User1ID, &ch.User2ID, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no dm channel for %s and %s", types.ErrNotFound, userA, userB)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dm channel: %w", err)
	}
	return &ch, nil
}

// ListPendingPokes returns unexpired pending pokes addressed to a user,
// newest first.
func (m *Manager) ListPendingPokes(ctx context.Context, userID string, now time.Time) ([]*types.Poke, error) {
	return m.queryPokes(ctx, `
		SELECT id, from_user, to_user, shared_interest, status, created_at, expires_at, responded_at
		FROM pokes
		WHERE to_user = ? AND status = 'pending' AND expires_at > ?
		ORDER BY created_at DESC
	`, userID, now)
}

// ListSentPokes returns unexpired open pokes sent by a user, newest first.
func (m *Manager) ListSentPokes(ctx context.Context, userID string, now time.Time) ([]*types.Poke, error) {
	return m.queryPokes(ctx, `
		SELECT id, from_user, to_user, shared_interest, status, created_at, expires_at, responded_at
		FROM pokes
		WHERE from_user = ? AND status IN ('pending', 'accepted') AND expires_at > ?
		ORDER BY created_at DESC
	`, userID, now)
}

// CountRecentPokes counts pokes a user sent within the trailing window,
// regardless of their current status.
func (m *Manager) CountRecentPokes(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pokes WHERE from_user = ? AND created_at > ?",
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent pokes: %w", err)
	}
	return count, nil
}

// ExpirePokes bulk-transitions open pokes past their deadline to expired
// and returns the number of rows affected. Safe to re-run: a second sweep
// finds nothing.
func (m *Manager) ExpirePokes(ctx context.Context, now time.Time) (int, error) {
	var affected int64
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE pokes SET status = 'expired'
			WHERE status IN ('pending', 'accepted') AND expires_at < ?
		`, now)
		if err != nil {
			return fmt.Errorf("failed to expire pokes: %w", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return int(affected), err
}

// StoreMessage persists a café room message.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, cafe_id, from_user, content, flagged, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, message.ID, message.CafeID, message.FromUser, message.Content,
			message.Flagged, message.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// RecentMessages returns the latest messages for a café room in
// chronological order.
func (m *Manager) RecentMessages(ctx context.Context, cafeID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, cafe_id, from_user, content, flagged, timestamp FROM (
			SELECT id, cafe_id, from_user, content, flagged, timestamp
			FROM messages WHERE cafe_id = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC
	`, cafeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.CafeID, &msg.FromUser, &msg.Content,
			&msg.Flagged, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM users LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection, used by admin tooling and tests.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer goroutine and the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (m *Manager) queryPokes(ctx context.Context, query string, args ...interface{}) ([]*types.Poke, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pokes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pokes []*types.Poke
	for rows.Next() {
		poke, err := scanPoke(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poke row: %w", err)
		}
		pokes = append(pokes, poke)
	}
	return pokes, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func newChannelID() string {
	return uuid.New().String()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPoke(row rowScanner) (*types.Poke, error) {
	var poke types.Poke
	var respondedAt sql.NullTime
	err := row.Scan(&poke.ID, &poke.FromUserID, &poke.ToUserID, &poke.SharedInterest,
		&poke.Status, &poke.CreatedAt, &poke.ExpiresAt, &respondedAt)
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		poke.RespondedAt = &respondedAt.Time
	}
	return &poke, nil
}
