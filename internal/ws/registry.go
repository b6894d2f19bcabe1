package ws

import (
	"log"
	"sync"
	"time"

	"brewline/pkg/types"
)

// Registry tracks live connections per café room and per user. Connection
// tracking only; message semantics live in the chat and poke packages.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*Connection            // userID -> Connection
	rooms map[string]map[string]*Connection // cafeID -> userID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*Connection),
		rooms: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to the user and room maps. A second
// connection for the same user replaces the first; the old one is closed
// asynchronously to avoid holding the lock across Close.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	cafeID := conn.GetCafeID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[userID]; ok {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
	}

	r.users[userID] = conn
	if r.rooms[cafeID] == nil {
		r.rooms[cafeID] = make(map[string]*Connection)
	}
	r.rooms[cafeID][userID] = conn

	return nil
}

// UnregisterConnection removes a connection. Idempotent, and only removes
// the exact instance currently registered so a stale connection's cleanup
// cannot evict its replacement.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.users[userID]
	if !ok || registered != conn {
		return
	}

	delete(r.users, userID)

	cafeID := conn.GetCafeID()
	if room, ok := r.rooms[cafeID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(r.rooms, cafeID)
		}
	}
}

func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[userID]
	return conn, ok
}

// GetRoomConnections returns every connection in a café room.
func (r *Registry) GetRoomConnections(cafeID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.rooms[cafeID] {
		connections = append(connections, conn)
	}
	return connections
}

// BroadcastMessage fans an accepted room message out to everyone in the
// café. Implements the chat service's broadcaster.
func (r *Registry) BroadcastMessage(msg *types.Message) {
	connections := r.GetRoomConnections(msg.CafeID)

	payload := map[string]interface{}{
		"type":    "message",
		"message": msg,
	}
	for _, conn := range connections {
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("Failed to deliver message to %s: %v", conn.GetUserID(), err)
		}
	}
}

// NotifyMatch tells both users that a mutual poke created a DM channel.
// Offline users simply miss the push; the channel is still discoverable
// through the API.
func (r *Registry) NotifyMatch(user1ID, user2ID, channelID string) {
	payload := map[string]interface{}{
		"type": "system",
		"content": map[string]interface{}{
			"event":      "poke_matched",
			"channel_id": channelID,
		},
		"timestamp": time.Now(),
	}

	for _, userID := range []string{user1ID, user2ID} {
		if conn, ok := r.GetUserConnection(userID); ok {
			if err := conn.WriteJSON(payload); err != nil {
				log.Printf("Failed to notify %s of match: %v", userID, err)
			}
		}
	}
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.users),
		"active_rooms":      len(r.rooms),
	}
}
