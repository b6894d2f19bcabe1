package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"brewline/internal/chat"
	"brewline/pkg/interfaces"
	"brewline/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development. Production deployments should
		// restrict this.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Per-connection flood guard, independent of the business rate limits: a
// client pushing frames faster than this gets disconnected before its
// messages reach the pipeline.
const (
	floodRate  = rate.Limit(10)
	floodBurst = 20
)

// ClientMessage is one inbound frame. Type selects the handling path.
type ClientMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// Handler upgrades HTTP requests and runs the per-connection read pump.
type Handler struct {
	registry    *Registry
	chatService *chat.Service
	dbManager   interfaces.DatabaseManager
}

func NewHandler(registry *Registry, chatService *chat.Service, dbManager interfaces.DatabaseManager) *Handler {
	return &Handler{
		registry:    registry,
		chatService: chatService,
		dbManager:   dbManager,
	}
}

// HandleWebSocket validates the request, upgrades it and starts the
// connection lifecycle. Validation happens before the upgrade so rejected
// clients get proper HTTP status codes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	cafeID := r.URL.Query().Get("cafe_id")

	if userID == "" || cafeID == "" {
		http.Error(w, "Missing required query parameters: user_id, cafe_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	if _, err := h.dbManager.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, "Unknown user", http.StatusNotFound)
		} else {
			http.Error(w, "User lookup failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	wsConn.SetCredentials(userID, cafeID)

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	go h.sendRoomHistory(wsConn)
	go h.handleConnection(wsConn)
}

// sendRoomHistory replays recent café messages to a new connection, then
// signals completion so the client can leave its loading state.
func (h *Handler) sendRoomHistory(conn *Connection) {
	messages, err := h.chatService.History(conn.ctx, conn.GetCafeID(), 50)
	if err != nil {
		log.Printf("Failed to load room history: %v", err)
		h.sendSystem(conn, "history_unavailable", "Unable to load message history")
		return
	}

	for _, message := range messages {
		payload := map[string]interface{}{
			"type":    "message",
			"message": message,
		}
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("Failed to send history message: %v", err)
			return
		}
	}

	h.sendSystem(conn, "history_complete", "Message history loaded")
}

// handleConnection runs heartbeat monitoring and the read pump for one
// connection.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	flood := rate.NewLimiter(floodRate, floodBurst)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !flood.Allow() {
			log.Printf("WARNING: disconnecting %s for flooding", conn.GetUserID())
			h.sendSystem(conn, "disconnected", "Too many frames, slow down")
			break
		}

		h.handleClientMessage(conn, data)
	}
}

// handleClientMessage dispatches one inbound frame through the chat
// service. Pipeline rejections go back to the sender only.
func (h *Handler) handleClientMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "invalid JSON")
		return
	}

	switch msg.Type {
	case "message":
		// Delivery happens through the registry broadcast, including back
		// to the sender.
		_, err := h.chatService.SendMessage(conn.ctx, conn.GetUserID(), conn.GetCafeID(), msg.Content)
		if err != nil {
			h.sendError(conn, rejectionText(err))
		}

	case "agent":
		reply, err := h.chatService.AskAgent(conn.ctx, conn.GetUserID(), msg.SessionID, msg.Prompt)
		if err != nil {
			h.sendError(conn, rejectionText(err))
			return
		}
		payload := map[string]interface{}{
			"type":      "agent",
			"reply":     reply,
			"timestamp": time.Now(),
		}
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("Failed to send agent reply: %v", err)
		}

	default:
		h.sendError(conn, "unknown message type")
	}
}

// rejectionText converts pipeline errors into client-facing text without
// leaking internals.
func rejectionText(err error) string {
	var rl *types.RateLimitError
	if errors.As(err, &rl) {
		return rl.Reason
	}
	var rejected *types.SpamRejectedError
	if errors.As(err, &rejected) {
		return "message rejected by moderation"
	}
	if errors.Is(err, types.ErrValidation) {
		return "invalid message"
	}
	return "something went wrong"
}

func (h *Handler) sendSystem(conn *Connection, event, message string) {
	payload := map[string]interface{}{
		"type": "system",
		"content": map[string]interface{}{
			"event":   event,
			"message": message,
		},
		"timestamp": time.Now(),
	}
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("Failed to send system message: %v", err)
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	payload := map[string]interface{}{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now(),
	}
	if err := conn.WriteJSON(payload); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}
