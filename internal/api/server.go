package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brewline/internal/chat"
	"brewline/internal/moderation"
	"brewline/internal/poke"
	"brewline/internal/ratelimit"
	"brewline/pkg/interfaces"
	"brewline/pkg/types"
)

// Registry interface to avoid tight coupling to the websocket registry
// implementation.
type Registry interface {
	GetStats() map[string]int
}

// Server is the HTTP interface. No business logic here, only request
// decoding, dispatch and JSON serialization; handlers map error categories
// to status codes with errors.Is.
type Server struct {
	chatService *chat.Service
	pokeManager *poke.Manager
	limiter     *ratelimit.Limiter
	mutes       *moderation.Registry
	dbManager   interfaces.DatabaseManager
	registry    Registry
	router      *http.ServeMux
}

func NewServer(chatService *chat.Service, pokeManager *poke.Manager, limiter *ratelimit.Limiter, mutes *moderation.Registry, dbManager interfaces.DatabaseManager, registry Registry) *Server {
	s := &Server{
		chatService: chatService,
		pokeManager: pokeManager,
		limiter:     limiter,
		mutes:       mutes,
		dbManager:   dbManager,
		registry:    registry,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/users", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUsers))))
	s.router.Handle("/api/users/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUserByID))))
	s.router.Handle("/api/messages", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessages))))
	s.router.Handle("/api/agent", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleAgent))))
	s.router.Handle("/api/pokes", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePokes))))
	s.router.Handle("/api/pokes/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePokeByID))))
	s.router.Handle("/api/ratelimit/status", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.rateLimitStatus))))
	s.router.Handle("/api/admin/ratelimit/reset", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.resetRateLimit))))
	s.router.Handle("/api/admin/mutes/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMuteByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler for integration with the standard HTTP
// server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateUserRequest struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Tier          string `json:"tier"`
	PokingEnabled bool   `json:"poking_enabled"`
}

type SetPokingRequest struct {
	Enabled bool `json:"enabled"`
}

type SendMessageRequest struct {
	UserID  string `json:"user_id"`
	CafeID  string `json:"cafe_id"`
	Content string `json:"content"`
}

type AgentRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type AgentResponse struct {
	Reply string `json:"reply"`
}

type SendPokeRequest struct {
	FromUserID     string `json:"from_user_id"`
	ToUserID       string `json:"to_user_id"`
	SharedInterest string `json:"shared_interest"`
}

type RespondPokeRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
}

type PokeListResponse struct {
	Pokes []*types.Poke `json:"pokes"`
}

type MessageListResponse struct {
	Messages []*types.Message `json:"messages"`
}

type MuteRequest struct {
	Reason string `json:"reason"`
}

type ResetRateLimitRequest struct {
	UserID    string `json:"user_id"`
	Resource  string `json:"resource"`
	SessionID string `json:"session_id,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error      string                `json:"error"`
	Code       int                   `json:"code"`
	Message    string                `json:"message"`
	Violations []types.SpamViolation `json:"violations,omitempty"`
	RetryAfter int                   `json:"retry_after,omitempty"`
}

// POST /api/users - register a café member
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Tier == "" {
		req.Tier = types.TierStandard
	}

	user := &types.User{
		ID:            req.ID,
		DisplayName:   req.DisplayName,
		Tier:          req.Tier,
		PokingEnabled: req.PokingEnabled,
		CreatedAt:     time.Now(),
	}
	if err := user.Validate(); err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.dbManager.CreateUser(r.Context(), user); err != nil {
		s.sendDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GET /api/users/{id} and PUT /api/users/{id}/poking
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		s.sendError(w, "User ID required", http.StatusBadRequest)
		return
	}
	userID := parts[0]

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		user, err := s.dbManager.GetUser(r.Context(), userID)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		json.NewEncoder(w).Encode(user)

	case r.Method == http.MethodPut && len(parts) == 2 && parts[1] == "poking":
		var req SetPokingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if err := s.dbManager.SetPokingEnabled(r.Context(), userID, req.Enabled); err != nil {
			s.sendDomainError(w, err)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"poking_enabled": req.Enabled})

	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/messages and GET /api/messages?cafe_id=X&limit=N
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		msg, err := s.chatService.SendMessage(r.Context(), req.UserID, req.CafeID, req.Content)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(msg)

	case http.MethodGet:
		cafeID := r.URL.Query().Get("cafe_id")
		if cafeID == "" {
			s.sendError(w, "cafe_id is required", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		messages, err := s.chatService.History(r.Context(), cafeID, limit)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		json.NewEncoder(w).Encode(MessageListResponse{Messages: messages})

	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/agent - ask the barista agent
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		s.sendError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	reply, err := s.chatService.AskAgent(r.Context(), req.UserID, req.SessionID, req.Prompt)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(AgentResponse{Reply: reply})
}

// POST /api/pokes - send a poke
func (s *Server) handlePokes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SendPokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	p, err := s.pokeManager.Send(r.Context(), req.FromUserID, req.ToUserID, req.SharedInterest)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// Routes under /api/pokes/: pending and sent lists plus per-poke respond.
func (s *Server) handlePokeByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pokes/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		s.sendError(w, "Poke ID required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodGet && parts[0] == "pending":
		s.listPokes(w, r, s.pokeManager.Pending)

	case r.Method == http.MethodGet && parts[0] == "sent":
		s.listPokes(w, r, s.pokeManager.Sent)

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "respond":
		s.respondPoke(w, r, parts[0])

	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listPokes(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]*types.Poke, error)) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.sendError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	pokes, err := list(r.Context(), userID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(PokeListResponse{Pokes: pokes})
}

func (s *Server) respondPoke(w http.ResponseWriter, r *http.Request, pokeID string) {
	var req RespondPokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	resp, err := s.pokeManager.Respond(r.Context(), pokeID, req.UserID, req.Action)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

// GET /api/ratelimit/status?user_id=X&tier=Y&session_id=Z
func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.sendError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	tier := r.URL.Query().Get("tier")
	sessionID := r.URL.Query().Get("session_id")

	json.NewEncoder(w).Encode(s.limiter.Status(r.Context(), userID, tier, sessionID))
}

// POST /api/admin/ratelimit/reset - clear one user's counters for a resource
func (s *Server) resetRateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ResetRateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.limiter.Reset(r.Context(), req.UserID, req.Resource, req.SessionID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "rate limit reset"})
}

// GET/POST/DELETE /api/admin/mutes/{userID} - inspect, impose or lift a mute
func (s *Server) handleMuteByID(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/api/admin/mutes/")
	if userID == "" || strings.Contains(userID, "/") {
		s.sendError(w, "User ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, err := s.mutes.Info(r.Context(), userID)
		if err != nil {
			s.sendError(w, "Failed to read mute record", http.StatusInternalServerError)
			return
		}
		if record == nil {
			s.sendError(w, "User is not muted", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(record)

	case http.MethodPost:
		var req MuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.Reason == "" {
			req.Reason = "manual moderation action"
		}
		if err := s.mutes.Mute(r.Context(), userID, req.Reason, nil); err != nil {
			s.sendError(w, "Failed to mute user", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message": "user muted"})

	case http.MethodDelete:
		if err := s.mutes.Unmute(r.Context(), userID); err != nil {
			s.sendError(w, "Failed to unmute user", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "user unmuted"})

	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /health - component health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	var connectionStats map[string]int
	if s.registry != nil {
		connectionStats = s.registry.GetStats()
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connectionStats,
	})
}

// sendDomainError maps error categories to HTTP status codes. Rate limit
// and spam rejections carry extra fields that clients act on, so they get
// their own branches before the generic categories.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	var rl *types.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:      http.StatusText(http.StatusTooManyRequests),
			Code:       http.StatusTooManyRequests,
			Message:    rl.Reason,
			RetryAfter: rl.RetryAfter,
		})
		return
	}

	var rejected *types.SpamRejectedError
	if errors.As(err, &rejected) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:      http.StatusText(http.StatusUnprocessableEntity),
			Code:       http.StatusUnprocessableEntity,
			Message:    err.Error(),
			Violations: rejected.Violations,
		})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, types.ErrExpired):
		code = http.StatusGone
	}

	message := err.Error()
	if code == http.StatusInternalServerError {
		message = "Internal error"
	}
	s.sendError(w, message, code)
}

// sendError writes the consistent error response format.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows all origins in development.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
