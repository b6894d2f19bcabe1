// Package chat runs room messages and barista questions through the
// moderation pipeline: rate limit check, spam classification, persistence,
// token consumption, then broadcast.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brewline/internal/ratelimit"
	"brewline/internal/spam"
	"brewline/pkg/interfaces"
	"brewline/pkg/types"
)

// Broadcaster delivers an accepted message to connected clients. The
// websocket hub implements this; a nil broadcaster is valid and skips
// delivery (useful for tests and offline tools).
type Broadcaster interface {
	BroadcastMessage(msg *types.Message)
}

// Responder produces the barista agent's answer to a prompt.
type Responder interface {
	Respond(ctx context.Context, userID, prompt string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, userID, prompt string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, userID, prompt string) (string, error) {
	return f(ctx, userID, prompt)
}

// Service coordinates the message pipeline. All dependencies are required
// except broadcaster and responder.
type Service struct {
	db          interfaces.DatabaseManager
	limiter     *ratelimit.Limiter
	classifier  *spam.Classifier
	broadcaster Broadcaster
	responder   Responder
	now         func() time.Time
}

func NewService(db interfaces.DatabaseManager, limiter *ratelimit.Limiter, classifier *spam.Classifier) *Service {
	return &Service{
		db:         db,
		limiter:    limiter,
		classifier: classifier,
		now:        time.Now,
	}
}

// SetBroadcaster wires the delivery fan-out. Called once during startup,
// before the service receives traffic.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetResponder wires the barista agent backend.
func (s *Service) SetResponder(r Responder) { s.responder = r }

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SendMessage runs one room message through the full pipeline. The rate
// limit token is only consumed after the message is accepted and stored, so
// blocked spam does not burn quota.
func (s *Service) SendMessage(ctx context.Context, userID, cafeID, content string) (*types.Message, error) {
	if !types.IsValidUserID(userID) {
		return nil, fmt.Errorf("%w: invalid user id", types.ErrValidation)
	}
	if err := types.ValidateMessageContent(content); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision := s.limiter.Check(ctx, userID, types.ResourceMessage, user.Tier, "")
	if !decision.Allowed {
		return nil, &types.RateLimitError{
			Resource:   types.ResourceMessage,
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
		}
	}

	result := s.classifier.Check(ctx, spam.Message{
		Content:   content,
		UserID:    userID,
		Timestamp: s.now(),
		CafeID:    cafeID,
	})
	switch result.Action {
	case types.ActionBlock, types.ActionMute:
		return nil, &types.SpamRejectedError{
			Action:     result.Action,
			Violations: result.Violations,
		}
	}

	msg := &types.Message{
		ID:        uuid.New().String(),
		CafeID:    cafeID,
		FromUser:  userID,
		Content:   content,
		Flagged:   result.Action == types.ActionWarn,
		Timestamp: s.now(),
	}
	if err := s.db.StoreMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.limiter.ConsumeMessageToken(ctx, userID, user.Tier)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMessage(msg)
	}
	return msg, nil
}

// AskAgent sends a prompt to the barista agent on behalf of a user. Agent
// calls are capped per session and serialized behind a global cooldown, so
// the token is consumed before the possibly slow backend call.
func (s *Service) AskAgent(ctx context.Context, userID, sessionID, prompt string) (string, error) {
	if !types.IsValidUserID(userID) {
		return "", fmt.Errorf("%w: invalid user id", types.ErrValidation)
	}
	if err := types.ValidateMessageContent(prompt); err != nil {
		return "", err
	}
	if s.responder == nil {
		return "", fmt.Errorf("%w: no agent backend configured", types.ErrInternal)
	}

	if _, err := s.db.GetUser(ctx, userID); err != nil {
		return "", err
	}

	decision := s.limiter.Check(ctx, userID, types.ResourceAgent, "", sessionID)
	if !decision.Allowed {
		return "", &types.RateLimitError{
			Resource:   types.ResourceAgent,
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
		}
	}
	// The shared cooldown is armed up front to pace concurrent prompts,
	// but the session token is only spent on a reply that actually landed.
	s.limiter.ArmAgentCooldown(ctx)

	reply, err := s.responder.Respond(ctx, userID, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: agent call failed: %v", types.ErrInternal, err)
	}
	s.limiter.ConsumeAgentToken(ctx, userID, sessionID)
	return reply, nil
}

// History returns the most recent messages in a café room, oldest first.
func (s *Service) History(ctx context.Context, cafeID string, limit int) ([]*types.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.db.RecentMessages(ctx, cafeID, limit)
}
