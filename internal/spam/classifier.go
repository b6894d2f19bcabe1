// Package spam classifies café room messages with cheap heuristics and
// recommends a moderation action. Classification is advisory: the chat
// pipeline decides what to do with the recommendation, and store failures
// fail open so moderation never takes the room down.
package spam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"brewline/internal/kv"
	"brewline/internal/moderation"
	"brewline/pkg/types"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

const duplicateKeyPrefix = "spam:last:"

// Config holds the heuristic thresholds.
type Config struct {
	// DuplicateTTL is how long a user's last message content is remembered
	// for the duplicate check.
	DuplicateTTL time.Duration

	// CapsPercent is the uppercase ratio (0-100) above which a message
	// counts as shouting. Messages with fewer than three letters are
	// exempt no matter the ratio.
	CapsPercent int

	// MaxURLs links allowed per message before it counts as URL spam.
	MaxURLs int

	// RepeatedRunLength is the run of identical characters that counts as
	// a violation. 7 deliberately lets short emphasis like "!!!" through.
	RepeatedRunLength int

	// Profanity seeds the mutable word list.
	Profanity []string
}

func DefaultConfig() *Config {
	return &Config{
		DuplicateTTL:      300 * time.Second,
		CapsPercent:       50,
		MaxURLs:           2,
		RepeatedRunLength: 7,
		Profanity:         []string{},
	}
}

// Message is one classification request.
type Message struct {
	Content   string
	UserID    string
	Timestamp time.Time
	CafeID    string
}

// Result is a classification outcome. Warn lets the message through with a
// flag; block rejects this message only; mute also writes a mute record.
type Result struct {
	IsSpam     bool
	Violations []types.SpamViolation
	Action     string
	Message    string
}

// Classifier evaluates messages. Safe for concurrent use.
type Classifier struct {
	store kv.Store
	mutes *moderation.Registry
	cfg   *Config

	mu        sync.RWMutex
	profanity map[string]struct{}
}

func NewClassifier(store kv.Store, mutes *moderation.Registry, cfg *Config) *Classifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Classifier{
		store:     store,
		mutes:     mutes,
		cfg:       cfg,
		profanity: make(map[string]struct{}),
	}
	for _, word := range cfg.Profanity {
		c.profanity[strings.ToLower(word)] = struct{}{}
	}
	return c
}

// AddProfanity extends the word list at runtime.
func (c *Classifier) AddProfanity(words ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, word := range words {
		c.profanity[strings.ToLower(word)] = struct{}{}
	}
}

// RemoveProfanity drops words from the list.
func (c *Classifier) RemoveProfanity(words ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, word := range words {
		delete(c.profanity, strings.ToLower(word))
	}
}

// Check classifies a single message.
//
// The duplicate cache is read and rewritten on every call, including calls
// rejected by an active mute, so a repeat of a during-mute message is still
// caught once the mute lapses. An active mute short-circuits with a single
// synthetic violation; otherwise every heuristic runs so the result records
// all violations even once the action has already escalated.
func (c *Classifier) Check(ctx context.Context, msg Message) Result {
	duplicate := c.isDuplicate(ctx, msg.UserID, msg.Content)
	c.rememberContent(ctx, msg.UserID, msg.Content)

	if c.mutes.IsMuted(ctx, msg.UserID) {
		return Result{
			IsSpam: true,
			Violations: []types.SpamViolation{{
				Type:     types.ViolationMuted,
				Severity: types.SeverityHigh,
				Details:  "user is currently muted",
			}},
			Action:  types.ActionMute,
			Message: "you are temporarily muted",
		}
	}

	var violations []types.SpamViolation

	if duplicate {
		violations = append(violations, types.SpamViolation{
			Type:     types.ViolationDuplicateMessage,
			Severity: types.SeverityMedium,
			Details:  "identical to previous message",
		})
	}

	if isExcessiveCaps(msg.Content, c.cfg.CapsPercent) {
		violations = append(violations, types.SpamViolation{
			Type:     types.ViolationExcessiveCaps,
			Severity: types.SeverityLow,
			Details:  fmt.Sprintf("more than %d%% uppercase", c.cfg.CapsPercent),
		})
	}

	if n := len(urlRegex.FindAllString(msg.Content, -1)); n > c.cfg.MaxURLs {
		violations = append(violations, types.SpamViolation{
			Type:     types.ViolationURLSpam,
			Severity: types.SeverityHigh,
			Details:  fmt.Sprintf("%d URLs, max %d", n, c.cfg.MaxURLs),
		})
	}

	if hasRepeatedCharacters(msg.Content, c.cfg.RepeatedRunLength) {
		violations = append(violations, types.SpamViolation{
			Type:     types.ViolationRepeatedCharacters,
			Severity: types.SeverityLow,
			Details:  fmt.Sprintf("run of %d+ identical characters", c.cfg.RepeatedRunLength),
		})
	}

	if word := c.findProfanity(msg.Content); word != "" {
		violations = append(violations, types.SpamViolation{
			Type:     types.ViolationProfanity,
			Severity: types.SeverityMedium,
			Details:  "contains a blocked word",
		})
	}

	action := determineAction(violations)
	result := Result{
		IsSpam:     action != types.ActionAllow,
		Violations: violations,
		Action:     action,
	}

	switch action {
	case types.ActionWarn:
		result.Message = "please keep the café friendly"
	case types.ActionBlock:
		result.Message = "message rejected"
	case types.ActionMute:
		result.Message = "you have been temporarily muted"
		if err := c.mutes.Mute(ctx, msg.UserID, "automatic spam mute", violations); err != nil {
			log.Printf("WARNING: failed to persist mute for %s: %v", msg.UserID, err)
		}
		log.Printf("WARNING: auto-muted user %s after %d violations", msg.UserID, len(violations))
	}

	return result
}

// determineAction applies the escalation ladder over all recorded
// violations: any high, two mediums or three in total mutes; one medium or
// two in total blocks; a single low warns.
func determineAction(violations []types.SpamViolation) string {
	var high, medium int
	for _, v := range violations {
		switch v.Severity {
		case types.SeverityHigh:
			high++
		case types.SeverityMedium:
			medium++
		}
	}

	total := len(violations)
	switch {
	case high >= 1 || medium >= 2 || total >= 3:
		return types.ActionMute
	case medium >= 1 || total >= 2:
		return types.ActionBlock
	case total == 1:
		return types.ActionWarn
	default:
		return types.ActionAllow
	}
}

// isDuplicate compares the content against the user's cached last message.
// Store failures skip the check rather than blocking the message.
func (c *Classifier) isDuplicate(ctx context.Context, userID, content string) bool {
	last, err := c.store.Get(ctx, duplicateKeyPrefix+userID)
	if err != nil {
		if !errors.Is(err, kv.ErrNoKey) {
			log.Printf("WARNING: duplicate cache read failed for %s: %v", userID, err)
		}
		return false
	}
	return last == content
}

func (c *Classifier) rememberContent(ctx context.Context, userID, content string) {
	if err := c.store.Set(ctx, duplicateKeyPrefix+userID, content, c.cfg.DuplicateTTL); err != nil {
		log.Printf("WARNING: duplicate cache write failed for %s: %v", userID, err)
	}
}

// findProfanity returns the first blocked word appearing in content, on
// word boundaries, case-insensitively.
func (c *Classifier) findProfanity(content string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.profanity) == 0 {
		return ""
	}

	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		if _, blocked := c.profanity[word]; blocked {
			return word
		}
	}
	return ""
}

// isExcessiveCaps reports whether the uppercase ratio among letters exceeds
// maxPercent. Messages with fewer than 3 letters are exempt, so short
// replies like "OK" never trip the check.
func isExcessiveCaps(content string, maxPercent int) bool {
	var letters, upper int
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 3 {
		return false
	}
	return upper*100 > letters*maxPercent
}

// hasRepeatedCharacters reports a run of runLength or more identical
// characters.
func hasRepeatedCharacters(content string, runLength int) bool {
	if runLength <= 0 {
		return false
	}
	var prev rune
	run := 0
	for _, r := range content {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= runLength {
			return true
		}
	}
	return false
}
