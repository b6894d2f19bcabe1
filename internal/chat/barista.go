package chat

import (
	"context"
	"strings"
)

// Barista is the built-in agent backend: a canned keyword responder used
// when no external backend is configured. Deployments plug a real model in
// through SetResponder.
type Barista struct{}

func NewBarista() *Barista { return &Barista{} }

func (b *Barista) Respond(ctx context.Context, userID, prompt string) (string, error) {
	lower := strings.ToLower(prompt)

	switch {
	case strings.Contains(lower, "recommend"), strings.Contains(lower, "suggest"):
		return "The house pour over is popular today. If you like something sweeter, try the honey oat latte.", nil
	case strings.Contains(lower, "menu"):
		return "We have espresso drinks, pour overs, teas and a small pastry case. Anything specific you are curious about?", nil
	case strings.Contains(lower, "wifi"), strings.Contains(lower, "wi-fi"):
		return "The wifi password is on the chalkboard by the counter.", nil
	case strings.Contains(lower, "hour"), strings.Contains(lower, "open"), strings.Contains(lower, "close"):
		return "We are open 7am to 7pm every day.", nil
	default:
		return "Good question! Ask me about the menu, recommendations, wifi or opening hours.", nil
	}
}
