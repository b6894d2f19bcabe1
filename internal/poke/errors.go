package poke

import (
	"fmt"

	"brewline/pkg/types"
)

// Business-rule failures, each wrapping a shared category so the HTTP
// layer can pick a precise status code. None of these reveal whether the
// other party has also poked; that would leak private matching intent.
var (
	ErrSelfPoke         = fmt.Errorf("%w: cannot poke yourself", types.ErrValidation)
	ErrPokingDisabled   = fmt.Errorf("%w: recipient has poking disabled", types.ErrValidation)
	ErrDuplicatePoke    = fmt.Errorf("%w: an open poke already exists between these users", types.ErrConflict)
	ErrNotRecipient     = fmt.Errorf("%w: only the recipient can respond to a poke", types.ErrUnauthorized)
	ErrAlreadyResponded = fmt.Errorf("%w: poke is no longer awaiting a response", types.ErrConflict)
	ErrPokeExpired      = fmt.Errorf("%w: poke has expired", types.ErrExpired)
)
