package server

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/cestef/punch/internal/identity"
)

// Audit is a structured sink for accept-pipeline transitions,
// one JSON line per event, additive to the human-readable console
// stream.
type Audit struct {
	logger zerolog.Logger
}

// NewAudit builds an Audit writing newline-delimited JSON to stdout.
func NewAudit() *Audit {
	return &Audit{logger: zerolog.New(os.Stdout).With().Timestamp().Logger()}
}

// Event records one accept-pipeline transition.
func (a *Audit) Event(stage string, peer identity.NodeIdentity, outcome string) {
	a.logger.Info().
		Str("stage", stage).
		Str("peer", peer.Short()).
		Str("outcome", outcome).
		Msg("accept pipeline transition")
}
