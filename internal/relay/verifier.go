// Package relay implements the webhook core: subscription verification,
// batch event dispatch, and the per-message reply pipeline.
package relay

import (
	"io"
	"log/slog"

	"github.com/korahq/relay/internal/registry"
)

// Verifier answers Messenger subscription handshakes against the registry.
type Verifier struct {
	reg *registry.Registry
	log *slog.Logger
}

// NewVerifier creates a Verifier backed by reg.
func NewVerifier(reg *registry.Registry, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Verifier{
		reg: reg,
		log: log.With("component", "verifier"),
	}
}

// Verify reports whether a handshake with the given mode and token is
// accepted: mode must be "subscribe" and some bot's verify token must
// match exactly. Pure function of registry state; the only side effect
// is an audit log entry.
func (v *Verifier) Verify(mode, token string) bool {
	if mode != "subscribe" {
		v.log.Warn("Webhook verification rejected", "mode", mode, "reason", "mode not subscribe")
		return false
	}

	bot, ok := v.reg.FindByVerifyToken(token)
	if !ok {
		v.log.Warn("Webhook verification rejected", "reason", "unknown verify token")
		return false
	}

	v.log.Info("Webhook verified", "bot_id", bot.ID, "page_id", bot.PageID)
	return true
}
