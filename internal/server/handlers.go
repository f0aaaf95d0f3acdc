package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/korahq/relay/internal/messenger"
	"github.com/korahq/relay/internal/registry"
	"github.com/korahq/relay/internal/relay"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type handlers struct {
	reg        *registry.Registry
	verifier   *relay.Verifier
	dispatcher *relay.Dispatcher
	log        *slog.Logger
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleVerify answers the Messenger subscription handshake. The
// challenge is echoed byte-for-byte on accept; rejection carries no body.
func (h *handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if !h.verifier.Verify(mode, token) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleWebhook acknowledges the batch as soon as every message has been
// scheduled; it never waits for replies to complete.
func (h *handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload messenger.WebhookPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&payload); err != nil {
		h.log.WarnContext(r.Context(), "Failed to decode webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if payload.Object != "page" {
		h.log.WarnContext(r.Context(), "Unrecognized webhook object type", "object", payload.Object)
		http.Error(w, "unrecognized object type", http.StatusNotFound)
		return
	}

	h.dispatcher.Dispatch(r.Context(), payload)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

func (h *handlers) handleSetTokens(w http.ResponseWriter, r *http.Request) {
	var input registry.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.log.WarnContext(r.Context(), "Failed to decode registration request", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bot, err := h.reg.Register(r.Context(), input)
	if err != nil {
		if errors.Is(err, registry.ErrValidation) {
			http.Error(w, "missing required fields", http.StatusBadRequest)
			return
		}
		h.log.ErrorContext(r.Context(), "Registration failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     bot.ID,
		"status": "webhook ready",
	})
}

// botView is the redacted bot representation for the diagnostics listing.
type botView struct {
	ID         string    `json:"id"`
	PageID     string    `json:"pageId"`
	Configured bool      `json:"configured"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *handlers) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots := h.reg.All()

	views := make([]botView, 0, len(bots))
	for _, b := range bots {
		views = append(views, botView{
			ID:         b.ID,
			PageID:     b.PageID,
			Configured: h.reg.Configured(b),
			CreatedAt:  b.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.log.ErrorContext(r.Context(), "Failed to encode bot listing", "error", err)
	}
}
