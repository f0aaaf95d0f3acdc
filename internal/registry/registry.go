// Package registry maintains the process-wide mapping of tenants (bots)
// to their Messenger and Gemini credentials. Reads happen on every
// inbound event; writes only on administrative registration calls.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrValidation indicates a registration request with missing required fields.
var ErrValidation = errors.New("validation error")

// PlaceholderBotID is the id of the bot seeded into an empty registry so
// the first subscription handshake can succeed before any tenant exists.
const PlaceholderBotID = "default-bot"

// Registry holds the in-memory bot snapshot and its durable store.
// A single RWMutex serializes writers; readers see the previous or the
// next complete snapshot, never one in flux.
type Registry struct {
	mu       sync.RWMutex
	bots     []Bot
	store    Store
	sentinel string
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a Registry backed by store. sentinelToken marks bots that
// are not yet fully configured; such bots never receive deliveries.
func New(store Store, sentinelToken string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		store:    store,
		sentinel: sentinelToken,
		validate: validator.New(),
		logger:   logger.With("component", "registry"),
	}
}

// Load initializes the registry from durable storage. An empty store is
// seeded with a placeholder bot carrying the sentinel access token and
// the given verify token, and the seed is persisted immediately.
// Load failure is fatal to startup; running with an unusably empty
// registry is worse than not starting.
func (r *Registry) Load(ctx context.Context, defaultVerifyToken string) error {
	bots, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	if len(bots) == 0 {
		placeholder := Bot{
			ID:              PlaceholderBotID,
			PageID:          "default",
			VerifyToken:     defaultVerifyToken,
			PageAccessToken: r.sentinel,
			APIKey:          "DUMMY_KEY",
			CreatedAt:       time.Now().UTC(),
		}
		bots = []Bot{placeholder}
		if err := r.store.ReplaceAll(ctx, bots); err != nil {
			return fmt.Errorf("failed to persist placeholder bot: %w", err)
		}
		r.logger.Warn("No bots in storage, placeholder bot seeded", "bot_id", placeholder.ID)
	} else {
		r.logger.Info("Registry loaded", "count", len(bots))
	}

	r.mu.Lock()
	r.bots = bots
	r.mu.Unlock()
	return nil
}

// Register validates input and upserts a bot. A bot with the same PageID
// is replaced in place; a new id is minted on every call, including
// replacements. Registration without a PageID always appends. The full
// registry is persisted synchronously before returning; on persistence
// failure the in-memory snapshot is left unchanged.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (Bot, error) {
	if err := r.validate.Struct(input); err != nil {
		return Bot{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	bot := Bot{
		ID:              "bot_" + uuid.NewString(),
		PageID:          input.PageID,
		VerifyToken:     input.VerifyToken,
		PageAccessToken: input.PageAccessToken,
		APIKey:          input.APIKey,
		CreatedAt:       time.Now().UTC(),
	}

	// The store write happens under the write lock: writers must serialize
	// with each other, and registration volume is administrative.
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Bot, len(r.bots))
	copy(next, r.bots)

	replaced := false
	if bot.PageID != "" {
		for i := range next {
			if next[i].PageID == bot.PageID {
				next[i] = bot
				replaced = true
				break
			}
		}
	}
	if !replaced {
		next = append(next, bot)
	}

	if err := r.store.ReplaceAll(ctx, next); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist registry after registration",
			"bot_id", bot.ID, "page_id", bot.PageID, "error", err)
		return Bot{}, fmt.Errorf("failed to persist registry: %w", err)
	}
	r.bots = next

	r.logger.InfoContext(ctx, "Bot registered",
		"bot_id", bot.ID, "page_id", bot.PageID, "replaced", replaced)
	return bot, nil
}

// FindByVerifyToken returns the first bot whose verify token matches.
// Duplicate tokens are undefined per the registration contract; first
// match wins here.
func (r *Registry) FindByVerifyToken(token string) (Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.bots {
		if r.bots[i].VerifyToken == token {
			return r.bots[i], true
		}
	}
	return Bot{}, false
}

// FindByPageID returns the bot owning the given page. Bots carrying the
// sentinel access token are excluded: they cannot deliver messages.
func (r *Registry) FindByPageID(pageID string) (Bot, bool) {
	if pageID == "" {
		return Bot{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.bots {
		if r.bots[i].PageID == pageID && r.bots[i].PageAccessToken != r.sentinel {
			return r.bots[i], true
		}
	}
	return Bot{}, false
}

// All returns a copy of the current snapshot, for diagnostic surfaces only.
func (r *Registry) All() []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Bot, len(r.bots))
	copy(out, r.bots)
	return out
}

// Configured reports whether b carries real delivery credentials rather
// than the sentinel placeholder token.
func (r *Registry) Configured(b Bot) bool {
	return b.PageAccessToken != r.sentinel
}

// Flush persists the current snapshot. Called once on shutdown.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.ReplaceAll(ctx, r.bots); err != nil {
		return fmt.Errorf("failed to flush registry: %w", err)
	}
	r.logger.InfoContext(ctx, "Registry flushed", "count", len(r.bots))
	return nil
}
