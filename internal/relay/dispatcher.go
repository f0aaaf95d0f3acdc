package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/korahq/relay/internal/messenger"
	"github.com/korahq/relay/internal/registry"
)

// ErrUnknownTenant indicates an inbound entry whose page id matches no
// registered bot. The entry is skipped; sibling entries still process.
var ErrUnknownTenant = errors.New("unknown tenant")

// Dispatcher demultiplexes webhook batches to tenants and hands each
// text message to the reply pipeline.
type Dispatcher struct {
	reg      *registry.Registry
	pipeline *Pipeline
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher resolving tenants through reg and
// processing messages with pipeline.
func NewDispatcher(reg *registry.Registry, pipeline *Pipeline, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		reg:      reg,
		pipeline: pipeline,
		log:      log.With("component", "dispatcher"),
	}
}

// Dispatch schedules every qualifying message in the batch and returns
// the number scheduled. It returns before any pipeline completes: the
// platform expects prompt acknowledgment, and replies are fire-and-forget.
// Unknown tenants and textless events are skipped, never aborting the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, payload messenger.WebhookPayload) int {
	scheduled := 0

	for _, entry := range payload.Entry {
		bot, ok := d.reg.FindByPageID(entry.ID)
		if !ok {
			d.log.WarnContext(ctx, "No bot found for page, skipping entry",
				"page_id", entry.ID, "error", ErrUnknownTenant)
			continue
		}

		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.Text == "" {
				d.log.DebugContext(ctx, "Ignoring event without text",
					"page_id", entry.ID, "sender_id", event.Sender.ID)
				continue
			}

			// Detach from the request context: the batch is acknowledged
			// before the pipelines finish, and the reply must not die with
			// the inbound HTTP request.
			taskCtx := context.WithoutCancel(ctx)
			go d.pipeline.Process(taskCtx, bot, event.Sender.ID, event.Message.Text)
			scheduled++
		}
	}

	d.log.InfoContext(ctx, "Batch dispatched",
		"entries", len(payload.Entry), "messages_scheduled", scheduled)
	return scheduled
}
