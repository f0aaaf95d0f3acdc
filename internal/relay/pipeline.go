package relay

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/korahq/relay/internal/gemini"
	"github.com/korahq/relay/internal/messenger"
	"github.com/korahq/relay/internal/registry"
)

// PipelineConfig carries the tenant-independent reply settings.
type PipelineConfig struct {
	PersonaInstruction string
	FallbackReply      string
	AITimeout          time.Duration
	SendTimeout        time.Duration
}

// Pipeline turns one inbound message into one reply: a single Gemini
// attempt (falling back to a fixed reply on any backend failure) and a
// single delivery attempt (logged and dropped on failure).
type Pipeline struct {
	ai       gemini.Client
	delivery messenger.Client
	cfg      PipelineConfig
	log      *slog.Logger
}

// NewPipeline creates a Pipeline using ai for generation and delivery
// for the platform send call.
func NewPipeline(ai gemini.Client, delivery messenger.Client, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		ai:       ai,
		delivery: delivery,
		cfg:      cfg,
		log:      log.With("component", "pipeline"),
	}
}

// Process handles one message end to end. Backend failures are swallowed
// into the fallback reply; delivery failures are logged and dropped.
// Neither is surfaced to the caller.
func (p *Pipeline) Process(ctx context.Context, bot registry.Bot, senderID, text string) {
	prompt := p.cfg.PersonaInstruction + text

	aiCtx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	reply, err := p.ai.GenerateReply(aiCtx, bot.APIKey, prompt)
	cancel()
	if err != nil {
		p.log.WarnContext(ctx, "Reply generation failed, using fallback",
			"bot_id", bot.ID, "sender_id", senderID, "error", err)
		reply = p.cfg.FallbackReply
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	err = p.delivery.SendText(sendCtx, senderID, reply, bot.PageAccessToken)
	cancel()
	if err != nil {
		p.log.ErrorContext(ctx, "Reply delivery failed",
			"bot_id", bot.ID, "sender_id", senderID, "error", err)
		return
	}

	p.log.InfoContext(ctx, "Reply delivered", "bot_id", bot.ID, "sender_id", senderID)
}
