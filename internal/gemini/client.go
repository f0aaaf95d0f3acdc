// Package gemini implements integration with Google's Gemini AI API.
// Unlike a single-tenant bot, every tenant brings its own API key, so
// the SDK client is cached per key rather than created once at startup.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/korahq/relay/internal/config"
)

// ErrBackend indicates that the generative backend failed to produce a
// reply: network, quota, safety block, or malformed response. Callers
// recover locally with a fallback reply.
var ErrBackend = errors.New("backend error")

// Client defines the reply generation capability used by the relay.
type Client interface {
	// GenerateReply sends prompt to the backend using the tenant's apiKey
	// and returns the generated text.
	GenerateReply(ctx context.Context, apiKey, prompt string) (string, error)
}

type sdkClient struct {
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string

	mu      sync.Mutex
	clients map[string]*genai.Client // keyed by API key
}

// NewClient creates a Gemini client for the given model configuration.
// Per-tenant SDK clients are created lazily on first use of each key.
func NewClient(cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,

		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.Model)
	return &sdkClient{
		log:           logger,
		contentConfig: baseCfg,
		modelName:     cfg.Model,
		clients:       make(map[string]*genai.Client),
	}, nil
}

func (c *sdkClient) clientForKey(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gc, ok := c.clients[apiKey]; ok {
		return gc, nil
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.clients[apiKey] = gc
	return gc, nil
}

func (c *sdkClient) GenerateReply(ctx context.Context, apiKey, prompt string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("%w: api key is empty", ErrBackend)
	}

	gc, err := c.clientForKey(ctx, apiKey)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini client creation failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := gc.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini API call failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	return c.extractText(ctx, resp)
}

func (c *sdkClient) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("%w: blocked by safety filter: %s", ErrBackend, reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		c.log.WarnContext(ctx, "Gemini response missing candidates or content")
		return "", fmt.Errorf("%w: empty response", ErrBackend)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", ErrBackend)
	}
	return text, nil
}
