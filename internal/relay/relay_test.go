package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/korahq/relay/internal/gemini"
	"github.com/korahq/relay/internal/messenger"
	"github.com/korahq/relay/internal/registry"
	"github.com/korahq/relay/internal/relay"
)

// memStore is an in-memory registry.Store for tests.
type memStore struct {
	bots []registry.Bot
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) LoadAll(context.Context) ([]registry.Bot, error) {
	out := make([]registry.Bot, len(m.bots))
	copy(out, m.bots)
	return out, nil
}

func (m *memStore) ReplaceAll(_ context.Context, bots []registry.Bot) error {
	m.bots = make([]registry.Bot, len(bots))
	copy(m.bots, bots)
	return nil
}

func (m *memStore) RunMaintenance(context.Context) error { return nil }

type aiCall struct {
	apiKey string
	prompt string
}

// fakeAI records GenerateReply calls and signals each one on done.
type fakeAI struct {
	mu    sync.Mutex
	calls []aiCall
	reply string
	err   error
}

func (f *fakeAI) GenerateReply(_ context.Context, apiKey, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, aiCall{apiKey: apiKey, prompt: prompt})
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sendCall struct {
	recipientID string
	text        string
	accessToken string
}

// fakeSender records SendText calls and signals each completed pipeline
// on done, since dispatch is fire-and-forget.
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	done  chan struct{}
}

func (f *fakeSender) SendText(_ context.Context, recipientID, text, accessToken string) error {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{recipientID: recipientID, text: text, accessToken: accessToken})
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

func (f *fakeSender) lastCall(t *testing.T) sendCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no delivery calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

var (
	_ gemini.Client    = (*fakeAI)(nil)
	_ messenger.Client = (*fakeSender)(nil)
)

func newTestRegistry(t *testing.T, bots ...registry.Bot) *registry.Registry {
	t.Helper()
	reg := registry.New(&memStore{bots: bots}, "DUMMY_TOKEN", nil)
	if err := reg.Load(context.Background(), "secret"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return reg
}

func pipelineConfig() relay.PipelineConfig {
	return relay.PipelineConfig{
		PersonaInstruction: "Your name is KORA AI. Reply with soft vibes:\n\nUser: ",
		FallbackReply:      "KORA AI is taking a break. Please try again later.",
		AITimeout:          time.Second,
		SendTimeout:        time.Second,
	}
}

func waitForDeliveries(t *testing.T, done chan struct{}, want int) {
	t.Helper()
	for i := 0; i < want; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, want)
		}
	}
	// No extra deliveries should trail in.
	select {
	case <-done:
		t.Fatal("unexpected extra delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registry.Bot{
		ID: "bot_1", PageID: "42", VerifyToken: "tok",
		PageAccessToken: "pat", APIKey: "key", CreatedAt: time.Now().UTC(),
	})
	v := relay.NewVerifier(reg, nil)

	tests := []struct {
		name  string
		mode  string
		token string
		want  bool
	}{
		{name: "accept", mode: "subscribe", token: "tok", want: true},
		{name: "wrong mode", mode: "unsubscribe", token: "tok", want: false},
		{name: "empty mode", mode: "", token: "tok", want: false},
		{name: "unknown token", mode: "subscribe", token: "wrong", want: false},
		{name: "empty token", mode: "subscribe", token: "", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := v.Verify(tc.mode, tc.token); got != tc.want {
				t.Errorf("Verify(%q, %q) = %v, want %v", tc.mode, tc.token, got, tc.want)
			}
		})
	}
}

func TestPipelinePrependsPersona(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{reply: "hello there"}
	sender := &fakeSender{}
	p := relay.NewPipeline(ai, sender, pipelineConfig(), nil)

	bot := registry.Bot{ID: "bot_1", PageAccessToken: "pat", APIKey: "key"}
	p.Process(context.Background(), bot, "U1", "hi")

	if got := ai.callCount(); got != 1 {
		t.Fatalf("AI call count = %d, want 1", got)
	}
	wantPrompt := pipelineConfig().PersonaInstruction + "hi"
	if ai.calls[0].prompt != wantPrompt {
		t.Errorf("prompt = %q, want %q", ai.calls[0].prompt, wantPrompt)
	}

	call := sender.lastCall(t)
	if call.text != "hello there" {
		t.Errorf("delivered text = %q, want generated reply", call.text)
	}
}

func TestPipelineFallbackOnBackendError(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{err: gemini.ErrBackend}
	sender := &fakeSender{}
	p := relay.NewPipeline(ai, sender, pipelineConfig(), nil)

	bot := registry.Bot{ID: "bot_1", PageAccessToken: "pat", APIKey: "key"}
	p.Process(context.Background(), bot, "U1", "hi")

	call := sender.lastCall(t)
	if call.text != pipelineConfig().FallbackReply {
		t.Errorf("delivered text = %q, want fallback reply", call.text)
	}
	if call.recipientID != "U1" {
		t.Errorf("recipient = %q, want U1", call.recipientID)
	}
}

func TestPipelineDropsDeliveryFailure(t *testing.T) {
	t.Parallel()

	ai := &fakeAI{reply: "hello"}
	sender := &fakeSender{err: errors.New("send failed")}
	p := relay.NewPipeline(ai, sender, pipelineConfig(), nil)

	// A delivery failure is logged and dropped; Process must not panic
	// or retry.
	bot := registry.Bot{ID: "bot_1", PageAccessToken: "pat", APIKey: "key"}
	p.Process(context.Background(), bot, "U1", "hi")

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.calls) != 1 {
		t.Errorf("delivery attempts = %d, want exactly 1", len(sender.calls))
	}
}

func TestDispatchSkipsUnknownTenant(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registry.Bot{
		ID: "bot_1", PageID: "42", VerifyToken: "tok",
		PageAccessToken: "PAT", APIKey: "K", CreatedAt: time.Now().UTC(),
	})

	ai := &fakeAI{reply: "generated"}
	sender := &fakeSender{done: make(chan struct{}, 4)}
	p := relay.NewPipeline(ai, sender, pipelineConfig(), nil)
	d := relay.NewDispatcher(reg, p, nil)

	payload := messenger.WebhookPayload{
		Object: "page",
		Entry: []messenger.Entry{
			{
				ID: "999", // unknown tenant
				Messaging: []messenger.MessagingEvent{
					{Sender: messenger.Participant{ID: "U9"}, Message: &messenger.Message{Text: "hello"}},
				},
			},
			{
				ID: "42",
				Messaging: []messenger.MessagingEvent{
					{Sender: messenger.Participant{ID: "U1"}, Message: &messenger.Message{Text: "hi"}},
				},
			},
		},
	}

	if got := d.Dispatch(context.Background(), payload); got != 1 {
		t.Errorf("Dispatch() scheduled %d messages, want 1", got)
	}
	waitForDeliveries(t, sender.done, 1)

	call := sender.lastCall(t)
	if call.recipientID != "U1" {
		t.Errorf("delivery went to %q, want U1", call.recipientID)
	}
}

func TestDispatchIgnoresTextlessEvents(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, registry.Bot{
		ID: "bot_1", PageID: "42", VerifyToken: "tok",
		PageAccessToken: "PAT", APIKey: "K", CreatedAt: time.Now().UTC(),
	})

	ai := &fakeAI{reply: "generated"}
	sender := &fakeSender{done: make(chan struct{}, 4)}
	d := relay.NewDispatcher(reg, relay.NewPipeline(ai, sender, pipelineConfig(), nil), nil)

	payload := messenger.WebhookPayload{
		Object: "page",
		Entry: []messenger.Entry{
			{
				ID: "42",
				Messaging: []messenger.MessagingEvent{
					{Sender: messenger.Participant{ID: "U1"}}, // delivery receipt, no message
					{Sender: messenger.Participant{ID: "U2"}, Message: &messenger.Message{Text: ""}},
					{Sender: messenger.Participant{ID: "U3"}, Message: &messenger.Message{Text: "real"}},
				},
			},
		},
	}

	if got := d.Dispatch(context.Background(), payload); got != 1 {
		t.Errorf("Dispatch() scheduled %d messages, want 1", got)
	}
	waitForDeliveries(t, sender.done, 1)

	call := sender.lastCall(t)
	if call.recipientID != "U3" {
		t.Errorf("delivery went to %q, want U3", call.recipientID)
	}
}

// TestDispatchEndToEnd covers the registered-tenant happy path: one
// inbound text triggers exactly one AI call with the tenant's key and
// exactly one delivery with the tenant's access token.
func TestDispatchEndToEnd(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)
	if _, err := reg.Register(context.Background(), registry.RegisterInput{
		PageID: "42", VerifyToken: "tok", PageAccessToken: "PAT", APIKey: "K",
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ai := &fakeAI{reply: "generated"}
	sender := &fakeSender{done: make(chan struct{}, 4)}
	d := relay.NewDispatcher(reg, relay.NewPipeline(ai, sender, pipelineConfig(), nil), nil)

	payload := messenger.WebhookPayload{
		Object: "page",
		Entry: []messenger.Entry{
			{
				ID: "42",
				Messaging: []messenger.MessagingEvent{
					{Sender: messenger.Participant{ID: "U1"}, Message: &messenger.Message{Text: "hi"}},
				},
			},
		},
	}

	if got := d.Dispatch(context.Background(), payload); got != 1 {
		t.Fatalf("Dispatch() scheduled %d messages, want 1", got)
	}
	waitForDeliveries(t, sender.done, 1)

	if got := ai.callCount(); got != 1 {
		t.Fatalf("AI call count = %d, want exactly 1", got)
	}
	if ai.calls[0].apiKey != "K" {
		t.Errorf("AI called with key %q, want K", ai.calls[0].apiKey)
	}

	call := sender.lastCall(t)
	if call.recipientID != "U1" {
		t.Errorf("delivery recipient = %q, want U1", call.recipientID)
	}
	if call.accessToken != "PAT" {
		t.Errorf("delivery access token = %q, want PAT", call.accessToken)
	}
	if call.text != "generated" {
		t.Errorf("delivered text = %q, want generated reply", call.text)
	}
}
