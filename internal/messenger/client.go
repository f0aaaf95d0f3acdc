// Package messenger implements the Messenger Platform surface of the
// relay: webhook payload types and the Graph API Send client.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// ErrDelivery indicates that sending a message through the platform
// failed. Deliveries are not retried; callers log and drop.
var ErrDelivery = errors.New("delivery error")

// Client defines the outbound delivery capability used by the relay.
type Client interface {
	// SendText delivers text to recipientID using the tenant's accessToken.
	SendText(ctx context.Context, recipientID, text, accessToken string) error
}

type sendRequest struct {
	Recipient Participant `json:"recipient"`
	Message   Message     `json:"message"`
}

type httpClient struct {
	baseURL    string
	apiVersion string
	http       *http.Client
	log        *slog.Logger
}

// NewClient creates a Send API client against the given Graph API base
// URL and version. The http.Client's timeout bounds each delivery call.
func NewClient(baseURL, apiVersion string, hc *http.Client, log *slog.Logger) Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &httpClient{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		http:       hc,
		log:        log.With("component", "messenger_client"),
	}
}

func (c *httpClient) SendText(ctx context.Context, recipientID, text, accessToken string) error {
	if recipientID == "" {
		return fmt.Errorf("%w: empty recipient id", ErrDelivery)
	}
	if accessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrDelivery)
	}

	body, err := json.Marshal(sendRequest{
		Recipient: Participant{ID: recipientID},
		Message:   Message{Text: text},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode send request: %v", ErrDelivery, err)
	}

	endpoint := fmt.Sprintf("%s/%s/me/messages?access_token=%s",
		c.baseURL, c.apiVersion, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Failed to close send response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: unexpected status %d: %s", ErrDelivery, resp.StatusCode, string(snippet))
	}

	c.log.DebugContext(ctx, "Message delivered", "recipient_id", recipientID)
	return nil
}
