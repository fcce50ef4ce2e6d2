package gateways

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Environment variables holding push notification credentials
const (
	PushTokenEnv = "REPOSYNC_PUSH_TOKEN"
	PushUserEnv  = "REPOSYNC_PUSH_USER"
)

const defaultPushEndpoint = "https://api.pushover.net/1/messages.json"

// PushNotifier sends short messages through a Pushover-compatible HTTP API
type PushNotifier struct {
	client   *http.Client
	endpoint string
	token    string
	user     string
}

// NoOpNotifier discards notifications
type NoOpNotifier struct{}

// Notify does nothing (no-op implementation)
func (NoOpNotifier) Notify(_ context.Context, _, _ string) error { return nil }

// Notifier delivers operator notifications
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// NewNotifierFromEnv returns a push notifier when credentials are present and a
// no-op notifier otherwise.
func NewNotifierFromEnv() Notifier {
	token, user := os.Getenv(PushTokenEnv), os.Getenv(PushUserEnv)
	if token == "" || user == "" {
		return NoOpNotifier{}
	}
	return NewPushNotifier(defaultPushEndpoint, token, user)
}

// NewPushNotifier creates a notifier posting to endpoint
func NewPushNotifier(endpoint, token, user string) *PushNotifier {
	return &PushNotifier{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: endpoint,
		token:    token,
		user:     user,
	}
}

// Notify posts one message
func (n *PushNotifier) Notify(ctx context.Context, title, message string) error {
	form := url.Values{
		"token":   {n.token},
		"user":    {n.user},
		"title":   {title},
		"message": {message},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notification rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
