package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the Discord webhook with wait=true so the created
// message id is returned. Webhooks cannot reply, so follow-ups quote the
// original message id instead.
func (d *DiscordSender) Send(ctx context.Context, msg Message) (string, error) {
	content := fmt.Sprintf("**%s**\n%s", msg.Title, msg.Body)
	if msg.ReplyTo != "" {
		content = fmt.Sprintf("> re: %s\n%s", msg.ReplyTo, content)
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return "", fmt.Errorf("discord: marshal payload: %w", err)
	}

	target, err := url.Parse(d.webhookURL)
	if err != nil {
		return "", fmt.Errorf("discord: parse webhook url: %w", err)
	}
	q := target.Query()
	q.Set("wait", "true")
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// 204 No Content when the webhook ignores wait.
	if resp.StatusCode == http.StatusNoContent {
		return "", nil
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("discord: decode response: %w", err)
	}
	return created.ID, nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
