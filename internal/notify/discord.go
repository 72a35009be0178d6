package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender posts market alerts to a Discord channel webhook. Discord
// answers a successful webhook post with 204 No Content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: alertTimeout},
	}
}

// Send posts the alert with the title bolded in Discord markdown.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
