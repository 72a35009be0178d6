package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender posts market alerts to one Telegram chat through the Bot
// API sendMessage call.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: alertTimeout},
	}
}

// Send posts the alert with the title bolded in Telegram markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
