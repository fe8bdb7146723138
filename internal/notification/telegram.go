package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through the Telegram Bot API sendMessage
// call, formatted as MarkdownV2.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	poster
}

// NewTelegramNotifier creates a notifier for the bot token and target chat.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{botToken: botToken, chatID: chatID, apiBase: telegramAPI, poster: newPoster()}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	var text strings.Builder
	fmt.Fprintf(&text, "*%s* %s\n\n%s", escapeMarkdown(string(alert.Level)), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if !alert.TS.IsZero() {
		text.WriteString("\n" + escapeMarkdown(alert.TS.Format("2006-01-02 15:04")))
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	status, body, err := t.post(ctx, url, nil, map[string]string{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var resp telegramResponse
	if json.Unmarshal(body, &resp) != nil || !resp.OK {
		if resp.Description != "" {
			return fmt.Errorf("telegram: status %d: %s", status, resp.Description)
		}
		return fmt.Errorf("telegram: status %d", status)
	}
	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// escapeMarkdown backslash-escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownSpecials, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

const markdownSpecials = "_*[]()~`>#+-=|{}.!"
