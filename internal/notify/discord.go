package notify

import (
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// discordContentLimit is the longest message content a webhook accepts.
const discordContentLimit = 2000

// DiscordSender posts to a webhook, which answers 204 on success.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender returns a sender that posts as "yieldd".
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "yieldd",
		client:     &http.Client{Timeout: sendTimeout},
	}
}

// Send renders the event body as a code block under a bold title. Long
// bodies, such as parameter updates, are cut to fit the content limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"username": d.username,
		"content":  discordContent(title, message),
	})
}

func (d *DiscordSender) Name() string { return "discord" }

func discordContent(title, message string) string {
	const fence = "\n```\n"
	head := "**" + title + "**" + fence
	room := discordContentLimit - len(head) - len(fence)
	if len(message) > room {
		cut := max(room-len("…"), 0)
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut] + "…"
	}
	return fmt.Sprintf("%s%s%s", head, message, fence[:len(fence)-1])
}
