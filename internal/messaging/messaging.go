// Package messaging posts distribution outcomes to Slack and Discord webhooks.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"letterdesk/internal/config"
	"letterdesk/internal/logger"
)

// MessagePlatform represents different messaging platforms
type MessagePlatform string

const (
	PlatformSlack   MessagePlatform = "slack"
	PlatformDiscord MessagePlatform = "discord"
)

// Notification summarizes one distribution run.
type Notification struct {
	SequenceName string
	Subject      string
	Audience     string
	Status       string // success, warning or error
	Message      string
	Sent         int
	Failed       int
	Timestamp    time.Time
}

// SlackMessage represents a Slack message structure
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
}

// SlackAttachment represents legacy Slack attachments
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField represents fields in attachments
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// DiscordMessage represents a Discord message structure
type DiscordMessage struct {
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// DiscordEmbedField represents fields in Discord embeds
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbedFooter represents footer in Discord embeds
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// MessagingClient handles sending messages to different platforms
type MessagingClient struct {
	cfg        config.Messaging
	HTTPClient *http.Client
}

// NewMessagingClient creates a new messaging client
func NewMessagingClient(cfg config.Messaging) *MessagingClient {
	return &MessagingClient{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
	}
}

// Enabled reports whether any webhook is configured.
func (c *MessagingClient) Enabled() bool {
	return c != nil && (c.cfg.Slack.WebhookURL != "" || c.cfg.Discord.WebhookURL != "")
}

// Notify posts n to every configured platform. Failures are logged and
// returned joined; a notification never blocks a distribution.
func (c *MessagingClient) Notify(ctx context.Context, n Notification) error {
	if !c.Enabled() {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var errs []string
	if c.cfg.Slack.WebhookURL != "" {
		if err := c.post(ctx, PlatformSlack, c.cfg.Slack.WebhookURL, ToSlackMessage(n, c.cfg.Slack)); err != nil {
			logger.Warn("Slack notification failed", "error", err)
			errs = append(errs, err.Error())
		}
	}
	if c.cfg.Discord.WebhookURL != "" {
		if err := c.post(ctx, PlatformDiscord, c.cfg.Discord.WebhookURL, ToDiscordMessage(n, c.cfg.Discord)); err != nil {
			logger.Warn("Discord notification failed", "error", err)
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func statusColor(status string) (string, int) {
	switch status {
	case "success":
		return "good", 0x10b981
	case "warning":
		return "warning", 0xf59e0b
	default:
		return "danger", 0xef4444
	}
}

func title(n Notification) string {
	switch n.Status {
	case "success":
		return fmt.Sprintf("Newsletter sent: %s", n.SequenceName)
	case "warning":
		return fmt.Sprintf("Newsletter skipped: %s", n.SequenceName)
	default:
		return fmt.Sprintf("Newsletter failed: %s", n.SequenceName)
	}
}

// ToSlackMessage renders a notification as a Slack attachment.
func ToSlackMessage(n Notification, cfg config.SlackConfig) *SlackMessage {
	color, _ := statusColor(n.Status)
	fields := []SlackField{{Title: "Audience", Value: n.Audience, Short: true}}
	if n.Subject != "" {
		fields = append(fields, SlackField{Title: "Subject", Value: n.Subject, Short: false})
	}
	if n.Sent > 0 || n.Failed > 0 {
		fields = append(fields,
			SlackField{Title: "Sent", Value: fmt.Sprint(n.Sent), Short: true},
			SlackField{Title: "Failed", Value: fmt.Sprint(n.Failed), Short: true},
		)
	}

	return &SlackMessage{
		Username:  cfg.Username,
		IconEmoji: cfg.IconEmoji,
		Attachments: []SlackAttachment{{
			Color:  color,
			Title:  title(n),
			Text:   n.Message,
			Fields: fields,
			Footer: "letterdesk",
			Ts:     n.Timestamp.Unix(),
		}},
	}
}

// ToDiscordMessage renders a notification as a Discord embed.
func ToDiscordMessage(n Notification, cfg config.DiscordConfig) *DiscordMessage {
	_, color := statusColor(n.Status)
	fields := []DiscordEmbedField{{Name: "Audience", Value: n.Audience, Inline: true}}
	if n.Subject != "" {
		fields = append(fields, DiscordEmbedField{Name: "Subject", Value: n.Subject})
	}
	if n.Sent > 0 || n.Failed > 0 {
		fields = append(fields,
			DiscordEmbedField{Name: "Sent", Value: fmt.Sprint(n.Sent), Inline: true},
			DiscordEmbedField{Name: "Failed", Value: fmt.Sprint(n.Failed), Inline: true},
		)
	}

	return &DiscordMessage{
		Username:  cfg.Username,
		AvatarURL: cfg.AvatarURL,
		Embeds: []DiscordEmbed{{
			Title:       title(n),
			Description: n.Message,
			Color:       color,
			Fields:      fields,
			Footer:      &DiscordEmbedFooter{Text: "letterdesk"},
			Timestamp:   n.Timestamp.Format(time.RFC3339),
		}},
	}
}

func (c *MessagingClient) post(ctx context.Context, platform MessagePlatform, webhookURL string, message any) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", platform, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", platform, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", platform, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s webhook returned status %d: %s", platform, resp.StatusCode, string(body))
	}
	return nil
}

// ValidateWebhookURL validates if a webhook URL is properly formatted
func ValidateWebhookURL(platform MessagePlatform, url string) error {
	if url == "" {
		return fmt.Errorf("%s webhook URL cannot be empty", platform)
	}

	switch platform {
	case PlatformSlack:
		if !strings.Contains(url, "hooks.slack.com") {
			return fmt.Errorf("invalid Slack webhook URL format")
		}
	case PlatformDiscord:
		if !strings.Contains(url, "discord.com/api/webhooks") {
			return fmt.Errorf("invalid Discord webhook URL format")
		}
	default:
		return fmt.Errorf("unknown platform: %s", platform)
	}

	return nil
}
