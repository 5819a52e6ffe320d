package alert

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordAlerter posts messages to a channel webhook.
type DiscordAlerter struct {
	session *discordgo.Session
	id      string
	token   string
}

var _ Alerter = (*DiscordAlerter)(nil)

// NewDiscordAlerter takes the full webhook url,
// https://discord.com/api/webhooks/<id>/<token>.
func NewDiscordAlerter(webhookUrl string) (*DiscordAlerter, error) {
	id, token, err := parseDiscordWebhook(webhookUrl)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &DiscordAlerter{session: session, id: id, token: token}, nil
}

func parseDiscordWebhook(webhookUrl string) (string, string, error) {
	u, err := url.Parse(webhookUrl)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "webhooks" {
		return "", "", fmt.Errorf("invalid discord webhook %q", webhookUrl)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func (d *DiscordAlerter) SendMessage(message string) error {
	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{Content: message})
	return err
}

func (d *DiscordAlerter) Info(text string) error {
	return d.SendMessage(fmt.Sprintf("[INFO] %s", text))
}

func (d *DiscordAlerter) Warn(text string) error {
	return d.SendMessage(fmt.Sprintf(":warning: [WARN] %s", text))
}

func (d *DiscordAlerter) Error(text string) error {
	return d.SendMessage(fmt.Sprintf(":rotating_light: [ERROR] %s", text))
}
