package alert

import (
	"fmt"

	"github.com/slack-go/slack"
)

// SlackAlerter posts messages to an incoming webhook.
type SlackAlerter struct {
	webhookUrl string
}

var _ Alerter = (*SlackAlerter)(nil)

func NewSlackAlerter(webhookUrl string) *SlackAlerter {
	return &SlackAlerter{webhookUrl: webhookUrl}
}

func (s *SlackAlerter) SendMessage(message string) error {
	return slack.PostWebhook(s.webhookUrl, &slack.WebhookMessage{Text: message})
}

func (s *SlackAlerter) Info(text string) error {
	return s.SendMessage(fmt.Sprintf("[INFO] %s", text))
}

func (s *SlackAlerter) Warn(text string) error {
	return s.SendMessage(fmt.Sprintf(":warning: [WARN] %s", text))
}

func (s *SlackAlerter) Error(text string) error {
	return s.SendMessage(fmt.Sprintf(":rotating_light: [ERROR] %s", text))
}
