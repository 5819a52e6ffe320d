// Package alert notifies operators about orders that need a human: expired
// escrows, degraded reconciliation and authorization failures.
package alert

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Alerter interface {
	SendMessage(text string) error
	Info(text string) error
	Warn(text string) error
	Error(text string) error
}

// Multi fans every message out to all alerters.
type Multi []Alerter

var _ Alerter = Multi(nil)

func (m Multi) each(f func(Alerter) error) error {
	var errs []error
	for _, a := range m {
		if err := f(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendMessage(text string) error {
	return m.each(func(a Alerter) error { return a.SendMessage(text) })
}

func (m Multi) Info(text string) error {
	return m.each(func(a Alerter) error { return a.Info(text) })
}

func (m Multi) Warn(text string) error {
	return m.each(func(a Alerter) error { return a.Warn(text) })
}

func (m Multi) Error(text string) error {
	return m.each(func(a Alerter) error { return a.Error(text) })
}

// LogAlerter writes alerts to the log.
type LogAlerter struct {
	logger *zap.Logger
}

var _ Alerter = (*LogAlerter)(nil)

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.With(zap.String("component", "alert"))}
}

func (l *LogAlerter) SendMessage(text string) error {
	l.logger.Info(text)
	return nil
}

func (l *LogAlerter) Info(text string) error {
	l.logger.Info(text)
	return nil
}

func (l *LogAlerter) Warn(text string) error {
	l.logger.Warn(text)
	return nil
}

func (l *LogAlerter) Error(text string) error {
	l.logger.Error(text)
	return nil
}

type Config struct {
	SlackWebhook   string `json:"slackWebhook"`
	DiscordWebhook string `json:"discordWebhook"`
}

// New builds the alerter described by cfg on top of the log alerter.
func New(cfg Config, logger *zap.Logger) (Alerter, error) {
	alerters := Multi{NewLogAlerter(logger)}
	if cfg.SlackWebhook != "" {
		alerters = append(alerters, NewSlackAlerter(cfg.SlackWebhook))
	}
	if cfg.DiscordWebhook != "" {
		discord, err := NewDiscordAlerter(cfg.DiscordWebhook)
		if err != nil {
			return nil, fmt.Errorf("discord alerter: %w", err)
		}
		alerters = append(alerters, discord)
	}
	return alerters, nil
}
