package alert

import (
	"sync"
	"time"
)

// FrequencyLimited drops a message when the same text was sent within the
// frequency window.
type FrequencyLimited struct {
	alerter   Alerter
	frequency time.Duration
	now       func() time.Time

	mu   *sync.Mutex
	last map[string]time.Time
}

var _ Alerter = (*FrequencyLimited)(nil)

func NewFrequencyLimited(alerter Alerter, frequency time.Duration) *FrequencyLimited {
	return &FrequencyLimited{
		alerter:   alerter,
		frequency: frequency,
		now:       time.Now,
		mu:        new(sync.Mutex),
		last:      map[string]time.Time{},
	}
}

func (f *FrequencyLimited) exec(text string, send func(string) error) error {
	f.mu.Lock()
	now := f.now()
	if last, ok := f.last[text]; ok && now.Before(last.Add(f.frequency)) {
		f.mu.Unlock()
		return nil
	}
	f.last[text] = now
	f.mu.Unlock()
	return send(text)
}

func (f *FrequencyLimited) SendMessage(text string) error {
	return f.exec(text, f.alerter.SendMessage)
}

func (f *FrequencyLimited) Info(text string) error {
	return f.exec(text, f.alerter.Info)
}

func (f *FrequencyLimited) Warn(text string) error {
	return f.exec(text, f.alerter.Warn)
}

func (f *FrequencyLimited) Error(text string) error {
	return f.exec(text, f.alerter.Error)
}
