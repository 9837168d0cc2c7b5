package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans one alert out to every configured channel. Channels
// are independent: a failing one never blocks or suppresses the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	channels []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a fan-out alerter over the given channels.
func NewMultiAlerter(logger *slog.Logger, channels ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		channels: channels,
		logger:   logger,
	}
}

func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter registers another delivery channel.
func (m *MultiAlerter) AddAlerter(a Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, a)
}

// Alert delivers to every channel concurrently and joins any failures.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	channels := make([]Alerter, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		return nil
	}

	// One slot per channel; no locking needed on the way back.
	results := make([]error, len(channels))

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Alerter) {
			defer wg.Done()
			if err := ch.Alert(ctx, severity, message, fields...); err != nil {
				results[i] = fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}(i, ch)
	}
	wg.Wait()

	err := errors.Join(results...)
	if err != nil {
		m.logger.Error("alert delivery incomplete",
			"severity", severity.String(),
			"channels", len(channels),
			"error", err,
		)
	}
	return err
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}
