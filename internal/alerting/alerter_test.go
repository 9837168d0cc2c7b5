package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %s, want %s", tt.severity, got, tt.want)
		}
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventCloseAllFailed, SeverityCritical},
		{EventOrderTimedOut, SeverityHigh},
		{EventConnectionLost, SeverityHigh},
		{EventOrderRejected, SeverityWarning},
		{EventOrderFilled, SeverityInfo},
		{EventCloseAll, SeverityInfo},
		{EventBotStarted, SeverityInfo},
	}

	for _, tt := range tests {
		if got := EventSeverity(tt.event); got != tt.want {
			t.Errorf("EventSeverity(%s) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{"empty", nil, ""},
		{"single pair", []any{"symbol", "MES"}, "• symbol: MES"},
		{"two pairs", []any{"symbol", "MES", "qty", 3}, "• symbol: MES\n• qty: 3"},
		{"non-string key skipped", []any{42, "x", "symbol", "MES"}, "• symbol: MES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleAlerter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerter := NewConsoleAlerter(logger)

	if alerter.Name() != "console" {
		t.Errorf("Name() = %s, want console", alerter.Name())
	}

	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical} {
		if err := alerter.Alert(context.Background(), sev, "test", "k", "v"); err != nil {
			t.Errorf("Alert(%v) returned error: %v", sev, err)
		}
	}
}

func TestMultiAlerter_FanOut(t *testing.T) {
	m1 := NewMockAlerter()
	m2 := NewMockAlerter()

	multi := NewMultiAlerter(slog.New(slog.NewTextHandler(io.Discard, nil)), m1, m2)

	err := multi.Alert(context.Background(), SeverityWarning, "order rejected", "reason", "margin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m1.Count() != 1 || m2.Count() != 1 {
		t.Errorf("expected both alerters to receive the alert, got %d and %d", m1.Count(), m2.Count())
	}

	last := m1.LastAlert()
	if last == nil || last.Severity != SeverityWarning {
		t.Errorf("unexpected captured alert: %+v", last)
	}
}

func TestMultiAlerter_JoinsErrors(t *testing.T) {
	failing := NewMockAlerter()
	failErr := errors.New("telegram down")
	failing.SetError(failErr)

	working := NewMockAlerter()

	multi := NewMultiAlerter(slog.New(slog.NewTextHandler(io.Discard, nil)), failing, working)

	err := multi.Alert(context.Background(), SeverityCritical, "close-all failed")
	if err == nil {
		t.Fatal("expected error from failing channel")
	}
	if !errors.Is(err, failErr) {
		t.Errorf("expected wrapped channel error, got %v", err)
	}

	// The working channel still received it.
	if working.Count() != 1 {
		t.Errorf("expected working channel to receive alert, got %d", working.Count())
	}
}

func TestMultiAlerter_Empty(t *testing.T) {
	multi := NewMultiAlerter(nil)

	if err := multi.Alert(context.Background(), SeverityInfo, "no channels"); err != nil {
		t.Errorf("expected nil error with no channels, got %v", err)
	}
}

func TestMultiAlerter_AddAlerter(t *testing.T) {
	multi := NewMultiAlerter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mock := NewMockAlerter()
	multi.AddAlerter(mock)

	if err := multi.AlertEvent(context.Background(), EventOrderTimedOut, "order left working"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mock.HasAlertWithSeverity(SeverityHigh) {
		t.Error("expected event severity to be applied")
	}
	if !mock.HasAlertContaining("left working") {
		t.Error("expected message to be delivered")
	}
}
