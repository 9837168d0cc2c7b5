// Package alerting provides notification capabilities for the trading engine.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventOrderFilled is sent when an order is filled.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderRejected is sent when an order is rejected.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventOrderTimedOut is sent when an order misses its fill deadline.
	EventOrderTimedOut AlertEvent = "order_timed_out"
	// EventCloseAll is sent after a close-all run completes.
	EventCloseAll AlertEvent = "close_all"
	// EventCloseAllFailed is sent when a close-all run leaves positions open.
	EventCloseAllFailed AlertEvent = "close_all_failed"
	// EventConnectionLost is sent when the broker connection drops.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the broker connection recovers.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventBotStarted is sent when the engine starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the engine stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventCloseAllFailed:
		return SeverityCritical
	case EventOrderTimedOut, EventConnectionLost:
		return SeverityHigh
	case EventOrderRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
