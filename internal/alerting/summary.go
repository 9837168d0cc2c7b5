package alerting

import (
	"fmt"
	"strings"

	"github.com/minhle/hooktrader/internal/types"
)

// CloseSummary describes a completed close-all run for notification.
type CloseSummary struct {
	Result types.AggregateResult
	Symbol string
}

// Event returns the alert event matching the run result.
func (s CloseSummary) Event() AlertEvent {
	if !s.Result.Success {
		return EventCloseAllFailed
	}
	return EventCloseAll
}

// Format renders the summary as a multi-line message.
func (s CloseSummary) Format() string {
	r := s.Result

	if r.NothingToClose {
		return fmt.Sprintf("Close-all on %s: no positions to close", s.Symbol)
	}

	var b strings.Builder
	header := "Close-all completed"
	if !r.Success {
		header = "Close-all FAILED"
	}
	fmt.Fprintf(&b, "%s on %s: %s", header, s.Symbol, r.Message)

	for _, o := range r.Outcomes {
		status := "ok"
		if !o.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "\n• %s x%d: %s (%s)", o.Action, o.Quantity, status, o.Message)
	}

	return b.String()
}
