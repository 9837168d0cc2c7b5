package execution

import (
	"fmt"
	"time"

	"github.com/minhle/hooktrader/internal/types"
)

// Aggregate folds an ordered sequence of execution outcomes into a single
// result. Order is preserved and no outcome is ever dropped. An empty
// sequence is the explicit "nothing to close" state, distinct from a real
// attempt that filled zero contracts.
func Aggregate(outcomes []types.ExecutionOutcome) types.AggregateResult {
	result := types.AggregateResult{
		Outcomes:  outcomes,
		Timestamp: time.Now(),
	}

	if len(outcomes) == 0 {
		result.Success = true
		result.NothingToClose = true
		result.Message = "no positions to close"
		result.Outcomes = []types.ExecutionOutcome{}
		return result
	}

	result.Success = true
	failed := 0
	for _, o := range outcomes {
		if o.Success {
			result.ClosedQty += o.FilledQty
		} else {
			result.Success = false
			failed++
		}
	}

	switch {
	case len(outcomes) == 1:
		result.Message = outcomes[0].Message
	case failed == 0:
		result.Message = fmt.Sprintf("closed %d contracts across %d positions", result.ClosedQty, len(outcomes))
	default:
		result.Message = fmt.Sprintf("closed %d contracts; %d of %d positions failed",
			result.ClosedQty, failed, len(outcomes))
	}

	return result
}

// SingleResult wraps one outcome as an aggregate, for the buy path.
func SingleResult(outcome types.ExecutionOutcome) types.AggregateResult {
	return Aggregate([]types.ExecutionOutcome{outcome})
}

// FailedResult builds an aggregate for a request that failed before any
// order attempt could be made.
func FailedResult(message, errorKind string) types.AggregateResult {
	return types.AggregateResult{
		Success: false,
		Message: message,
		Outcomes: []types.ExecutionOutcome{{
			Success:   false,
			Message:   message,
			ErrorKind: errorKind,
		}},
		Timestamp: time.Now(),
	}
}
