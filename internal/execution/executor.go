// Package execution implements the order execution and position closing
// engine: price selection, order construction, bounded status polling, the
// limit-to-market fallback policy, and result aggregation.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

// ExecutorConfig holds polling parameters for one order attempt.
type ExecutorConfig struct {
	// PollInterval is the delay between order status checks.
	PollInterval time.Duration
	// OrderDeadline bounds the whole attempt; an order with no terminal
	// broker status by then is reported as timed out.
	OrderDeadline time.Duration
	// OnFallback, when set, is invoked each time a limit attempt is
	// retried at market. Used to feed the fallback counter.
	OnFallback func()
}

// DefaultExecutorConfig returns the documented defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		PollInterval:  100 * time.Millisecond,
		OrderDeadline: 30 * time.Second,
	}
}

// Executor submits single order attempts against the broker session and
// drives the status poll loop to a terminal outcome.
type Executor struct {
	session broker.Session
	cfg     ExecutorConfig
	logger  *slog.Logger
}

// NewExecutor creates an executor. Zero config fields fall back to defaults.
func NewExecutor(session broker.Session, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.OrderDeadline <= 0 {
		cfg.OrderDeadline = def.OrderDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		session: session,
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute submits one order and polls its status until a terminal state or
// the deadline. This is a single attempt: any limit-to-market fallback is an
// explicit second call, never hidden in here.
//
// A timed out order is not cancelled; the executor stops observing it and the
// order may still fill later. Reconciling stale fills is upstream's job.
func (e *Executor) Execute(ctx context.Context, contract broker.Contract, req types.OrderRequest) types.ExecutionOutcome {
	if !e.session.IsConnected() {
		return types.ExecutionOutcome{
			Success:   false,
			Message:   types.ErrNotConnected.Error(),
			Action:    actionLabel(req),
			Quantity:  req.Quantity,
			ErrorKind: types.ErrorKindConnection,
		}
	}

	start := time.Now()

	handle, err := e.session.PlaceOrder(ctx, contract, req)
	if err != nil {
		e.logger.Error("order placement failed",
			"symbol", contract.Symbol,
			"side", req.Side,
			"quantity", req.Quantity,
			"err", err,
		)
		return types.ExecutionOutcome{
			Success:   false,
			Message:   fmt.Sprintf("place order: %v", err),
			Action:    actionLabel(req),
			Quantity:  req.Quantity,
			ErrorKind: placementErrorKind(err),
		}
	}

	e.logger.Info("order placed",
		"order_id", handle.OrderID,
		"client_order_id", req.ClientOrderID,
		"symbol", contract.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"mode", req.Mode,
		"limit_price", req.LimitPrice,
	)

	var last broker.StatusReport
	pollErr := pollUntil(ctx, e.cfg.PollInterval, e.cfg.OrderDeadline, func() (bool, error) {
		report, err := e.session.OrderStatus(ctx, handle)
		if err != nil {
			return false, err
		}
		last = report
		return report.Status.IsFinal(), nil
	})

	outcome := e.resolve(handle, req, last, pollErr)

	e.logger.Info("order attempt resolved",
		"order_id", handle.OrderID,
		"success", outcome.Success,
		"filled", outcome.FilledQty,
		"avg_price", outcome.AvgPrice,
		"error_kind", outcome.ErrorKind,
		"elapsed", time.Since(start),
	)

	return outcome
}

// resolve folds the final poll state into an execution outcome. The broker's
// reported fill quantity and average price are taken verbatim, never
// recomputed.
func (e *Executor) resolve(handle broker.OrderHandle, req types.OrderRequest, last broker.StatusReport, pollErr error) types.ExecutionOutcome {
	outcome := types.ExecutionOutcome{
		OrderID:  handle.OrderID,
		Action:   actionLabel(req),
		Quantity: req.Quantity,
	}

	switch {
	case pollErr == nil:
		switch last.Status {
		case types.OrderStatusFilled:
			outcome.Success = true
			outcome.FilledQty = last.FilledQty
			outcome.AvgPrice = last.AvgFillPrice
			outcome.Message = fmt.Sprintf("filled %d contracts at %s", last.FilledQty, last.AvgFillPrice)
		case types.OrderStatusRejected:
			outcome.ErrorKind = types.ErrorKindRejected
			outcome.Message = rejectMessage(last.RejectReason)
		case types.OrderStatusCancelled:
			outcome.ErrorKind = types.ErrorKindCancelled
			outcome.Message = "order cancelled by broker"
		case types.OrderStatusTimedOut:
			outcome.ErrorKind = types.ErrorKindTimeout
			outcome.Message = "order timed out at broker"
		default:
			outcome.ErrorKind = types.ErrorKindInternal
			outcome.Message = fmt.Sprintf("unexpected terminal status: %s", last.Status)
		}

	case errors.Is(pollErr, ErrPollDeadline):
		if last.Status == types.OrderStatusPartialFill && last.FilledQty > 0 {
			// Degraded success: the partial quantity is real and is
			// surfaced as-is, never retried here.
			outcome.Success = true
			outcome.FilledQty = last.FilledQty
			outcome.AvgPrice = last.AvgFillPrice
			outcome.Message = fmt.Sprintf("partially filled %d of %d contracts at %s before deadline",
				last.FilledQty, req.Quantity, last.AvgFillPrice)
		} else {
			outcome.ErrorKind = types.ErrorKindTimeout
			outcome.Message = fmt.Sprintf("order not filled within %s; order left working", e.cfg.OrderDeadline)
		}

	case errors.Is(pollErr, context.Canceled), errors.Is(pollErr, context.DeadlineExceeded):
		outcome.ErrorKind = types.ErrorKindCancelled
		outcome.Message = "request cancelled; stopped observing order"

	default:
		outcome.ErrorKind = types.ErrorKindConnection
		outcome.Message = fmt.Sprintf("order status poll failed: %v", pollErr)
	}

	return outcome
}

// ExecuteWithFallback runs one attempt and, when a limit attempt is rejected
// or times out, exactly one more attempt as a market order. The retry is a
// fresh order with its own client order ID.
func (e *Executor) ExecuteWithFallback(ctx context.Context, contract broker.Contract, req types.OrderRequest) types.ExecutionOutcome {
	outcome := e.Execute(ctx, contract, req)
	if !ShouldFallback(req, outcome) {
		return outcome
	}

	e.logger.Warn("limit attempt failed, retrying at market",
		"symbol", contract.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"error_kind", outcome.ErrorKind,
	)
	if e.cfg.OnFallback != nil {
		e.cfg.OnFallback()
	}

	retry := req.AsMarket()
	retry.ClientOrderID = uuid.New().String()
	return e.Execute(ctx, contract, retry)
}

// ShouldFallback is the limit-to-market retry decision table: retry once at
// market when a limit attempt was rejected or timed out.
func ShouldFallback(req types.OrderRequest, outcome types.ExecutionOutcome) bool {
	if req.Mode != types.PricingLimit || outcome.Success {
		return false
	}
	return outcome.ErrorKind == types.ErrorKindRejected || outcome.ErrorKind == types.ErrorKindTimeout
}

func actionLabel(req types.OrderRequest) string {
	if req.Mode == types.PricingLimit {
		return req.Side.String() + "_LIMIT"
	}
	return req.Side.String() + "_MARKET"
}

func rejectMessage(reason string) string {
	if reason == "" {
		return "order rejected by broker"
	}
	return "order rejected: " + reason
}

func placementErrorKind(err error) string {
	switch {
	case errors.Is(err, broker.ErrNotConnected), errors.Is(err, types.ErrNotConnected):
		return types.ErrorKindConnection
	case errors.Is(err, types.ErrInvalidQuantity):
		return types.ErrorKindInternal
	default:
		return types.ErrorKindInternal
	}
}
