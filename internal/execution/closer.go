package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

// Closer flattens all open positions of the traded instrument by submitting
// offsetting orders, one per position. Positions are processed independently:
// one failed close never prevents attempts on the rest.
type Closer struct {
	session  broker.Session
	quotes   *SnapshotProvider
	executor *Executor
	mode     types.PricingMode
	logger   *slog.Logger
}

// NewCloser creates a position closer using the given global pricing mode.
func NewCloser(session broker.Session, quotes *SnapshotProvider, executor *Executor, mode types.PricingMode, logger *slog.Logger) *Closer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Closer{
		session:  session,
		quotes:   quotes,
		executor: executor,
		mode:     mode,
		logger:   logger,
	}
}

// CloseAll enumerates non-zero positions and offsets each one: long
// positions are sold, short positions are bought back. Outcomes are
// aggregated in enumeration order.
func (c *Closer) CloseAll(ctx context.Context, contract broker.Contract) types.AggregateResult {
	if !c.session.IsConnected() {
		return FailedResult(types.ErrNotConnected.Error(), types.ErrorKindConnection)
	}

	positions, err := c.session.Positions(ctx)
	if err != nil {
		c.logger.Error("position enumeration failed", "err", err)
		return FailedResult(fmt.Sprintf("list positions: %v", err), types.ErrorKindConnection)
	}

	var open []types.Position
	for _, p := range positions {
		if p.SignedQty != 0 {
			open = append(open, p)
		}
	}

	if len(open) == 0 {
		c.logger.Info("no positions to close")
		return Aggregate(nil)
	}

	c.logger.Info("closing positions", "count", len(open))

	outcomes := make([]types.ExecutionOutcome, 0, len(open))
	for i, pos := range open {
		c.logger.Info("processing position",
			"index", i+1,
			"total", len(open),
			"symbol", pos.Symbol,
			"signed_qty", pos.SignedQty,
		)
		outcomes = append(outcomes, c.closePosition(ctx, contract, pos))
	}

	return Aggregate(outcomes)
}

// closePosition builds and executes one offsetting order. Any panic inside
// an attempt becomes a failed outcome so the aggregate never loses an entry.
func (c *Closer) closePosition(ctx context.Context, contract broker.Contract, pos types.Position) (outcome types.ExecutionOutcome) {
	side := pos.ClosingSide()
	quantity := pos.AbsQty()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("close attempt panicked", "symbol", pos.Symbol, "panic", r)
			outcome = types.ExecutionOutcome{
				Success:   false,
				Message:   fmt.Sprintf("close attempt failed: %v", r),
				Action:    side.String(),
				Quantity:  quantity,
				ErrorKind: types.ErrorKindInternal,
			}
		}
	}()

	decision := c.decidePrice(ctx, contract, side)

	req, err := BuildRequest(side, quantity, decision)
	if err != nil {
		return types.ExecutionOutcome{
			Success:   false,
			Message:   fmt.Sprintf("build close order: %v", err),
			Action:    side.String(),
			Quantity:  quantity,
			ErrorKind: types.ErrorKindInternal,
		}
	}

	return c.executor.ExecuteWithFallback(ctx, contract, req)
}

// decidePrice picks the closing price policy. Missing market data is an
// explicit fallback to market pricing, never a zero-priced limit.
func (c *Closer) decidePrice(ctx context.Context, contract broker.Contract, side types.Side) PriceDecision {
	if c.mode == types.PricingMarket {
		return MarketDecision()
	}

	quote, err := c.quotes.GetQuote(ctx, contract)
	if err != nil {
		c.logger.Warn("quote unavailable for close, using market order",
			"symbol", contract.Symbol,
			"side", side,
			"err", err,
		)
		return MarketDecision()
	}

	decision, err := SelectPrice(quote, side, c.mode)
	if err != nil {
		c.logger.Warn("required quote side missing, using market order",
			"symbol", contract.Symbol,
			"side", side,
			"err", err,
		)
		return MarketDecision()
	}

	return decision
}
