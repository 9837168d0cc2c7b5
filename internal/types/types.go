// Package types defines shared types used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PricingMode determines how an order is priced.
type PricingMode int

const (
	PricingMarket PricingMode = iota
	PricingLimit
)

func (m PricingMode) String() string {
	switch m {
	case PricingMarket:
		return "MARKET"
	case PricingLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus represents the state of a submitted order.
type OrderStatus int

const (
	OrderStatusSubmitted OrderStatus = iota
	OrderStatusFilled
	OrderStatusPartialFill
	OrderStatusRejected
	OrderStatusCancelled
	OrderStatusTimedOut
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusTimedOut:
		return true
	default:
		return false
	}
}

// Quote is a point-in-time market snapshot. Either side of the book may be
// absent (thin market, data not yet delivered); an absent side is tracked
// explicitly and never reported as a zero price.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	HasBid    bool
	HasAsk    bool
	HasLast   bool
	Timestamp time.Time
}

// Spread returns ask-bid, or false if either side is absent.
func (q Quote) Spread() (decimal.Decimal, bool) {
	if !q.HasBid || !q.HasAsk {
		return decimal.Zero, false
	}
	return q.Ask.Sub(q.Bid), true
}

// Empty returns true when no quote side was populated.
func (q Quote) Empty() bool {
	return !q.HasBid && !q.HasAsk
}

// OrderRequest describes one order to be submitted. Immutable once built.
type OrderRequest struct {
	ClientOrderID string
	Side          Side
	Quantity      int
	Mode          PricingMode
	LimitPrice    decimal.Decimal
}

// AsMarket returns a copy of the request repriced as a market order.
// Used by the fallback policy after a failed limit attempt.
func (r OrderRequest) AsMarket() OrderRequest {
	r.Mode = PricingMarket
	r.LimitPrice = decimal.Zero
	return r
}

// Position is a point-in-time read of a broker holding. Positive quantity is
// long, negative is short. The engine never mutates positions directly; they
// are closed only by submitting offsetting orders.
type Position struct {
	ContractID int64
	Symbol     string
	SignedQty  int
	AvgCost    decimal.Decimal
}

// AbsQty returns the unsigned position size.
func (p Position) AbsQty() int {
	if p.SignedQty < 0 {
		return -p.SignedQty
	}
	return p.SignedQty
}

// ClosingSide returns the order side that offsets the position.
func (p Position) ClosingSide() Side {
	if p.SignedQty > 0 {
		return SideSell
	}
	return SideBuy
}

// Error kinds carried on failed execution outcomes.
const (
	ErrorKindNoMarketData = "no_market_data"
	ErrorKindRejected     = "rejected"
	ErrorKindTimeout      = "timeout"
	ErrorKindCancelled    = "cancelled"
	ErrorKindConnection   = "connection"
	ErrorKindInternal     = "internal"
)

// ExecutionOutcome is the result of one order attempt.
type ExecutionOutcome struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	OrderID   string          `json:"order_id,omitempty"`
	Action    string          `json:"action,omitempty"`
	Quantity  int             `json:"quantity"`
	FilledQty int             `json:"filled_quantity"`
	AvgPrice  decimal.Decimal `json:"average_price"`
	ErrorKind string          `json:"error,omitempty"`
}

// AggregateResult merges one or more execution outcomes into a single
// JSON-serializable response. Outcomes preserve enumeration order.
type AggregateResult struct {
	Success        bool               `json:"success"`
	NothingToClose bool               `json:"nothing_to_close,omitempty"`
	Message        string             `json:"message"`
	ClosedQty      int                `json:"closed_quantity,omitempty"`
	Outcomes       []ExecutionOutcome `json:"results"`
	Timestamp      time.Time          `json:"timestamp"`
}
