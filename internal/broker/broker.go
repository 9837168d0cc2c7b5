// Package broker provides broker connectivity for live trading.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected      = errors.New("broker not connected")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrInvalidContract   = errors.New("invalid contract")
	ErrUnknownOrder      = errors.New("unknown order handle")
	ErrRateLimited       = errors.New("rate limited by broker")
)

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// OrderHandle identifies a submitted order for status polling.
type OrderHandle struct {
	OrderID       string
	ClientOrderID string
	SubmittedAt   time.Time
}

// StatusReport is the broker's view of a submitted order.
type StatusReport struct {
	Status       types.OrderStatus
	FilledQty    int
	AvgFillPrice decimal.Decimal
	RejectReason string
}

// QuoteSub is an open market data line for one contract. Callers read the
// current snapshot and close the line when done; the broker delivers data
// asynchronously, so a fresh subscription may take a moment to populate.
type QuoteSub interface {
	// Snapshot returns the current quote. Sides that have not been delivered
	// yet are reported as absent, never as zero prices.
	Snapshot() types.Quote

	// Close releases the market data line.
	Close() error
}

// Session is the connected broker session the execution engine runs against.
// Implementations must tolerate concurrent order placement; the engine issues
// requests from independent webhook flows against one shared session.
type Session interface {
	// PlaceOrder submits an order and returns a handle for status polling.
	PlaceOrder(ctx context.Context, contract Contract, req types.OrderRequest) (OrderHandle, error)

	// OrderStatus reports the current state of a previously placed order.
	// Polling after a terminal state must keep returning the same report.
	OrderStatus(ctx context.Context, handle OrderHandle) (StatusReport, error)

	// SubscribeQuote opens a market data line for the contract.
	SubscribeQuote(ctx context.Context, contract Contract) (QuoteSub, error)

	// Positions returns all current non-zero holdings.
	Positions(ctx context.Context) ([]types.Position, error)

	// IsConnected reports whether the session is usable.
	IsConnected() bool
}

// Contract represents a tradeable contract.
type Contract struct {
	Symbol      string
	SecType     string // FUT, STK, OPT, etc.
	Exchange    string
	Currency    string
	LocalSymbol string
	Multiplier  int
	Expiry      string // YYYYMMDD or YYYYMM for futures
}

// ESContract returns the CME E-mini S&P 500 futures contract specification.
func ESContract(expiry string) Contract {
	return Contract{
		Symbol:      "ES",
		SecType:     "FUT",
		Exchange:    "CME",
		Currency:    "USD",
		LocalSymbol: "ES" + expiry,
		Multiplier:  50,
		Expiry:      expiry,
	}
}

// MESContract returns the Micro E-mini S&P 500 futures contract specification.
func MESContract(expiry string) Contract {
	return Contract{
		Symbol:      "MES",
		SecType:     "FUT",
		Exchange:    "CME",
		Currency:    "USD",
		LocalSymbol: "MES" + expiry,
		Multiplier:  5,
		Expiry:      expiry,
	}
}

// FrontMonthExpiry returns the front month expiry in YYYYMM format.
// ES futures expire on the 3rd Friday of Mar, Jun, Sep, Dec.
func FrontMonthExpiry(now time.Time) string {
	year := now.Year()
	month := now.Month()

	quarterlyMonths := []time.Month{3, 6, 9, 12}
	for _, qm := range quarterlyMonths {
		if month <= qm {
			thirdFriday := thirdFridayOf(year, qm)
			if now.Before(thirdFriday) {
				return formatExpiry(year, qm)
			}
		}
	}

	// Roll to next year's March
	return formatExpiry(year+1, 3)
}

func thirdFridayOf(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)

	daysUntilFriday := (time.Friday - first.Weekday() + 7) % 7
	firstFriday := first.AddDate(0, 0, int(daysUntilFriday))

	return firstFriday.AddDate(0, 0, 14)
}

func formatExpiry(year int, month time.Month) string {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("200601")
}
