// Package journal persists execution outcomes for audit and the history API.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/types"
)

// Repository defines the interface for the execution journal.
type Repository interface {
	// SaveExecution records a single order execution outcome.
	SaveExecution(ctx context.Context, rec ExecutionRecord) error

	// RecentExecutions returns the most recent execution records, newest first.
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)

	// SaveCloseRun records the aggregate result of a close-all run.
	SaveCloseRun(ctx context.Context, rec CloseRunRecord) error

	// RecentCloseRuns returns the most recent close-all runs, newest first.
	RecentCloseRuns(ctx context.Context, limit int) ([]CloseRunRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionRecord represents a persisted execution outcome.
type ExecutionRecord struct {
	ID            int64
	Timestamp     time.Time
	Source        string // webhook_buy | close_all
	Symbol        string
	Action        string
	Quantity      int
	FilledQty     int
	AvgPrice      decimal.Decimal
	Success       bool
	Message       string
	ErrorKind     string
	OrderID       string
	ClientOrderID string
}

// FromOutcome builds an execution record from an outcome.
func FromOutcome(source, symbol string, outcome types.ExecutionOutcome) ExecutionRecord {
	return ExecutionRecord{
		Timestamp: time.Now(),
		Source:    source,
		Symbol:    symbol,
		Action:    outcome.Action,
		Quantity:  outcome.Quantity,
		FilledQty: outcome.FilledQty,
		AvgPrice:  outcome.AvgPrice,
		Success:   outcome.Success,
		Message:   outcome.Message,
		ErrorKind: outcome.ErrorKind,
		OrderID:   outcome.OrderID,
	}
}

// CloseRunRecord represents a persisted close-all run.
type CloseRunRecord struct {
	ID             int64
	Timestamp      time.Time
	Success        bool
	NothingToClose bool
	ClosedQty      int
	Positions      int
	Failed         int
	Message        string
}
