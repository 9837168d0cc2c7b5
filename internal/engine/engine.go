// Package engine coordinates the broker session, execution flow and
// supporting services behind the webhook API.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minhle/hooktrader/internal/alerting"
	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/execution"
	"github.com/minhle/hooktrader/internal/journal"
	"github.com/minhle/hooktrader/internal/metrics"
	"github.com/minhle/hooktrader/internal/types"
)

// Config holds engine configuration.
type Config struct {
	Contract      broker.Contract
	PricingMode   types.PricingMode
	DefaultBuyQty int
	PollInterval  time.Duration
	OrderDeadline time.Duration
	QuoteSettle   time.Duration
	// AlertEvents restricts which alert events are dispatched. Empty
	// means every event; "all" enables everything explicitly.
	AlertEvents []string
}

// DefaultConfig returns default engine config for the front-month MES contract.
func DefaultConfig() Config {
	return Config{
		Contract:      broker.MESContract(broker.FrontMonthExpiry(time.Now())),
		PricingMode:   types.PricingLimit,
		DefaultBuyQty: 3,
		PollInterval:  100 * time.Millisecond,
		OrderDeadline: 30 * time.Second,
		QuoteSettle:   execution.DefaultQuoteSettle,
	}
}

// Status describes the engine for the status endpoint.
type Status struct {
	Connected     bool   `json:"connected"`
	Symbol        string `json:"symbol"`
	Expiry        string `json:"expiry"`
	PricingMode   string `json:"pricing_mode"`
	OpenPositions int    `json:"open_positions"`
	Uptime        string `json:"uptime"`
}

// Engine ties the execution flow to the broker session and records every
// outcome in the journal.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	session  broker.Session
	quotes   *execution.SnapshotProvider
	executor *execution.Executor
	closer   *execution.Closer
	alerter  alerting.Alerter
	repo     journal.Repository
	recorder *metrics.Recorder

	// alertEvents is nil when every event is enabled.
	alertEvents map[alerting.AlertEvent]bool

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// NewEngine creates a new engine around a connected broker session.
// alerter and repo may be nil; those concerns are then skipped.
func NewEngine(
	cfg Config,
	session broker.Session,
	alerter alerting.Alerter,
	repo journal.Repository,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	recorder := metrics.NewRecorder()
	quotes := execution.NewSnapshotProvider(session, cfg.QuoteSettle, logger)
	executor := execution.NewExecutor(session, execution.ExecutorConfig{
		PollInterval:  cfg.PollInterval,
		OrderDeadline: cfg.OrderDeadline,
		OnFallback:    recorder.RecordFallback,
	}, logger)
	closer := execution.NewCloser(session, quotes, executor, cfg.PricingMode, logger)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		session:     session,
		quotes:      quotes,
		executor:    executor,
		closer:      closer,
		alerter:     alerter,
		repo:        repo,
		recorder:    recorder,
		alertEvents: alertEventSet(cfg.AlertEvents),
	}
}

// Start marks the engine running and announces it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info("starting engine",
		"symbol", e.cfg.Contract.Symbol,
		"expiry", e.cfg.Contract.Expiry,
		"pricing_mode", e.cfg.PricingMode,
	)

	e.recorder.RecordBrokerConnected(e.session.IsConnected())
	e.alert(ctx, alerting.EventBotStarted, "Trading engine started",
		"symbol", e.cfg.Contract.Symbol,
	)

	return nil
}

// Stop marks the engine stopped and announces it.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("stopping engine")
	e.alert(ctx, alerting.EventBotStopped, "Trading engine stopped")

	return nil
}

// Buy opens a long position of qty contracts. A qty of zero or less uses
// the configured default. The order price follows the configured pricing
// mode; an unusable quote degrades to a market order.
func (e *Engine) Buy(ctx context.Context, qty int) types.AggregateResult {
	if qty <= 0 {
		qty = e.cfg.DefaultBuyQty
	}

	if !e.session.IsConnected() {
		e.recorder.RecordBrokerConnected(false)
		return execution.FailedResult("broker not connected", types.ErrorKindConnection)
	}

	decision := e.decideBuyPrice(ctx)

	req, err := execution.BuildRequest(types.SideBuy, qty, decision)
	if err != nil {
		return execution.FailedResult(err.Error(), types.ErrorKindInternal)
	}

	started := time.Now()
	outcome := e.executor.ExecuteWithFallback(ctx, e.cfg.Contract, req)
	e.recorder.RecordOrderLatency(time.Since(started))
	e.recordOutcome("webhook_buy", outcome)

	if outcome.Success {
		e.alert(ctx, alerting.EventOrderFilled, "Buy order filled",
			"symbol", e.cfg.Contract.Symbol,
			"quantity", outcome.FilledQty,
			"avg_price", outcome.AvgPrice,
		)
	} else {
		e.alert(ctx, alerting.EventOrderRejected, "Buy order failed",
			"symbol", e.cfg.Contract.Symbol,
			"error", outcome.ErrorKind,
			"message", outcome.Message,
		)
	}

	return execution.SingleResult(outcome)
}

// decideBuyPrice picks the buy price per the configured mode. Quote or
// selection failures degrade to a market order rather than dropping the
// signal.
func (e *Engine) decideBuyPrice(ctx context.Context) execution.PriceDecision {
	if e.cfg.PricingMode == types.PricingMarket {
		return execution.MarketDecision()
	}

	started := time.Now()
	quote, err := e.quotes.GetQuote(ctx, e.cfg.Contract)
	e.recorder.RecordQuoteFetch(time.Since(started))
	if err != nil {
		e.logger.Warn("quote unavailable, using market order", "err", err)
		return execution.MarketDecision()
	}

	decision, err := execution.SelectPrice(quote, types.SideBuy, e.cfg.PricingMode)
	if err != nil {
		e.logger.Warn("price selection failed, using market order", "err", err)
		return execution.MarketDecision()
	}

	return decision
}

// CloseAllPositions offsets every open position and reports the combined
// result. Each per-position outcome is journaled individually.
func (e *Engine) CloseAllPositions(ctx context.Context) types.AggregateResult {
	result := e.closer.CloseAll(ctx, e.cfg.Contract)

	e.recorder.RecordCloseAll(result)
	for _, outcome := range result.Outcomes {
		e.recordOutcome("close_all", outcome)
	}

	if e.repo != nil {
		failed := 0
		for _, o := range result.Outcomes {
			if !o.Success {
				failed++
			}
		}
		rec := journal.CloseRunRecord{
			Timestamp:      result.Timestamp,
			Success:        result.Success,
			NothingToClose: result.NothingToClose,
			ClosedQty:      result.ClosedQty,
			Positions:      len(result.Outcomes),
			Failed:         failed,
			Message:        result.Message,
		}
		if err := e.repo.SaveCloseRun(ctx, rec); err != nil {
			e.logger.Error("failed to journal close run", "err", err)
		}
	}

	if !result.NothingToClose {
		summary := alerting.CloseSummary{Result: result, Symbol: e.cfg.Contract.Symbol}
		e.alert(ctx, summary.Event(), summary.Format())
	}

	return result
}

// Quote returns the current market snapshot for the configured contract.
func (e *Engine) Quote(ctx context.Context) (types.Quote, error) {
	started := time.Now()
	quote, err := e.quotes.GetQuote(ctx, e.cfg.Contract)
	e.recorder.RecordQuoteFetch(time.Since(started))
	return quote, err
}

// SubscribeQuotes opens a live quote line for the configured contract.
// The caller owns the line and must close it.
func (e *Engine) SubscribeQuotes(ctx context.Context) (broker.QuoteSub, error) {
	return e.session.SubscribeQuote(ctx, e.cfg.Contract)
}

// Status reports current engine state.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	startedAt := e.startedAt
	e.mu.Unlock()

	connected := e.session.IsConnected()
	e.recorder.RecordBrokerConnected(connected)

	open := 0
	if connected {
		if positions, err := e.session.Positions(ctx); err == nil {
			open = len(positions)
			e.recorder.RecordOpenPositions(open)
		}
	}

	uptime := ""
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Round(time.Second).String()
	}

	return Status{
		Connected:     connected,
		Symbol:        e.cfg.Contract.Symbol,
		Expiry:        e.cfg.Contract.Expiry,
		PricingMode:   e.cfg.PricingMode.String(),
		OpenPositions: open,
		Uptime:        uptime,
	}
}

// History returns recent journaled executions, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]journal.ExecutionRecord, error) {
	if e.repo == nil {
		return nil, nil
	}
	return e.repo.RecentExecutions(ctx, limit)
}

// recordOutcome journals an outcome and feeds the order metrics.
func (e *Engine) recordOutcome(source string, outcome types.ExecutionOutcome) {
	e.recorder.RecordOrder(e.cfg.Contract.Symbol, sideFromAction(outcome.Action), statusFromOutcome(outcome))

	if e.repo == nil {
		return
	}
	rec := journal.FromOutcome(source, e.cfg.Contract.Symbol, outcome)
	if err := e.repo.SaveExecution(context.Background(), rec); err != nil {
		e.logger.Error("failed to journal execution", "err", err)
	}
}

func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if e.alerter == nil {
		return
	}
	if e.alertEvents != nil && !e.alertEvents[event] {
		e.logger.Debug("alert event disabled", "event", string(event))
		return
	}
	if err := e.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		e.logger.Warn("failed to send alert", "event", string(event), "err", err)
	}
}

// alertEventSet builds the dispatch filter. An empty list or an "all" entry
// means no filtering.
func alertEventSet(events []string) map[alerting.AlertEvent]bool {
	if len(events) == 0 {
		return nil
	}
	set := make(map[alerting.AlertEvent]bool, len(events))
	for _, ev := range events {
		if ev == "all" {
			return nil
		}
		set[alerting.AlertEvent(ev)] = true
	}
	return set
}

// statusFromOutcome maps an execution outcome back to a terminal status
// label for metrics.
func statusFromOutcome(o types.ExecutionOutcome) types.OrderStatus {
	if o.Success {
		if o.FilledQty < o.Quantity {
			return types.OrderStatusPartialFill
		}
		return types.OrderStatusFilled
	}
	switch o.ErrorKind {
	case types.ErrorKindTimeout:
		return types.OrderStatusTimedOut
	case types.ErrorKindCancelled:
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusRejected
	}
}

func sideFromAction(action string) types.Side {
	if len(action) >= 4 && action[:4] == "SELL" {
		return types.SideSell
	}
	return types.SideBuy
}
