package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/alerting"
	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/broker/sim"
	"github.com/minhle/hooktrader/internal/metrics"
	"github.com/minhle/hooktrader/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Contract:      broker.MESContract("202509"),
		PricingMode:   types.PricingLimit,
		DefaultBuyQty: 3,
		PollInterval:  time.Millisecond,
		OrderDeadline: 50 * time.Millisecond,
		QuoteSettle:   time.Millisecond,
	}
}

func testSession() *sim.Session {
	s := sim.NewSession(quietLogger())
	s.SetQuote(types.Quote{
		Bid:       decimal.RequireFromString("6695.25"),
		Ask:       decimal.RequireFromString("6695.50"),
		HasBid:    true,
		HasAsk:    true,
		Timestamp: time.Now(),
	})
	return s
}

func TestEngine_Buy_DefaultQuantity(t *testing.T) {
	session := testSession()
	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	result := eng.Buy(context.Background(), 0)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(result.Outcomes))
	}

	orders := session.PlacedOrders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Quantity != 3 {
		t.Errorf("expected default quantity 3, got %d", orders[0].Quantity)
	}
	if orders[0].Side != types.SideBuy {
		t.Errorf("expected buy order, got %v", orders[0].Side)
	}
}

func TestEngine_Buy_LimitAtBid(t *testing.T) {
	session := testSession()
	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	result := eng.Buy(context.Background(), 2)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	orders := session.PlacedOrders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Mode != types.PricingLimit {
		t.Errorf("expected limit order, got %v", orders[0].Mode)
	}
	if !orders[0].LimitPrice.Equal(decimal.RequireFromString("6695.25")) {
		t.Errorf("expected limit at bid 6695.25, got %s", orders[0].LimitPrice)
	}
}

func TestEngine_Buy_MarketMode(t *testing.T) {
	cfg := testConfig()
	cfg.PricingMode = types.PricingMarket

	session := testSession()
	eng := NewEngine(cfg, session, nil, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	orders := session.PlacedOrders()
	if orders[0].Mode != types.PricingMarket {
		t.Errorf("expected market order, got %v", orders[0].Mode)
	}
	// Market mode never opens a quote line.
	if session.OpenQuoteSubs() != 0 {
		t.Errorf("expected no quote subscriptions, got %d", session.OpenQuoteSubs())
	}
}

func TestEngine_Buy_NoQuoteFallsBackToMarket(t *testing.T) {
	session := sim.NewSession(quietLogger())
	session.SetQuote(types.Quote{}) // no market data

	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if !result.Success {
		t.Fatalf("expected success via market fallback, got %+v", result)
	}

	orders := session.PlacedOrders()
	if orders[0].Mode != types.PricingMarket {
		t.Errorf("expected market order after quote failure, got %v", orders[0].Mode)
	}
}

func TestEngine_Buy_NotConnected(t *testing.T) {
	session := testSession()
	session.SetConnected(false)

	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if result.Success {
		t.Fatal("expected failure when disconnected")
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].ErrorKind != types.ErrorKindConnection {
		t.Errorf("expected connection error outcome, got %+v", result.Outcomes)
	}
}

func TestEngine_Buy_AlertsOnFill(t *testing.T) {
	session := testSession()
	mock := alerting.NewMockAlerter()

	eng := NewEngine(testConfig(), session, mock, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if !mock.HasAlertContaining("Buy order filled") {
		t.Error("expected fill alert")
	}
}

func TestEngine_Buy_AlertsOnRejection(t *testing.T) {
	session := testSession()
	session.QueueBehavior(
		sim.Behavior{Mode: sim.FillReject, Reason: "insufficient margin"},
		sim.Behavior{Mode: sim.FillReject, Reason: "insufficient margin"},
	)
	mock := alerting.NewMockAlerter()

	eng := NewEngine(testConfig(), session, mock, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if result.Success {
		t.Fatal("expected failure")
	}

	if !mock.HasAlertWithSeverity(alerting.SeverityWarning) {
		t.Error("expected rejection alert")
	}
}

func TestEngine_Buy_RecordsFallback(t *testing.T) {
	session := testSession()
	session.QueueBehavior(sim.Behavior{Mode: sim.FillReject, Reason: "price away from market"})

	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	before := testutil.ToFloat64(metrics.FallbacksTotal)
	result := eng.Buy(context.Background(), 1)
	if !result.Success {
		t.Fatalf("expected success via market fallback, got %+v", result)
	}
	if len(session.PlacedOrders()) != 2 {
		t.Fatalf("expected 2 orders (limit then market), got %d", len(session.PlacedOrders()))
	}
	if got := testutil.ToFloat64(metrics.FallbacksTotal) - before; got != 1 {
		t.Errorf("fallback counter moved by %v, want 1", got)
	}
}

func TestEngine_AlertEventFilter_SuppressesDisabled(t *testing.T) {
	session := testSession()
	mock := alerting.NewMockAlerter()

	cfg := testConfig()
	cfg.AlertEvents = []string{"close_all_failed"}
	eng := NewEngine(cfg, session, mock, nil, quietLogger())

	result := eng.Buy(context.Background(), 1)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if mock.Count() != 0 {
		t.Errorf("disabled event dispatched %d alerts, want 0", mock.Count())
	}
}

func TestEngine_AlertEventFilter_PassesEnabled(t *testing.T) {
	session := testSession()
	mock := alerting.NewMockAlerter()

	cfg := testConfig()
	cfg.AlertEvents = []string{"order_filled"}
	eng := NewEngine(cfg, session, mock, nil, quietLogger())

	if result := eng.Buy(context.Background(), 1); !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !mock.HasAlertContaining("Buy order filled") {
		t.Error("expected fill alert for an enabled event")
	}
}

func TestEngine_AlertEventFilter_AllKeyword(t *testing.T) {
	session := testSession()
	mock := alerting.NewMockAlerter()

	cfg := testConfig()
	cfg.AlertEvents = []string{"all"}
	eng := NewEngine(cfg, session, mock, nil, quietLogger())

	if result := eng.Buy(context.Background(), 1); !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !mock.HasAlertContaining("Buy order filled") {
		t.Error("expected fill alert when events list is \"all\"")
	}
}

func TestEngine_CloseAllPositions(t *testing.T) {
	session := testSession()
	session.SetPositions([]types.Position{
		{ContractID: 1, Symbol: "MES", SignedQty: 3, AvgCost: decimal.RequireFromString("6690")},
		{ContractID: 2, Symbol: "MES", SignedQty: -2, AvgCost: decimal.RequireFromString("6700")},
	})

	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	result := eng.CloseAllPositions(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ClosedQty != 5 {
		t.Errorf("expected 5 contracts closed, got %d", result.ClosedQty)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}
}

func TestEngine_CloseAllPositions_Empty(t *testing.T) {
	session := testSession()
	mock := alerting.NewMockAlerter()

	eng := NewEngine(testConfig(), session, mock, nil, quietLogger())

	result := eng.CloseAllPositions(context.Background())
	if !result.Success || !result.NothingToClose {
		t.Fatalf("expected nothing-to-close success, got %+v", result)
	}

	// The empty book does not warrant a notification.
	if mock.Count() != 0 {
		t.Errorf("expected no alerts, got %d", mock.Count())
	}
}

func TestEngine_CloseAllPositions_AlertsOnFailure(t *testing.T) {
	session := testSession()
	session.SetPositions([]types.Position{
		{ContractID: 1, Symbol: "MES", SignedQty: 2, AvgCost: decimal.RequireFromString("6690")},
	})
	// Both the limit attempt and the market fallback fail.
	session.QueueBehavior(
		sim.Behavior{Mode: sim.FillReject, Reason: "margin"},
		sim.Behavior{Mode: sim.FillReject, Reason: "margin"},
	)
	mock := alerting.NewMockAlerter()

	eng := NewEngine(testConfig(), session, mock, nil, quietLogger())

	result := eng.CloseAllPositions(context.Background())
	if result.Success {
		t.Fatal("expected failure")
	}

	if !mock.HasAlertWithSeverity(alerting.SeverityCritical) {
		t.Error("expected critical alert for failed close-all")
	}
}

func TestEngine_Quote(t *testing.T) {
	session := testSession()
	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())

	quote, err := eng.Quote(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Bid.Equal(decimal.RequireFromString("6695.25")) {
		t.Errorf("bid = %s, want 6695.25", quote.Bid)
	}
	// The line is released once the snapshot is taken.
	if session.OpenQuoteSubs() != 0 {
		t.Errorf("expected quote line to be closed, got %d open", session.OpenQuoteSubs())
	}
}

func TestEngine_Status(t *testing.T) {
	session := testSession()
	session.SetPositions([]types.Position{
		{ContractID: 1, Symbol: "MES", SignedQty: 3},
	})

	eng := NewEngine(testConfig(), session, nil, nil, quietLogger())
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop(context.Background())

	status := eng.Status(context.Background())
	if !status.Connected {
		t.Error("expected connected status")
	}
	if status.Symbol != "MES" {
		t.Errorf("symbol = %s, want MES", status.Symbol)
	}
	if status.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", status.OpenPositions)
	}
	if status.PricingMode != "LIMIT" {
		t.Errorf("pricing mode = %s, want LIMIT", status.PricingMode)
	}
}

func TestEngine_StartTwice(t *testing.T) {
	eng := NewEngine(testConfig(), testSession(), nil, nil, quietLogger())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := eng.Start(context.Background()); err == nil {
		t.Error("expected error on second start")
	}
}
