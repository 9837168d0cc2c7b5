package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

func newTestSession() *Session {
	return NewSession(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSession_PlaceOrder_Disconnected(t *testing.T) {
	s := newTestSession()
	s.SetConnected(false)

	_, err := s.PlaceOrder(context.Background(), broker.ESContract("20251219"), types.OrderRequest{
		Side: types.SideBuy, Quantity: 1,
	})
	if !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSession_PlaceOrder_InvalidQuantity(t *testing.T) {
	s := newTestSession()

	_, err := s.PlaceOrder(context.Background(), broker.ESContract("20251219"), types.OrderRequest{
		Side: types.SideBuy, Quantity: 0,
	})
	if !errors.Is(err, types.ErrInvalidQuantity) {
		t.Errorf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestSession_OrderStatus_UnknownHandle(t *testing.T) {
	s := newTestSession()

	_, err := s.OrderStatus(context.Background(), broker.OrderHandle{OrderID: "999"})
	if !errors.Is(err, broker.ErrUnknownOrder) {
		t.Errorf("err = %v, want ErrUnknownOrder", err)
	}
}

func TestSession_FillMutatesBook(t *testing.T) {
	s := newTestSession()
	s.SetQuote(types.Quote{Last: decimal.RequireFromString("6700"), HasLast: true})

	handle, err := s.PlaceOrder(context.Background(), broker.ESContract("20251219"), types.OrderRequest{
		ClientOrderID: "c1", Side: types.SideBuy, Quantity: 3, Mode: types.PricingMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	report, err := s.OrderStatus(context.Background(), handle)
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if report.Status != types.OrderStatusFilled {
		t.Fatalf("Status = %v, want FILLED", report.Status)
	}

	positions, err := s.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 || positions[0].SignedQty != 3 {
		t.Errorf("Book = %+v, want one long 3", positions)
	}
}

func TestSession_PositionsPreserveOrder(t *testing.T) {
	s := newTestSession()
	s.SetPositions([]types.Position{
		{Symbol: "ES", SignedQty: 3},
		{Symbol: "MES", SignedQty: -2},
	})

	positions, err := s.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len = %d, want 2", len(positions))
	}
	if positions[0].Symbol != "ES" || positions[1].Symbol != "MES" {
		t.Errorf("Enumeration order not preserved: %+v", positions)
	}
}

func TestSession_BehaviorQueueConsumedInOrder(t *testing.T) {
	s := newTestSession()
	s.QueueBehavior(
		Behavior{Mode: FillReject, Reason: "first"},
		Behavior{Mode: FillImmediate},
	)

	es := broker.ESContract("20251219")

	h1, _ := s.PlaceOrder(context.Background(), es, types.OrderRequest{Side: types.SideBuy, Quantity: 1})
	h2, _ := s.PlaceOrder(context.Background(), es, types.OrderRequest{Side: types.SideBuy, Quantity: 1})

	r1, _ := s.OrderStatus(context.Background(), h1)
	r2, _ := s.OrderStatus(context.Background(), h2)

	if r1.Status != types.OrderStatusRejected || r1.RejectReason != "first" {
		t.Errorf("First report = %+v, want rejection with reason", r1)
	}
	if r2.Status != types.OrderStatusFilled {
		t.Errorf("Second report = %+v, want fill", r2)
	}
}

func TestSession_QuoteSubCloseIsIdempotent(t *testing.T) {
	s := newTestSession()
	s.SetQuote(types.Quote{Bid: decimal.RequireFromString("1"), HasBid: true})

	sub, err := s.SubscribeQuote(context.Background(), broker.ESContract("20251219"))
	if err != nil {
		t.Fatalf("SubscribeQuote: %v", err)
	}

	_ = sub.Close()
	_ = sub.Close()

	if open := s.OpenQuoteSubs(); open != 0 {
		t.Errorf("OpenQuoteSubs = %d, want 0 after double close", open)
	}
}
