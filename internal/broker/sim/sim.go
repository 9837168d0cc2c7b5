// Package sim provides an in-memory broker session for paper trading and tests.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

// FillMode controls how a simulated order progresses.
type FillMode int

const (
	// FillImmediate fills the full quantity on the first status poll.
	FillImmediate FillMode = iota
	// FillAfterPolls stays pending for N polls, then fills.
	FillAfterPolls
	// FillPartial reports a partial fill and never completes.
	FillPartial
	// FillReject rejects the order.
	FillReject
	// FillNever stays pending forever.
	FillNever
)

// Behavior scripts the outcome of one placed order.
type Behavior struct {
	Mode       FillMode
	AfterPolls int
	PartialQty int
	Reason     string
}

type orderState struct {
	req      types.OrderRequest
	contract broker.Contract
	behavior Behavior
	polls    int
	terminal bool
	report   broker.StatusReport
}

// Session implements broker.Session entirely in memory. Fills mutate an
// internal position book, so buy-then-close-all round trips behave like a
// real account.
type Session struct {
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	quote     types.Quote
	positions []*types.Position
	orders    map[string]*orderState
	behaviors []Behavior
	placed    []types.OrderRequest
	openSubs  int
	nextID    int64
}

// NewSession creates a connected simulated session.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:    logger,
		connected: true,
		orders:    make(map[string]*orderState),
		nextID:    1000,
	}
}

// SetConnected toggles the connection state.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// SetQuote sets the snapshot returned by quote subscriptions.
func (s *Session) SetQuote(q types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = q
}

// SetPositions replaces the position book.
func (s *Session) SetPositions(positions []types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make([]*types.Position, 0, len(positions))
	for _, p := range positions {
		p := p
		s.positions = append(s.positions, &p)
	}
}

// QueueBehavior scripts the outcome of upcoming orders, consumed in place
// order sequence. Orders beyond the queue fill immediately.
func (s *Session) QueueBehavior(behaviors ...Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors = append(s.behaviors, behaviors...)
}

// PlacedOrders returns all requests placed against this session.
func (s *Session) PlacedOrders() []types.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.OrderRequest, len(s.placed))
	copy(out, s.placed)
	return out
}

// OpenQuoteSubs returns the number of quote lines not yet closed.
func (s *Session) OpenQuoteSubs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openSubs
}

// IsConnected reports whether the session is usable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// PlaceOrder records the order and schedules its scripted behavior.
func (s *Session) PlaceOrder(_ context.Context, contract broker.Contract, req types.OrderRequest) (broker.OrderHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return broker.OrderHandle{}, broker.ErrNotConnected
	}
	if req.Quantity <= 0 {
		return broker.OrderHandle{}, types.ErrInvalidQuantity
	}

	behavior := Behavior{Mode: FillImmediate}
	if len(s.behaviors) > 0 {
		behavior = s.behaviors[0]
		s.behaviors = s.behaviors[1:]
	}

	s.nextID++
	orderID := fmt.Sprintf("%d", s.nextID)
	s.orders[orderID] = &orderState{
		req:      req,
		contract: contract,
		behavior: behavior,
	}
	s.placed = append(s.placed, req)

	s.logger.Debug("sim order placed",
		"order_id", orderID,
		"side", req.Side,
		"quantity", req.Quantity,
		"mode", req.Mode,
	)

	return broker.OrderHandle{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		SubmittedAt:   time.Now(),
	}, nil
}

// OrderStatus advances and reports the scripted order state. Reports are
// stable once terminal.
func (s *Session) OrderStatus(_ context.Context, handle broker.OrderHandle) (broker.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.orders[handle.OrderID]
	if !ok {
		return broker.StatusReport{}, broker.ErrUnknownOrder
	}

	if state.terminal {
		return state.report, nil
	}

	state.polls++

	switch state.behavior.Mode {
	case FillImmediate:
		s.fill(state)
	case FillAfterPolls:
		if state.polls > state.behavior.AfterPolls {
			s.fill(state)
		} else {
			state.report = broker.StatusReport{Status: types.OrderStatusSubmitted}
		}
	case FillPartial:
		state.report = broker.StatusReport{
			Status:       types.OrderStatusPartialFill,
			FilledQty:    state.behavior.PartialQty,
			AvgFillPrice: s.fillPrice(state.req),
		}
	case FillReject:
		state.terminal = true
		state.report = broker.StatusReport{
			Status:       types.OrderStatusRejected,
			RejectReason: state.behavior.Reason,
		}
	case FillNever:
		state.report = broker.StatusReport{Status: types.OrderStatusSubmitted}
	}

	return state.report, nil
}

// fill marks the order filled and applies it to the position book.
func (s *Session) fill(state *orderState) {
	price := s.fillPrice(state.req)
	state.terminal = true
	state.report = broker.StatusReport{
		Status:       types.OrderStatusFilled,
		FilledQty:    state.req.Quantity,
		AvgFillPrice: price,
	}

	delta := state.req.Quantity
	if state.req.Side == types.SideSell {
		delta = -delta
	}

	symbol := state.contract.Symbol
	var pos *types.Position
	for _, p := range s.positions {
		if p.Symbol == symbol {
			pos = p
			break
		}
	}
	if pos == nil {
		pos = &types.Position{Symbol: symbol, AvgCost: price}
		s.positions = append(s.positions, pos)
	}
	pos.SignedQty += delta
}

func (s *Session) fillPrice(req types.OrderRequest) decimal.Decimal {
	if req.Mode == types.PricingLimit {
		return req.LimitPrice
	}
	switch {
	case s.quote.HasLast:
		return s.quote.Last
	case req.Side == types.SideBuy && s.quote.HasAsk:
		return s.quote.Ask
	case req.Side == types.SideSell && s.quote.HasBid:
		return s.quote.Bid
	default:
		return decimal.Zero
	}
}

// SubscribeQuote opens a simulated market data line.
func (s *Session) SubscribeQuote(_ context.Context, _ broker.Contract) (broker.QuoteSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, broker.ErrNotConnected
	}
	s.openSubs++
	return &quoteSub{session: s}, nil
}

// Positions returns a copy of all non-zero holdings.
func (s *Session) Positions(_ context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, broker.ErrNotConnected
	}

	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.SignedQty != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

type quoteSub struct {
	session *Session
	once    sync.Once
}

func (q *quoteSub) Snapshot() types.Quote {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	quote := q.session.quote
	quote.Timestamp = time.Now()
	return quote
}

func (q *quoteSub) Close() error {
	q.once.Do(func() {
		q.session.mu.Lock()
		defer q.session.mu.Unlock()
		q.session.openSubs--
	})
	return nil
}

// Ensure Session implements broker.Session
var _ broker.Session = (*Session)(nil)
