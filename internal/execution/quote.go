package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/types"
)

// DefaultQuoteSettle is how long a fresh market data line is given to
// populate before the snapshot is read. The broker delivers ticks
// asynchronously with no explicit ready signal.
const DefaultQuoteSettle = 1500 * time.Millisecond

// SnapshotProvider fetches point-in-time quotes from the broker session.
// Each call opens its own market data line; nothing is cached between calls.
type SnapshotProvider struct {
	session broker.Session
	settle  time.Duration
	logger  *slog.Logger
}

// NewSnapshotProvider creates a snapshot provider. A non-positive settle
// falls back to DefaultQuoteSettle.
func NewSnapshotProvider(session broker.Session, settle time.Duration, logger *slog.Logger) *SnapshotProvider {
	if settle <= 0 {
		settle = DefaultQuoteSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotProvider{
		session: session,
		settle:  settle,
		logger:  logger,
	}
}

// GetQuote opens a market data line, waits for it to settle, and returns the
// snapshot. A snapshot with neither bid nor ask returns ErrNoMarketData so
// callers never trade at a zero price.
func (p *SnapshotProvider) GetQuote(ctx context.Context, contract broker.Contract) (types.Quote, error) {
	if !p.session.IsConnected() {
		return types.Quote{}, types.ErrNotConnected
	}

	sub, err := p.session.SubscribeQuote(ctx, contract)
	if err != nil {
		return types.Quote{}, err
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			p.logger.Warn("failed to close quote line", "symbol", contract.Symbol, "err", cerr)
		}
	}()

	if err := settleWait(ctx, p.settle); err != nil {
		return types.Quote{}, err
	}

	quote := sub.Snapshot()
	if quote.Empty() {
		p.logger.Warn("no market data after settle",
			"symbol", contract.Symbol,
			"settle", p.settle,
		)
		return quote, types.ErrNoMarketData
	}

	p.logger.Info("market data snapshot",
		"symbol", contract.Symbol,
		"bid", quoteField(quote.Bid.String(), quote.HasBid),
		"ask", quoteField(quote.Ask.String(), quote.HasAsk),
		"last", quoteField(quote.Last.String(), quote.HasLast),
	)

	return quote, nil
}

func quoteField(s string, present bool) string {
	if !present {
		return "n/a"
	}
	return s
}
