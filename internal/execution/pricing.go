package execution

import (
	"github.com/shopspring/decimal"

	"github.com/minhle/hooktrader/internal/types"
)

// PriceDecision is the output of price selection: either a market order or a
// limit order at a concrete price.
type PriceDecision struct {
	Mode  types.PricingMode
	Price decimal.Decimal
}

// MarketDecision prices an order for immediate execution.
func MarketDecision() PriceDecision {
	return PriceDecision{Mode: types.PricingMarket}
}

// SelectPrice maps an order side onto the quote field to trade at. Buying
// (opening a long or buying back a short) takes the bid for an aggressive
// entry; selling (closing a long or opening a short) takes the ask. A global
// market pricing mode short-circuits to a market decision.
//
// When the required quote side is absent this returns an error instead of a
// zero-priced limit; the caller decides whether to fall back to market
// pricing or abort.
func SelectPrice(quote types.Quote, side types.Side, globalMode types.PricingMode) (PriceDecision, error) {
	if globalMode == types.PricingMarket {
		return MarketDecision(), nil
	}

	switch side {
	case types.SideBuy:
		if !quote.HasBid {
			return PriceDecision{}, types.ErrNoBidPrice
		}
		return PriceDecision{Mode: types.PricingLimit, Price: quote.Bid}, nil
	case types.SideSell:
		if !quote.HasAsk {
			return PriceDecision{}, types.ErrNoAskPrice
		}
		return PriceDecision{Mode: types.PricingLimit, Price: quote.Ask}, nil
	default:
		return PriceDecision{}, types.ErrUnknownSide
	}
}
