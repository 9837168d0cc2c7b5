package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Connection errors
	ErrNotConnected      = errors.New("broker not connected")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Market data errors
	ErrNoMarketData = errors.New("no market data available")
	ErrNoBidPrice   = errors.New("bid price unavailable")
	ErrNoAskPrice   = errors.New("ask price unavailable")

	// Order errors
	ErrOrderRejected   = errors.New("order rejected by broker")
	ErrOrderTimeout    = errors.New("order timeout")
	ErrInvalidQuantity = errors.New("invalid order quantity")
	ErrUnknownSide     = errors.New("unknown order side")
	ErrDuplicateOrder  = errors.New("duplicate client order id")

	// Validation errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidContract = errors.New("invalid contract")
)
