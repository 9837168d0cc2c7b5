package metrics

import (
	"time"

	"github.com/minhle/hooktrader/internal/types"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records a terminal order outcome.
func (r *Recorder) RecordOrder(symbol string, side types.Side, status types.OrderStatus) {
	OrdersTotal.WithLabelValues(symbol, side.String(), status.String()).Inc()
}

// RecordOrderLatency records time from submission to terminal status.
func (r *Recorder) RecordOrderLatency(duration time.Duration) {
	OrderLatency.Observe(duration.Seconds())
}

// RecordQuoteFetch records market snapshot fetch time.
func (r *Recorder) RecordQuoteFetch(duration time.Duration) {
	QuoteFetchLatency.Observe(duration.Seconds())
}

// RecordCloseAll records a close-all run.
func (r *Recorder) RecordCloseAll(result types.AggregateResult) {
	ContractsClosedTotal.Add(float64(result.ClosedQty))

	label := "failed"
	switch {
	case result.NothingToClose:
		label = "empty"
	case result.Success:
		label = "success"
	case result.ClosedQty > 0:
		label = "partial"
	}
	CloseAllTotal.WithLabelValues(label).Inc()
}

// RecordFallback records a limit order retried as a market order.
func (r *Recorder) RecordFallback() {
	FallbacksTotal.Inc()
}

// RecordWebhookRequest records a served webhook request.
func (r *Recorder) RecordWebhookRequest(endpoint, code string) {
	WebhookRequestsTotal.WithLabelValues(endpoint, code).Inc()
}

// RecordBrokerConnected records broker session state.
func (r *Recorder) RecordBrokerConnected(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}

// RecordOpenPositions records the open position count.
func (r *Recorder) RecordOpenPositions(count int) {
	OpenPositions.Set(float64(count))
}
