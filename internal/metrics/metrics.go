// Package metrics provides Prometheus metrics for the trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts orders by symbol, side and terminal status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hooktrader",
		Name:      "orders_total",
		Help:      "Total orders submitted, by symbol, side and terminal status",
	}, []string{"symbol", "side", "status"})

	// OrderLatency observes time from submission to terminal status.
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hooktrader",
		Name:      "order_latency_seconds",
		Help:      "Time from order submission to terminal status",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// QuoteFetchLatency observes snapshot fetch time including settle delay.
	QuoteFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hooktrader",
		Name:      "quote_fetch_latency_seconds",
		Help:      "Time to fetch a market snapshot including the settle delay",
		Buckets:   []float64{0.5, 1, 1.5, 2, 3, 5},
	})

	// ContractsClosedTotal counts contracts closed via close-all.
	ContractsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hooktrader",
		Name:      "contracts_closed_total",
		Help:      "Total contracts closed via close-all",
	})

	// CloseAllTotal counts close-all runs by result.
	CloseAllTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hooktrader",
		Name:      "close_all_total",
		Help:      "Close-all runs by result (success, partial, failed, empty)",
	}, []string{"result"})

	// FallbacksTotal counts limit orders retried as market orders.
	FallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hooktrader",
		Name:      "order_fallbacks_total",
		Help:      "Limit orders retried as market orders after rejection or timeout",
	})

	// WebhookRequestsTotal counts webhook requests by endpoint and status code.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hooktrader",
		Name:      "webhook_requests_total",
		Help:      "Webhook requests by endpoint and HTTP status code",
	}, []string{"endpoint", "code"})

	// BrokerConnected reports broker session state (1 connected, 0 not).
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hooktrader",
		Name:      "broker_connected",
		Help:      "Broker session state (1 connected, 0 disconnected)",
	})

	// OpenPositions reports the number of open positions from the last refresh.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hooktrader",
		Name:      "open_positions",
		Help:      "Open positions as of the last broker refresh",
	})

	// BuildInfo carries version metadata as constant labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hooktrader",
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version", "commit", "date"})
)

// SetBuildInfo records build metadata.
func SetBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
