// Package metrics exposes Prometheus metrics, a health endpoint and the
// HTTP server that serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trader.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: result=ok|error|skipped
	CycleDuration prometheus.Histogram

	SignalsTotal  *prometheus.CounterVec // labels: signal, confirmed
	EntriesTotal  *prometheus.CounterVec // labels: direction
	ExitsTotal    *prometheus.CounterVec // labels: reason
	OrderFailures *prometheus.CounterVec // labels: side

	OpenPositions prometheus.Gauge
	PaperBalance  prometheus.Gauge
	SpotPrice     prometheus.Gauge
	Supertrend    prometheus.Gauge
	Uptrend       prometheus.Gauge // 1=up, 0=down

	BrokerCallDur *prometheus.HistogramVec // labels: op
	BrokerErrors  *prometheus.CounterVec   // labels: op

	// Event publishing
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	EventsPublished          *prometheus.CounterVec // labels: sink
	EventsDropped            *prometheus.CounterVec // labels: sink
	WSClients                prometheus.Gauge

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Decision cycles run, by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall time of one decision cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Flip signals seen, and whether the trend confirmed them",
		}, []string{"signal", "confirmed"}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_entries_total",
			Help: "Positions opened",
		}, []string{"direction"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Positions closed, by exit reason",
		}, []string{"reason"}),
		OrderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_order_failures_total",
			Help: "Orders that errored or were not accepted",
		}, []string{"side"}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Open positions in the trade state store",
		}),
		PaperBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_paper_balance",
			Help: "Paper trading balance",
		}),
		SpotPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_underlying_price",
			Help: "Last underlying price used for stop checks",
		}),
		Supertrend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_supertrend_value",
			Help: "Supertrend line on the latest candle",
		}),
		Uptrend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_supertrend_uptrend",
			Help: "Supertrend direction on the latest candle (1=up, 0=down)",
		}),

		BrokerCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_broker_call_duration_seconds",
			Help:    "Broker API call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_broker_errors_total",
			Help: "Failed broker API calls",
		}, []string{"op"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_events_published_total",
			Help: "Trading events delivered, by sink",
		}, []string{"sink"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_events_dropped_total",
			Help: "Trading events a sink failed to deliver",
		}, []string{"sink"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_ws_clients",
			Help: "Connected websocket event feed clients",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SignalsTotal,
		m.EntriesTotal,
		m.ExitsTotal,
		m.OrderFailures,
		m.OpenPositions,
		m.PaperBalance,
		m.SpotPrice,
		m.Supertrend,
		m.Uptrend,
		m.BrokerCallDur,
		m.BrokerErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.EventsPublished,
		m.EventsDropped,
		m.WSClients,
		m.MarketState,
	)

	return m
}

// Bool converts a flag to a gauge value.
func Bool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
