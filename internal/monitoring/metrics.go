package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Idea lifecycle metrics
	ideasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_trader_ideas_total",
			Help: "Total number of trade idea status transitions",
		},
		[]string{"symbol", "status"},
	)

	// Order metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_trader_orders_total",
			Help: "Total number of orders sent to the venue",
		},
		[]string{"symbol", "direction", "result"},
	)

	orderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mt5_trader_order_latency_seconds",
			Help:    "Time from order submission to venue response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)

	// Analysis metrics
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_trader_analyses_total",
			Help: "Total number of market analyses by recommended action",
		},
		[]string{"symbol", "action"},
	)

	// Account metrics
	accountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mt5_trader_account_balance",
			Help: "Current account balance",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mt5_trader_open_positions",
			Help: "Number of currently open positions",
		},
	)

	dailyRiskPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mt5_trader_daily_risk_percent",
			Help: "Risk consumed today as a percentage of the balance",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mt5_trader_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component"},
	)
)

func init() {
	prometheus.MustRegister(ideasTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderLatency)
	prometheus.MustRegister(analysesTotal)
	prometheus.MustRegister(accountBalance)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(dailyRiskPct)
	prometheus.MustRegister(errorsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr. Blocks until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordIdea records a trade idea status transition.
func RecordIdea(symbol, status string) {
	ideasTotal.WithLabelValues(symbol, status).Inc()
}

// RecordOrder records an order outcome.
func RecordOrder(symbol, direction, result string) {
	ordersTotal.WithLabelValues(symbol, direction, result).Inc()
}

// ObserveOrderLatency records the round trip time of an order.
func ObserveOrderLatency(symbol string, seconds float64) {
	orderLatency.WithLabelValues(symbol).Observe(seconds)
}

// RecordAnalysis records a market analysis outcome.
func RecordAnalysis(symbol, action string) {
	analysesTotal.WithLabelValues(symbol, action).Inc()
}

// SetAccountBalance updates the balance gauge.
func SetAccountBalance(balance float64) {
	accountBalance.Set(balance)
}

// SetOpenPositions updates the open positions gauge.
func SetOpenPositions(count int) {
	openPositions.Set(float64(count))
}

// SetDailyRisk updates the daily risk gauge.
func SetDailyRisk(pct float64) {
	dailyRiskPct.Set(pct)
}

// RecordError records an error for a component.
func RecordError(component string) {
	errorsTotal.WithLabelValues(component).Inc()
}
