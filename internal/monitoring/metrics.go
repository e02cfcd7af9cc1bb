package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pa_bot_trades_total",
			Help: "Closed trades by symbol and result",
		},
		[]string{"symbol", "result"},
	)

	realizedPnl = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pa_bot_realized_pnl_usdt",
			Help: "Cumulative realized profit and loss in USDT",
		},
		[]string{"symbol", "sign"},
	)

	balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pa_bot_balance_usdt",
			Help: "Current tracked account balance",
		},
	)

	breakerEngaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pa_bot_breaker_engaged",
			Help: "1 while the circuit breaker is engaged",
		},
	)

	guardBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pa_bot_guard_breaches_total",
			Help: "Risk guard breaches by guard name",
		},
		[]string{"guard"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pa_bot_cycle_duration_seconds",
			Help:    "Evaluation cycle wall time",
			Buckets: prometheus.DefBuckets,
		},
	)

	apiErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pa_bot_api_errors_total",
			Help: "Venue API errors by classified category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(realizedPnl)
	prometheus.MustRegister(balance)
	prometheus.MustRegister(breakerEngaged)
	prometheus.MustRegister(guardBreaches)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(apiErrors)
}

// RecordTrade records a closed trade.
func RecordTrade(symbol string, profit float64) {
	result := "win"
	sign := "gain"
	if profit <= 0 {
		result = "loss"
		sign = "loss"
		profit = -profit
	}
	tradesTotal.WithLabelValues(symbol, result).Inc()
	realizedPnl.WithLabelValues(symbol, sign).Add(profit)
}

// UpdateBalance sets the balance gauge.
func UpdateBalance(b float64) {
	balance.Set(b)
}

// SetBreakerEngaged flips the breaker gauge.
func SetBreakerEngaged(engaged bool) {
	if engaged {
		breakerEngaged.Set(1)
		return
	}
	breakerEngaged.Set(0)
}

// RecordGuardBreach counts a risk guard breach.
func RecordGuardBreach(guard string) {
	guardBreaches.WithLabelValues(guard).Inc()
}

// ObserveCycle records one evaluation cycle's duration.
func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// RecordAPIError counts a classified venue error.
func RecordAPIError(category string) {
	apiErrors.WithLabelValues(category).Inc()
}

// Serve exposes /metrics and /healthz on addr. Blocks until the server
// stops; run it in a goroutine.
func Serve(port int, health http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if health != nil {
		mux.Handle("/healthz", health)
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
