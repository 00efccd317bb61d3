// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MintsTotal counts successful mints.
	MintsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_mints_total",
		Help: "Total successful mint operations",
	})

	// BurnsTotal counts successful burns.
	BurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_burns_total",
		Help: "Total successful burn operations",
	})

	// TransfersTotal counts applied venue fills, partitioned by side.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transfers_total",
		Help: "Total claim transfers applied",
	}, []string{"side"})

	// ResolutionsTotal counts markets resolved, partitioned by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_resolutions_total",
		Help: "Total markets resolved",
	}, []string{"outcome"})

	// RedemptionsTotal counts redemption calls that paid out.
	RedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_redemptions_total",
		Help: "Total redemptions with a nonzero payout",
	})

	// RejectedOps counts operations refused before any state change,
	// partitioned by operation and error kind.
	RejectedOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rejected_operations_total",
		Help: "Operations rejected by validation",
	}, []string{"op", "reason"})

	// CollateralInCustody tracks collateral currently held per market.
	CollateralInCustody = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_collateral_in_custody",
		Help: "Collateral held in custody per market",
	}, []string{"market_id"})

	// WebSocketClients tracks connected event-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route shapes here are low
		// cardinality (market ids are capped by market count).
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
