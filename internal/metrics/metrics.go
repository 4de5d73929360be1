// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsSettled counts bids written to the ledger, partitioned by outcome
	// ("sold" or "unsold").
	BidsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpl_bids_settled_total",
		Help: "Total number of bids settled",
	}, []string{"outcome"})

	// BidRejections counts bids refused by the validator, by violated rule.
	BidRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpl_bid_rejections_total",
		Help: "Bids rejected by validation rule",
	}, []string{"rule"})

	// BidsReversed counts ledger entries removed by reversal.
	BidsReversed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpl_bids_reversed_total",
		Help: "Total number of bids reversed",
	}, []string{"outcome"})

	// SettlementLatency tracks the locked section of settlement and reversal.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpl_settlement_latency_seconds",
		Help:    "Settlement and reversal latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// LockContention counts lock acquisitions that gave up.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpl_lock_contention_total",
		Help: "Team/player lock acquisitions that timed out",
	})

	// AuditDiscrepancies is the number of problems found by the last audit.
	AuditDiscrepancies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpl_audit_discrepancies",
		Help: "Discrepancies reported by the most recent ledger audit",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpl_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern ("/api/v1/teams/{teamID}") so ids
// do not blow up label cardinality. Unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
