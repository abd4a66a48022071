// Package metrics provides Prometheus instrumentation for the AutoVault platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autovault",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransitionsTotal counts transaction state transitions by target status.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "transitions_total",
			Help:      "Total transaction state transitions by from/to status.",
		},
		[]string{"from", "to"},
	)

	// TransitionConflictsTotal counts transitions rejected because the
	// persisted status no longer matched the expected "from" state.
	TransitionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autovault",
		Name:      "transition_conflicts_total",
		Help:      "Total transitions rejected due to stale-state conflicts.",
	})

	// PaymentsTotal counts payment rows by type and status.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "payments_total",
			Help:      "Total payment records created or advanced, by type and status.",
		},
		[]string{"type", "status"},
	)

	// LedgerInconsistenciesTotal counts double-payout attempts blocked by the
	// storage constraint. Should stay at zero; alert on any increase.
	LedgerInconsistenciesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autovault",
		Name:      "ledger_inconsistencies_total",
		Help:      "Detected double-payout attempts blocked by the unique constraint.",
	})

	// DisputesTotal counts dispute lifecycle events.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "disputes_total",
			Help:      "Total dispute operations by action.",
		},
		[]string{"action"},
	)

	// SweepFiringsTotal counts deadline sweep firings by kind.
	SweepFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "sweep_firings_total",
			Help:      "Total deadline sweep firings by kind (payment_expired, inspection_elapsed).",
		},
		[]string{"kind"},
	)

	// InvoicesIssuedTotal counts issued invoices.
	InvoicesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autovault",
		Name:      "invoices_issued_total",
		Help:      "Total invoices issued.",
	})

	// EventsEmittedTotal counts domain event emissions by type.
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "events_emitted_total",
			Help:      "Total domain events emitted by type.",
		},
		[]string{"type"},
	)

	// EventDeliveryErrorsTotal counts failed event deliveries by sink.
	EventDeliveryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autovault",
			Name:      "event_delivery_errors_total",
			Help:      "Total failed event sink deliveries by sink name.",
		},
		[]string{"sink"},
	)

	// ActiveFeedClients tracks connected live-feed WebSocket clients.
	ActiveFeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autovault",
		Name:      "active_feed_clients",
		Help:      "Number of currently connected live-feed WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autovault", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autovault", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autovault", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autovault", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransitionsTotal,
		TransitionConflictsTotal,
		PaymentsTotal,
		LedgerInconsistenciesTotal,
		DisputesTotal,
		SweepFiringsTotal,
		InvoicesIssuedTotal,
		EventsEmittedTotal,
		EventDeliveryErrorsTotal,
		ActiveFeedClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
