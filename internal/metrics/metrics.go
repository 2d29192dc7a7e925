// Package metrics provides Prometheus instrumentation for the Baratto platform.
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
			Namespace: "baratto",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "baratto",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProposalsTotal counts proposal transitions by outcome
	// (created, countered, accepted, rejected, cancelled, expired).
	ProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baratto",
			Name:      "proposals_total",
			Help:      "Total proposal transitions by outcome.",
		},
		[]string{"outcome"},
	)

	// ExchangesTotal counts exchange transitions by outcome
	// (opened, completed, cancelled, expired).
	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baratto",
			Name:      "exchanges_total",
			Help:      "Total exchange transitions by outcome.",
		},
		[]string{"outcome"},
	)

	// CreditsSettledTotal counts credits moved from escrow to sellers.
	CreditsSettledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "baratto",
		Name:      "credits_settled_total",
		Help:      "Total credits settled to sellers on exchange completion.",
	})

	// CreditsReleasedTotal counts credits released back to buyers.
	CreditsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "baratto",
		Name:      "credits_released_total",
		Help:      "Total escrowed credits released back to buyers.",
	})

	// ExchangeDuration observes time from acceptance to resolution.
	ExchangeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "baratto",
		Name:      "exchange_duration_seconds",
		Help:      "Time from exchange opening to resolution in seconds.",
		Buckets:   []float64{60, 300, 1800, 3600, 21600, 86400, 172800},
	})

	// SweepRowsTotal counts rows forced to a terminal state by the sweepers.
	SweepRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baratto",
			Name:      "sweep_rows_total",
			Help:      "Total rows expired by the background sweepers, by kind.",
		},
		[]string{"kind"},
	)

	// NotificationsTotal counts reputation notification attempts by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baratto",
			Name:      "notifications_total",
			Help:      "Total reputation notification deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "baratto",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProposalsTotal,
		ExchangesTotal,
		CreditsSettledTotal,
		CreditsReleasedTotal,
		ExchangeDuration,
		SweepRowsTotal,
		NotificationsTotal,
		ActiveWebSocketClients,
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
