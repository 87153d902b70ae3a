// Package metrics exposes Prometheus metrics and a /healthz endpoint for
// the signal pipeline and the paper ledger.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading core.
type Metrics struct {
	// Pipeline
	BarsTotal       *prometheus.CounterVec // labels: symbol, timeframe
	SignalsTotal    *prometheus.CounterVec // labels: type
	MTFAResults     *prometheus.CounterVec // labels: result
	ComputeDur      prometheus.Histogram   // transform+indicators+detect per bar
	BarsDropped     prometheus.Counter     // signal channel full
	StaleBars       prometheus.Counter     // bars rejected for non-monotonic TS
	FeedReconnects  prometheus.Counter
	SQLiteCommitDur prometheus.Histogram

	// Ledger
	TradesTotal   *prometheus.CounterVec // labels: reason
	CashBalance   prometheus.Gauge
	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge

	// Event delivery
	EventsPublished     *prometheus.CounterVec // labels: kind
	EventBreakerState   prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	EventBreakerTrips   prometheus.Counter
	EventsBufferedTotal prometheus.Counter
}

// New registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_bars_total",
			Help: "Bars consumed by the pipeline (by symbol and timeframe)",
		}, []string{"symbol", "timeframe"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_signals_total",
			Help: "Signals emitted by the detector (by type)",
		}, []string{"type"}),
		MTFAResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_mtfa_results_total",
			Help: "Higher-timeframe confirmation outcomes on emitted signals",
		}, []string{"result"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_compute_duration_seconds",
			Help:    "Heikin-Ashi + indicator + detection latency per bar",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		BarsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_bars_dropped_total",
			Help: "Bars dropped because a downstream channel was full",
		}),
		StaleBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_stale_bars_total",
			Help: "Bars rejected for duplicate or non-monotonic timestamps",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_feed_reconnects_total",
			Help: "Market-data feed reconnection attempts",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_trades_total",
			Help: "Closed paper trades (by close reason)",
		}, []string{"reason"}),
		CashBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nova_cash_balance",
			Help: "Paper account free cash",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nova_open_positions",
			Help: "Number of open paper positions",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nova_realized_pnl",
			Help: "Cumulative realized P&L since the last reset",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_events_published_total",
			Help: "Events delivered to the event bus (by kind)",
		}, []string{"kind"}),
		EventBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nova_event_breaker_state",
			Help: "Event bus circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		EventBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_event_breaker_trips_total",
			Help: "Times the event bus circuit breaker tripped open",
		}),
		EventsBufferedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_events_buffered_total",
			Help: "Events buffered locally while the event bus was down",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.SignalsTotal,
		m.MTFAResults,
		m.ComputeDur,
		m.BarsDropped,
		m.StaleBars,
		m.FeedReconnects,
		m.SQLiteCommitDur,
		m.TradesTotal,
		m.CashBalance,
		m.OpenPositions,
		m.RealizedPnL,
		m.EventsPublished,
		m.EventBreakerState,
		m.EventBreakerTrips,
		m.EventsBufferedTotal,
	)
	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbols        []string  `json:"symbols"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastBarTime     string   `json:"last_bar_time"`
		BarAge          string   `json:"bar_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Symbols         []string `json:"symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
