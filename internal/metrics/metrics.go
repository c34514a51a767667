// Package metrics exposes the Prometheus counters named in §4.9 and a
// /healthz liveness endpoint, grounded on the teacher's
// internal/metrics/metrics.go Metrics/HealthStatus/Server shape, renamed
// to this domain's counter set.
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

// Metrics holds every Prometheus counter/gauge named in §4.9.
type Metrics struct {
	PriceUpdatesReceived prometheus.Counter
	AlertsEvaluatedTotal prometheus.Counter
	GatesFailedTotal     *prometheus.CounterVec // labels: gate (A|B|C)
	AlertsTriggeredTotal prometheus.Counter
	NotificationsSent    *prometheus.CounterVec // labels: channel, status
	QueueDepth           *prometheus.GaugeVec   // labels: topic
	CacheSize            prometheus.Gauge

	TriggersRecorded prometheus.Counter
	TriggersDropped  prometheus.Counter

	WSReconnectsTotal prometheus.Counter
	WSClientsGauge    prometheus.Gauge
}

// NewMetrics registers and returns every counter.
func NewMetrics() *Metrics {
	m := &Metrics{
		PriceUpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "price_updates_received_total",
			Help: "Total price ticks received from the exchange stream",
		}),
		AlertsEvaluatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_evaluated_total",
			Help: "Total (alert, tick) pairs evaluated by the condition evaluator",
		}),
		GatesFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gates_failed_total",
			Help: "Evaluations that failed a given gate",
		}, []string{"gate"}),
		AlertsTriggeredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total alerts that passed all three gates",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification delivery attempts by channel and outcome",
		}, []string{"channel", "status"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current depth of an internal work queue",
		}, []string{"topic"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_size",
			Help: "Number of symbols currently held in the price cache",
		}),
		TriggersRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triggers_recorded_total",
			Help: "Triggered alerts durably recorded",
		}),
		TriggersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triggers_dropped_total",
			Help: "Triggered alerts dropped after exhausting durable-write retries",
		}),
		WSReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_ws_reconnects_total",
			Help: "Total exchange WebSocket reconnection attempts",
		}),
		WSClientsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Currently connected dispatch-fabric WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.PriceUpdatesReceived,
		m.AlertsEvaluatedTotal,
		m.GatesFailedTotal,
		m.AlertsTriggeredTotal,
		m.NotificationsSent,
		m.QueueDepth,
		m.CacheSize,
		m.TriggersRecorded,
		m.TriggersDropped,
		m.WSReconnectsTotal,
		m.WSClientsGauge,
	)

	return m
}

// GateFailed satisfies evaluator.GateMetrics.
func (m *Metrics) GateFailed(gate string) { m.GatesFailedTotal.WithLabelValues(gate).Inc() }

// AlertsEvaluated satisfies evaluator.GateMetrics.
func (m *Metrics) AlertsEvaluated() { m.AlertsEvaluatedTotal.Inc() }

// AlertsTriggered satisfies evaluator.GateMetrics.
func (m *Metrics) AlertsTriggered() { m.AlertsTriggeredTotal.Inc() }

// TriggerRecorded satisfies trigger.Metrics.
func (m *Metrics) TriggerRecorded() { m.TriggersRecorded.Inc() }

// TriggerDropped satisfies trigger.Metrics.
func (m *Metrics) TriggerDropped() { m.TriggersDropped.Inc() }

// NotificationSent satisfies notification.Metrics.
func (m *Metrics) NotificationSent(channel, status string) {
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}

// HealthStatus tracks liveness of the system's external dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeWSConnected bool      `json:"exchange_ws_connected"`
	LastTickTime        time.Time `json:"last_tick_time"`
	RedisConnected      bool      `json:"redis_connected"`
	SQLiteOK            bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetExchangeWSConnected(v bool) {
	h.mu.Lock()
	h.ExchangeWSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
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

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
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
	if !h.ExchangeWSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status              string  `json:"status"`
		Uptime              string  `json:"uptime"`
		ExchangeWSConnected bool    `json:"exchange_ws_connected"`
		LastTickTime        string  `json:"last_tick_time"`
		TickAge             string  `json:"tick_age"`
		RedisConnected      bool    `json:"redis_connected"`
		RedisLatencyMs      float64 `json:"redis_latency_ms"`
		SQLiteOK            bool    `json:"sqlite_ok"`
		SQLiteLatencyMs     float64 `json:"sqlite_latency_ms"`
		LastCheckAt         string  `json:"last_check_at"`
	}{
		Status:              overallStatus,
		Uptime:              time.Since(h.StartedAt).Round(time.Second).String(),
		ExchangeWSConnected: h.ExchangeWSConnected,
		LastTickTime:        h.LastTickTime.Format(time.RFC3339),
		TickAge:             tickAge,
		RedisConnected:      h.RedisConnected,
		RedisLatencyMs:      h.RedisLatencyMs,
		SQLiteOK:            h.SQLiteOK,
		SQLiteLatencyMs:     h.SQLiteLatencyMs,
		LastCheckAt:         h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
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

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
