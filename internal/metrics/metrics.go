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

// Metrics holds all Prometheus metrics for the gap engine.
type Metrics struct {
	CandlesTotal prometheus.Counter
	TicksTotal   prometheus.Counter
	WSReconnects prometheus.Counter
	DroppedTicks prometheus.Counter
	ParseErrors  prometheus.Counter

	// Gap lifecycle
	GapsDetectedTotal *prometheus.CounterVec // labels: direction
	MitigationsTotal  *prometheus.CounterVec // labels: kind=partial|full
	ActiveGaps        *prometheus.GaugeVec   // labels: symbol, tf

	// Input hygiene
	OutOfOrderTotal   *prometheus.CounterVec // labels: kind=candle|observation
	DuplicateGapTotal prometheus.Counter

	// Pipeline
	CandleProcessDur prometheus.Histogram
	ObsProcessDur    prometheus.Histogram
	RingBufOverflow  prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Stores
	RedisWriteErrors  prometheus.Counter
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
	SQLiteCommitDur   prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_candles_total",
			Help: "Total closed candles ingested",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_ticks_total",
			Help: "Total trades received from WebSocket",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_dropped_ticks_total",
			Help: "Ticks dropped (late or channel full)",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_parse_errors_total",
			Help: "Malformed WebSocket messages",
		}),

		GapsDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvgengine_gaps_detected_total",
			Help: "Gaps detected (by direction)",
		}, []string{"direction"}),
		MitigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvgengine_mitigations_total",
			Help: "Mitigation transitions applied (partial, full)",
		}, []string{"kind"}),
		ActiveGaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fvgengine_active_gaps",
			Help: "Gaps currently eligible for mitigation",
		}, []string{"symbol", "tf"}),

		OutOfOrderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvgengine_out_of_order_total",
			Help: "Inputs rejected as out of order (candle, observation)",
		}, []string{"kind"}),
		DuplicateGapTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_duplicate_gaps_total",
			Help: "Gap insertions rejected as duplicates",
		}),

		CandleProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fvgengine_candle_process_duration_seconds",
			Help:    "Per-candle detection + evaluation latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		ObsProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fvgengine_observation_process_duration_seconds",
			Help:    "Per-observation mitigation evaluation latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped observations)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvgengine_fanout_drops_total",
			Help: "Events dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fvgengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_redis_write_errors_total",
			Help: "Failed or breaker-rejected Redis writes",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvgengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fvgengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fvgengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.CandlesTotal,
		m.TicksTotal,
		m.WSReconnects,
		m.DroppedTicks,
		m.ParseErrors,
		m.GapsDetectedTotal,
		m.MitigationsTotal,
		m.ActiveGaps,
		m.OutOfOrderTotal,
		m.DuplicateGapTotal,
		m.CandleProcessDur,
		m.ObsProcessDur,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisWriteErrors,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.SQLiteCommitDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	EnabledTFs     []int     `json:"enabled_tfs"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
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

	if !h.WSConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		EnabledTFs:      h.EnabledTFs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
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
