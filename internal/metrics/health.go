package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the trader's health.
type HealthStatus struct {
	mu sync.RWMutex

	Mode           string    `json:"mode"` // LIVE or PAPER
	BrokerOK       bool      `json:"broker_ok"`
	MarketOpen     bool      `json:"market_open"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleOK    bool      `json:"last_cycle_ok"`
	LastError      string    `json:"last_error"`
	OpenPositions  int       `json:"open_positions"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// staleAfter marks the cycle loop stuck when no cycle ran for this long
	// during market hours.
	staleAfter time.Duration
	now        func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(mode string, staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		Mode:       mode,
		StartedAt:  time.Now(),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

// RecordCycle stores the outcome of a decision cycle.
func (h *HealthStatus) RecordCycle(at time.Time, openPositions int, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleOK = err == nil
	h.OpenPositions = openPositions
	if err != nil {
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
	h.mu.Unlock()
}

// EnableRedis and EnableSQLite mark optional dependencies as configured so
// their probes count toward overall health.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
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

// CheckSQLite pings the journal database and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
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

// overall returns the status string and HTTP code. Caller holds h.mu.
func (h *HealthStatus) overall() (string, int) {
	status, code := "healthy", http.StatusOK
	stale := h.MarketOpen && h.staleAfter > 0 &&
		!h.LastCycleAt.IsZero() && h.now().Sub(h.LastCycleAt) > h.staleAfter

	if !h.BrokerOK || stale ||
		(h.RedisEnabled && !h.RedisConnected) ||
		(h.SQLiteEnabled && !h.SQLiteOK) ||
		(!h.LastCycleAt.IsZero() && !h.LastCycleOK) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if !h.BrokerOK && stale {
		status = "unhealthy"
	}
	return status, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.overall()

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = h.now().Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Mode            string  `json:"mode"`
		Uptime          string  `json:"uptime"`
		BrokerOK        bool    `json:"broker_ok"`
		MarketOpen      bool    `json:"market_open"`
		LastCycleAt     string  `json:"last_cycle_at"`
		CycleAge        string  `json:"cycle_age"`
		LastCycleOK     bool    `json:"last_cycle_ok"`
		LastError       string  `json:"last_error,omitempty"`
		OpenPositions   int     `json:"open_positions"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Mode:            h.Mode,
		Uptime:          h.now().Sub(h.StartedAt).Round(time.Second).String(),
		BrokerOK:        h.BrokerOK,
		MarketOpen:      h.MarketOpen,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastCycleOK:     h.LastCycleOK,
		LastError:       h.LastError,
		OpenPositions:   h.OpenPositions,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
