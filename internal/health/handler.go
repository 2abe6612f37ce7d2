package health

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusDisabled  Status = "disabled"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type SessionStats struct {
	Active     int            `json:"active"`
	ByProvider map[string]int `json:"by_provider"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type ProviderStats struct {
	Default    string   `json:"default"`
	Configured []string `json:"configured"`
}

type Stats struct {
	Sessions  SessionStats  `json:"sessions"`
	Providers ProviderStats `json:"providers"`
	Requests  RequestStats  `json:"requests"`
	Runtime   RuntimeStats  `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

// SessionCounter reports live sessions held by this process.
type SessionCounter interface {
	Count() int
	CountByProvider() map[string]int
}

type ProviderSet interface {
	Default() string
	Providers() []string
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	sessions  SessionCounter
	providers ProviderSet
	version   string
	startTime time.Time

	totalRequests     uint64
	activeConnections int64
}

// NewHandler accepts a nil db when session history is disabled.
func NewHandler(db *gorm.DB, redis *redis.Client, sessions SessionCounter, providers ProviderSet, version string) *Handler {
	return &Handler{
		db:        db,
		redis:     redis,
		sessions:  sessions,
		providers: providers,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/health/live", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddUint64(&h.totalRequests, 1)
			atomic.AddInt64(&h.activeConnections, 1)
			defer atomic.AddInt64(&h.activeConnections, -1)
			return next(c)
		}
	}
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readiness answers 503 only when a critical component is down.
func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	components := h.checkComponents(ctx)
	status := computeOverallStatus(components)

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	resp := h.Report(ctx)
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Report runs every component check and collects process stats.
func (h *Handler) Report(ctx context.Context) HealthResponse {
	components := h.checkComponents(ctx)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := Stats{
		Sessions: SessionStats{ByProvider: map[string]int{}},
		Requests: RequestStats{
			TotalRequests:     atomic.LoadUint64(&h.totalRequests),
			ActiveConnections: atomic.LoadInt64(&h.activeConnections),
		},
		Runtime: RuntimeStats{
			Goroutines:         runtime.NumGoroutine(),
			MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
			MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
			MemorySysMB:        memStats.Sys / 1024 / 1024,
			NumGC:              memStats.NumGC,
		},
	}
	if h.sessions != nil {
		stats.Sessions.Active = h.sessions.Count()
		stats.Sessions.ByProvider = h.sessions.CountByProvider()
	}
	if h.providers != nil {
		stats.Providers = ProviderStats{
			Default:    h.providers.Default(),
			Configured: h.providers.Providers(),
		}
	}

	return HealthResponse{
		Status:        computeOverallStatus(components),
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats:         stats,
		Components:    components,
	}
}

// Status is the overall status without process stats.
func (h *Handler) Status(ctx context.Context) Status {
	return computeOverallStatus(h.checkComponents(ctx))
}

func (h *Handler) checkComponents(ctx context.Context) map[string]ComponentStatus {
	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
		{"providers", h.checkProviders},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()
	return components
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		return ComponentStatus{Status: StatusDisabled}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    evaluateDBStats(sqlDB.Stats()),
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func evaluateDBStats(stats sql.DBStats) Status {
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{
			Status: StatusUnhealthy,
			Error:  "redis not configured",
		}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// checkProviders is unhealthy without any backend and degraded when the
// default backend is missing, since unknown names would then fail to route.
func (h *Handler) checkProviders(context.Context) ComponentStatus {
	if h.providers == nil || len(h.providers.Providers()) == 0 {
		return ComponentStatus{
			Status: StatusUnhealthy,
			Error:  "no transcription providers configured",
		}
	}
	if !slices.Contains(h.providers.Providers(), h.providers.Default()) {
		return ComponentStatus{
			Status: StatusDegraded,
			Error:  "default provider " + h.providers.Default() + " is not configured",
		}
	}
	return ComponentStatus{Status: StatusHealthy}
}

func computeOverallStatus(components map[string]ComponentStatus) Status {
	criticalComponents := []string{"redis", "providers"}

	for _, name := range criticalComponents {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	for _, status := range components {
		if status.Status == StatusUnhealthy || status.Status == StatusDegraded {
			return StatusDegraded
		}
	}

	return StatusHealthy
}
