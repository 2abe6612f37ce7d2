package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/stt-gateway/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	defaultMetricsHours = 24
	maxMetricsHours     = 7 * 24
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions", h.ListActive)
	g.GET("/sessions/:id", h.GetSession)
	g.GET("/providers/:provider/metrics", h.GetMetrics)
	g.GET("/providers/:provider/summary", h.GetSummary)
}

type ListResponse struct {
	Sessions []*Session `json:"sessions"`
	Count    int        `json:"count"`
}

type MetricsListResponse struct {
	Provider string     `json:"provider"`
	Hours    int        `json:"hours"`
	Metrics  []*Metrics `json:"metrics"`
}

type SummaryResponse struct {
	Provider                string  `json:"provider"`
	Period                  string  `json:"period"`
	TotalSessions           int64   `json:"total_sessions"`
	TotalResults            int64   `json:"total_results"`
	TotalWords              int64   `json:"total_words"`
	IdleTimeouts            int64   `json:"idle_timeouts"`
	AvgFirstResultLatencyMs int64   `json:"avg_first_result_latency_ms"`
	ErrorRate               float64 `json:"error_rate"`
}

func (h *Handler) ListActive(c echo.Context) error {
	sessions, err := h.store.ActiveSessions(c.Request().Context(), c.QueryParam("provider"))
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		return shared.InternalError("list_sessions_failed", "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return c.JSON(http.StatusOK, ListResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("id")
	sess, err := h.store.GetSession(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "session_id", id)
		return shared.InternalError("get_session_failed", "failed to get session")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetMetrics(c echo.Context) error {
	provider := c.Param("provider")

	hours := defaultMetricsHours
	if hr, err := strconv.Atoi(c.QueryParam("hours")); err == nil && hr > 0 && hr <= maxMetricsHours {
		hours = hr
	}

	metrics, err := h.store.GetMetrics(c.Request().Context(), provider, hours)
	if err != nil {
		h.logger.Error("failed to get metrics", "error", err, "provider", provider)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}
	if metrics == nil {
		metrics = []*Metrics{}
	}

	return c.JSON(http.StatusOK, MetricsListResponse{
		Provider: provider,
		Hours:    hours,
		Metrics:  metrics,
	})
}

func (h *Handler) GetSummary(c echo.Context) error {
	provider := c.Param("provider")

	metrics, err := h.store.GetMetrics(c.Request().Context(), provider, maxMetricsHours)
	if err != nil {
		h.logger.Error("failed to get metrics summary", "error", err, "provider", provider)
		return shared.InternalError("get_metrics_failed", "failed to get metrics")
	}

	summary := SummaryResponse{Provider: provider, Period: "7d"}
	var totalLatency, latencyCount int64
	var errorCount int64

	for _, m := range metrics {
		summary.TotalSessions += m.Sessions
		summary.TotalResults += m.Results
		summary.TotalWords += m.Words
		summary.IdleTimeouts += m.IdleTimeouts
		errorCount += m.Errors

		if m.AvgFirstResultLatencyMs > 0 {
			totalLatency += m.AvgFirstResultLatencyMs
			latencyCount++
		}
	}

	if latencyCount > 0 {
		summary.AvgFirstResultLatencyMs = totalLatency / latencyCount
	}
	if summary.TotalSessions > 0 {
		summary.ErrorRate = float64(errorCount) / float64(summary.TotalSessions) * 100
	}

	return c.JSON(http.StatusOK, summary)
}
