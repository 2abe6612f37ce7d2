package history

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/stt-gateway/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/history", h.List)
	g.GET("/history/summary", h.Summary)
	g.GET("/history/:id", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ctx := c.Request().Context()

	var (
		recs []*Record
		err  error
	)
	if identity := c.QueryParam("identity"); identity != "" {
		recs, err = h.store.ListByIdentity(ctx, identity, limit)
	} else {
		recs, err = h.store.ListRecent(ctx, c.QueryParam("provider"), limit)
	}
	if err != nil {
		h.logger.Error("failed to list history", "error", err)
		return shared.InternalError("list_history_failed", "failed to list history")
	}
	if recs == nil {
		recs = []*Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) Get(c echo.Context) error {
	rec, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("history_not_found", "history record not found")
		}
		h.logger.Error("failed to get history", "error", err)
		return shared.InternalError("get_history_failed", "failed to get history record")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Summary(c echo.Context) error {
	days, err := strconv.Atoi(c.QueryParam("days"))
	if err != nil || days <= 0 || days > 90 {
		days = 7
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	out, err := h.store.SummarizeSince(c.Request().Context(), since)
	if err != nil {
		h.logger.Error("failed to summarize history", "error", err)
		return shared.InternalError("summary_failed", "failed to summarize history")
	}
	if out == nil {
		out = []ProviderSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"days":      days,
		"providers": out,
	})
}
