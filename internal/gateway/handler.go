package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	wsServer *WSServer
	stt      *STTHandler
	registry *Registry
}

func NewHandler(wsServer *WSServer, stt *STTHandler, registry *Registry) *Handler {
	return &Handler{
		wsServer: wsServer,
		stt:      stt,
		registry: registry,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/stt/ws", h.wsServer.HandleConnection)
	g.POST("/stt", h.stt.Transcribe)
	g.GET("/stt/live", h.ListLive)
}

type LiveResponse struct {
	Sessions   []Stats        `json:"sessions"`
	Count      int            `json:"count"`
	ByProvider map[string]int `json:"by_provider"`
}

// ListLive reports the sessions currently held by this process.
func (h *Handler) ListLive(c echo.Context) error {
	sessions := h.registry.List()
	return c.JSON(http.StatusOK, LiveResponse{
		Sessions:   sessions,
		Count:      len(sessions),
		ByProvider: h.registry.CountByProvider(),
	})
}
