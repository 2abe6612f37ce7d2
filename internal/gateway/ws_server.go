package gateway

import (
	"log/slog"

	"github.com/labstack/echo/v4"
)

const sessionCookie = "session_token"

type WSServer struct {
	gateway *Gateway
	logger  *slog.Logger
}

func NewWSServer(gateway *Gateway, logger *slog.Logger) *WSServer {
	return &WSServer{
		gateway: gateway,
		logger:  logger.With("component", "ws_server"),
	}
}

// HandleConnection upgrades the request and serves one session on it. The
// provider query parameter overrides the configured provider; identity is
// taken from the token parameter or the session cookie, unvalidated.
func (s *WSServer) HandleConnection(c echo.Context) error {
	provider := c.QueryParam("provider")
	identity := identityFrom(c)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newWSConn(ws, s.logger)
	if err := s.gateway.Serve(c.Request().Context(), conn, Request{
		Provider: provider,
		Identity: identity,
	}); err != nil {
		s.logger.Warn("session ended with error", "error", err)
	}
	return nil
}

// identityFrom returns the opaque caller identity, if any. It is passed on
// to usage accounting as is.
func identityFrom(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
