package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512 * 1024
)

var (
	ErrIdleTimeout     = errors.New("idle timeout")
	ErrTransportClosed = errors.New("transport closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is the client side of a session as the gateway sees it. ReadFrame is
// only called from the serving goroutine; WriteJSON and Close may be called
// from any goroutine.
type Conn interface {
	// ReadFrame waits up to timeout for the next audio frame. A zero-length
	// frame is a keepalive. It returns ErrIdleTimeout or ErrTransportClosed.
	ReadFrame(timeout time.Duration) ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	c := &wsConn{
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	go c.pingLoop()
	return c
}

func (c *wsConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	}

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrIdleTimeout
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			c.logger.Debug("websocket read error", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	// Text frames carry no audio; they only prove the client is alive.
	if mt != websocket.BinaryMessage {
		return []byte{}, nil
	}
	return data, nil
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
