// Package wsstream adapts a provider websocket into a transcription.RemoteStream.
package wsstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/stt-gateway/internal/transcription"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Decoder maps one text frame to zero or more events. Returning io.EOF ends
// the stream cleanly; any other error ends it as a failure.
type Decoder func(data []byte) ([]transcription.Event, error)

type Options struct {
	// Finish is written before the socket is closed, e.g. a provider's
	// end-of-stream message. Optional.
	Finish           func(conn *websocket.Conn) error
	KeepAlive        time.Duration
	KeepAliveMessage []byte
}

type Stream struct {
	conn    *websocket.Conn
	decode  Decoder
	opts    Options
	logger  *slog.Logger
	writeMu sync.Mutex
	pending []transcription.Event

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	wg        sync.WaitGroup
}

func Dial(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) (*websocket.Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func New(conn *websocket.Conn, decode Decoder, opts Options, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		conn:   conn,
		decode: decode,
		opts:   opts,
		logger: logger,
		closed: make(chan struct{}),
	}
	if opts.KeepAlive > 0 && len(opts.KeepAliveMessage) > 0 {
		s.wg.Add(1)
		go s.keepAlive()
	}
	return s
}

func (s *Stream) keepAlive() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, s.opts.KeepAliveMessage); err != nil {
				s.logger.Debug("keepalive failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// WriteJSON sends a text frame under the stream's write lock.
func (s *Stream) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) Send(pcm []byte) error {
	select {
	case <-s.closed:
		return transcription.ErrStreamClosed
	default:
	}
	return s.write(websocket.BinaryMessage, pcm)
}

func (s *Stream) Recv() (transcription.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return transcription.Event{}, io.EOF
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return transcription.Event{}, io.EOF
			}
			return transcription.Event{}, fmt.Errorf("read: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		events, err := s.decode(data)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return transcription.Event{}, io.EOF
			}
			return transcription.Event{}, err
		}
		s.pending = append(s.pending, events...)
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.opts.Finish != nil {
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.opts.Finish(s.conn); err != nil {
				s.logger.Debug("finish message failed", "error", err)
			}
			s.writeMu.Unlock()
		}

		close(s.closed)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		s.closeErr = s.conn.Close()
		s.wg.Wait()
	})
	return s.closeErr
}
