package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsHandshakeWait   = 30 * time.Second
)

// ErrUnexpectedFrame is returned when the first client frame is not text.
var ErrUnexpectedFrame = errors.New("expected a text frame")

// WebSocketSink sends events as text frames. A single goroutine owns writes
// and pings; Emit only queues.
type WebSocketSink struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	readers   sync.WaitGroup

	pingInterval time.Duration
}

// NewWebSocketSink starts the write loop for conn.
func NewWebSocketSink(conn *websocket.Conn, logger *slog.Logger) *WebSocketSink {
	return newWebSocketSink(conn, logger, wsPingInterval)
}

func newWebSocketSink(conn *websocket.Conn, logger *slog.Logger, ping time.Duration) *WebSocketSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebSocketSink{
		conn:         conn,
		send:         make(chan []byte, wsSendBuffer),
		logger:       logger.With("component", "stream", "transport", "websocket"),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
		pingInterval: ping,
	}
	conn.SetReadLimit(wsMaxPayloadBytes)
	go s.writeLoop()
	return s
}

// ReadJSON reads the first client frame into v.
func (s *WebSocketSink) ReadJSON(v any) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(wsHandshakeWait)) //nolint:errcheck
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}
	if messageType != websocket.TextMessage {
		return ErrUnexpectedFrame
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// WatchPeer reads and discards client frames until the connection fails,
// then calls onGone. It keeps the read deadline alive with pongs.
func (s *WebSocketSink) WatchPeer(onGone func()) {
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				if onGone != nil {
					onGone()
				}
				return
			}
		}
	}()
}

// Emit queues e for sending. It never blocks past the sink's lifetime.
func (s *WebSocketSink) Emit(ctx context.Context, e models.StreamEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to encode stream event", "type", e.Type, "error", err)
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	case <-s.closing:
	case <-ctx.Done():
	}
}

func (s *WebSocketSink) writeLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.logger.Debug("websocket peer gone", "error", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				return
			}
		case <-s.closing:
			for {
				select {
				case msg := <-s.send:
					if err := s.write(msg); err != nil {
						return
					}
				default:
					closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(wsWriteWait)) //nolint:errcheck
					return
				}
			}
		}
	}
}

func (s *WebSocketSink) write(msg []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close flushes queued events, sends a close frame and releases the
// connection. It waits for the sink's goroutines to exit.
func (s *WebSocketSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		<-s.done
		err = s.conn.Close()
		s.readers.Wait()
	})
	return err
}

var _ agent.EventSink = (*WebSocketSink)(nil)
