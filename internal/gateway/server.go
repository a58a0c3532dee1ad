// Package gateway serves the orchestrator over HTTP: streaming turns as
// NDJSON or over a WebSocket, non-streaming turns, and the caller's tool list.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/auth"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Engine runs turns. *agent.Orchestrator implements it.
type Engine interface {
	Run(ctx context.Context, turn *agent.Turn, sink agent.EventSink) (*agent.Outcome, error)
	ListTools(ctx context.Context) ([]models.ToolDefinition, error)
}

// Options configures a Server.
type Options struct {
	Addr string

	Engine Engine
	Auth   *auth.Service

	// MetricsPath and MetricsHandler expose Prometheus metrics. An empty
	// path or nil handler disables the endpoint.
	MetricsPath    string
	MetricsHandler http.Handler
	Metrics        *observability.Metrics

	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// TurnTimeout bounds a whole turn. Zero leaves it to the client.
	TurnTimeout time.Duration

	Logger *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	opts     Options
	engine   Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("gateway: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{
		opts:   opts,
		engine: opts.Engine,
		logger: logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.Handler {
		if s.opts.Auth == nil {
			return h
		}
		return auth.Middleware(s.opts.Auth, s.logger)(h)
	}

	mux.Handle("POST /v1/turns", authed(s.handleTurnStream))
	mux.Handle("GET /v1/turns/ws", authed(s.handleTurnWebSocket))
	mux.Handle("POST /v1/turns:complete", authed(s.handleTurnComplete))
	mux.Handle("GET /v1/tools", authed(s.handleListTools))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.opts.MetricsPath != "" && s.opts.MetricsHandler != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.MetricsHandler)
	}

	return chain(mux,
		recoverMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger, s.opts.Metrics),
	)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// Requests outlive ctx so Shutdown can drain them; whatever is still
	// running when Shutdown gives up is cancelled and aborts its turn.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		cancelBase()
		_ = server.Close() //nolint:errcheck
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
