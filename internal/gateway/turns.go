package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/stream"
	"github.com/haasonsaas/conduit/pkg/models"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type toolsResponse struct {
	Tools []models.ToolDefinition `json:"tools"`
}

// handleTurnStream runs a turn and streams its events as NDJSON. Once the
// turn is accepted the response is 200 and failures arrive as a terminal
// error event.
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request) {
	turn, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	sink := stream.NewNDJSONWriter(w, s.logger)
	if _, err := s.engine.Run(ctx, turn, sink); err != nil {
		s.logTurnError(ctx, err)
	}
	if err := sink.Err(); err != nil {
		s.logger.Debug("stream client went away", "error", err, "events", sink.Written())
	}
}

// handleTurnComplete runs a turn and returns the outcome as one JSON body.
func (s *Server) handleTurnComplete(w http.ResponseWriter, r *http.Request) {
	turn, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	outcome, err := s.engine.Run(ctx, turn, agent.NopSink{})
	if err != nil {
		s.logTurnError(ctx, err)
		writeError(w, statusForError(err), agent.ErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleTurnWebSocket upgrades the connection, reads the turn from the
// first text frame and streams events back as text frames. The turn is
// cancelled when the client disconnects.
func (s *Server) handleTurnWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sink := stream.NewWebSocketSink(conn, s.logger)
	defer func() { _ = sink.Close() }() //nolint:errcheck

	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	var turn agent.Turn
	if err := sink.ReadJSON(&turn); err != nil {
		agent.NewEventEmitter("", sink).Error(ctx, fmt.Errorf("%w: %v", agent.ErrInvalidTurn, err))
		return
	}
	if err := turn.Validate(); err != nil {
		agent.NewEventEmitter("", sink).Error(ctx, err)
		return
	}
	sink.WatchPeer(cancel)

	if _, err := s.engine.Run(ctx, &turn, sink); err != nil {
		s.logTurnError(ctx, err)
	}
}

// handleListTools returns the tools the caller may use.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.engine.ListTools(r.Context())
	if err != nil {
		s.logger.Warn("list tools failed", "error", err)
		writeError(w, http.StatusBadGateway, "tools_unavailable", err.Error())
		return
	}
	if tools == nil {
		tools = []models.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, toolsResponse{Tools: tools})
}

func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (*agent.Turn, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "invalid_request", "content type must be application/json")
		return nil, false
	}
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	var turn agent.Turn
	if err := decoder.Decode(&turn); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return nil, false
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a single JSON object")
		return nil, false
	}
	if err := turn.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, agent.ErrorCode(err), err.Error())
		return nil, false
	}
	return &turn, true
}

func (s *Server) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.TurnTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.TurnTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Server) logTurnError(ctx context.Context, err error) {
	level := slog.LevelWarn
	if statusForError(err) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "turn failed",
		"error", err,
		"code", agent.ErrorCode(err),
		"request_id", observability.GetRequestID(ctx),
	)
}

// statusForError maps a turn error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalidTurn):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrModelNotAllowed), errors.Is(err, agent.ErrSessionForbidden):
		return http.StatusForbidden
	case errors.Is(err, agent.ErrBudgetBlocked):
		return http.StatusPaymentRequired
	case errors.Is(err, agent.ErrCheckpointUnavailable), errors.Is(err, agent.ErrNoProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
