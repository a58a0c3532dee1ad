// Package stream writes orchestrator events to clients as newline-delimited
// JSON over HTTP or as text frames over a WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/pkg/models"
)

// ContentTypeNDJSON is the media type of an event stream response.
const ContentTypeNDJSON = "application/x-ndjson"

// NDJSONWriter writes one JSON object per line and flushes after each event.
// After the first write failure the peer is considered gone and later events
// are discarded.
type NDJSONWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
	written int
	logger  *slog.Logger
}

// NewNDJSONWriter wraps w. When w is an http.ResponseWriter the stream headers
// are set and each event is flushed.
func NewNDJSONWriter(w io.Writer, logger *slog.Logger) *NDJSONWriter {
	if logger == nil {
		logger = slog.Default()
	}
	nw := &NDJSONWriter{w: w, logger: logger.With("component", "stream")}
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", ContentTypeNDJSON)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
	}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}
	return nw
}

// Emit writes e as a single line.
func (n *NDJSONWriter) Emit(_ context.Context, e models.StreamEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("failed to encode stream event", "type", e.Type, "error", err)
		return
	}
	data = append(data, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return
	}
	if _, err := n.w.Write(data); err != nil {
		n.err = err
		n.logger.Debug("stream peer gone", "run_id", e.RunID, "error", err)
		return
	}
	n.written++
	if n.flusher != nil {
		n.flusher.Flush()
	}
}

// Err returns the first write error.
func (n *NDJSONWriter) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Written returns the number of events delivered.
func (n *NDJSONWriter) Written() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.written
}

// DecodeNDJSON reads events from r until EOF. Used by clients of the stream.
func DecodeNDJSON(r io.Reader, fn func(models.StreamEvent) error) error {
	dec := json.NewDecoder(r)
	for {
		var e models.StreamEvent
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

var _ agent.EventSink = (*NDJSONWriter)(nil)
