package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/conduit/internal/backoff"
	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// scriptedProvider replays one chunk script per Complete call.
type scriptedProvider struct {
	scripts  [][]CompletionChunk
	calls    int32
	mu       sync.Mutex
	requests []*CompletionRequest

	// completeFunc overrides the scripts when set.
	completeFunc func(ctx context.Context, call int, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	call := int(atomic.AddInt32(&p.calls, 1)) - 1
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.completeFunc != nil {
		return p.completeFunc(ctx, call, req)
	}

	var script []CompletionChunk
	if call < len(p.scripts) {
		script = p.scripts[call]
	} else {
		script = []CompletionChunk{{Text: "done"}, {FinishReason: FinishStop}}
	}
	return replay(ctx, script), nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Calls() int { return int(atomic.LoadInt32(&p.calls)) }

func (p *scriptedProvider) Requests() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CompletionRequest(nil), p.requests...)
}

func replay(ctx context.Context, script []CompletionChunk) <-chan *CompletionChunk {
	ch := make(chan *CompletionChunk, len(script)+1)
	go func() {
		defer close(ch)
		for i := range script {
			chunk := script[i]
			select {
			case ch <- &chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// textScript is a plain completion.
func textScript(text string, in, out int64) []CompletionChunk {
	return []CompletionChunk{
		{Text: text},
		{FinishReason: FinishStop, Usage: &usage.Usage{InputTokens: in, OutputTokens: out}},
	}
}

// toolScript requests the given calls, each as a single fragment.
func toolScript(calls ...ToolCallDelta) []CompletionChunk {
	return []CompletionChunk{
		{ToolCallDeltas: calls},
		{FinishReason: FinishToolCalls, Usage: &usage.Usage{InputTokens: 10, OutputTokens: 5}},
	}
}

// memRegistry is an in-memory tool registry.
type memRegistry struct {
	tools    []models.ToolDefinition
	handlers map[string]func(ctx context.Context, args json.RawMessage) (*ToolOutput, error)

	mu    sync.Mutex
	calls map[string]int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		handlers: make(map[string]func(context.Context, json.RawMessage) (*ToolOutput, error)),
		calls:    make(map[string]int),
	}
}

func (r *memRegistry) add(serverID, name string, fn func(ctx context.Context, args json.RawMessage) (*ToolOutput, error)) {
	r.tools = append(r.tools, models.ToolDefinition{
		Name:       name,
		ServerID:   serverID,
		Parameters: json.RawMessage(`{"type":"object"}`),
	})
	r.handlers[name] = fn
}

func (r *memRegistry) ListTools(context.Context) ([]models.ToolDefinition, error) {
	return r.tools, nil
}

func (r *memRegistry) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolOutput, error) {
	r.mu.Lock()
	r.calls[name]++
	r.mu.Unlock()
	fn, ok := r.handlers[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	return fn(ctx, args)
}

func (r *memRegistry) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// memCheckpoints is an in-memory checkpoint store that counts saves.
type memCheckpoints struct {
	mu    sync.Mutex
	data  map[string]*models.Checkpoint
	saves int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{data: make(map[string]*models.Checkpoint)}
}

func (s *memCheckpoints) Load(_ context.Context, id string) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[id].Clone(), nil
}

func (s *memCheckpoints) Save(_ context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.ID] = cp.Clone()
	s.saves++
	return nil
}

func (s *memCheckpoints) get(id string) *models.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[id].Clone()
}

// staticBudget returns a fixed status.
type staticBudget struct {
	status *BudgetStatus
	calls  int32
}

func (b *staticBudget) Evaluate(context.Context, BudgetSubject) (*BudgetStatus, error) {
	atomic.AddInt32(&b.calls, 1)
	return b.status, nil
}

// fixedCostRecorder prices every round-trip at one cent.
type fixedCostRecorder struct {
	mu      sync.Mutex
	records []usage.Record
}

func (r *fixedCostRecorder) Record(_ context.Context, sessionID string, u usage.Usage, model string) (*usage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := usage.Record{SessionID: sessionID, Model: model, Usage: u, Cost: 0.01}
	r.records = append(r.records, rec)
	return &rec, nil
}

// statusError carries an HTTP-like status code.
type statusError struct {
	code int
}

func (e *statusError) Error() string   { return "upstream status " + statusText(e.code) }
func (e *statusError) StatusCode() int { return e.code }

func statusText(code int) string {
	switch code {
	case 503:
		return "503 service unavailable"
	case 400:
		return "400 bad request"
	default:
		return "error"
	}
}

// hintError is a validation failure with a hint.
type hintError struct {
	msg, hint string
}

func (e *hintError) Error() string { return e.msg }
func (e *hintError) Hint() string  { return e.hint }

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig uses short backoffs and no-op sleeps.
func fastConfig() *Config {
	cfg := DefaultConfig()
	noSleep := func(context.Context, time.Duration) error { return nil }
	cfg.LLMRetry.Sleep = noSleep
	cfg.ToolRetry.Sleep = noSleep
	cfg.LLMRetry.Backoff = backoff.Policy{Base: time.Millisecond, Max: time.Millisecond, Factor: 2}
	cfg.ToolRetry.Backoff = backoff.Policy{Base: time.Millisecond, Max: time.Millisecond, Factor: 2}
	cfg.DefaultModel = "test-model"
	return cfg
}

func newTestOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Breakers == nil {
		opts.Breakers = infra.NewBreakerStore()
	}
	if opts.Config == nil {
		opts.Config = fastConfig()
	}
	o, err := NewOrchestrator(opts)
	if err != nil {
		panic(err)
	}
	return o
}

func userTurn(content string) *Turn {
	return &Turn{Messages: []models.Message{{Role: models.RoleUser, Content: content}}}
}
