package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/auth"
	"github.com/haasonsaas/conduit/internal/backoff"
	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/tools/policy"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Config configures the orchestration loop: iteration limits, model defaults
// and the fault-tolerance policies for model and tool calls.
type Config struct {
	// MaxIterations bounds model round-trips per turn when the turn does not set one.
	// Default: 8
	MaxIterations int

	// DefaultModel is used when the turn does not name a model.
	DefaultModel string

	// System is the system prompt sent with every request.
	System string

	// MaxTokens limits each model response.
	// Default: 4096
	MaxTokens int

	// LLMRetry and LLMBreaker guard the model call under breaker key "llm".
	LLMRetry   infra.RetryPolicy
	LLMBreaker infra.BreakerPolicy

	// ToolRetry and ToolBreaker guard tool calls under "tool:<serverId>".
	ToolRetry   infra.RetryPolicy
	ToolBreaker infra.BreakerPolicy

	// ToolTimeout bounds each tool call attempt.
	// Default: 60s
	ToolTimeout time.Duration

	// MaxToolResultBytes truncates tool output fed back to the model.
	// Default: 64KiB
	MaxToolResultBytes int

	// MaxToolCallsPerIteration drops tool calls beyond this count in one response.
	// Default: 16
	MaxToolCallsPerIteration int

	// CheckpointFlushTimeout bounds the detached save performed on cancellation.
	// Default: 5s
	CheckpointFlushTimeout time.Duration

	// HeartbeatInterval is the idle time after which an empty assistant.delta
	// is emitted. Negative disables heartbeats.
	// Default: 15s
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations: 8,
		MaxTokens:     4096,
		LLMRetry: infra.RetryPolicy{
			Retries:     2,
			Backoff:     backoff.Policy{Base: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2},
			ShouldRetry: infra.RetryTransient,
		},
		LLMBreaker: infra.DefaultBreakerPolicy(),
		ToolRetry: infra.RetryPolicy{
			Retries:     2,
			Backoff:     backoff.Policy{Base: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2},
			ShouldRetry: IsToolRetryable,
		},
		ToolBreaker:              infra.DefaultBreakerPolicy(),
		ToolTimeout:              60 * time.Second,
		MaxToolResultBytes:       64 * 1024,
		MaxToolCallsPerIteration: 16,
		CheckpointFlushTimeout:   5 * time.Second,
		HeartbeatInterval:        15 * time.Second,
	}
}

func sanitizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.LLMRetry.ShouldRetry == nil {
		cfg.LLMRetry.ShouldRetry = defaults.LLMRetry.ShouldRetry
	}
	if cfg.ToolRetry.ShouldRetry == nil {
		cfg.ToolRetry.ShouldRetry = defaults.ToolRetry.ShouldRetry
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaults.ToolTimeout
	}
	if cfg.MaxToolResultBytes <= 0 {
		cfg.MaxToolResultBytes = defaults.MaxToolResultBytes
	}
	if cfg.MaxToolCallsPerIteration <= 0 {
		cfg.MaxToolCallsPerIteration = defaults.MaxToolCallsPerIteration
	}
	if cfg.CheckpointFlushTimeout <= 0 {
		cfg.CheckpointFlushTimeout = defaults.CheckpointFlushTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	return &cfg
}

// Options wires the orchestrator to its collaborators. Only Provider is
// required; a nil Policy grants everything and nil stores are skipped.
type Options struct {
	Provider    LLMProvider
	Registry    ToolRegistry
	Policy      PolicySource
	Checkpoints CheckpointStore
	Budget      BudgetEvaluator
	Usage       UsageRecorder
	Breakers    *infra.BreakerStore
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Config      *Config
}

// Orchestrator drives one conversational turn through model round-trips and
// tool executions.
//
// The loop operates as a state machine:
//
//	AWAIT_MODEL ──tool calls──▶ EXECUTE_TOOLS ──▶ AWAIT_MODEL
//	     │                                           │
//	     └──text only──▶ FINALIZE ◀──max iterations──┘
//
//	any state ──cancel──▶ ABORTED (checkpoint flushed, final emitted)
//
// An Orchestrator is safe for concurrent use; each Run owns its own transcript
// and dedup cache.
type Orchestrator struct {
	provider    LLMProvider
	registry    ToolRegistry
	policy      PolicySource
	checkpoints CheckpointStore
	budget      BudgetEvaluator
	usage       UsageRecorder
	breakers    *infra.BreakerStore
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	config      *Config
}

// NewOrchestrator creates an orchestrator from opts.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = infra.DefaultBreakers
	}
	return &Orchestrator{
		provider:    opts.Provider,
		registry:    opts.Registry,
		policy:      opts.Policy,
		checkpoints: opts.Checkpoints,
		budget:      opts.Budget,
		usage:       opts.Usage,
		breakers:    breakers,
		logger:      logger.With("component", "orchestrator"),
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		config:      sanitizeConfig(opts.Config),
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return *o.config
}

// runState is the working state of one run. It is owned by a single goroutine.
type runState struct {
	runID      string
	model      string
	perms      *policy.EffectivePermissions
	emitter    *EventEmitter
	cp         *checkpointer
	tools      []models.ToolDefinition
	toolIndex  map[string]models.ToolDefinition
	dedupe     *dedupeCache
	calls      []models.ToolInvocation
	usage      usage.Usage
	cost       float64
	iteration  int
	maxIter    int
	budgetSubj BudgetSubject
	before     *BudgetStatus
	started    time.Time

	// stopHeartbeat runs before any terminal event is emitted.
	stopHeartbeat func()
}

// modelResponse is one completed model round-trip.
type modelResponse struct {
	text   string
	calls  []pendingCall
	finish FinishReason
	usage  *usage.Usage
}

// Permissions resolves the caller's effective permissions from ctx.
func (o *Orchestrator) Permissions(ctx context.Context) *policy.EffectivePermissions {
	identity, _ := auth.IdentityFromContext(ctx)
	return o.resolve(identity)
}

func (o *Orchestrator) resolve(identity *models.Identity) *policy.EffectivePermissions {
	if o.policy == nil {
		return policy.AllowAll()
	}
	engine := o.policy.Engine()
	if engine == nil {
		return policy.AllowAll()
	}
	return engine.ResolveIdentity(identity)
}

// ListTools returns the tools the caller in ctx may use.
func (o *Orchestrator) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	if o.registry == nil {
		return nil, nil
	}
	tools, err := o.registry.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return policy.FilterTools(tools, o.Permissions(ctx)), nil
}

// Run executes one turn, streaming events to sink. Events always end with a
// single final or error event.
//
// Run returns an error only for input errors, budget blocks and model
// failures. Cancellation is not an error: the outcome has status aborted and
// the checkpoint is flushed on a detached context.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, sink EventSink) (*Outcome, error) {
	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	emitter := NewEventEmitter(runID, sink)
	started := time.Now()

	st, err := o.prepare(ctx, runID, turn, emitter)
	if err != nil {
		emitter.Error(ctx, err)
		o.metrics.RecordTurn(turnStatus(err), time.Since(started).Seconds())
		return nil, err
	}
	st.started = started
	st.stopHeartbeat = emitter.StartHeartbeat(ctx, o.config.HeartbeatInterval)
	defer st.stopHeartbeat()

	ctx = observability.AddSessionID(ctx, st.cp.cp.ID)
	ctx, span := o.tracer.TraceTurn(ctx, st.cp.cp.ID, st.model)
	defer span.End()

	logger := o.logger.With("run_id", runID, "session_id", st.cp.cp.ID, "model", st.model)
	logger.Debug("turn started", "messages", len(turn.Messages), "tools", len(st.tools), "max_iterations", st.maxIter)

	st.cp.append(mergeTranscript(st.cp.messages(), turn.Messages)...)
	st.cp.save(ctx)

	for st.iteration < st.maxIter {
		if ctx.Err() != nil {
			return o.abort(ctx, st, nil), nil
		}
		st.iteration++
		st.emitter.SetIteration(st.iteration)

		resp, err := o.awaitModel(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return o.abort(ctx, st, nil), nil
			}
			o.tracer.RecordError(span, err)
			return nil, o.fail(ctx, st, &LoopError{Phase: PhaseAwaitModel, Iteration: st.iteration, Cause: err})
		}

		calls := o.prepareCalls(st, resp.calls)
		toolCalls := make([]models.ToolCall, len(calls))
		for i, call := range calls {
			toolCalls[i] = call.toolCall()
		}
		st.emitter.AssistantDone(ctx, resp.text, toolCalls)
		o.recordUsage(ctx, st, resp.usage)

		// A response whose tool calls were all malformed beyond recovery is
		// treated as a plain completion.
		if len(calls) == 0 {
			content := resp.text
			status := models.OutcomeSuccess
			if strings.TrimSpace(content) == "" {
				content = fallbackSummary("The model returned an empty response.", st.calls)
				status = models.OutcomeIncomplete
			}
			return o.finalize(ctx, st, content, status), nil
		}

		st.cp.append(models.Message{Role: models.RoleAssistant, Content: resp.text, ToolCalls: toolCalls})
		st.cp.save(ctx)

		for i, call := range calls {
			if ctx.Err() != nil {
				return o.abort(ctx, st, calls[i:]), nil
			}
			inv := o.executeCall(ctx, st, call)
			st.calls = append(st.calls, inv)
			st.cp.record(inv)
			st.cp.append(models.Message{Role: models.RoleTool, ToolCallID: call.ID, Content: toolContent(inv)})
			if ctx.Err() != nil {
				return o.abort(ctx, st, calls[i+1:]), nil
			}
			st.cp.save(ctx)
		}
	}

	logger.Info("turn reached max iterations", "iterations", st.iteration)
	summary := fallbackSummary(
		fmt.Sprintf("I reached the limit of %d steps before finishing this request.", st.maxIter),
		st.calls,
	)
	outcome := o.finalize(ctx, st, summary, models.OutcomeIncomplete)
	outcome.limitReached = true
	return outcome, nil
}

// Complete runs a turn without streaming and returns the outcome.
func (o *Orchestrator) Complete(ctx context.Context, turn *Turn) (*Outcome, error) {
	return o.Run(ctx, turn, NopSink{})
}

// prepare validates the turn and performs every check that must happen
// before any state is created.
func (o *Orchestrator) prepare(ctx context.Context, runID string, turn *Turn, emitter *EventEmitter) (*runState, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}

	identity, _ := auth.IdentityFromContext(ctx)
	perms := o.resolve(identity)

	model := strings.TrimSpace(turn.Model)
	if model == "" {
		model = o.config.DefaultModel
	}
	if !policy.IsModelAllowed(model, perms) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotAllowed, model)
	}

	subject := BudgetSubject{Roles: perms.AppliedRoles}
	ownerID := ""
	if identity != nil {
		subject.AccountID = identity.AccountID
		subject.UserID = identity.Subject
		ownerID = identity.Subject
	}

	before := o.evaluateBudget(ctx, subject)
	if before.Blocked() {
		emitter.BudgetBlocked(ctx, before.Hard)
		o.metrics.RecordBudgetBlock()
		o.logger.Info("turn blocked by budget", "run_id", runID, "account_id", subject.AccountID, "user_id", subject.UserID)
		return nil, ErrBudgetBlocked
	}
	if before != nil && len(before.Soft) > 0 {
		emitter.BudgetWarning(ctx, before.Soft)
	}

	cp, err := loadCheckpoint(ctx, o.checkpoints, turn.SessionID, ownerID, o.logger)
	if err != nil {
		if errors.Is(err, ErrSessionForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCheckpointUnavailable, err)
	}

	tools := o.availableTools(ctx, perms)
	index := make(map[string]models.ToolDefinition, len(tools))
	for _, def := range tools {
		index[def.Name] = def
	}

	maxIter := turn.MaxIterations
	if maxIter <= 0 {
		maxIter = o.config.MaxIterations
	}

	return &runState{
		runID:     runID,
		model:     model,
		perms:     perms,
		emitter:   emitter,
		tools:     tools,
		toolIndex: index,
		dedupe:    newDedupeCache(),
		maxIter:   maxIter,

		stopHeartbeat: func() {},
		cp: &checkpointer{
			store:        o.checkpoints,
			cp:           cp,
			logger:       o.logger,
			tracer:       o.tracer,
			flushTimeout: o.config.CheckpointFlushTimeout,
			now:          time.Now,
		},
		budgetSubj: subject,
		before:     before,
	}, nil
}

// availableTools lists registry tools filtered by policy. A registry failure
// degrades to a tool-less turn.
func (o *Orchestrator) availableTools(ctx context.Context, perms *policy.EffectivePermissions) []models.ToolDefinition {
	if o.registry == nil {
		return nil
	}
	tools, err := o.registry.ListTools(ctx)
	if err != nil {
		o.logger.Warn("tool listing failed", "error", err)
		return nil
	}
	return policy.FilterTools(tools, perms)
}

// evaluateBudget consults the budget evaluator. Evaluation failures are
// logged and treated as no breach.
func (o *Orchestrator) evaluateBudget(ctx context.Context, subject BudgetSubject) *BudgetStatus {
	if o.budget == nil {
		return nil
	}
	status, err := o.budget.Evaluate(ctx, subject)
	if err != nil {
		o.logger.Warn("budget evaluation failed", "error", err)
		return nil
	}
	return status
}

// awaitModel performs one model round-trip through breaker key "llm".
func (o *Orchestrator) awaitModel(ctx context.Context, st *runState) (*modelResponse, error) {
	req := &CompletionRequest{
		Model:     st.model,
		System:    o.config.System,
		Messages:  append([]models.Message(nil), st.cp.messages()...),
		Tools:     st.tools,
		MaxTokens: o.config.MaxTokens,
	}

	ctx, span := o.tracer.TraceLLMRequest(ctx, o.provider.Name(), st.model, st.iteration)
	defer span.End()

	start := time.Now()
	resp, stats, err := infra.Guard(ctx, o.breakers, "llm", o.config.LLMBreaker, o.withRetryHooks("llm", o.config.LLMRetry),
		func(ctx context.Context) (*modelResponse, error) {
			return o.streamOnce(ctx, st, req)
		})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		o.tracer.RecordError(span, err)
		o.metrics.RecordLLMRequest(o.provider.Name(), st.model, "error", elapsed, 0, 0)
		o.logger.Warn("model request failed", "run_id", st.runID, "iteration", st.iteration, "attempts", stats.Attempts, "error", err)
		return nil, err
	}

	var in, out int64
	if resp.usage != nil {
		in, out = resp.usage.InputTokens, resp.usage.OutputTokens
	}
	o.metrics.RecordLLMRequest(o.provider.Name(), st.model, "success", elapsed, in, out)
	return resp, nil
}

// streamOnce reads one provider stream to completion. Text is forwarded as it
// arrives; tool-call fragments are buffered until the stream closes.
func (o *Orchestrator) streamOnce(ctx context.Context, st *runState, req *CompletionRequest) (*modelResponse, error) {
	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := newToolCallAccumulator()
	var text strings.Builder
	resp := &modelResponse{}

	for {
		var chunk *CompletionChunk
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok = <-chunks:
		}
		if !ok {
			break
		}
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			if text.Len() > 0 {
				return nil, &partialStreamError{cause: chunk.Error}
			}
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			st.emitter.AssistantDelta(ctx, chunk.Text)
		}
		for _, delta := range chunk.ToolCallDeltas {
			acc.Add(delta)
		}
		if chunk.FinishReason != "" {
			resp.finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.usage = chunk.Usage
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp.text = text.String()
	resp.calls = acc.Calls()
	return resp, nil
}

// withRetryHooks returns a copy of policy that logs and counts retries.
func (o *Orchestrator) withRetryHooks(key string, p infra.RetryPolicy) infra.RetryPolicy {
	next := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.metrics.RecordRetry(key)
		o.logger.Debug("retrying", "key", key, "attempt", attempt, "delay", delay, "error", err)
		if next != nil {
			next(attempt, delay, err)
		}
	}
	return p
}

// recordUsage records one round-trip's usage and emits a usage event.
func (o *Orchestrator) recordUsage(ctx context.Context, st *runState, u *usage.Usage) {
	if u.IsZero() {
		return
	}
	st.usage.Add(u)

	var cost float64
	if o.usage != nil {
		record, err := o.usage.Record(ctx, st.cp.cp.ID, *u, st.model)
		if err != nil {
			o.logger.Warn("usage record failed", "run_id", st.runID, "error", err)
		} else if record != nil {
			cost = record.Cost
		}
	}
	st.cost += cost

	st.emitter.Usage(ctx, models.UsagePayload{
		Model:        st.model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Cost:         cost,
	})
}

// finalize appends the final assistant message, re-evaluates budgets,
// persists the checkpoint and emits final.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, content string, status models.OutcomeStatus) *Outcome {
	st.cp.append(models.Message{Role: models.RoleAssistant, Content: content})
	after := o.evaluateBudget(ctx, st.budgetSubj)
	st.cp.save(ctx)

	outcome := o.outcome(st, status, content)
	outcome.BudgetAfter = after
	st.stopHeartbeat()
	st.emitter.Final(ctx, o.finalPayload(st, outcome))
	o.metrics.RecordTurn(string(status), time.Since(st.started).Seconds())
	o.logger.Info("turn finished",
		"run_id", st.runID,
		"session_id", outcome.SessionID,
		"status", status,
		"iterations", st.iteration,
		"tool_calls", len(st.calls),
		"tokens", st.usage.Total(),
	)
	return outcome
}

// abort answers any pending tool calls with a cancellation result so the
// transcript stays well-formed, flushes the checkpoint and emits final.
func (o *Orchestrator) abort(ctx context.Context, st *runState, pending []parsedCall) *Outcome {
	for _, call := range pending {
		inv := models.ToolInvocation{
			ToolCallID: call.ID,
			Name:       call.Name,
			Args:       call.args,
			RawArgs:    call.RawArgs,
			Error:      &models.ToolFailure{Code: models.ToolCodeCancelled, Message: "the request was cancelled before this tool call completed"},
			Timestamp:  time.Now(),
		}
		st.calls = append(st.calls, inv)
		st.cp.record(inv)
		st.cp.append(models.Message{Role: models.RoleTool, ToolCallID: call.ID, Content: toolContent(inv)})
	}
	st.cp.flush(ctx)

	content := fallbackSummary("The request was cancelled before it finished.", st.calls)
	outcome := o.outcome(st, models.OutcomeAborted, content)
	st.stopHeartbeat()
	st.emitter.Final(ctx, o.finalPayload(st, outcome))
	o.metrics.RecordTurn(string(models.OutcomeAborted), time.Since(st.started).Seconds())
	o.logger.Info("turn aborted", "run_id", st.runID, "session_id", outcome.SessionID, "iterations", st.iteration)
	return outcome
}

// fail flushes the checkpoint and emits the terminal error event.
func (o *Orchestrator) fail(ctx context.Context, st *runState, err error) error {
	st.cp.flush(ctx)
	st.stopHeartbeat()
	st.emitter.Error(ctx, err)
	o.metrics.RecordTurn("error", time.Since(st.started).Seconds())
	o.logger.Error("turn failed", "run_id", st.runID, "session_id", st.cp.cp.ID, "error", err)
	return err
}

func (o *Orchestrator) outcome(st *runState, status models.OutcomeStatus, content string) *Outcome {
	return &Outcome{
		Status:          status,
		Content:         content,
		SessionID:       st.cp.cp.ID,
		RunID:           st.runID,
		Model:           st.model,
		Iterations:      st.iteration,
		Messages:        append([]models.Message(nil), st.cp.messages()...),
		ToolInvocations: append([]models.ToolInvocation(nil), st.calls...),
		Usage:           st.usage,
		Cost:            st.cost,
		BudgetBefore:    st.before,
	}
}

func (o *Orchestrator) finalPayload(st *runState, outcome *Outcome) models.FinalPayload {
	payload := models.FinalPayload{
		Status:     outcome.Status,
		Content:    outcome.Content,
		SessionID:  outcome.SessionID,
		Iterations: outcome.Iterations,
	}
	if !st.usage.IsZero() {
		payload.Usage = &models.UsagePayload{
			Model:        st.model,
			InputTokens:  st.usage.InputTokens,
			OutputTokens: st.usage.OutputTokens,
			Cost:         st.cost,
		}
	}
	return payload
}

// toolContent renders an invocation as the tool message content.
func toolContent(inv models.ToolInvocation) string {
	if inv.Error == nil {
		return inv.Result
	}
	data, err := json.Marshal(struct {
		Error *models.ToolFailure `json:"error"`
	}{inv.Error})
	if err != nil {
		return inv.Error.Message
	}
	return string(data)
}

// turnStatus maps a pre-loop error to the turn metric label.
func turnStatus(err error) string {
	if errors.Is(err, ErrBudgetBlocked) {
		return "blocked"
	}
	return "error"
}
