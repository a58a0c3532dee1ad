package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/internal/tools/policy"
	"github.com/haasonsaas/conduit/pkg/models"
)

const malformedArgsHint = "Send the tool arguments as a single JSON object."

// parsedCall is an accumulated tool call with its arguments parsed.
type parsedCall struct {
	pendingCall
	args     json.RawMessage
	parseErr error
}

// toolCall returns the call as recorded on the assistant message. Malformed
// arguments are recorded as an empty object so the transcript stays valid JSON.
func (c parsedCall) toolCall() models.ToolCall {
	input := c.args
	if c.parseErr != nil || len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return models.ToolCall{ID: c.ID, Name: c.Name, Input: input}
}

// prepareCalls caps the number of calls per response and parses arguments.
func (o *Orchestrator) prepareCalls(st *runState, pending []pendingCall) []parsedCall {
	if limit := o.config.MaxToolCallsPerIteration; len(pending) > limit {
		o.logger.Warn("dropping excess tool calls",
			"run_id", st.runID,
			"iteration", st.iteration,
			"requested", len(pending),
			"limit", limit,
		)
		pending = pending[:limit]
	}
	calls := make([]parsedCall, 0, len(pending))
	for _, p := range pending {
		args, err := parseToolArgs(p.RawArgs)
		calls = append(calls, parsedCall{pendingCall: p, args: args, parseErr: err})
	}
	return calls
}

// executeCall runs one tool call: argument check, permission check, dedup,
// then the guarded registry call. It always returns an invocation record;
// failures are carried in inv.Error and never abort the turn.
func (o *Orchestrator) executeCall(ctx context.Context, st *runState, call parsedCall) models.ToolInvocation {
	inv := models.ToolInvocation{
		ToolCallID: call.ID,
		Name:       call.Name,
		RawArgs:    call.RawArgs,
		Timestamp:  time.Now(),
	}

	if call.parseErr != nil {
		inv.Error = &models.ToolFailure{
			Code:    models.ToolCodeMalformedArgs,
			Message: fmt.Sprintf("could not parse arguments for %s: %s", call.Name, truncate(call.RawArgs, 200)),
			Hint:    malformedArgsHint,
		}
		o.rejectCall(ctx, st, inv)
		return inv
	}
	inv.Args = call.args

	def, ok := st.toolIndex[call.Name]
	if !ok || !policy.IsToolAllowed(def.Name, def.ServerID, st.perms) {
		inv.Error = &models.ToolFailure{
			Code:    models.ToolCodeNotPermitted,
			Message: fmt.Sprintf("tool %q is not available", call.Name),
		}
		o.rejectCall(ctx, st, inv)
		return inv
	}
	inv.ServerID = def.ServerID

	sig := callSignature(call.Name, call.args)
	if cached, hit := st.dedupe.Get(sig); hit {
		inv.Result = cached.Result
		inv.Error = cached.Error
		inv.Cached = true
		o.metrics.RecordDedupHit(call.Name)
		o.logger.Debug("tool call served from cache", "run_id", st.runID, "tool", call.Name, "call_id", call.ID)
		st.emitter.ToolStarted(ctx, call.ID, call.Name, def.ServerID, call.args)
		st.emitter.ToolCompleted(ctx, inv, 0)
		return inv
	}

	st.emitter.ToolStarted(ctx, call.ID, call.Name, def.ServerID, call.args)
	start := time.Now()
	o.invoke(ctx, st, def, &inv)
	duration := time.Since(start)

	if inv.Error == nil || inv.Error.Code != models.ToolCodeCancelled {
		st.dedupe.Put(sig, inv)
	}
	st.emitter.ToolCompleted(ctx, inv, duration)

	status := string(models.ToolStatusOK)
	if inv.Error != nil {
		status = string(models.ToolStatusError)
	}
	o.metrics.RecordToolExecution(call.Name, status, duration.Seconds())
	return inv
}

// invoke calls the registry through breaker key "tool:<serverId>" wrapping retry.
func (o *Orchestrator) invoke(ctx context.Context, st *runState, def models.ToolDefinition, inv *models.ToolInvocation) {
	ctx, span := o.tracer.TraceToolExecution(ctx, def.Name, def.ServerID)
	defer span.End()

	key := breakerKey(def.ServerID)
	out, stats, err := infra.Guard(ctx, o.breakers, key, o.config.ToolBreaker, o.withRetryHooks(key, o.config.ToolRetry),
		func(ctx context.Context) (*ToolOutput, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, o.config.ToolTimeout)
			defer cancel()
			out, err := o.registry.CallTool(attemptCtx, def.Name, inv.Args)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = &ToolOutput{}
			}
			return out, nil
		})
	inv.Attempts = stats.Attempts

	switch {
	case err != nil && ctx.Err() != nil:
		inv.Error = &models.ToolFailure{
			Code:    models.ToolCodeCancelled,
			Message: "the request was cancelled before this tool call completed",
		}
	case err != nil:
		toolErr := NewToolError(def.Name, err)
		toolErr.ToolCallID = inv.ToolCallID
		toolErr.Attempts = stats.Attempts
		inv.Error = toolErr.Failure()
		o.tracer.RecordError(span, err)
		o.logger.Warn("tool call failed",
			"run_id", st.runID,
			"tool", def.Name,
			"server_id", def.ServerID,
			"type", toolErr.Type,
			"attempts", stats.Attempts,
			"error", err,
		)
	case out.IsError:
		inv.Error = &models.ToolFailure{
			Code:    models.ToolCodeExecution,
			Message: truncateResult(out.Content, o.config.MaxToolResultBytes),
		}
	default:
		inv.Result = truncateResult(out.Content, o.config.MaxToolResultBytes)
	}
}

// rejectCall emits the started/completed pair for a call that was refused
// before reaching the registry.
func (o *Orchestrator) rejectCall(ctx context.Context, st *runState, inv models.ToolInvocation) {
	st.emitter.ToolStarted(ctx, inv.ToolCallID, inv.Name, inv.ServerID, inv.Args)
	st.emitter.ToolCompleted(ctx, inv, 0)
	o.metrics.RecordToolExecution(inv.Name, string(models.ToolStatusError), 0)
}

func breakerKey(serverID string) string {
	if serverID == "" {
		return "tool:local"
	}
	return "tool:" + serverID
}

// truncateResult caps s at limit bytes on a rune boundary and appends a marker.
func truncateResult(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n...[truncated %d bytes]", s[:cut], len(s)-cut)
}
