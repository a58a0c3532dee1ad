package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/pkg/models"
)

type sseEvent struct {
	name string
	data string
}

func writeAnthropicSSE(t *testing.T, w http.ResponseWriter, events ...sseEvent) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("expected http.Flusher")
	}
	for _, e := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, e.data)
		flusher.Flush()
	}
}

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	return p
}

func TestNewAnthropicProvider(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.getModel("") != "claude-sonnet-4-20250514" {
		t.Errorf("default model = %q", p.getModel(""))
	}
	if p.getModel("claude-opus-4") != "claude-opus-4" {
		t.Errorf("explicit model not kept")
	}
}

func TestAnthropicStreamsTextToolUseAndUsage(t *testing.T) {
	var body map[string]any
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("missing x-api-key header")
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeAnthropicSSE(t, w,
			sseEvent{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude","stop_reason":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
			sseEvent{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			sseEvent{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Searching"}}`},
			sseEvent{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			sseEvent{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"search","input":{}}}`},
			sseEvent{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`},
			sseEvent{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`},
			sseEvent{"content_block_stop", `{"type":"content_block_stop","index":1}`},
			sseEvent{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":15}}`},
			sseEvent{"message_stop", `{"type":"message_stop"}`},
		)
	})

	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System: "be brief",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "extra rules"},
			{Role: models.RoleUser, Content: "find go"},
		},
		Tools: []models.ToolDefinition{{
			Name:        "search",
			Description: "web search",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		}},
		ToolChoice: "required",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := collect(t, ch)

	if got.err != nil {
		t.Fatalf("stream error: %v", got.err)
	}
	if got.text != "Searching" {
		t.Errorf("text = %q", got.text)
	}
	if got.finish != agent.FinishToolCalls {
		t.Errorf("finish = %q", got.finish)
	}
	if len(got.deltas) != 3 {
		t.Fatalf("deltas = %+v", got.deltas)
	}
	for _, d := range got.deltas {
		if d.Index != 1 {
			t.Errorf("delta index = %d, want 1", d.Index)
		}
	}
	if got.deltas[0].ID != "toolu_1" || got.deltas[0].Name != "search" {
		t.Errorf("first delta = %+v", got.deltas[0])
	}
	if args := got.deltas[1].Arguments + got.deltas[2].Arguments; args != `{"q":"go"}` {
		t.Errorf("arguments = %q", args)
	}
	if got.usage == nil || got.usage.InputTokens != 25 || got.usage.OutputTokens != 15 {
		t.Errorf("usage = %+v", got.usage)
	}

	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v", body["system"])
	}
	if text := system[0].(map[string]any)["text"]; text != "be brief\n\nextra rules" {
		t.Errorf("system text = %q", text)
	}
	if choice, _ := body["tool_choice"].(map[string]any); choice["type"] != "any" {
		t.Errorf("tool_choice = %v", body["tool_choice"])
	}
}

func TestAnthropicErrorStatusIsClassified(t *testing.T) {
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("request-id", "req_42")
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := collect(t, ch)

	providerErr, ok := GetProviderError(got.err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T: %v", got.err, got.err)
	}
	if providerErr.StatusCode() != 529 || !providerErr.Retryable() {
		t.Errorf("status = %d retryable = %v", providerErr.StatusCode(), providerErr.Retryable())
	}
	if providerErr.Code != "overloaded_error" || providerErr.Message != "Overloaded" {
		t.Errorf("code = %q message = %q", providerErr.Code, providerErr.Message)
	}
}

func TestAnthropicTruncatedStreamIsRetryable(t *testing.T) {
	p := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicSSE(t, w,
			sseEvent{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude","usage":{"input_tokens":3,"output_tokens":0}}}`},
		)
	})

	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := collect(t, ch)
	providerErr, ok := GetProviderError(got.err)
	if !ok || !providerErr.Retryable() {
		t.Fatalf("expected retryable ProviderError, got %v", got.err)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "compare"},
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "a", Name: "lookup", Input: json.RawMessage(`{"k":1}`)},
			{ID: "b", Name: "lookup", Input: json.RawMessage(`{"k":2}`)},
		}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "one"},
		{Role: models.RoleTool, ToolCallID: "b", Content: `{"error":{"code":"tool_execution_failed","message":"x"}}`},
		{Role: models.RoleAssistant, Content: "done"},
	}

	got, system, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(system) != 1 || system[0] != "sys" {
		t.Errorf("system = %v", system)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4 (user, assistant, tool results, assistant)", len(got))
	}
	if len(got[1].Content) != 3 {
		t.Errorf("assistant blocks = %d, want text plus two tool_use", len(got[1].Content))
	}
	if len(got[2].Content) != 2 {
		t.Errorf("merged tool results = %d, want 2", len(got[2].Content))
	}
}

func TestConvertAnthropicMessagesInvalidToolInput(t *testing.T) {
	_, _, err := convertAnthropicMessages([]models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a", Name: "x", Input: json.RawMessage(`{bad`)}}},
	})
	if err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools, err := convertAnthropicTools([]models.ToolDefinition{
		{Name: "search", Description: "web", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)},
		{Name: "noop"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 2 || tools[0].OfTool == nil || tools[0].OfTool.Name != "search" {
		t.Fatalf("tools = %+v", tools)
	}

	if _, err := convertAnthropicTools([]models.ToolDefinition{{Name: "bad", Parameters: json.RawMessage(`[`)}}); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestIsErrorContent(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{`{"error":{"code":"x"}}`, true},
		{`{"result":1}`, false},
		{"plain text", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isErrorContent(tt.content); got != tt.want {
			t.Errorf("isErrorContent(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestConvertStopReason(t *testing.T) {
	tests := map[string]agent.FinishReason{
		"":              "",
		"end_turn":      agent.FinishStop,
		"tool_use":      agent.FinishToolCalls,
		"max_tokens":    agent.FinishLength,
		"stop_sequence": agent.FinishStop,
	}
	for in, want := range tests {
		if got := convertStopReason(in); got != want {
			t.Errorf("convertStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}
