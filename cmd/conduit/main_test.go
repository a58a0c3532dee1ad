package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "run", "config", "tools", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigValidate(t *testing.T) {
	valid := writeConfig(t, "llm:\n  default_model: gpt-4o\n")
	out, err := execute(t, "config", "validate", "--config", valid)
	if err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %q, want ok", out)
	}

	invalid := writeConfig(t, "server:\n  port: -1\n")
	if _, err := execute(t, "config", "validate", "--config", invalid); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestToolsListJSON(t *testing.T) {
	path := writeConfig(t, "llm:\n  default_model: gpt-4o\n")
	out, err := execute(t, "tools", "list", "--json", "--config", path)
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	var defs []models.ToolDefinition
	if err := json.Unmarshal([]byte(out), &defs); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
	}
	for _, want := range []string{"current_time", "session_usage"} {
		if !names[want] {
			t.Errorf("missing tool %q in %v", want, names)
		}
	}
}

func TestTurnMessage(t *testing.T) {
	got, err := turnMessage([]string{"what", "time"}, strings.NewReader("ignored"))
	if err != nil || got != "what time" {
		t.Fatalf("turnMessage(args) = %q, %v", got, err)
	}

	got, err = turnMessage(nil, strings.NewReader("  from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Fatalf("turnMessage(stdin) = %q, %v", got, err)
	}

	if _, err := turnMessage(nil, strings.NewReader("   ")); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestEventPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newEventPrinter(&buf)
	ctx := context.Background()

	events := []models.StreamEvent{
		{Type: models.EventAssistantDelta, Heartbeat: true},
		{Type: models.EventAssistantDelta, Delta: "Checking"},
		{Type: models.EventToolStarted, Tool: &models.ToolPayload{Name: "current_time", Args: json.RawMessage(`{"timezone": "UTC"}`)}},
		{Type: models.EventToolCompleted, Tool: &models.ToolPayload{Name: "current_time", Status: models.ToolStatusOK, DurationMs: 3}},
		{Type: models.EventAssistantDelta, Delta: "It is noon."},
		{Type: models.EventFinal, Final: &models.FinalPayload{
			Status:     models.OutcomeSuccess,
			Content:    "It is noon.",
			Iterations: 2,
			Usage:      &models.UsagePayload{InputTokens: 10, OutputTokens: 4},
		}},
	}
	for _, e := range events {
		p.Emit(ctx, e)
	}

	want := "Checking\n" +
		"> current_time {\"timezone\": \"UTC\"}\n" +
		"< current_time ok (3ms)\n" +
		"It is noon.\n" +
		"[success, 2 iterations, 10 in / 4 out tokens]\n"
	if got := buf.String(); got != want {
		t.Fatalf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestEventPrinterFinalWithoutDeltas(t *testing.T) {
	var buf bytes.Buffer
	p := newEventPrinter(&buf)
	ctx := context.Background()

	p.Emit(ctx, models.StreamEvent{Type: models.EventFinal, Final: &models.FinalPayload{
		Status:    models.OutcomeIncomplete,
		Content:   "partial",
		SessionID: "s1",
	}})
	p.Emit(ctx, models.StreamEvent{Type: models.EventError, Error: &models.ErrorPayload{Code: "llm_error", Message: "boom"}})

	want := "partial\n[incomplete, 0 iterations, session s1]\nerror: llm_error: boom\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
