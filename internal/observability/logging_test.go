package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := LogLevelFromString(tt.in); got != tt.want {
				t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("shown")
	if entry := decodeLine(t, &buf); entry["msg"] != "shown" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.Info("hello", "component", "gateway")
	if !strings.Contains(buf.String(), "component=gateway") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(*slog.Logger)
		secret string
	}{
		{
			name:   "message bearer token",
			log:    func(l *slog.Logger) { l.Info("auth header bearer abcdefghijklmnopqrstuvwxyz") },
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "sensitive key",
			log:    func(l *slog.Logger) { l.Info("config", "api_key", "plain-value") },
			secret: "plain-value",
		},
		{
			name:   "jwt in attribute",
			log:    func(l *slog.Logger) { l.Info("token", "value", "eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl") },
			secret: "eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl",
		},
		{
			name:   "error value",
			log:    func(l *slog.Logger) { l.Error("failed", "error", errors.New("api_key=sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")) },
			secret: "sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		{
			name:   "logger with attrs",
			log:    func(l *slog.Logger) { l.With("authorization", "Bearer xyz").Info("request") },
			secret: "Bearer xyz",
		},
		{
			name: "group",
			log: func(l *slog.Logger) {
				l.Info("nested", slog.Group("client", slog.String("client_secret", "s3cr3t")))
			},
			secret: "s3cr3t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewLogger(LogConfig{Output: &buf}))
			out := buf.String()
			if strings.Contains(out, tt.secret) {
				t.Fatalf("secret leaked: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Fatalf("expected redaction marker: %s", out)
			}
		})
	}
}

func TestCustomRedactPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, RedactPatterns: []string{`acct-\d+`}})
	logger.Info("charging acct-12345")
	if strings.Contains(buf.String(), "acct-12345") {
		t.Fatalf("custom pattern not applied: %s", buf.String())
	}
}

func TestContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddSessionID(ctx, "sess-1")
	ctx = AddUserID(ctx, "user-1")
	ctx = AddRunID(ctx, "run-1")
	logger.InfoContext(ctx, "turn started")

	entry := decodeLine(t, &buf)
	for key, want := range map[string]string{
		"request_id": "req-1",
		"session_id": "sess-1",
		"user_id":    "user-1",
		"run_id":     "run-1",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("GetRequestID() = %q", GetRequestID(ctx))
	}
}
