package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContext_AddsRequestAndCallID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = ContextWithCallID(ctx, 7)
	FromContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want %q", entry["request_id"], "req-1")
	}
	if entry["call_id"] != float64(7) {
		t.Errorf("call_id = %v, want 7", entry["call_id"])
	}
}

func TestFromContext_AddsRunID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")

	FromContext(ContextWithRunID(context.Background(), "run-1")).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v (%s)", err, buf.String())
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want %q", entry["run_id"], "run-1")
	}
}

func TestRunIDFromContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("RunIDFromContext() = %q on empty context", got)
	}
	if got := RunIDFromContext(ContextWithRunID(context.Background(), "abc")); got != "abc" {
		t.Errorf("RunIDFromContext() = %q, want %q", got, "abc")
	}
}

func TestCallIDFromContext_Missing(t *testing.T) {
	if _, ok := CallIDFromContext(context.Background()); ok {
		t.Error("CallIDFromContext() ok = true on empty context")
	}
}
