package clusterd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background())
	id, ok := GetTraceID(ctx)
	if !ok {
		t.Fatal("expected trace id to be present in context")
	}
	if id == 0 {
		t.Error("expected nonzero trace id")
	}

	if _, ok := GetTraceID(context.Background()); ok {
		t.Error("expected plain context to carry no trace id")
	}
}

func TestTraceIDUnique(t *testing.T) {
	a, _ := GetTraceID(WithTraceID(context.Background()))
	b, _ := GetTraceID(WithTraceID(context.Background()))
	if a == b {
		t.Error("expected successive trace ids to differ")
	}
}

func newTestLogger(t *testing.T, buf *bytes.Buffer, traceEnabled bool) *Logger {
	t.Helper()
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{Logger: slog.New(handler), traceEnabled: traceEnabled}
}

func TestInfoContextIncludesTraceIDWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &buf, true)

	ctx := WithTraceID(context.Background())
	logger.InfoContext(ctx, "handoff accepted", "worker", "w0")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := record["trace_id"]; !ok {
		t.Error("expected trace_id field in log record")
	}
	if record["worker"] != "w0" {
		t.Errorf("expected worker field to round-trip, got %v", record["worker"])
	}
}

func TestInfoContextOmitsTraceIDWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &buf, false)

	ctx := WithTraceID(context.Background())
	logger.InfoContext(ctx, "handoff accepted")

	if strings.Contains(buf.String(), "trace_id") {
		t.Error("expected trace_id to be omitted when traceEnabled is false")
	}
}

func TestWithWorkerAttachesWorkerID(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(t, &buf, false)

	worker := logger.WithWorker("worker-3")
	worker.Info("spawned")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["worker_id"] != "worker-3" {
		t.Errorf("expected worker_id=worker-3, got %v", record["worker_id"])
	}
}

func TestNewLoggerDefaultsToInfoLevel(t *testing.T) {
	logger := NewLogger(LoggingConfig{Level: "bogus", Format: "json"})
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be enabled by default")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be disabled when level defaults to info")
	}
}
