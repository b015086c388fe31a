package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to decode log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerCorrelation(t *testing.T) {
	t.Run("adds trace, span and request ids", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerTo(&buf, slog.LevelInfo)

		tp := sdktrace.NewTracerProvider()
		ctx, span := tp.Tracer("test").Start(context.Background(), "Webhook.Handle")
		defer span.End()
		ctx = WithRequestID(ctx, "req-7")

		logger.InfoContext(ctx, "payment captured", "order_id", "o1")

		entries := decodeLines(t, &buf)
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		entry := entries[0]
		if entry["trace_id"] != span.SpanContext().TraceID().String() {
			t.Errorf("expected trace id %s, got %v", span.SpanContext().TraceID(), entry["trace_id"])
		}
		if entry["span_id"] != span.SpanContext().SpanID().String() {
			t.Errorf("expected span id %s, got %v", span.SpanContext().SpanID(), entry["span_id"])
		}
		if entry["request_id"] != "req-7" {
			t.Errorf("expected request id req-7, got %v", entry["request_id"])
		}
		if entry["order_id"] != "o1" {
			t.Errorf("expected order_id o1, got %v", entry["order_id"])
		}
	})

	t.Run("omits ids that are not in the context", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerTo(&buf, slog.LevelInfo).InfoContext(context.Background(), "scheduler run")

		entry := decodeLines(t, &buf)[0]
		for _, key := range []string{"trace_id", "span_id", "request_id"} {
			if _, ok := entry[key]; ok {
				t.Errorf("expected no %s, got %v", key, entry[key])
			}
		}
	})

	t.Run("keeps ids at the top level inside groups", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerTo(&buf, slog.LevelInfo).
			With("component", "gateway").
			WithGroup("call").
			With("operation", "create_order")

		logger.InfoContext(WithRequestID(context.Background(), "req-9"), "done", "attempt", 2)

		entry := decodeLines(t, &buf)[0]
		if entry["request_id"] != "req-9" || entry["component"] != "gateway" {
			t.Fatalf("expected top-level request_id and component, got %v", entry)
		}
		call, ok := entry["call"].(map[string]any)
		if !ok {
			t.Fatalf("expected call group, got %v", entry)
		}
		if call["operation"] != "create_order" || call["attempt"] != float64(2) {
			t.Errorf("unexpected group contents %v", call)
		}
	})
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, slog.LevelInfo).Info("webhook received",
		"signature", "abc123",
		"Authorization", "Bearer xyz",
		"event", "payment.captured",
	)

	entry := decodeLines(t, &buf)[0]
	if entry["signature"] != "[REDACTED]" || entry["Authorization"] != "[REDACTED]" {
		t.Errorf("expected secrets to be redacted, got %v", entry)
	}
	if entry["event"] != "payment.captured" {
		t.Errorf("expected event to be kept, got %v", entry["event"])
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelWarn)

	logger.Info("skipped")
	logger.Warn("gateway retry")
	logger.Error("gateway down")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", len(entries))
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}
}
