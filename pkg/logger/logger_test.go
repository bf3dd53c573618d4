package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func capture(t *testing.T, level string, source bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(&buf, level, "json", source), source)
	t.Cleanup(func() { SetDefault(prev, false) })
	return &buf
}

func TestJSONRecordCarriesTraceContext(t *testing.T) {
	buf := capture(t, "info", false)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	InfoContext(ctx, "login succeeded", slog.String("subject", "a@b.com"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if rec["msg"] != "login succeeded" || rec["subject"] != "a@b.com" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["trace_id"] != traceID.String() || rec["span_id"] != spanID.String() {
		t.Fatalf("trace context missing: %v", rec)
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Fatalf("time key not renamed: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "warn", false)

	InfoContext(context.Background(), "hidden")
	DebugContext(context.Background(), "hidden")
	WarnContext(context.Background(), "shown")
	ErrorContext(context.Background(), "shown too")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
}

func TestSourcePointsAtCaller(t *testing.T) {
	buf := capture(t, "info", true)

	InfoContext(context.Background(), "with source")

	var rec struct {
		Source struct {
			File string `json:"file"`
		} `json:"source"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(rec.Source.File, "logger_test.go") {
		t.Fatalf("source file = %q", rec.Source.File)
	}
}

func TestWithAttrsKeepsTraceHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "json", false).With(slog.String("component", "gate"))
	if _, ok := l.Handler().(*otelHandler); !ok {
		t.Fatalf("handler type %T", l.Handler())
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	prev := Default()
	SetDefault(nil, false)
	t.Cleanup(func() { SetDefault(prev, false) })
	InfoContext(context.Background(), "nobody listens")
}
