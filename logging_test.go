package chitrace

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestTraceFields(t *testing.T) {
	if fields := TraceFields(context.Background()); fields != nil {
		t.Errorf("TraceFields(empty) = %v, want nil", fields)
	}

	ctx, _ := recorderContext(t)
	fields := TraceFields(ctx)
	if len(fields) < 2 {
		t.Fatalf("TraceFields() = %d attrs, want trace_id and span_id", len(fields))
	}
	if fields[0].Key != "trace_id" || fields[1].Key != "span_id" {
		t.Errorf("unexpected field keys: %v, %v", fields[0].Key, fields[1].Key)
	}
}

func TestLogHandler_AddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewJSONHandler(&buf, nil)))

	ctx, _ := recorderContext(t)
	logger.InfoContext(ctx, "traced message")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid log output: %v", err)
	}
	if _, ok := record["trace_id"]; !ok {
		t.Error("log record missing trace_id")
	}
	if _, ok := record["span_id"]; !ok {
		t.Error("log record missing span_id")
	}
}

func TestLogHandler_NoSpanNoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("plain message")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid log output: %v", err)
	}
	if _, ok := record["trace_id"]; ok {
		t.Error("log record should not carry trace_id without a span")
	}
}
