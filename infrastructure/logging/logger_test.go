package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		service string
		level   string
		format  string
	}{
		{"json logger", "test-service", "info", "json"},
		{"text logger", "test-service", "debug", "text"},
		{"invalid level", "test-service", "invalid", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.service, tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.service != tt.service {
				t.Errorf("service = %v, want %v", logger.service, tt.service)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger := New("test", "info", "json")
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithActorID(ctx, "authority-1")
	ctx = WithReservationID(ctx, "rsv-456")

	entry := logger.WithContext(ctx)
	if entry == nil {
		t.Fatal("WithContext() returned nil")
	}

	if entry.Data["service"] != "test" {
		t.Errorf("service field = %v, want test", entry.Data["service"])
	}
	if entry.Data["trace_id"] != "trace-123" {
		t.Errorf("trace_id field = %v, want trace-123", entry.Data["trace_id"])
	}
	if entry.Data["actor_id"] != "authority-1" {
		t.Errorf("actor_id field = %v, want authority-1", entry.Data["actor_id"])
	}
	if entry.Data["reservation_id"] != "rsv-456" {
		t.Errorf("reservation_id field = %v, want rsv-456", entry.Data["reservation_id"])
	}
}

func TestLogger_WithReservation(t *testing.T) {
	logger := New("test", "info", "json")
	entry := logger.WithReservation("rsv-789")
	if entry.Data["reservation_id"] != "rsv-789" {
		t.Errorf("reservation_id = %v, want rsv-789", entry.Data["reservation_id"])
	}
}

func TestTraceIDHelpers(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	if got := GetTraceID(ctx); got != "trace-abc" {
		t.Errorf("GetTraceID() = %v, want trace-abc", got)
	}
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() on empty context = %v, want empty", got)
	}
}

func TestActorIDHelpers(t *testing.T) {
	ctx := WithActorID(context.Background(), "broker-1")
	if got := GetActorID(ctx); got != "broker-1" {
		t.Errorf("GetActorID() = %v, want broker-1", got)
	}
}

func TestReservationIDHelpers(t *testing.T) {
	ctx := WithReservationID(context.Background(), "rsv-1")
	if got := GetReservationID(ctx); got != "rsv-1" {
		t.Errorf("GetReservationID() = %v, want rsv-1", got)
	}
}

func TestServiceHelpers(t *testing.T) {
	ctx := WithService(context.Background(), "authority")
	if got := GetService(ctx); got != "authority" {
		t.Errorf("GetService() = %v, want authority", got)
	}
}

func newCapturingLogger() (*Logger, *bytes.Buffer) {
	logger := New("test", "debug", "json")
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return logger, buf
}

func TestLogger_LogTick(t *testing.T) {
	logger, buf := newCapturingLogger()
	ctx := context.Background()

	logger.LogTick(ctx, 42, 5*time.Millisecond, nil)
	if buf.Len() == 0 {
		t.Fatal("LogTick() did not write log for success")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if int(entry["cycle"].(float64)) != 42 {
		t.Errorf("cycle = %v, want 42", entry["cycle"])
	}

	buf.Reset()
	logger.LogTick(ctx, 43, time.Millisecond, errors.New("boom"))
	if buf.Len() == 0 {
		t.Error("LogTick() did not write log for error")
	}
}

func TestLogger_LogTransition(t *testing.T) {
	logger, buf := newCapturingLogger()
	logger.LogTransition(context.Background(), "rsv-1", "Nascent", "None", "Ticketed", "None")
	if buf.Len() == 0 {
		t.Fatal("LogTransition() did not write log")
	}
}

func TestLogger_LogProtocolCall(t *testing.T) {
	logger, buf := newCapturingLogger()
	logger.LogProtocolCall(context.Background(), "ticket", "broker-1", 10*time.Millisecond, nil)
	if buf.Len() == 0 {
		t.Fatal("LogProtocolCall() did not write log for success")
	}

	buf.Reset()
	logger.LogProtocolCall(context.Background(), "redeem", "authority-1", time.Millisecond, errors.New("timeout"))
	if buf.Len() == 0 {
		t.Error("LogProtocolCall() did not write log for error")
	}
}

func TestLogger_LogDatabaseQuery(t *testing.T) {
	logger, buf := newCapturingLogger()
	logger.LogDatabaseQuery(context.Background(), "select 1", time.Millisecond, nil)
	if buf.Len() == 0 {
		t.Fatal("LogDatabaseQuery() did not write log")
	}
}

func TestLogger_LogErrorWithStack(t *testing.T) {
	logger, buf := newCapturingLogger()
	logger.LogErrorWithStack(context.Background(), errors.New("failed"), "operation failed", map[string]interface{}{
		"op": "demand",
	})
	if buf.Len() == 0 {
		t.Fatal("LogErrorWithStack() did not write log")
	}
}

func TestLogger_LevelMethods(t *testing.T) {
	logger, buf := newCapturingLogger()
	ctx := context.Background()

	logger.Debug(ctx, "debug message", nil)
	if buf.Len() == 0 {
		t.Error("Debug() did not write log")
	}

	buf.Reset()
	logger.Info(ctx, "info message", nil)
	if buf.Len() == 0 {
		t.Error("Info() did not write log")
	}

	buf.Reset()
	logger.Warn(ctx, "warn message", nil)
	if buf.Len() == 0 {
		t.Error("Warn() did not write log")
	}

	buf.Reset()
	logger.Error(ctx, "error message", errors.New("x"), nil)
	if buf.Len() == 0 {
		t.Error("Error() did not write log")
	}
}

func TestDefault(t *testing.T) {
	defaultLogger = nil
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}

	InitDefault("svc", "debug", "text")
	if defaultLogger.service != "svc" {
		t.Errorf("InitDefault() service = %v, want svc", defaultLogger.service)
	}
}

func TestFormatDuration(t *testing.T) {
	got := FormatDuration(1500 * time.Microsecond)
	if got != "1.50ms" {
		t.Errorf("FormatDuration() = %v, want 1.50ms", got)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	logger := New("test", "info", "text")
	if _, ok := logger.Logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Error("expected TextFormatter for non-json format")
	}
}
