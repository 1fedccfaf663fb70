package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	require.NotNil(t, logger)
	assert.Same(t, logger, slog.Default())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	assert.Equal(t, "es-nq-1520", GenerateTraceID("es-nq", 1520))
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, LogWithTrace(ctx))

	ctx = WithTraceID(ctx, "abc-123")
	attrs := LogWithTrace(ctx)
	require.Len(t, attrs, 1)
	assert.Equal(t, slog.String("trace_id", "abc-123"), attrs[0])
}
