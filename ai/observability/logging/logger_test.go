package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", FormatJSON)

	l.Debug("hidden")
	l.Info("pass finished", "job", "detect", "users", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "pass finished", entry["msg"])
	assert.Equal(t, "detect", entry["job"])
	assert.EqualValues(t, 3, entry["users"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "TEXT")

	l.Debug("sweeping", "user_id", 7)

	out := buf.String()
	assert.Contains(t, out, "msg=sweeping")
	assert.Contains(t, out, "user_id=7")
}

func TestContext_Logger(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", FormatText).With("run_id", "r1")

	ctx := ToContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "run_id=r1")
}

func TestContext_EmptyContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	fallback := New(&bytes.Buffer{}, "info", FormatJSON)
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.Same(t, slog.Default(), FromContextOr(context.Background(), nil))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	ctx := ToContext(context.Background(), New(&buf, "info", FormatText))

	ctx = With(ctx, "job", "sweep")
	ctx = With(ctx, "user_id", 42)
	FromContext(ctx).Info("done")

	out := buf.String()
	assert.Contains(t, out, "job=sweep")
	assert.Contains(t, out, "user_id=42")
}
