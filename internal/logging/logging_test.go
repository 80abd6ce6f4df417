package logging

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		env, level string
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"production", "warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"development", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"production", "nonsense", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tc := range cases {
		logger, err := New(tc.env, tc.level)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tc.env, tc.level, err)
		}
		if !logger.Core().Enabled(tc.enabled) {
			t.Fatalf("New(%q, %q): level %v disabled", tc.env, tc.level, tc.enabled)
		}
		if logger.Core().Enabled(tc.disabled) {
			t.Fatalf("New(%q, %q): level %v enabled", tc.env, tc.level, tc.disabled)
		}
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Fatalf("RequestID = %q, want req-1", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("RequestID on empty ctx = %q", got)
	}
}
