package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		want        zapcore.Level
	}{
		{"debug", false, zapcore.DebugLevel},
		{"development", false, zapcore.DebugLevel},
		{"WARN", false, zapcore.WarnLevel},
		{"error", true, zapcore.ErrorLevel},
		{"production", true, zapcore.InfoLevel},
		{"", true, zapcore.DebugLevel},
		{"", false, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level, tt.development))
		})
	}
}

func TestGet_BeforeInitReturnsNop(t *testing.T) {
	mu.Lock()
	global = nil
	mu.Unlock()

	l := Get()
	require.NotNil(t, l)
	l.Info("discarded", zap.String("k", "v"))
}

func TestInit(t *testing.T) {
	err := Init(&Config{Level: "info", ServiceName: "subscription-payments"})
	require.NoError(t, err)
	defer func() {
		mu.Lock()
		global = nil
		mu.Unlock()
	}()

	l := Get()
	assert.NotNil(t, l.Zap())
	assert.NotNil(t, l.With(zap.String("order_id", "SUB1")))
}
