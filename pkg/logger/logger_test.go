package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expectedLogger := NewLogger(TestConfig())
		ctx := ContextWithLogger(context.Background(), expectedLogger)

		actualLogger := FromContext(ctx)

		require.NotNil(t, actualLogger)
		assert.Equal(t, expectedLogger, actualLogger)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		logger := FromContext(context.Background())

		require.NotNil(t, logger)
		logger.Info("test message from default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), LoggerCtxKey, "not a logger")

		logger := FromContext(ctx)

		require.NotNil(t, logger)
		logger.Info("test message from fallback logger")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write structured key-values to the configured output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&Config{Level: DebugLevel, Output: &buf})

		logger.Info("hello", "tenant", "org-1")

		out := buf.String()
		assert.Contains(t, out, "hello")
		assert.Contains(t, out, "tenant")
	})

	t.Run("Should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&Config{Level: ErrorLevel, Output: &buf})

		logger.Info("should be dropped")
		logger.Error("should be kept")

		out := buf.String()
		assert.NotContains(t, out, "should be dropped")
		assert.Contains(t, out, "should be kept")
	})

	t.Run("Should emit JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

		logger.Info("payload", "k", "v")

		assert.True(t, strings.Contains(buf.String(), "\"k\":\"v\""))
	})

	t.Run("Should carry fields added via With", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&Config{Level: InfoLevel, Output: &buf}).With("component", "capture")

		logger.Info("scored")

		assert.Contains(t, buf.String(), "capture")
	})
}
