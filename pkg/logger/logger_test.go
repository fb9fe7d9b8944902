package logger_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/screwyprof/fundme/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("nonsense"))
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("it writes JSON with the component attribute", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := logger.Component(logger.NewFromConfig(logger.Config{LogLevel: "info", Output: &buf}), "roster")

		// Act
		log.Info("tick")

		// Assert
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Contains(t, out, `"component":"roster"`)
	})

	t.Run("it drops records below the configured level", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := logger.NewFromConfig(logger.Config{LogLevel: "warn", LogHumanFriendly: true, Output: &buf})

		// Act
		log.Info("hidden")
		log.Warn("shown")

		// Assert
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}
