package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLoggerEnablesDebug(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "leetdaily")
	require.NoError(t, err)
	require.NotNil(t, logger)
	t.Cleanup(func() { _ = logger.Sync() })

	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Named("collector").Debug("development logger ready")
}

func TestNewProductionLoggerStartsAtInfo(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, logger)
	t.Cleanup(func() { _ = logger.Sync() })

	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
