package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	ctx := logger.WithContext(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx))
}

func TestFromContext_FallbackIsUsable(t *testing.T) {
	t.Parallel()

	fallback := logger.FromContext(context.Background())
	require.NotNil(t, fallback)

	fallback.Debug("filtered")
	fallback.Warn("with fields", logger.RunID("run-1"), logger.Platform("inmuebles24"))
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "verbose", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.NotNil(t, l.With(logger.JobID("job-1")))
}
