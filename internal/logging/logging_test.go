package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fentz26/creatorloop/internal/requestctx"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = New(Config{Level: "warn", Verbose: true, Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFromContextAddsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(zap.NewNop()) })

	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	ForStory(FromContext(ctx), "moonfall").Info("decided")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "moonfall", fields["story"])
}
