package realtime

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPGLoggerLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := newPGLogger(zap.New(core).Sugar())

	l.Log(context.Background(), tracelog.LogLevelWarn, "slow query", map[string]any{"sql": "LISTEN x"})
	l.Log(context.Background(), tracelog.LogLevelError, "Query", map[string]any{"err": "boom"})
	l.Log(context.Background(), tracelog.LogLevelTrace, "trace", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "LISTEN x", entries[0].ContextMap()["sql"])
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, zapcore.DebugLevel, entries[2].Level)
	require.Equal(t, "trace", entries[2].ContextMap()["PGX_LOG_LEVEL"])
}
