package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"playbooks/internal/reqctx"
)

func TestForStampsRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromCore(core)

	ctx, end := reqctx.Begin(context.Background(), "req-42")
	log.For(ctx).Info("inside")
	end()
	log.For(ctx).Info("after end")
	log.For(context.Background()).Warn("outside")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.Equal(t, reqctx.NoRequest, entries[1].ContextMap()["request_id"])
	assert.Equal(t, reqctx.NoRequest, entries[2].ContextMap()["request_id"])
}

func TestRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	FromCore(core).Info("login", "user", "alice", "auth_token", "abc")
	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "alice", fields["user"])
	assert.Equal(t, "[REDACTED]", fields["auth_token"])
}
