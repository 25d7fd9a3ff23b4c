package reqctx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginEchoesIncomingID(t *testing.T) {
	ctx, end := Begin(context.Background(), "  corr-123 ")
	defer end()
	assert.Equal(t, "corr-123", RequestID(ctx))
}

func TestBeginMintsWhenMissingOrUnusable(t *testing.T) {
	for _, in := range []string{"", "has space", strings.Repeat("x", 200), "bad\nline"} {
		ctx, end := Begin(context.Background(), in)
		id := RequestID(ctx)
		assert.NotEqual(t, NoRequest, id)
		assert.NotEqual(t, in, id)
		assert.Len(t, id, 36)
		end()
	}
}

func TestEndClearsHolder(t *testing.T) {
	before := Open()
	ctx, end := Begin(context.Background(), "r1")
	ctx = BindUser(ctx, "u1")
	uid, ok := UserID(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, before+1, Open())

	end()
	end()
	assert.Equal(t, NoRequest, RequestID(ctx))
	_, ok = UserID(ctx)
	assert.False(t, ok)
	assert.Equal(t, before, Open())
}

func TestEndRunsOnPanic(t *testing.T) {
	var leaked context.Context
	func() {
		defer func() { _ = recover() }()
		ctx, end := Begin(context.Background(), "r-panic")
		defer end()
		leaked = ctx
		panic("boom")
	}()
	assert.Equal(t, NoRequest, RequestID(leaked))
}

func TestNoHolder(t *testing.T) {
	assert.Equal(t, NoRequest, RequestID(context.Background()))
	_, ok := UserID(context.Background())
	assert.False(t, ok)

	ctx := BindUser(context.Background(), "u2")
	uid, ok := UserID(ctx)
	require.True(t, ok)
	assert.Equal(t, "u2", uid)
	assert.Equal(t, NoRequest, RequestID(ctx))
}
