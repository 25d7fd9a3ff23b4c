// Package reqctx carries the per-request identifier and the current user.
//
// Begin installs a holder on the context and returns the function that clears it.
// Callers defer that function so the holder is emptied on every exit path, panics included.
package reqctx

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/google/uuid"
)

// NoRequest is reported when no request is in flight on the context.
const NoRequest = "no-request"

const maxIncomingIDLen = 128

type holder struct {
	mu        sync.RWMutex
	requestID string
	userID    string
}

type ctxKey struct{}

var open atomic.Int64

// Begin tags ctx with incomingID when it is usable, or with a freshly minted id.
func Begin(ctx context.Context, incomingID string) (context.Context, func()) {
	h := &holder{requestID: sanitize(incomingID)}
	if h.requestID == "" {
		h.requestID = uuid.NewString()
	}
	open.Add(1)
	var once sync.Once
	end := func() {
		once.Do(func() {
			h.mu.Lock()
			h.requestID = ""
			h.userID = ""
			h.mu.Unlock()
			open.Add(-1)
		})
	}
	return context.WithValue(ctx, ctxKey{}, h), end
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIncomingIDLen {
		return ""
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == ' ' {
			return ""
		}
	}
	return id
}

func from(ctx context.Context) *holder {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(ctxKey{}).(*holder)
	return h
}

// RequestID returns the active request id or NoRequest.
func RequestID(ctx context.Context) string {
	h := from(ctx)
	if h == nil {
		return NoRequest
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.requestID == "" {
		return NoRequest
	}
	return h.requestID
}

// BindUser records the current user on the request holder.
// Without a holder the user is attached to a fresh context value instead.
func BindUser(ctx context.Context, userID string) context.Context {
	if h := from(ctx); h != nil {
		h.mu.Lock()
		h.userID = userID
		h.mu.Unlock()
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, &holder{userID: userID})
}

// UserID returns the bound user, if any.
func UserID(ctx context.Context) (string, bool) {
	h := from(ctx)
	if h == nil {
		return "", false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userID, h.userID != ""
}

// Open reports how many requests have begun and not yet ended.
func Open() int64 {
	return open.Load()
}
