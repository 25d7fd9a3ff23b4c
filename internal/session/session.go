// Package session keeps server-side key-value state scoped to one user agent,
// such as the playbook wizard's staged steps.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session key not found")

// Wizard keys hold the staged documents of the three-step playbook wizard.
const (
	KeyWizardStep1     = "playbook_wizard_step1"
	KeyWizardStep2     = "playbook_wizard_step2"
	KeyWizardWorkflows = "playbook_wizard_workflows"
)

var WizardKeys = []string{KeyWizardStep1, KeyWizardStep2, KeyWizardWorkflows}

type Store interface {
	Get(ctx context.Context, sid, key string) ([]byte, error)
	Set(ctx context.Context, sid, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, sid string, keys ...string) error
}

// NewID mints a session id for a new user agent.
func NewID() string {
	return uuid.NewString()
}

func GetJSON(ctx context.Context, s Store, sid, key string, v any) error {
	raw, err := s.Get(ctx, sid, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode session key %s: %w", key, err)
	}
	return nil
}

func PutJSON(ctx context.Context, s Store, sid, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session key %s: %w", key, err)
	}
	return s.Set(ctx, sid, key, raw, ttl)
}

// ClearWizard drops every staged wizard step.
func ClearWizard(ctx context.Context, s Store, sid string) error {
	return s.Delete(ctx, sid, WizardKeys...)
}

type entry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps sessions in process. Expired keys are dropped lazily on read.
type MemoryStore struct {
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: time.Now, entries: map[string]entry{}}
}

func memKey(sid, key string) string {
	return sid + "\x00" + key
}

func (m *MemoryStore) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *MemoryStore) Get(_ context.Context, sid, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(sid, key)]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, memKey(sid, key))
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Set(_ context.Context, sid, key string, value []byte, ttl time.Duration) error {
	if sid == "" {
		return errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]entry{}
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[memKey(sid, key)] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sid string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, memKey(sid, k))
	}
	return nil
}
