package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "s1", KeyWizardStep1, []byte("a"), time.Minute))
	got, err := m.Get(ctx, "s1", KeyWizardStep1)
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	_, err = m.Get(ctx, "s2", KeyWizardStep1)
	assert.ErrorIs(t, err, ErrNotFound)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "s1", KeyWizardStep1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWizardJSONAndClear(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	type step struct {
		Name string `json:"name"`
	}
	require.NoError(t, PutJSON(ctx, m, "s", KeyWizardStep1, step{Name: "Discovery"}, 0))
	require.NoError(t, PutJSON(ctx, m, "s", KeyWizardWorkflows, []step{{Name: "Plan"}}, 0))

	var got step
	require.NoError(t, GetJSON(ctx, m, "s", KeyWizardStep1, &got))
	assert.Equal(t, "Discovery", got.Name)

	require.NoError(t, ClearWizard(ctx, m, "s"))
	assert.ErrorIs(t, GetJSON(ctx, m, "s", KeyWizardWorkflows, &got), ErrNotFound)
}

func TestRedisKeyLayout(t *testing.T) {
	assert.Equal(t, "pb:session:abc:playbook_wizard_step2", redisKey("abc", KeyWizardStep2))
}
