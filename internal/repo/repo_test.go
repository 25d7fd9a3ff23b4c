package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/db"
	"playbooks/internal/domain"
	"playbooks/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: filepath.Join(t.TempDir(), "ws")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return Repo{DB: conn}
}

func seedPlaybook(t *testing.T, r Repo) (domain.User, domain.Playbook) {
	t.Helper()
	ctx := context.Background()
	u := domain.User{ID: "u1", Username: "alice", CreatedAt: "2024-01-01T00:00:00.000000Z"}
	require.NoError(t, r.InsertUser(ctx, nil, u))
	pb := domain.Playbook{
		ID: "p1", AuthorID: u.ID, Name: "Discovery", Description: "Discovery methodology",
		Category: domain.CategoryProduct, Tags: []string{"a"}, Visibility: domain.VisibilityPrivate,
		Status: domain.StatusDraft, Version: domain.MinDraftVersion, Source: domain.SourceOwned,
		CreatedAt: "2024-01-01T00:00:00.000000Z", UpdatedAt: "2024-01-01T00:00:00.000000Z",
	}
	require.NoError(t, r.InsertPlaybook(ctx, nil, pb))
	return u, pb
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, r.DB))
	cur, err := migrate.Current(ctx, r.DB)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, cur)
}

func TestPlaybookRoundTripAndConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, pb := seedPlaybook(t, r)

	got, err := r.GetPlaybook(ctx, nil, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, pb, got)

	dup := pb
	dup.ID = "p2"
	err = r.InsertPlaybook(ctx, nil, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	exists, err := r.PlaybookNameExists(ctx, nil, pb.AuthorID, pb.Name, "")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = r.PlaybookNameExists(ctx, nil, pb.AuthorID, pb.Name, pb.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = r.GetPlaybook(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPlaybooksOrderAndCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u, pb := seedPlaybook(t, r)
	newer := pb
	newer.ID, newer.Name, newer.UpdatedAt = "p2", "Newer", "2024-02-01T00:00:00.000000Z"
	require.NoError(t, r.InsertPlaybook(ctx, nil, newer))

	list, err := r.ListPlaybooks(ctx, nil, PlaybookFilters{AuthorID: u.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)

	page, err := r.ListPlaybooks(ctx, nil, PlaybookFilters{AuthorID: u.ID, Limit: 1, CursorUpdatedAt: list[0].UpdatedAt, CursorID: list[0].ID})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "p1", page[0].ID)
}

func TestCascadeAndGraph(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u, pb := seedPlaybook(t, r)
	ts := "2024-01-01T00:00:00.000000Z"
	require.NoError(t, r.InsertWorkflow(ctx, nil, domain.Workflow{ID: "w1", PlaybookID: pb.ID, Name: "Flow", Description: "flow description", Order: 1, Status: domain.StatusDraft, CreatedBy: u.ID, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a1", WorkflowID: "w1", Name: "One", Order: 1, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a2", WorkflowID: "w1", Name: "Two", Order: 2, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertArtifact(ctx, nil, domain.Artifact{ID: "x1", PlaybookID: pb.ID, ProducedByID: "a1", Name: "Doc", Type: domain.ArtifactDocument, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertInput(ctx, nil, domain.ArtifactInput{ID: "i1", ArtifactID: "x1", ActivityID: "a2", IsRequired: true, CreatedAt: ts, UpdatedAt: ts}))

	err := r.InsertInput(ctx, nil, domain.ArtifactInput{ID: "i2", ArtifactID: "x1", ActivityID: "a2", CreatedAt: ts, UpdatedAt: ts})
	assert.ErrorIs(t, err, ErrConflict)

	g, err := r.LoadGraph(ctx, nil, pb.ID)
	require.NoError(t, err)
	assert.Len(t, g.Workflows, 1)
	assert.Len(t, g.Activities, 2)
	assert.Equal(t, pb.ID, g.Activities[0].PlaybookID)
	assert.Len(t, g.Artifacts, 1)
	require.Len(t, g.Inputs, 1)
	assert.True(t, g.Inputs[0].IsRequired)

	require.NoError(t, r.DeletePlaybook(ctx, nil, pb.ID))
	_, err = r.GetArtifact(ctx, nil, "x1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetInput(ctx, nil, "i1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPredecessorSetNullOnDelete(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u, pb := seedPlaybook(t, r)
	ts := "2024-01-01T00:00:00.000000Z"
	require.NoError(t, r.InsertWorkflow(ctx, nil, domain.Workflow{ID: "w1", PlaybookID: pb.ID, Name: "Flow", Description: "flow description", Order: 1, Status: domain.StatusDraft, CreatedBy: u.ID, CreatedAt: ts, UpdatedAt: ts}))
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a1", WorkflowID: "w1", Name: "One", Order: 1, CreatedAt: ts, UpdatedAt: ts}))
	pred := "a1"
	require.NoError(t, r.InsertActivity(ctx, nil, domain.Activity{ID: "a2", WorkflowID: "w1", Name: "Two", Order: 2, PredecessorID: &pred, CreatedAt: ts, UpdatedAt: ts}))

	require.NoError(t, r.DeleteActivity(ctx, nil, "a1"))
	a2, err := r.GetActivity(ctx, nil, "a2")
	require.NoError(t, err)
	assert.Nil(t, a2.PredecessorID)

	highest, err := r.MaxActivityOrder(ctx, nil, "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, highest)
}

func TestOnboardingUpsert(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u, _ := seedPlaybook(t, r)
	st, err := r.GetOnboarding(ctx, nil, u.ID)
	require.NoError(t, err)
	assert.False(t, st.IsCompleted)

	done := "2024-03-01T00:00:00.000000Z"
	require.NoError(t, r.UpsertOnboarding(ctx, nil, domain.OnboardingState{UserID: u.ID, IsCompleted: true, CurrentStep: 4, CompletedAt: &done}))
	st, err = r.GetOnboarding(ctx, nil, u.ID)
	require.NoError(t, err)
	assert.True(t, st.IsCompleted)
	assert.Equal(t, 4, st.CurrentStep)
	require.NotNil(t, st.CompletedAt)
}
