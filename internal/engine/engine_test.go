package engine_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/blob"
	"playbooks/internal/db"
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/migrate"
	"playbooks/internal/repo"
	"playbooks/internal/reqctx"
	"playbooks/internal/validate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	User   domain.User
	Blobs  blob.FileStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore wraps the env's file store with wrap when it is not nil.
func newTestEnvWithStore(t *testing.T, wrap func(blob.FileStore) blob.Store) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	blobs := blob.FileStore{Dir: filepath.Join(dir, "blobs")}
	var store blob.Store = blobs
	if wrap != nil {
		store = wrap(blobs)
	}
	eng := engine.New(conn, engine.Options{
		Now:  func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) },
		Blob: store,
	})
	u, err := eng.Users.Register(context.Background(), validate.UserFields{Username: "author", DisplayName: "Author"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return testEnv{Engine: eng, Ctx: reqctx.BindUser(context.Background(), u.ID), User: u, Blobs: blobs}
}

func (env testEnv) as(t *testing.T, username string) context.Context {
	t.Helper()
	u, err := env.Engine.Users.Ensure(context.Background(), username)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return reqctx.BindUser(context.Background(), u.ID)
}

func playbookFields(name string) validate.PlaybookFields {
	return validate.PlaybookFields{
		Name:        name,
		Description: "A methodology used in tests",
		Category:    domain.CategoryProduct,
		Tags:        []string{"testing"},
		Visibility:  domain.VisibilityPrivate,
	}
}

func workflowFields(name string) validate.WorkflowFields {
	return validate.WorkflowFields{Name: name, Description: "A phase of the test methodology"}
}

func activity(name string) engine.ActivityInput {
	return engine.ActivityInput{ActivityFields: validate.ActivityFields{Name: name, Guidance: "Do the " + name}}
}

type fixture struct {
	Playbook domain.Playbook
	Workflow domain.Workflow
	First    domain.Activity
	Second   domain.Activity
}

// seed builds a draft playbook with one workflow holding activities at order 1 and 2.
func seed(t *testing.T, env testEnv) fixture {
	t.Helper()
	e := env.Engine
	pb, err := e.Playbooks.Create(env.Ctx, playbookFields("Discovery"))
	require.NoError(t, err)
	w, err := e.Workflows.Create(env.Ctx, pb.ID, workflowFields("Research"))
	require.NoError(t, err)
	a1, err := e.Activities.Create(env.Ctx, w.ID, activity("Interview"))
	require.NoError(t, err)
	a2, err := e.Activities.Create(env.Ctx, w.ID, activity("Synthesize"))
	require.NoError(t, err)
	pb, err = e.Playbooks.Get(env.Ctx, pb.ID)
	require.NoError(t, err)
	return fixture{Playbook: pb, Workflow: w, First: a1, Second: a2}
}

func artifact(name string) validate.ArtifactFields {
	return validate.ArtifactFields{Name: name, Type: domain.ArtifactDocument}
}

func TestCreateFromWizardActiveStartsReleasedWithSnapshot(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Playbooks.CreateFromWizard(env.Ctx, engine.WizardInput{
		Step1: validate.PlaybookFields{
			Name:        "Product Discovery Framework",
			Description: "Comprehensive methodology for discovering and validating product opportunities",
			Category:    domain.CategoryProduct,
			Visibility:  domain.VisibilityPrivate,
			Tags:        []string{"product management", "discovery"},
		},
		Step3: &validate.PublishFields{Status: domain.StatusActive},
	})
	if err != nil {
		t.Fatalf("create from wizard: %v", err)
	}
	assert.Equal(t, domain.StatusActive, res.Playbook.Status)
	assert.Equal(t, "1.0", res.Playbook.Version.String())

	versions, err := env.Engine.Playbooks.ListVersions(env.Ctx, res.Playbook.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, "Initial version", versions[0].ChangeSummary)
	assert.Equal(t, "Product Discovery Framework", versions[0].SnapshotData.Name)
}

func TestCreateFromWizardWithWorkflowsDoesNotBump(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Playbooks.CreateFromWizard(env.Ctx, engine.WizardInput{
		Step1: playbookFields("Delivery"),
		Step2: []validate.WorkflowFields{workflowFields("Plan"), workflowFields("Build")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, res.Playbook.Status)
	require.Len(t, res.Workflows, 2)
	assert.Equal(t, 1, res.Workflows[0].Order)
	assert.Equal(t, 2, res.Workflows[1].Order)

	pb, err := env.Engine.Playbooks.Get(env.Ctx, res.Playbook.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MinDraftVersion, pb.Version)
	versions, err := env.Engine.Playbooks.ListVersions(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestCreateFromWizardRejectsDuplicateWorkflowNames(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Playbooks.CreateFromWizard(env.Ctx, engine.WizardInput{
		Step1: playbookFields("Delivery"),
		Step2: []validate.WorkflowFields{workflowFields("Plan"), workflowFields("Plan")},
	})
	require.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, validate.KindNameDuplicate, validate.KindOf(err, "workflows[1].name"))

	page, err := env.Engine.Playbooks.List(env.Ctx, engine.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	// case-only differences are distinct names, as with WorkflowService.Create
	res, err := env.Engine.Playbooks.CreateFromWizard(env.Ctx, engine.WizardInput{
		Step1: playbookFields("Delivery"),
		Step2: []validate.WorkflowFields{workflowFields("Plan"), workflowFields("plan")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Workflows, 2)
}

func TestDraftVersionBumpOnWorkflowCreate(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	pb, err := e.Playbooks.Create(env.Ctx, playbookFields("Discovery"))
	require.NoError(t, err)
	assert.Equal(t, "0.1", pb.Version.String())

	_, err = e.Workflows.Create(env.Ctx, pb.ID, workflowFields("Research"))
	require.NoError(t, err)

	pb, err = e.Playbooks.Get(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.2", pb.Version.String())

	n, err := e.Repo.CountEvents(env.Ctx, nil, env.User.ID, domain.ActionWorkflowCreated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEveryDescendantWriteBumpsDraft(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	version := fx.Playbook.Version

	step := func(name string, fn func() error) {
		t.Helper()
		require.NoError(t, fn(), name)
		pb, err := e.Playbooks.Get(env.Ctx, fx.Playbook.ID)
		require.NoError(t, err)
		if pb.Version <= version {
			t.Fatalf("%s: version %s did not increase from %s", name, pb.Version, version)
		}
		version = pb.Version
	}

	var x domain.Artifact
	var input engine.InputResult
	step("create artifact", func() (err error) { x, err = e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes")); return })
	step("update artifact", func() error {
		_, err := e.Artifacts.Update(env.Ctx, x.ID, engine.ArtifactUpdate{ArtifactFields: artifact("Field notes")})
		return err
	})
	step("add consumer", func() (err error) { input, err = e.Artifacts.AddConsumer(env.Ctx, x.ID, fx.Second.ID, true); return })
	step("remove consumer", func() error { return e.Artifacts.RemoveConsumer(env.Ctx, input.Input.ID) })
	step("update activity", func() error {
		_, err := e.Activities.Update(env.Ctx, fx.First.ID, activity("Interview users"))
		return err
	})
	step("update workflow", func() error {
		_, err := e.Workflows.Update(env.Ctx, fx.Workflow.ID, workflowFields("User research"))
		return err
	})
	step("delete artifact", func() error { return e.Artifacts.Delete(env.Ctx, x.ID) })
	step("delete activity", func() error { return e.Activities.Delete(env.Ctx, fx.Second.ID) })
	step("update playbook", func() error {
		_, err := e.Playbooks.Update(env.Ctx, fx.Playbook.ID, playbookFields("Discovery v2"))
		return err
	})
	step("delete workflow", func() error { return e.Workflows.Delete(env.Ctx, fx.Workflow.ID) })
}

func TestActivePlaybookEditsDoNotBump(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	pb, err := e.Playbooks.Publish(env.Ctx, fx.Playbook.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, pb.Status)
	assert.Equal(t, "1.0", pb.Version.String())

	_, err = e.Workflows.Create(env.Ctx, pb.ID, workflowFields("Delivery"))
	require.NoError(t, err)
	got, err := e.Playbooks.Get(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, pb.Version, got.Version)
}

func TestCircularArtifactInputRejected(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	x, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Transcript"))
	require.NoError(t, err)
	before, err := e.Playbooks.Get(env.Ctx, fx.Playbook.ID)
	require.NoError(t, err)

	_, err = e.Artifacts.AddConsumer(env.Ctx, x.ID, fx.First.ID, true)
	require.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, validate.KindCircularDependency, validate.KindOf(err, "activity"))

	inputs, err := e.Artifacts.ListInputs(env.Ctx, fx.First.ID)
	require.NoError(t, err)
	assert.Empty(t, inputs)
	after, err := e.Playbooks.Get(env.Ctx, fx.Playbook.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTemporalOrderWarning(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	y, err := e.Artifacts.Create(env.Ctx, fx.Second.ID, artifact("Insights"))
	require.NoError(t, err)

	res, err := e.Artifacts.AddConsumer(env.Ctx, y.ID, fx.First.ID, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.ToLower(res.Warnings[0]), "temporal ordering")

	inputs, err := e.Artifacts.ListInputs(env.Ctx, fx.First.ID)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, y.ID, inputs[0].ArtifactID)

	_, err = e.Artifacts.AddConsumer(env.Ctx, y.ID, fx.First.ID, false)
	assert.Equal(t, validate.KindDuplicateInput, validate.KindOf(err, "artifact"))
}

func TestReleasedPlaybookIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	released, err := e.Playbooks.Release(env.Ctx, fx.Playbook.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReleased, released.Status)
	assert.Equal(t, "1.0", released.Version.String())

	_, err = e.Playbooks.Update(env.Ctx, released.ID, playbookFields("Renamed"))
	require.ErrorIs(t, err, engine.ErrReleasedImmutable)
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)
	assert.Equal(t, engine.CodeReleasedImmutable, engine.CodeOf(err))

	_, err = e.Workflows.Create(env.Ctx, released.ID, workflowFields("Another"))
	require.ErrorIs(t, err, engine.ErrReleasedImmutable)

	_, err = e.Playbooks.Release(env.Ctx, released.ID, "again")
	require.ErrorIs(t, err, engine.ErrReleasedImmutable)

	got, err := e.Playbooks.Get(env.Ctx, released.ID)
	require.NoError(t, err)
	assert.Equal(t, released.Name, got.Name)
	assert.Equal(t, released.Version, got.Version)
	assert.Equal(t, released.UpdatedAt, got.UpdatedAt)

	versions, err := e.Playbooks.ListVersions(env.Ctx, released.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "Initial version", versions[0].ChangeSummary)
}

func TestConcurrentCreateSameNameOneWins(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Playbooks.Create(env.Ctx, playbookFields("Race"))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case validate.KindOf(err, "name") == validate.KindNameDuplicate:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	page, err := e.Playbooks.List(env.Ctx, engine.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestPlaybookNameAndDescriptionBoundaries(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name, desc string
		field      string
	}{
		{strings.Repeat("n", 2), "ten chars!", "name"},
		{strings.Repeat("a", 3), "ten chars!", ""},
		{strings.Repeat("b", 100), "ten chars!", ""},
		{strings.Repeat("c", 101), "ten chars!", "name"},
		{"Desc nine", strings.Repeat("d", 9), "description"},
		{"Desc ten", strings.Repeat("d", 10), ""},
		{"Desc max", strings.Repeat("d", 500), ""},
		{"Desc over", strings.Repeat("d", 501), "description"},
	}
	for _, tc := range cases {
		f := playbookFields(tc.name)
		f.Description = tc.desc
		_, err := env.Engine.Playbooks.Create(env.Ctx, f)
		if tc.field == "" {
			assert.NoError(t, err, "name=%d desc=%d", len(tc.name), len(tc.desc))
			continue
		}
		require.ErrorIs(t, err, engine.ErrValidation, "name=%d desc=%d", len(tc.name), len(tc.desc))
		var ve *validate.Error
		require.True(t, errors.As(err, &ve))
		_, has := ve.Field(tc.field)
		assert.True(t, has, "expected error on %s", tc.field)
	}
}

func TestDuplicateExportMatchesSource(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	x, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Transcript"))
	require.NoError(t, err)
	_, err = e.Artifacts.AddConsumer(env.Ctx, x.ID, fx.Second.ID, true)
	require.NoError(t, err)
	_, err = e.Activities.Update(env.Ctx, fx.Second.ID, engine.ActivityInput{
		ActivityFields: validate.ActivityFields{Name: "Synthesize", Guidance: "Cluster notes", Phase: "Analysis"},
		PredecessorID:  fx.First.ID,
	})
	require.NoError(t, err)

	src, err := e.Playbooks.Export(env.Ctx, fx.Playbook.ID)
	require.NoError(t, err)
	dup, err := e.Playbooks.Duplicate(env.Ctx, fx.Playbook.ID, "Discovery copy")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOwned, dup.Source)
	assert.Equal(t, env.User.ID, dup.AuthorID)

	got, err := e.Playbooks.Export(env.Ctx, dup.ID)
	require.NoError(t, err)
	want := src
	want.Name = "Discovery copy"
	want.Status = domain.StatusDraft
	want.Version = domain.MinDraftVersion
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("duplicate export mismatch (-want +got):\n%s", diff)
	}

	versions, err := e.Playbooks.ListVersions(env.Ctx, dup.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)

	g, err := e.Playbooks.Tree(env.Ctx, dup.ID)
	require.NoError(t, err)
	require.Len(t, g.Inputs, 1)
	byName := map[string]domain.Activity{}
	for _, a := range g.Activities {
		byName[a.Name] = a
	}
	require.NotNil(t, byName["Synthesize"].PredecessorID)
	assert.Equal(t, byName["Interview"].ID, *byName["Synthesize"].PredecessorID)
	assert.Equal(t, byName["Synthesize"].ID, g.Inputs[0].ActivityID)
}

func TestBulkAddInputsIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	third, err := e.Activities.Create(env.Ctx, fx.Workflow.ID, activity("Decide"))
	require.NoError(t, err)
	notes, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes"))
	require.NoError(t, err)
	insights, err := e.Artifacts.Create(env.Ctx, fx.Second.ID, artifact("Insights"))
	require.NoError(t, err)
	own, err := e.Artifacts.Create(env.Ctx, third.ID, artifact("Decision"))
	require.NoError(t, err)

	_, err = e.Artifacts.BulkAddInputs(env.Ctx, third.ID, []string{notes.ID, own.ID, insights.ID}, true)
	require.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, validate.KindCircularDependency, validate.KindOf(err, "artifact_ids[1].activity"))
	inputs, err := e.Artifacts.ListInputs(env.Ctx, third.ID)
	require.NoError(t, err)
	assert.Empty(t, inputs)

	_, err = e.Artifacts.BulkAddInputs(env.Ctx, third.ID, []string{notes.ID, notes.ID}, true)
	assert.Equal(t, validate.KindDuplicateInput, validate.KindOf(err, "artifact_ids[1].artifact"))

	res, err := e.Artifacts.BulkAddInputs(env.Ctx, third.ID, []string{notes.ID, insights.ID}, true)
	require.NoError(t, err)
	assert.Len(t, res.Inputs, 2)
	assert.Empty(t, res.Warnings)
	for _, in := range res.Inputs {
		assert.True(t, in.IsRequired)
	}
}

func TestCopyInputsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	third, err := e.Activities.Create(env.Ctx, fx.Workflow.ID, activity("Decide"))
	require.NoError(t, err)
	notes, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes"))
	require.NoError(t, err)
	decision, err := e.Artifacts.Create(env.Ctx, third.ID, artifact("Decision"))
	require.NoError(t, err)
	_, err = e.Artifacts.BulkAddInputs(env.Ctx, fx.Second.ID, []string{notes.ID, decision.ID}, false)
	require.NoError(t, err)

	first, err := e.Artifacts.CopyInputs(env.Ctx, third.ID, fx.Second.ID)
	require.NoError(t, err)
	assert.Len(t, first.Copied, 1)
	assert.Equal(t, 1, first.Skipped)

	second, err := e.Artifacts.CopyInputs(env.Ctx, third.ID, fx.Second.ID)
	require.NoError(t, err)
	assert.Empty(t, second.Copied)

	inputs, err := e.Artifacts.ListInputs(env.Ctx, third.ID)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, notes.ID, inputs[0].ArtifactID)
}

func TestFlowQueries(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	notes, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes"))
	require.NoError(t, err)
	_, err = e.Artifacts.AddConsumer(env.Ctx, notes.ID, fx.Second.ID, true)
	require.NoError(t, err)

	chain, err := e.Artifacts.FlowChain(env.Ctx, notes.ID)
	require.NoError(t, err)
	require.NotNil(t, chain.Producer)
	assert.Equal(t, fx.First.ID, chain.Producer.ID)
	require.Len(t, chain.Consumers, 1)
	assert.True(t, chain.Consumers[0].Required)

	avail, err := e.Artifacts.AvailableInputs(env.Ctx, fx.Second.ID)
	require.NoError(t, err)
	assert.Empty(t, avail)

	res, err := e.Artifacts.ValidateFlow(env.Ctx, notes.ID, fx.First.ID)
	require.NoError(t, err)
	assert.Equal(t, validate.KindCircularDependency, res.Kind("activity"))

	data, err := e.Artifacts.GenerateFlowData(env.Ctx, fx.Playbook.ID)
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 3)
	assert.Len(t, data.Edges, 2)
}

func TestOtherUsersAreDenied(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	other := env.as(t, "intruder")

	_, err := e.Playbooks.Get(other, fx.Playbook.ID)
	require.ErrorIs(t, err, engine.ErrPermissionDenied)
	assert.NotErrorIs(t, err, engine.ErrReleasedImmutable)
	_, err = e.Workflows.Create(other, fx.Playbook.ID, workflowFields("Hijack"))
	require.ErrorIs(t, err, engine.ErrPermissionDenied)

	_, err = e.Playbooks.Get(context.Background(), fx.Playbook.ID)
	require.ErrorIs(t, err, engine.ErrUnauthenticated)

	_, err = e.Playbooks.Get(env.Ctx, "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestImportIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	_, err := e.Artifacts.Create(env.Ctx, fx.Second.ID, artifact("Insights"))
	require.NoError(t, err)
	data, _, err := e.Playbooks.ExportBytes(env.Ctx, fx.Playbook.ID, "yaml")
	require.NoError(t, err)

	doc, err := engine.ParseExport(data, "yaml")
	require.NoError(t, err)
	doc.Name = "Imported discovery"
	pb, err := e.Playbooks.Import(env.Ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDownloaded, pb.Source)
	assert.Equal(t, doc.Version, pb.Version)

	got, err := e.Playbooks.Export(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(doc, got, cmpopts.EquateEmpty()))

	_, err = e.Workflows.Create(env.Ctx, pb.ID, workflowFields("More"))
	require.ErrorIs(t, err, engine.ErrPermissionDenied)
	assert.NotErrorIs(t, err, engine.ErrReleasedImmutable)
}

func TestExportBytesFilename(t *testing.T) {
	env := newTestEnv(t)
	fx := seed(t, env)
	data, name, err := env.Engine.Playbooks.ExportBytes(env.Ctx, fx.Playbook.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "discovery.json", name)
	assert.Contains(t, string(data), `"workflows"`)

	_, _, err = env.Engine.Playbooks.ExportBytes(env.Ctx, fx.Playbook.ID, "xml")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)

	_, err := e.Playbooks.ToggleStatus(env.Ctx, fx.Playbook.ID)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	pb, err := e.Playbooks.Publish(env.Ctx, fx.Playbook.ID, "")
	require.NoError(t, err)
	pb, err = e.Playbooks.ToggleStatus(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisabled, pb.Status)

	_, err = e.Workflows.Create(env.Ctx, pb.ID, workflowFields("Blocked"))
	require.ErrorIs(t, err, engine.ErrPermissionDenied)

	pb, err = e.Playbooks.ToggleStatus(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, pb.Status)

	pb, err = e.Playbooks.Archive(env.Ctx, pb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, pb.Status)
	_, err = e.Playbooks.Archive(env.Ctx, pb.ID)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	err = e.Playbooks.Delete(env.Ctx, pb.ID)
	require.ErrorIs(t, err, engine.ErrReleasedImmutable)
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	for _, name := range []string{"Alpha", "Bravo", "Charlie"} {
		_, err := e.Playbooks.Create(env.Ctx, playbookFields(name))
		require.NoError(t, err)
	}
	page, err := e.Playbooks.List(env.Ctx, engine.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Charlie", page.Items[0].Name)
	require.NotEmpty(t, page.NextCursor)

	page, err = e.Playbooks.List(env.Ctx, engine.ListOptions{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Alpha", page.Items[0].Name)
	assert.Empty(t, page.NextCursor)

	_, err = e.Playbooks.List(env.Ctx, engine.ListOptions{Cursor: "%%%"})
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestTemplateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	x, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Brief"))
	require.NoError(t, err)

	x, err = e.Artifacts.AttachTemplate(env.Ctx, x.ID, "brief.md", strings.NewReader("# Brief"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(x.TemplateFile, "artifacts/"+x.ID+"/"), x.TemplateFile)
	assert.True(t, strings.HasSuffix(x.TemplateFile, "/brief.md"), x.TemplateFile)

	rc, _, err := e.Artifacts.OpenTemplate(env.Ctx, x.ID)
	require.NoError(t, err)
	rc.Close()

	// blob already gone: the artifact delete still succeeds
	require.NoError(t, env.Blobs.Delete(env.Ctx, x.TemplateFile))
	require.NoError(t, e.Artifacts.Delete(env.Ctx, x.ID))
	_, err = e.Artifacts.Get(env.Ctx, x.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// afterPut runs hook once the wrapped store has written a blob.
type afterPut struct {
	blob.FileStore
	hook func()
}

func (s *afterPut) Put(ctx context.Context, key string, r io.Reader) error {
	if err := s.FileStore.Put(ctx, key, r); err != nil {
		return err
	}
	if s.hook != nil {
		s.hook()
	}
	return nil
}

func TestFailedTemplateReplacementKeepsCommittedFile(t *testing.T) {
	store := &afterPut{}
	env := newTestEnvWithStore(t, func(fs blob.FileStore) blob.Store {
		store.FileStore = fs
		return store
	})
	e := env.Engine
	fx := seed(t, env)
	x, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Brief"))
	require.NoError(t, err)
	x, err = e.Artifacts.AttachTemplate(env.Ctx, x.ID, "brief.md", strings.NewReader("first"))
	require.NoError(t, err)
	committed := x.TemplateFile

	// the playbook is released between the upload and the write, so the write fails
	store.hook = func() {
		_, err := e.Playbooks.Release(env.Ctx, fx.Playbook.ID, "")
		require.NoError(t, err)
	}
	_, err = e.Artifacts.AttachTemplate(env.Ctx, x.ID, "brief.md", strings.NewReader("second"))
	require.ErrorIs(t, err, engine.ErrReleasedImmutable)
	store.hook = nil

	x, err = e.Artifacts.Get(env.Ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, committed, x.TemplateFile)
	rc, _, err := e.Artifacts.OpenTemplate(env.Ctx, x.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestWorkflowDuplicateShortensLongArtifactNames(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	long := strings.Repeat("n", 200)
	_, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact(long))
	require.NoError(t, err)

	w, err := e.Workflows.Duplicate(env.Ctx, fx.Workflow.ID, "Research copy number two")
	require.NoError(t, err)
	copies, err := e.Artifacts.List(env.Ctx, repo.ArtifactFilters{WorkflowID: w.ID})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	c := copies[0]
	assert.Equal(t, 200, utf8.RuneCountInString(c.Name))
	assert.True(t, strings.HasSuffix(c.Name, " (Research copy number two)"), c.Name)

	// the copy saves again unchanged
	_, err = e.Artifacts.Update(env.Ctx, c.ID, engine.ArtifactUpdate{ArtifactFields: validate.ArtifactFields{
		Name: c.Name, Description: c.Description, Type: c.Type, IsRequired: c.IsRequired,
	}})
	require.NoError(t, err)
}

func TestWorkflowDuplicateReportsArtifactNameCollision(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	other, err := e.Workflows.Create(env.Ctx, fx.Playbook.ID, workflowFields("Delivery"))
	require.NoError(t, err)
	ship, err := e.Activities.Create(env.Ctx, other.ID, activity("Ship"))
	require.NoError(t, err)
	_, err = e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes"))
	require.NoError(t, err)
	_, err = e.Artifacts.Create(env.Ctx, ship.ID, artifact("Notes (Copy)"))
	require.NoError(t, err)

	_, err = e.Workflows.Duplicate(env.Ctx, fx.Workflow.ID, "Copy")
	require.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, validate.KindNameDuplicate, validate.KindOf(err, "artifacts[0].name"))
	assert.Equal(t, validate.Kind(""), validate.KindOf(err, "name"))

	ws, err := e.Workflows.List(env.Ctx, fx.Playbook.ID)
	require.NoError(t, err)
	for _, w := range ws {
		assert.NotEqual(t, "Copy", w.Name)
	}
}

func TestWorkflowAndActivityDuplicate(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	notes, err := e.Artifacts.Create(env.Ctx, fx.First.ID, artifact("Notes"))
	require.NoError(t, err)
	_, err = e.Artifacts.AddConsumer(env.Ctx, notes.ID, fx.Second.ID, true)
	require.NoError(t, err)

	w, err := e.Workflows.Duplicate(env.Ctx, fx.Workflow.ID, "Research again")
	require.NoError(t, err)
	assert.Equal(t, fx.Workflow.Order+1, w.Order)
	acts, err := e.Activities.List(env.Ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	ins, err := e.Artifacts.ListInputs(env.Ctx, acts[1].ID)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.NotEqual(t, notes.ID, ins[0].ArtifactID)

	a, err := e.Activities.Duplicate(env.Ctx, fx.First.ID, "Interview again")
	require.NoError(t, err)
	assert.Equal(t, fx.First.Guidance, a.Guidance)
	assert.Equal(t, 3, a.Order)

	_, err = e.Artifacts.Duplicate(env.Ctx, notes.ID, "Notes")
	assert.Equal(t, validate.KindNameDuplicate, validate.KindOf(err, "name"))
}

func TestActivityLinksStayInWorkflow(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	fx := seed(t, env)
	other, err := e.Workflows.Create(env.Ctx, fx.Playbook.ID, workflowFields("Delivery"))
	require.NoError(t, err)
	in := activity("Ship")
	in.PredecessorID = fx.Second.ID
	_, err = e.Activities.Create(env.Ctx, other.ID, in)
	require.ErrorIs(t, err, engine.ErrValidation)
	assert.Equal(t, validate.KindCrossWorkflowReference, validate.KindOf(err, "predecessor"))
}

func TestDashboardAndOnboarding(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	seed(t, env)

	ov, err := e.Dashboard.Overview(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.Total)
	assert.Equal(t, 1, ov.Counts[domain.StatusDraft])
	assert.NotEmpty(t, ov.Events)

	feed, err := e.Dashboard.Feed(env.Ctx, repo.EventFilters{ActionType: domain.ActionDashboardViewed})
	require.NoError(t, err)
	assert.Len(t, feed, 1)

	st, err := e.Onboarding.Get(env.Ctx)
	require.NoError(t, err)
	assert.False(t, st.IsCompleted)
	for range domain.OnboardingSteps {
		st, err = e.Onboarding.Advance(env.Ctx)
		require.NoError(t, err)
	}
	assert.True(t, st.IsCompleted)
	require.NotNil(t, st.CompletedAt)

	st, err = e.Onboarding.Reset(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentStep)
	assert.False(t, st.IsCompleted)
}
