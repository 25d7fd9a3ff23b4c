package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVersionArithmetic(t *testing.T) {
	cases := []struct {
		in        string
		next      string
		nextMajor string
	}{
		{"0.1", "0.2", "1.0"},
		{"0.7", "0.8", "1.0"},
		{"0.9", "1.0", "1.0"},
		{"1.0", "1.1", "2.0"},
		{"2.4", "2.5", "3.0"},
	}
	for _, tc := range cases {
		v, err := ParseVersion(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.in, v.String())
		assert.Equal(t, tc.next, v.Next().String())
		assert.Equal(t, tc.nextMajor, v.NextMajor().String())
	}
}

func TestParseVersionRejects(t *testing.T) {
	for _, in := range []string{"", "x", "1.25", "-1", "1.a"} {
		_, err := ParseVersion(in)
		assert.Error(t, err, in)
	}
	v, err := ParseVersion("3")
	require.NoError(t, err)
	assert.Equal(t, "3.0", v.String())
}

func TestVersionJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		V Version `json:"v"`
	}{V: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1.2}`, string(b))

	var out struct {
		V Version `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"v":0.3}`), &out))
	assert.Equal(t, Version(3), out.V)
	require.NoError(t, json.Unmarshal([]byte(`{"v":"2.0"}`), &out))
	assert.Equal(t, Version(20), out.V)
}

func TestVersionYAML(t *testing.T) {
	b, err := yaml.Marshal(ExportDocument{Name: "x", Version: 7})
	require.NoError(t, err)
	var doc ExportDocument
	require.NoError(t, yaml.Unmarshal(b, &doc))
	assert.Equal(t, Version(7), doc.Version)
}

func TestPlaybookPredicates(t *testing.T) {
	pb := Playbook{ID: "p1", AuthorID: "u1", Source: SourceOwned, Status: StatusDraft, Tags: []string{"a", "b"}}
	assert.True(t, pb.IsOwnedBy("u1"))
	assert.False(t, pb.IsOwnedBy("u2"))
	assert.False(t, pb.IsOwnedBy(""))
	assert.True(t, pb.CanEdit("u1"))
	assert.Equal(t, "a, b", pb.TagList())
	assert.Equal(t, "warning", pb.StatusBadgeColor())

	active := pb
	active.Status = StatusActive
	assert.True(t, active.CanEdit("u1"))
	assert.Equal(t, "success", active.StatusBadgeColor())

	for _, st := range []Status{StatusReleased, StatusDisabled, StatusArchived} {
		locked := pb
		locked.Status = st
		assert.False(t, locked.CanEdit("u1"), st)
	}
	downloaded := pb
	downloaded.Source = SourceDownloaded
	assert.False(t, downloaded.CanEdit("u1"))

	wf := Workflow{PlaybookID: "p1"}
	assert.True(t, wf.CanEdit(pb, "u1"))
	assert.False(t, wf.CanEdit(Playbook{ID: "other", AuthorID: "u1", Source: SourceOwned, Status: StatusDraft}, "u1"))
}

func TestBadgeColors(t *testing.T) {
	want := map[Status]string{
		StatusActive:   "success",
		StatusDraft:    "warning",
		StatusDisabled: "secondary",
		StatusArchived: "secondary",
		StatusReleased: "primary",
	}
	for st, color := range want {
		assert.Equal(t, color, st.BadgeColor(), st)
	}
}

func TestPhaseDisplayName(t *testing.T) {
	assert.Equal(t, "General", Activity{}.PhaseDisplayName())
	assert.Equal(t, "General", Activity{Phase: "  "}.PhaseDisplayName())
	assert.Equal(t, "Discovery", Activity{Phase: "Discovery"}.PhaseDisplayName())
}

func TestBuildExportOrdering(t *testing.T) {
	g := Graph{
		Playbook: Playbook{Name: "P", Tags: []string{"t"}, Version: 3, Status: StatusDraft},
		Workflows: []Workflow{
			{ID: "w2", Name: "Second", Order: 2},
			{ID: "w1", Name: "First", Order: 1},
		},
		Activities: []Activity{
			{ID: "a2", WorkflowID: "w1", Name: "B", Order: 2},
			{ID: "a1", WorkflowID: "w1", Name: "A", Order: 1},
		},
		Artifacts: []Artifact{
			{Name: "Zeta", ProducedByID: "a1", Type: ArtifactData},
			{Name: "Alpha", ProducedByID: "a1", Type: ArtifactDocument, IsRequired: true},
		},
	}
	doc := BuildExport(g)
	require.Len(t, doc.Workflows, 2)
	assert.Equal(t, "First", doc.Workflows[0].Name)
	assert.Empty(t, doc.Workflows[1].Activities)
	require.Len(t, doc.Workflows[0].Activities, 2)
	assert.Equal(t, "A", doc.Workflows[0].Activities[0].Name)
	assert.Equal(t, []ExportArtifact{
		{Name: "Alpha", Type: ArtifactDocument, IsRequired: true},
		{Name: "Zeta", Type: ArtifactData},
	}, doc.Workflows[0].Activities[0].Artifacts)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "product-discovery-framework", Slug("Product Discovery Framework"))
	assert.Equal(t, "a-b", Slug("  A -- b!! "))
	assert.Equal(t, "playbook", Slug("!!!"))
	assert.Equal(t, "my-playbook.yaml", ExportFilename("My Playbook", "yaml"))
	assert.Equal(t, "my-playbook.json", ExportFilename("My Playbook", "json"))
}
