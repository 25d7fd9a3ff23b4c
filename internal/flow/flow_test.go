package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/domain"
	"playbooks/internal/validate"
)

// two workflows; w1 has a1 (order 1) and a2 (order 2); w2 has b1.
// x1 is produced by a2 and consumed by b1; x2 is produced by a1.
func sampleGraph() domain.Graph {
	return domain.Graph{
		Playbook: domain.Playbook{ID: "p1", Name: "P"},
		Workflows: []domain.Workflow{
			{ID: "w1", PlaybookID: "p1", Name: "First", Order: 1},
			{ID: "w2", PlaybookID: "p1", Name: "Second", Order: 2},
		},
		Activities: []domain.Activity{
			{ID: "a1", WorkflowID: "w1", PlaybookID: "p1", Name: "Interview", Order: 1},
			{ID: "a2", WorkflowID: "w1", PlaybookID: "p1", Name: "Synthesize", Order: 2, Phase: "Analysis"},
			{ID: "b1", WorkflowID: "w2", PlaybookID: "p1", Name: "Prototype", Order: 1},
		},
		Artifacts: []domain.Artifact{
			{ID: "x1", PlaybookID: "p1", Name: "Insights", Type: domain.ArtifactDocument, ProducedByID: "a2", IsRequired: true},
			{ID: "x2", PlaybookID: "p1", Name: "Notes", Type: domain.ArtifactData, ProducedByID: "a1"},
		},
		Inputs: []domain.ArtifactInput{
			{ID: "i1", ArtifactID: "x1", ActivityID: "b1", IsRequired: true},
		},
	}
}

func TestConsumerCountAndChain(t *testing.T) {
	v := NewView(sampleGraph())
	assert.Equal(t, 1, v.ConsumerCount("x1"))
	assert.Equal(t, 0, v.ConsumerCount("x2"))

	chain, err := v.FlowChain("x1")
	require.NoError(t, err)
	require.NotNil(t, chain.Producer)
	assert.Equal(t, "a2", chain.Producer.ID)
	require.Len(t, chain.Consumers, 1)
	assert.Equal(t, Consumer{Activity: sampleGraph().Activities[2], Required: true, InputID: "i1"}, chain.Consumers[0])

	_, err = v.FlowChain("missing")
	assert.ErrorIs(t, err, ErrUnknownArtifact)
}

func TestAvailableInputs(t *testing.T) {
	v := NewView(sampleGraph())

	got, err := v.AvailableInputs("b1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x2", got[0].ID)

	got, err = v.AvailableInputs("a2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x2", got[0].ID)

	_, err = v.AvailableInputs("nope")
	assert.ErrorIs(t, err, ErrUnknownActivity)
}

func TestValidateFlowCircular(t *testing.T) {
	res := NewView(sampleGraph()).ValidateFlow("x1", "a2")
	assert.False(t, res.Valid())
	assert.Equal(t, validate.KindCircularDependency, res.Kind("activity"))
}

func TestValidateFlowDuplicate(t *testing.T) {
	res := NewView(sampleGraph()).ValidateFlow("x1", "b1")
	assert.Equal(t, validate.KindDuplicateInput, res.Kind("artifact"))
}

func TestValidateFlowTemporalWarningSameWorkflow(t *testing.T) {
	res := NewView(sampleGraph()).ValidateFlow("x1", "a1")
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.True(t, strings.Contains(strings.ToLower(res.Warnings[0]), "temporal ordering"))
}

func TestValidateFlowCrossWorkflowOrder(t *testing.T) {
	g := sampleGraph()
	// b1 in the later workflow produces; a1 in the earlier workflow consumes
	g.Artifacts = append(g.Artifacts, domain.Artifact{ID: "x3", PlaybookID: "p1", Name: "Demo", Type: domain.ArtifactCode, ProducedByID: "b1"})
	v := NewView(g)
	res := v.ValidateFlow("x3", "a1")
	assert.True(t, res.Valid())
	assert.Len(t, res.Warnings, 1)

	res = v.ValidateFlow("x2", "b1")
	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
}

func TestLinkMakesBatchDuplicatesVisible(t *testing.T) {
	v := NewView(sampleGraph())
	require.True(t, v.ValidateFlow("x2", "b1").Valid())
	v.Link(domain.ArtifactInput{ID: "i2", ArtifactID: "x2", ActivityID: "b1"})
	assert.Equal(t, validate.KindDuplicateInput, v.ValidateFlow("x2", "b1").Kind("artifact"))
	assert.Equal(t, 1, v.ConsumerCount("x2"))
}

func TestGenerateFlowData(t *testing.T) {
	d := NewView(sampleGraph()).GenerateFlowData()
	assert.Equal(t, 3, d.Count(NodeActivity))
	assert.Equal(t, 2, d.Count(NodeArtifact))

	var produces, consumes int
	for _, e := range d.Edges {
		switch e.Type {
		case EdgeProduces:
			produces++
		case EdgeConsumes:
			consumes++
			assert.Equal(t, "x1", e.From)
			assert.Equal(t, "b1", e.To)
		}
	}
	assert.Equal(t, 2, produces)
	assert.Equal(t, 1, consumes)
	assert.Contains(t, d.Edges, Edge{From: "a2", To: "x1", Type: EdgeProduces})
}

func TestRenderDOT(t *testing.T) {
	d := NewView(sampleGraph()).GenerateFlowData()
	out, err := RenderDOT(context.Background(), "P", d)
	require.NoError(t, err)
	assert.Contains(t, string(out), "digraph")
	assert.Contains(t, string(out), "Insights")

	_, err = Render(context.Background(), "P", d, Format("gif"))
	assert.Error(t, err)
}
