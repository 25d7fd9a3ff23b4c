// Package flow computes artifact producer/consumer relationships over an in-memory playbook graph.
// It performs no I/O; callers load a domain.Graph and hand it over.
package flow

import (
	"errors"
	"fmt"
	"sort"

	"playbooks/internal/domain"
	"playbooks/internal/validate"
)

var (
	ErrUnknownArtifact = errors.New("artifact not in playbook graph")
	ErrUnknownActivity = errors.New("activity not in playbook graph")
)

// View indexes a domain.Graph for flow queries.
type View struct {
	graph            domain.Graph
	workflows        map[string]domain.Workflow
	activities       map[string]domain.Activity
	artifacts        map[string]domain.Artifact
	inputsByArtifact map[string][]domain.ArtifactInput
	inputsByActivity map[string][]domain.ArtifactInput
}

func NewView(g domain.Graph) *View {
	v := &View{
		graph:            g,
		workflows:        make(map[string]domain.Workflow, len(g.Workflows)),
		activities:       make(map[string]domain.Activity, len(g.Activities)),
		artifacts:        make(map[string]domain.Artifact, len(g.Artifacts)),
		inputsByArtifact: map[string][]domain.ArtifactInput{},
		inputsByActivity: map[string][]domain.ArtifactInput{},
	}
	for _, w := range g.Workflows {
		v.workflows[w.ID] = w
	}
	for _, a := range g.Activities {
		v.activities[a.ID] = a
	}
	for _, x := range g.Artifacts {
		v.artifacts[x.ID] = x
	}
	for _, in := range g.Inputs {
		v.index(in)
	}
	return v
}

func (v *View) index(in domain.ArtifactInput) {
	v.inputsByArtifact[in.ArtifactID] = append(v.inputsByArtifact[in.ArtifactID], in)
	v.inputsByActivity[in.ActivityID] = append(v.inputsByActivity[in.ActivityID], in)
}

// Link adds an edge to the view so later checks in the same batch see it.
func (v *View) Link(in domain.ArtifactInput) {
	v.graph.Inputs = append(v.graph.Inputs, in)
	v.index(in)
}

func (v *View) Playbook() domain.Playbook {
	return v.graph.Playbook
}

func (v *View) Activity(id string) (domain.Activity, bool) {
	a, ok := v.activities[id]
	return a, ok
}

func (v *View) Artifact(id string) (domain.Artifact, bool) {
	x, ok := v.artifacts[id]
	return x, ok
}

// ConsumerCount is the number of activities consuming the artifact.
func (v *View) ConsumerCount(artifactID string) int {
	return len(v.inputsByArtifact[artifactID])
}

// Inputs returns the edges into an activity.
func (v *View) Inputs(activityID string) []domain.ArtifactInput {
	return append([]domain.ArtifactInput{}, v.inputsByActivity[activityID]...)
}

type Consumer struct {
	Activity domain.Activity `json:"activity"`
	Required bool            `json:"required"`
	InputID  string          `json:"input_id"`
}

// Chain describes where an artifact comes from and who uses it.
type Chain struct {
	Artifact  domain.Artifact  `json:"artifact"`
	Producer  *domain.Activity `json:"producer"`
	Consumers []Consumer       `json:"consumers"`
}

// FlowChain returns the artifact, its producer and its consumers in activity order.
func (v *View) FlowChain(artifactID string) (Chain, error) {
	x, ok := v.artifacts[artifactID]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %s", ErrUnknownArtifact, artifactID)
	}
	chain := Chain{Artifact: x, Consumers: []Consumer{}}
	if p, ok := v.activities[x.ProducedByID]; ok {
		chain.Producer = &p
	}
	for _, in := range v.inputsByArtifact[artifactID] {
		a, ok := v.activities[in.ActivityID]
		if !ok {
			continue
		}
		chain.Consumers = append(chain.Consumers, Consumer{Activity: a, Required: in.IsRequired, InputID: in.ID})
	}
	sort.SliceStable(chain.Consumers, func(i, j int) bool {
		return v.before(chain.Consumers[i].Activity, chain.Consumers[j].Activity)
	})
	return chain, nil
}

// AvailableInputs lists artifacts the activity could still consume:
// everything in the playbook except what it produces and what it already consumes.
func (v *View) AvailableInputs(activityID string) ([]domain.Artifact, error) {
	if _, ok := v.activities[activityID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
	}
	linked := map[string]bool{}
	for _, in := range v.inputsByActivity[activityID] {
		linked[in.ArtifactID] = true
	}
	res := []domain.Artifact{}
	for _, x := range v.graph.Artifacts {
		if x.ProducedByID == activityID || linked[x.ID] {
			continue
		}
		res = append(res, x)
	}
	return res, nil
}

// ValidateFlow applies every artifact-input rule to a prospective edge.
// Hard violations become field errors; temporal ordering only warns.
func (v *View) ValidateFlow(artifactID, consumerID string) validate.Result {
	var r validate.Result
	x, ok := v.artifacts[artifactID]
	if !ok {
		r.Add("artifact", validate.KindInvalidReference, "Select an artifact from this playbook.")
		return r
	}
	consumer, ok := v.activities[consumerID]
	if !ok {
		r.Add("activity", validate.KindInvalidReference, "Select an activity from this playbook.")
		return r
	}
	if consumer.ID == x.ProducedByID {
		r.Add("activity", validate.KindCircularDependency,
			fmt.Sprintf("%q cannot consume %q because it produces it.", consumer.Name, x.Name))
		return r
	}
	for _, in := range v.inputsByArtifact[artifactID] {
		if in.ActivityID == consumerID {
			r.Add("artifact", validate.KindDuplicateInput,
				fmt.Sprintf("%q is already an input of %q.", x.Name, consumer.Name))
			return r
		}
	}
	if producer, ok := v.activities[x.ProducedByID]; ok && v.before(consumer, producer) {
		r.Warn(fmt.Sprintf("Temporal ordering: %q is produced by %q, which comes after its consumer %q.",
			x.Name, producer.Name, consumer.Name))
	}
	return r
}

// before reports whether a runs strictly earlier than b: activity order within a workflow,
// workflow order across workflows.
func (v *View) before(a, b domain.Activity) bool {
	if a.WorkflowID == b.WorkflowID {
		return a.Order < b.Order
	}
	wa, wb := v.workflows[a.WorkflowID], v.workflows[b.WorkflowID]
	if wa.Order != wb.Order {
		return wa.Order < wb.Order
	}
	return a.Order < b.Order
}
