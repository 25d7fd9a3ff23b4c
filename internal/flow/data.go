package flow

const (
	NodeActivity = "activity"
	NodeArtifact = "artifact"
	EdgeProduces = "produces"
	EdgeConsumes = "consumes"
)

type Node struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Label        string `json:"label"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	Workflow     string `json:"workflow,omitempty"`
	Phase        string `json:"phase,omitempty"`
	Order        int    `json:"order,omitempty"`
	ArtifactType string `json:"artifact_type,omitempty"`
	Required     bool   `json:"required,omitempty"`
	Consumers    int    `json:"consumers,omitempty"`
}

type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

type Data struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// GenerateFlowData emits one node per activity and artifact, one produces edge per artifact
// and one consumes edge per input.
func (v *View) GenerateFlowData() Data {
	d := Data{Nodes: []Node{}, Edges: []Edge{}}
	for _, a := range v.graph.Activities {
		w := v.workflows[a.WorkflowID]
		d.Nodes = append(d.Nodes, Node{
			ID:         a.ID,
			Type:       NodeActivity,
			Label:      a.Name,
			WorkflowID: a.WorkflowID,
			Workflow:   w.Name,
			Phase:      a.PhaseDisplayName(),
			Order:      a.Order,
		})
	}
	for _, x := range v.graph.Artifacts {
		d.Nodes = append(d.Nodes, Node{
			ID:           x.ID,
			Type:         NodeArtifact,
			Label:        x.Name,
			ArtifactType: string(x.Type),
			Required:     x.IsRequired,
			Consumers:    v.ConsumerCount(x.ID),
		})
		d.Edges = append(d.Edges, Edge{From: x.ProducedByID, To: x.ID, Type: EdgeProduces})
	}
	for _, in := range v.graph.Inputs {
		d.Edges = append(d.Edges, Edge{From: in.ArtifactID, To: in.ActivityID, Type: EdgeConsumes, Required: in.IsRequired})
	}
	return d
}

// Count returns how many nodes have the given type.
func (d Data) Count(nodeType string) int {
	n := 0
	for _, node := range d.Nodes {
		if node.Type == nodeType {
			n++
		}
	}
	return n
}
