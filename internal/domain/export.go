package domain

import (
	"sort"
	"strings"
	"unicode"
)

// ExportDocument is the canonical serialized form of a playbook subtree.
// PlaybookVersion snapshots hold the same structure.
type ExportDocument struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Category    Category         `json:"category" yaml:"category"`
	Tags        []string         `json:"tags" yaml:"tags"`
	Visibility  Visibility       `json:"visibility" yaml:"visibility"`
	Status      Status           `json:"status" yaml:"status"`
	Version     Version          `json:"version" yaml:"version"`
	Workflows   []ExportWorkflow `json:"workflows" yaml:"workflows"`
}

type ExportWorkflow struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Order       int              `json:"order" yaml:"order"`
	Activities  []ExportActivity `json:"activities" yaml:"activities"`
}

type ExportActivity struct {
	Name      string           `json:"name" yaml:"name"`
	Guidance  string           `json:"guidance" yaml:"guidance"`
	Order     int              `json:"order" yaml:"order"`
	Phase     string           `json:"phase" yaml:"phase"`
	Artifacts []ExportArtifact `json:"artifacts" yaml:"artifacts"`
}

type ExportArtifact struct {
	Name       string       `json:"name" yaml:"name"`
	Type       ArtifactType `json:"type" yaml:"type"`
	IsRequired bool         `json:"is_required" yaml:"is_required"`
}

// BuildExport assembles the export document from a loaded graph.
// Workflows and activities follow their order; artifacts are sorted by name under their producer.
func BuildExport(g Graph) ExportDocument {
	doc := ExportDocument{
		Name:        g.Playbook.Name,
		Description: g.Playbook.Description,
		Category:    g.Playbook.Category,
		Tags:        append([]string{}, g.Playbook.Tags...),
		Visibility:  g.Playbook.Visibility,
		Status:      g.Playbook.Status,
		Version:     g.Playbook.Version,
		Workflows:   []ExportWorkflow{},
	}

	produced := map[string][]Artifact{}
	for _, x := range g.Artifacts {
		produced[x.ProducedByID] = append(produced[x.ProducedByID], x)
	}
	byWorkflow := map[string][]Activity{}
	for _, a := range g.Activities {
		byWorkflow[a.WorkflowID] = append(byWorkflow[a.WorkflowID], a)
	}

	workflows := append([]Workflow{}, g.Workflows...)
	sort.SliceStable(workflows, func(i, j int) bool {
		if workflows[i].Order != workflows[j].Order {
			return workflows[i].Order < workflows[j].Order
		}
		return workflows[i].CreatedAt < workflows[j].CreatedAt
	})
	for _, w := range workflows {
		ew := ExportWorkflow{Name: w.Name, Description: w.Description, Order: w.Order, Activities: []ExportActivity{}}
		acts := byWorkflow[w.ID]
		sort.SliceStable(acts, func(i, j int) bool {
			if acts[i].Order != acts[j].Order {
				return acts[i].Order < acts[j].Order
			}
			return acts[i].CreatedAt < acts[j].CreatedAt
		})
		for _, a := range acts {
			ea := ExportActivity{Name: a.Name, Guidance: a.Guidance, Order: a.Order, Phase: a.Phase, Artifacts: []ExportArtifact{}}
			xs := produced[a.ID]
			sort.SliceStable(xs, func(i, j int) bool { return xs[i].Name < xs[j].Name })
			for _, x := range xs {
				ea.Artifacts = append(ea.Artifacts, ExportArtifact{Name: x.Name, Type: x.Type, IsRequired: x.IsRequired})
			}
			ew.Activities = append(ew.Activities, ea)
		}
		doc.Workflows = append(doc.Workflows, ew)
	}
	return doc
}

// Slug lowercases name and joins alphanumeric runs with '-'.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "playbook"
	}
	return b.String()
}

// ExportFilename is the slug of the playbook name plus the format extension.
func ExportFilename(name, format string) string {
	ext := ".json"
	if format == "yaml" {
		ext = ".yaml"
	}
	return Slug(name) + ext
}
