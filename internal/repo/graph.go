package repo

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

// LoadGraph reads a playbook and its whole subtree.
func (r Repo) LoadGraph(ctx context.Context, tx *sql.Tx, playbookID string) (domain.Graph, error) {
	var g domain.Graph
	pb, err := r.GetPlaybook(ctx, tx, playbookID)
	if err != nil {
		return g, err
	}
	g.Playbook = pb
	if g.Workflows, err = r.ListWorkflows(ctx, tx, playbookID); err != nil {
		return g, err
	}
	if g.Activities, err = r.ListPlaybookActivities(ctx, tx, playbookID); err != nil {
		return g, err
	}
	if g.Artifacts, err = r.ListArtifacts(ctx, tx, ArtifactFilters{PlaybookID: playbookID}); err != nil {
		return g, err
	}
	if g.Inputs, err = r.ListPlaybookInputs(ctx, tx, playbookID); err != nil {
		return g, err
	}
	return g, nil
}
