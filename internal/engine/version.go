package engine

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

type noBumpKey struct{}

// withoutBump marks writes that build a playbook from scratch (wizard, duplicate, import):
// their version is set explicitly instead.
func withoutBump(ctx context.Context) context.Context {
	return context.WithValue(ctx, noBumpKey{}, true)
}

func bumpSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(noBumpKey{}).(bool)
	return v
}

// afterWrite is the version observer. It runs inside the writing transaction after every
// descendant create, update or delete and bumps a draft playbook by the minimum increment.
// Non-draft playbooks are left alone.
func (e *Engine) afterWrite(ctx context.Context, tx *sql.Tx, playbookID string) (domain.Version, error) {
	pb, err := e.Repo.GetPlaybook(ctx, tx, playbookID)
	if err != nil {
		return 0, err
	}
	if bumpSuppressed(ctx) || pb.Status != domain.StatusDraft {
		return pb.Version, nil
	}
	next := pb.Version.Next()
	if err := e.Repo.SetPlaybookVersion(ctx, tx, pb.ID, next, e.stamp()); err != nil {
		return 0, err
	}
	return next, nil
}

// snapshot records a PlaybookVersion for the playbook's current state.
// The first snapshot is always summarized as "Initial version".
func (e *Engine) snapshot(ctx context.Context, tx *sql.Tx, playbookID, userID, summary string) (domain.PlaybookVersion, error) {
	g, err := e.Repo.LoadGraph(ctx, tx, playbookID)
	if err != nil {
		return domain.PlaybookVersion{}, err
	}
	count, err := e.Repo.CountVersions(ctx, tx, playbookID)
	if err != nil {
		return domain.PlaybookVersion{}, err
	}
	switch {
	case count == 0:
		summary = "Initial version"
	case summary == "":
		summary = "Release " + g.Playbook.Version.String()
	}
	v := domain.PlaybookVersion{
		ID:            newID(),
		PlaybookID:    playbookID,
		VersionNumber: count + 1,
		SnapshotData:  domain.BuildExport(g),
		ChangeSummary: summary,
		CreatedAt:     e.stamp(),
		CreatedBy:     userID,
	}
	if err := e.Repo.InsertVersion(ctx, tx, v); err != nil {
		return v, err
	}
	return v, e.audit(ctx, tx, domain.ActionVersionCreated, userID, playbookID,
		"Recorded version "+g.Playbook.Version.String(), map[string]any{"version_number": v.VersionNumber, "version": g.Playbook.Version.String()})
}
