package repo

import (
	"context"
	"database/sql"
	"strings"

	"playbooks/internal/domain"
)

const artifactSelect = `SELECT x.id,x.playbook_id,x.name,x.description,x.type,x.produced_by_id,x.is_required,x.template_file,x.created_at,x.updated_at
FROM artifacts x JOIN activities a ON a.id=x.produced_by_id JOIN workflows w ON w.id=a.workflow_id `

func scanArtifact(s scanner) (domain.Artifact, error) {
	var x domain.Artifact
	var required int
	err := s.Scan(&x.ID, &x.PlaybookID, &x.Name, &x.Description, &x.Type, &x.ProducedByID, &required, &x.TemplateFile, &x.CreatedAt, &x.UpdatedAt)
	x.IsRequired = required != 0
	return x, err
}

func (r Repo) InsertArtifact(ctx context.Context, tx *sql.Tx, x domain.Artifact) error {
	return r.exec(ctx, tx, `INSERT INTO artifacts(id,playbook_id,produced_by_id,name,description,type,is_required,template_file,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		x.ID, x.PlaybookID, x.ProducedByID, x.Name, x.Description, x.Type, boolInt(x.IsRequired), x.TemplateFile, x.CreatedAt, x.UpdatedAt)
}

func (r Repo) GetArtifact(ctx context.Context, tx *sql.Tx, id string) (domain.Artifact, error) {
	x, err := scanArtifact(r.q(tx).QueryRowContext(ctx, artifactSelect+`WHERE x.id=?`, id))
	return x, notFound(err)
}

func (r Repo) UpdateArtifact(ctx context.Context, tx *sql.Tx, x domain.Artifact) error {
	return r.execOne(ctx, tx, `UPDATE artifacts SET name=?, description=?, type=?, produced_by_id=?, is_required=?, template_file=?, updated_at=? WHERE id=?`,
		x.Name, x.Description, x.Type, x.ProducedByID, boolInt(x.IsRequired), x.TemplateFile, x.UpdatedAt, x.ID)
}

func (r Repo) DeleteArtifact(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM artifacts WHERE id=?`, id)
}

func (r Repo) ArtifactNameExists(ctx context.Context, tx *sql.Tx, playbookID, name, excludeID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT count(*) FROM artifacts WHERE playbook_id=? AND name=? AND id<>?`, playbookID, name, excludeID)
}

type ArtifactFilters struct {
	PlaybookID   string
	ProducedByID string
	WorkflowID   string
	Type         domain.ArtifactType
}

// ListArtifacts orders by producing activity then name.
func (r Repo) ListArtifacts(ctx context.Context, tx *sql.Tx, f ArtifactFilters) ([]domain.Artifact, error) {
	var clauses []string
	var args []any
	if f.PlaybookID != "" {
		clauses = append(clauses, "x.playbook_id=?")
		args = append(args, f.PlaybookID)
	}
	if f.ProducedByID != "" {
		clauses = append(clauses, "x.produced_by_id=?")
		args = append(args, f.ProducedByID)
	}
	if f.WorkflowID != "" {
		clauses = append(clauses, "a.workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.Type != "" {
		clauses = append(clauses, "x.type=?")
		args = append(args, f.Type)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.q(tx).QueryContext(ctx, artifactSelect+where+` ORDER BY w.position ASC, a.position ASC, a.id ASC, x.name ASC`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.Artifact{}
	for rows.Next() {
		x, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, rows.Err()
}

const inputCols = `i.id,i.artifact_id,i.activity_id,i.is_required,i.created_at,i.updated_at`

func scanInput(s scanner) (domain.ArtifactInput, error) {
	var in domain.ArtifactInput
	var required int
	err := s.Scan(&in.ID, &in.ArtifactID, &in.ActivityID, &required, &in.CreatedAt, &in.UpdatedAt)
	in.IsRequired = required != 0
	return in, err
}

func (r Repo) InsertInput(ctx context.Context, tx *sql.Tx, in domain.ArtifactInput) error {
	return r.exec(ctx, tx, `INSERT INTO artifact_inputs(id,artifact_id,activity_id,is_required,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		in.ID, in.ArtifactID, in.ActivityID, boolInt(in.IsRequired), in.CreatedAt, in.UpdatedAt)
}

func (r Repo) GetInput(ctx context.Context, tx *sql.Tx, id string) (domain.ArtifactInput, error) {
	in, err := scanInput(r.q(tx).QueryRowContext(ctx, `SELECT `+inputCols+` FROM artifact_inputs i WHERE i.id=?`, id))
	return in, notFound(err)
}

func (r Repo) DeleteInput(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM artifact_inputs WHERE id=?`, id)
}

func (r Repo) InputExists(ctx context.Context, tx *sql.Tx, artifactID, activityID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT count(*) FROM artifact_inputs WHERE artifact_id=? AND activity_id=?`, artifactID, activityID)
}

func (r Repo) listInputs(ctx context.Context, tx *sql.Tx, join, where string, arg string) ([]domain.ArtifactInput, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+inputCols+` FROM artifact_inputs i `+join+where+` ORDER BY i.created_at ASC, i.id ASC`, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.ArtifactInput{}
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// ListInputsByActivity returns the artifacts an activity consumes.
func (r Repo) ListInputsByActivity(ctx context.Context, tx *sql.Tx, activityID string) ([]domain.ArtifactInput, error) {
	return r.listInputs(ctx, tx, "", `WHERE i.activity_id=?`, activityID)
}

// ListInputsByArtifact returns the consumers of an artifact.
func (r Repo) ListInputsByArtifact(ctx context.Context, tx *sql.Tx, artifactID string) ([]domain.ArtifactInput, error) {
	return r.listInputs(ctx, tx, "", `WHERE i.artifact_id=?`, artifactID)
}

func (r Repo) ListPlaybookInputs(ctx context.Context, tx *sql.Tx, playbookID string) ([]domain.ArtifactInput, error) {
	return r.listInputs(ctx, tx, `JOIN artifacts x ON x.id=i.artifact_id `, `WHERE x.playbook_id=?`, playbookID)
}
