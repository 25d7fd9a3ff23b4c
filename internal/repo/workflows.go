package repo

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

const workflowCols = `id,playbook_id,name,description,position,status,created_by,created_at,updated_at`

func scanWorkflow(s scanner) (domain.Workflow, error) {
	var w domain.Workflow
	err := s.Scan(&w.ID, &w.PlaybookID, &w.Name, &w.Description, &w.Order, &w.Status, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	return r.exec(ctx, tx, `INSERT INTO workflows(`+workflowCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		w.ID, w.PlaybookID, w.Name, w.Description, w.Order, w.Status, w.CreatedBy, w.CreatedAt, w.UpdatedAt)
}

func (r Repo) GetWorkflow(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	w, err := scanWorkflow(r.q(tx).QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id=?`, id))
	return w, notFound(err)
}

func (r Repo) UpdateWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	return r.execOne(ctx, tx, `UPDATE workflows SET name=?, description=?, position=?, status=?, updated_at=? WHERE id=?`,
		w.Name, w.Description, w.Order, w.Status, w.UpdatedAt, w.ID)
}

func (r Repo) DeleteWorkflow(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM workflows WHERE id=?`, id)
}

// ListWorkflows orders by position then creation time.
func (r Repo) ListWorkflows(ctx context.Context, tx *sql.Tx, playbookID string) ([]domain.Workflow, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE playbook_id=? ORDER BY position ASC, created_at ASC, id ASC`, playbookID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.Workflow{}
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) WorkflowNameExists(ctx context.Context, tx *sql.Tx, playbookID, name, excludeID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT count(*) FROM workflows WHERE playbook_id=? AND name=? AND id<>?`, playbookID, name, excludeID)
}

// MaxWorkflowOrder returns 0 for a playbook without workflows.
func (r Repo) MaxWorkflowOrder(ctx context.Context, tx *sql.Tx, playbookID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM workflows WHERE playbook_id=?`, playbookID).Scan(&n)
	return n, classify(err)
}
