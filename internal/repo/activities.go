package repo

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

const activitySelect = `SELECT a.id,a.workflow_id,w.playbook_id,a.name,a.guidance,a.position,a.phase,a.predecessor_id,a.successor_id,a.created_at,a.updated_at
FROM activities a JOIN workflows w ON w.id=a.workflow_id `

func scanActivity(s scanner) (domain.Activity, error) {
	var a domain.Activity
	var pred, succ sql.NullString
	if err := s.Scan(&a.ID, &a.WorkflowID, &a.PlaybookID, &a.Name, &a.Guidance, &a.Order, &a.Phase, &pred, &succ, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.PredecessorID = ptrFromNull(pred)
	a.SuccessorID = ptrFromNull(succ)
	return a, nil
}

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	return r.exec(ctx, tx, `INSERT INTO activities(id,workflow_id,name,guidance,position,phase,predecessor_id,successor_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.WorkflowID, a.Name, a.Guidance, a.Order, a.Phase, nullableStringPtr(a.PredecessorID), nullableStringPtr(a.SuccessorID), a.CreatedAt, a.UpdatedAt)
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, id string) (domain.Activity, error) {
	a, err := scanActivity(r.q(tx).QueryRowContext(ctx, activitySelect+`WHERE a.id=?`, id))
	return a, notFound(err)
}

func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	return r.execOne(ctx, tx, `UPDATE activities SET name=?, guidance=?, position=?, phase=?, predecessor_id=?, successor_id=?, updated_at=? WHERE id=?`,
		a.Name, a.Guidance, a.Order, a.Phase, nullableStringPtr(a.PredecessorID), nullableStringPtr(a.SuccessorID), a.UpdatedAt, a.ID)
}

func (r Repo) DeleteActivity(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM activities WHERE id=?`, id)
}

func (r Repo) listActivities(ctx context.Context, tx *sql.Tx, where string, arg string) ([]domain.Activity, error) {
	rows, err := r.q(tx).QueryContext(ctx, activitySelect+where+` ORDER BY w.position ASC, a.position ASC, a.created_at ASC, a.id ASC`, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListActivities returns a workflow's activities by order then creation time.
func (r Repo) ListActivities(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.Activity, error) {
	return r.listActivities(ctx, tx, `WHERE a.workflow_id=?`, workflowID)
}

// ListPlaybookActivities returns every activity of a playbook, grouped by workflow order.
func (r Repo) ListPlaybookActivities(ctx context.Context, tx *sql.Tx, playbookID string) ([]domain.Activity, error) {
	return r.listActivities(ctx, tx, `WHERE w.playbook_id=?`, playbookID)
}

func (r Repo) ActivityNameExists(ctx context.Context, tx *sql.Tx, workflowID, name, excludeID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT count(*) FROM activities WHERE workflow_id=? AND name=? AND id<>?`, workflowID, name, excludeID)
}

func (r Repo) MaxActivityOrder(ctx context.Context, tx *sql.Tx, workflowID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0) FROM activities WHERE workflow_id=?`, workflowID).Scan(&n)
	return n, classify(err)
}
