package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"playbooks/internal/domain"
)

type EventFilters struct {
	UserID     string
	PlaybookID string
	ActionType domain.ActionType
	Limit      int
	// Cursor returns events with id below it.
	Cursor int64
}

// LatestEvents returns the audit feed newest first.
func (r Repo) LatestEvents(ctx context.Context, tx *sql.Tx, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.PlaybookID != "" {
		clauses = append(clauses, "playbook_id=?")
		args = append(args, f.PlaybookID)
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,user_id,action_type,playbook_id,description,ts,metadata_json FROM events WHERE %s ORDER BY ts DESC, id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var playbookID sql.NullString
		var metadata string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ActionType, &playbookID, &e.Description, &e.Timestamp, &metadata); err != nil {
			return nil, err
		}
		e.PlaybookID = playbookID.String
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEvents counts feed entries of one action type, all types when empty.
func (r Repo) CountEvents(ctx context.Context, tx *sql.Tx, userID string, action domain.ActionType) (int, error) {
	query := `SELECT count(*) FROM events WHERE user_id=?`
	args := []any{userID}
	if action != "" {
		query += ` AND action_type=?`
		args = append(args, action)
	}
	var n int
	err := r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, classify(err)
}
