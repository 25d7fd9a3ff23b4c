package repo

import (
	"context"
	"database/sql"
	"strings"

	"playbooks/internal/domain"
)

const playbookCols = `id,author_id,name,description,category,tags_json,visibility,status,version,source,created_at,updated_at`

func scanPlaybook(s scanner) (domain.Playbook, error) {
	var p domain.Playbook
	var tags string
	if err := s.Scan(&p.ID, &p.AuthorID, &p.Name, &p.Description, &p.Category, &tags, &p.Visibility,
		&p.Status, &p.Version, &p.Source, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	decoded, err := decodeTags(tags)
	if err != nil {
		return p, err
	}
	p.Tags = decoded
	return p, nil
}

func (r Repo) InsertPlaybook(ctx context.Context, tx *sql.Tx, p domain.Playbook) error {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	return r.exec(ctx, tx, `INSERT INTO playbooks(`+playbookCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AuthorID, p.Name, p.Description, p.Category, tags, p.Visibility, p.Status, p.Version, p.Source, p.CreatedAt, p.UpdatedAt)
}

func (r Repo) GetPlaybook(ctx context.Context, tx *sql.Tx, id string) (domain.Playbook, error) {
	p, err := scanPlaybook(r.q(tx).QueryRowContext(ctx, `SELECT `+playbookCols+` FROM playbooks WHERE id=?`, id))
	return p, notFound(err)
}

// UpdatePlaybook rewrites every mutable column.
func (r Repo) UpdatePlaybook(ctx context.Context, tx *sql.Tx, p domain.Playbook) error {
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	return r.execOne(ctx, tx, `UPDATE playbooks SET name=?, description=?, category=?, tags_json=?, visibility=?, status=?, version=?, source=?, updated_at=? WHERE id=?`,
		p.Name, p.Description, p.Category, tags, p.Visibility, p.Status, p.Version, p.Source, p.UpdatedAt, p.ID)
}

// SetPlaybookVersion updates version and updated_at only.
func (r Repo) SetPlaybookVersion(ctx context.Context, tx *sql.Tx, id string, v domain.Version, updatedAt string) error {
	return r.execOne(ctx, tx, `UPDATE playbooks SET version=?, updated_at=? WHERE id=?`, v, updatedAt, id)
}

func (r Repo) DeletePlaybook(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM playbooks WHERE id=?`, id)
}

// PlaybookNameExists probes (author, name) uniqueness; excludeID skips the row being updated.
func (r Repo) PlaybookNameExists(ctx context.Context, tx *sql.Tx, authorID, name, excludeID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT count(*) FROM playbooks WHERE author_id=? AND name=? AND id<>?`, authorID, name, excludeID)
}

type PlaybookFilters struct {
	AuthorID        string
	Status          domain.Status
	Category        domain.Category
	Query           string
	Limit           int
	CursorUpdatedAt string
	CursorID        string
}

// ListPlaybooks orders by updated_at descending with keyset pagination.
func (r Repo) ListPlaybooks(ctx context.Context, tx *sql.Tx, f PlaybookFilters) ([]domain.Playbook, error) {
	var clauses []string
	var args []any
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, "(name LIKE ? OR description LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.CursorUpdatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(updated_at < ? OR (updated_at = ? AND id < ?))")
		args = append(args, f.CursorUpdatedAt, f.CursorUpdatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + playbookCols + ` FROM playbooks ` + where + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.Playbook{}
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPlaybooksByStatus(ctx context.Context, tx *sql.Tx, authorID string) (map[domain.Status]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT status, count(*) FROM playbooks WHERE author_id=? GROUP BY status`, authorID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status domain.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
