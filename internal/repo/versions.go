package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"playbooks/internal/domain"
)

const versionCols = `id,playbook_id,version_number,snapshot_json,change_summary,created_at,created_by`

func scanVersion(s scanner) (domain.PlaybookVersion, error) {
	var v domain.PlaybookVersion
	var snapshot string
	if err := s.Scan(&v.ID, &v.PlaybookID, &v.VersionNumber, &snapshot, &v.ChangeSummary, &v.CreatedAt, &v.CreatedBy); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(snapshot), &v.SnapshotData); err != nil {
		return v, fmt.Errorf("decode snapshot: %w", err)
	}
	return v, nil
}

func (r Repo) InsertVersion(ctx context.Context, tx *sql.Tx, v domain.PlaybookVersion) error {
	snapshot, err := json.Marshal(v.SnapshotData)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.exec(ctx, tx, `INSERT INTO playbook_versions(`+versionCols+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.PlaybookID, v.VersionNumber, string(snapshot), v.ChangeSummary, v.CreatedAt, v.CreatedBy)
}

// ListVersions returns snapshots newest first.
func (r Repo) ListVersions(ctx context.Context, tx *sql.Tx, playbookID string) ([]domain.PlaybookVersion, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+versionCols+` FROM playbook_versions WHERE playbook_id=? ORDER BY version_number DESC`, playbookID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := []domain.PlaybookVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetVersion(ctx context.Context, tx *sql.Tx, playbookID string, number int) (domain.PlaybookVersion, error) {
	v, err := scanVersion(r.q(tx).QueryRowContext(ctx, `SELECT `+versionCols+` FROM playbook_versions WHERE playbook_id=? AND version_number=?`, playbookID, number))
	return v, notFound(err)
}

func (r Repo) CountVersions(ctx context.Context, tx *sql.Tx, playbookID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM playbook_versions WHERE playbook_id=?`, playbookID).Scan(&n)
	return n, classify(err)
}
