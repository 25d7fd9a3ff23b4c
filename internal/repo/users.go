package repo

import (
	"context"
	"database/sql"

	"playbooks/internal/domain"
)

const userCols = `id,username,email,display_name,created_at`

func scanUser(s scanner) (domain.User, error) {
	var u domain.User
	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	return r.exec(ctx, tx, `INSERT INTO users(`+userCols+`) VALUES (?,?,?,?,?)`,
		u.ID, u.Username, u.Email, u.DisplayName, u.CreatedAt)
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
	return u, notFound(err)
}

func (r Repo) GetUserByUsername(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=?`, username))
	return u, notFound(err)
}

func (r Repo) ListUsers(ctx context.Context, tx *sql.Tx) ([]domain.User, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY username`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
