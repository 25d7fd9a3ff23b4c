// Package app opens the full stack the CLI commands share: database, migrations, blob store, engine and sessions.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"playbooks/internal/blob"
	"playbooks/internal/config"
	"playbooks/internal/db"
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/logger"
	"playbooks/internal/migrate"
	"playbooks/internal/reqctx"
	"playbooks/internal/session"
)

// LocalUsername is the account CLI and tool-call callers act as unless told otherwise.
const LocalUsername = "local-user"

type Stack struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    *engine.Engine
	Sessions  session.Store
	Log       *logger.Logger

	closers []func() error
}

// Open wires every dependency for workspace. Callers must Close the stack.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *logger.Logger) (*Stack, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeout: cfg.Store.BusyTimeout.Duration})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Stack{Workspace: workspace, Config: cfg, DB: conn, Log: log}
	s.closers = append(s.closers, conn.Close)
	if err := migrate.Migrate(ctx, conn); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := openBlob(ctx, workspace, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.Sessions, err = openSessions(ctx, cfg, s); err != nil {
		s.Close()
		return nil, err
	}
	s.Engine = engine.New(conn, engine.Options{
		Blob:             store,
		Log:              log,
		StatementTimeout: cfg.Store.StatementTimeout.Duration,
	})
	return s, nil
}

func openBlob(ctx context.Context, workspace string, cfg *config.Config, s *Stack) (blob.Store, error) {
	if cfg.Blob.Backend == "gcs" {
		g, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.Blob.Bucket,
			Prefix:          cfg.Blob.Prefix,
			CredentialsFile: cfg.Blob.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		s.closers = append(s.closers, g.Close)
		return g, nil
	}
	dir := cfg.Blob.Dir
	if dir == "" {
		dir = filepath.Join(".playbooks", "blobs")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspace, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return blob.FileStore{Dir: dir}, nil
}

func openSessions(ctx context.Context, cfg *config.Config, s *Stack) (session.Store, error) {
	if cfg.Session.Backend == "redis" {
		r, err := session.NewRedisStore(ctx, cfg.Session.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis sessions: %w", err)
		}
		s.closers = append(s.closers, r.Close)
		return r, nil
	}
	return session.NewMemoryStore(), nil
}

// Close releases resources in reverse order of opening.
func (s *Stack) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// AsUser binds username to ctx, registering the account on first use.
func (s *Stack) AsUser(ctx context.Context, username string) (context.Context, domain.User, error) {
	if username == "" {
		username = LocalUsername
	}
	u, err := s.Engine.Users.Ensure(ctx, username)
	if err != nil {
		return ctx, domain.User{}, fmt.Errorf("ensure user %s: %w", username, err)
	}
	return reqctx.BindUser(ctx, u.ID), u, nil
}
