// Package engine is the service layer: every mutation, from the web forms or from tool calls, goes through here.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"playbooks/internal/blob"
	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/logger"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

type Options struct {
	Now              func() time.Time
	Blob             blob.Store
	Log              *logger.Logger
	StatementTimeout time.Duration
}

type Engine struct {
	DB               *sql.DB
	Repo             repo.Repo
	Events           events.Writer
	Validator        *validate.Validator
	Blob             blob.Store
	Log              *logger.Logger
	Now              func() time.Time
	StatementTimeout time.Duration

	Playbooks  *PlaybookService
	Workflows  *WorkflowService
	Activities *ActivityService
	Artifacts  *ArtifactService
	Dashboard  *DashboardService
	Onboarding *OnboardingService
	Users      *UserService
}

func New(db *sql.DB, opts Options) *Engine {
	e := &Engine{
		DB:               db,
		Repo:             repo.Repo{DB: db},
		Validator:        validate.New(),
		Blob:             opts.Blob,
		Log:              opts.Log,
		Now:              opts.Now,
		StatementTimeout: opts.StatementTimeout,
	}
	if e.Log == nil {
		e.Log = logger.Nop()
	}
	e.Events = events.Writer{Now: e.now}
	e.Playbooks = &PlaybookService{e}
	e.Workflows = &WorkflowService{e}
	e.Activities = &ActivityService{e}
	e.Artifacts = &ArtifactService{e}
	e.Dashboard = &DashboardService{e}
	e.Onboarding = &OnboardingService{e}
	e.Users = &UserService{e}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func newID() string {
	return uuid.NewString()
}

// withTx runs fn in one transaction bounded by the statement timeout.
func (e *Engine) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if e.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.StatementTimeout)
		defer cancel()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

// read runs fn in a transaction that is never committed.
func (e *Engine) read(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if e.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.StatementTimeout)
		defer cancel()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()
	return storeErr(fn(ctx, tx))
}

// mutate runs a write and recovers a unique-constraint race once: recheck re-runs the name
// validation in a fresh transaction and its error wins; otherwise the race becomes name_duplicate.
func (e *Engine) mutate(ctx context.Context, entity string, fn func(ctx context.Context, tx *sql.Tx) error, recheck func(ctx context.Context, tx *sql.Tx) error) error {
	err := e.withTx(ctx, fn)
	if !errors.Is(err, repo.ErrConflict) {
		return err
	}
	e.Log.For(ctx).Warn("unique constraint race", "entity", entity, "err", err)
	if recheck != nil {
		rerr := e.read(ctx, func(ctx context.Context, tx *sql.Tx) error { return recheck(ctx, tx) })
		if errors.Is(rerr, ErrValidation) {
			return rerr
		}
	}
	return validate.Duplicate(entity)
}

// loadEditable fetches a playbook and checks the caller may edit it.
func (e *Engine) loadEditable(ctx context.Context, tx *sql.Tx, playbookID, userID string) (domain.Playbook, error) {
	pb, err := e.Repo.GetPlaybook(ctx, tx, playbookID)
	if err != nil {
		return pb, err
	}
	return pb, auth.CanEdit(pb, userID)
}

func (e *Engine) loadViewable(ctx context.Context, tx *sql.Tx, playbookID, userID string) (domain.Playbook, error) {
	pb, err := e.Repo.GetPlaybook(ctx, tx, playbookID)
	if err != nil {
		return pb, err
	}
	return pb, auth.CanView(pb, userID)
}

func (e *Engine) audit(ctx context.Context, tx *sql.Tx, action domain.ActionType, userID, playbookID, description string, metadata events.Metadata) error {
	_, err := e.Events.Append(ctx, tx, action, userID, playbookID, description, metadata)
	return err
}

func (e *Engine) committed(ctx context.Context, op string, kv ...any) {
	e.Log.For(ctx).Info(op, kv...)
}
