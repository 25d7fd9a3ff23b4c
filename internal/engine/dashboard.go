package engine

import (
	"context"
	"database/sql"
	"errors"

	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

type DashboardService struct {
	e *Engine
}

type Overview struct {
	Counts    map[domain.Status]int `json:"counts"`
	Total     int                   `json:"total"`
	Playbooks []domain.Playbook     `json:"recent_playbooks"`
	Events    []domain.Event        `json:"recent_events"`
}

// Overview summarizes the caller's playbooks and recent activity, and records the visit.
func (s *DashboardService) Overview(ctx context.Context) (Overview, error) {
	const op = "dashboard.overview"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return Overview{}, fail(op, err)
	}
	var out Overview
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if out.Counts, err = s.e.Repo.CountPlaybooksByStatus(ctx, tx, userID); err != nil {
			return err
		}
		for _, n := range out.Counts {
			out.Total += n
		}
		if out.Playbooks, err = s.e.Repo.ListPlaybooks(ctx, tx, repo.PlaybookFilters{AuthorID: userID, Limit: 5}); err != nil {
			return err
		}
		if out.Events, err = s.e.Repo.LatestEvents(ctx, tx, repo.EventFilters{UserID: userID, Limit: 10}); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionDashboardViewed, userID, "", "Viewed dashboard", nil)
	})
	return out, fail(op, err)
}

// Feed pages through the caller's audit events, newest first.
func (s *DashboardService) Feed(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	const op = "dashboard.feed"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	f.UserID = userID
	if f.ActionType != "" && !f.ActionType.Valid() {
		return nil, validate.FieldFailure("action_type", validate.KindFieldInvalid, "Unknown action type.")
	}
	var evs []domain.Event
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		evs, err = s.e.Repo.LatestEvents(ctx, tx, f)
		return err
	})
	return evs, fail(op, err)
}

type OnboardingService struct {
	e *Engine
}

func (s *OnboardingService) Get(ctx context.Context) (domain.OnboardingState, error) {
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.OnboardingState{}, fail("onboarding.get", err)
	}
	var st domain.OnboardingState
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		st, err = s.e.Repo.GetOnboarding(ctx, tx, userID)
		return err
	})
	return st, err
}

// Advance moves to the next step; leaving the last step completes the tour.
func (s *OnboardingService) Advance(ctx context.Context) (domain.OnboardingState, error) {
	return s.change(ctx, "onboarding.advance", func(st *domain.OnboardingState, now string) {
		if st.IsCompleted {
			return
		}
		st.CurrentStep++
		if st.CurrentStep >= len(domain.OnboardingSteps) {
			st.CurrentStep = len(domain.OnboardingSteps) - 1
			st.IsCompleted, st.CompletedAt = true, &now
		}
	})
}

func (s *OnboardingService) Complete(ctx context.Context) (domain.OnboardingState, error) {
	return s.change(ctx, "onboarding.complete", func(st *domain.OnboardingState, now string) {
		if !st.IsCompleted {
			st.IsCompleted, st.CompletedAt = true, &now
		}
		st.CurrentStep = len(domain.OnboardingSteps) - 1
	})
}

func (s *OnboardingService) Reset(ctx context.Context) (domain.OnboardingState, error) {
	return s.change(ctx, "onboarding.reset", func(st *domain.OnboardingState, _ string) {
		st.IsCompleted, st.CurrentStep, st.CompletedAt = false, 0, nil
	})
}

func (s *OnboardingService) change(ctx context.Context, op string, apply func(st *domain.OnboardingState, now string)) (domain.OnboardingState, error) {
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.OnboardingState{}, fail(op, err)
	}
	var st domain.OnboardingState
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if st, err = s.e.Repo.GetOnboarding(ctx, tx, userID); err != nil {
			return err
		}
		apply(&st, s.e.stamp())
		if err := s.e.Repo.UpsertOnboarding(ctx, tx, st); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionOnboardingUpdated, userID, "", "Onboarding at "+domain.OnboardingSteps[st.CurrentStep],
			events.Metadata{"step": st.CurrentStep, "completed": st.IsCompleted})
	})
	if err != nil {
		return domain.OnboardingState{}, fail(op, err)
	}
	s.e.committed(ctx, op, "step", st.CurrentStep, "completed", st.IsCompleted)
	return st, nil
}

type UserService struct {
	e *Engine
}

func (e *Engine) usernames(tx *sql.Tx) validate.NameProbe {
	return func(ctx context.Context, name string) (bool, error) {
		_, err := e.Repo.GetUserByUsername(ctx, tx, name)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// Register creates a user account. It needs no current user.
func (s *UserService) Register(ctx context.Context, f validate.UserFields) (domain.User, error) {
	const op = "user.register"
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		res, err := s.e.Validator.User(ctx, f, s.e.usernames(tx))
		if err != nil {
			return err
		}
		return res.Err()
	}
	var u domain.User
	err := s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := check(ctx, tx); err != nil {
			return err
		}
		u = domain.User{ID: newID(), Username: f.Username, Email: f.Email, DisplayName: f.DisplayName, CreatedAt: s.e.stamp()}
		return s.e.Repo.InsertUser(ctx, tx, u)
	})
	if errors.Is(err, repo.ErrConflict) {
		return domain.User{}, validate.FieldFailure("username", validate.KindNameDuplicate, "A user with that username already exists.")
	}
	if err != nil {
		return domain.User{}, fail(op, err)
	}
	s.e.committed(ctx, op, "user_id", u.ID)
	return u, nil
}

// Ensure returns the user with username, registering it on first use.
func (s *UserService) Ensure(ctx context.Context, username string) (domain.User, error) {
	u, err := s.ByUsername(ctx, username)
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	u, err = s.Register(ctx, validate.UserFields{Username: username, DisplayName: username})
	if validate.KindOf(err, "username") == validate.KindNameDuplicate {
		return s.ByUsername(ctx, username)
	}
	return u, err
}

func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		u, err = s.e.Repo.GetUser(ctx, tx, id)
		return err
	})
	return u, err
}

func (s *UserService) ByUsername(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		u, err = s.e.Repo.GetUserByUsername(ctx, tx, username)
		return err
	})
	return u, err
}

// Current resolves the user bound to the request.
func (s *UserService) Current(ctx context.Context) (domain.User, error) {
	id, err := auth.Caller(ctx)
	if err != nil {
		return domain.User{}, fail("user.current", err)
	}
	return s.Get(ctx, id)
}
