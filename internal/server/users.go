package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

func registerUsers(api huma.API, e *engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register a user account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.Users.Register(ctx, validate.UserFields{
			Username:    input.Body.Username,
			Email:       input.Body.Email,
			DisplayName: input.Body.DisplayName,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "", "dev login is disabled", nil)
		}
		username := strings.TrimSpace(input.Body.Username)
		if username == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "username is required", nil)
		}
		u, err := e.Users.ByUsername(ctx, username)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signToken(authCfg, u, authCfg.ttl())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, User: u}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.Users.Current(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Playbook counts and recent activity",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Overview `json:"body"`
	}, error) {
		ov, err := e.Dashboard.Overview(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Overview `json:"body"`
		}{Body: ov}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "The caller's audit feed, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlaybookID string `query:"playbook_id"`
		ActionType string `query:"action_type"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evs, err := e.Dashboard.Feed(ctx, repo.EventFilters{
			PlaybookID: input.PlaybookID,
			ActionType: domain.ActionType(input.ActionType),
			Limit:      input.Limit,
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-onboarding",
		Method:      http.MethodGet,
		Path:        "/onboarding",
		Summary:     "Onboarding tour state",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.OnboardingState `json:"body"`
	}, error) {
		st, err := e.Onboarding.Get(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OnboardingState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-onboarding",
		Method:      http.MethodPost,
		Path:        "/onboarding",
		Summary:     "Advance, complete or reset the onboarding tour",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body OnboardingRequest `json:"body"`
	}) (*struct {
		Body domain.OnboardingState `json:"body"`
	}, error) {
		st, err := onboardingAction(ctx, e, input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OnboardingState `json:"body"`
		}{Body: st}, nil
	})
}

func onboardingAction(ctx context.Context, e *engine.Engine, action string) (domain.OnboardingState, error) {
	switch action {
	case "advance", "":
		return e.Onboarding.Advance(ctx)
	case "complete":
		return e.Onboarding.Complete(ctx)
	case "reset":
		return e.Onboarding.Reset(ctx)
	}
	return domain.OnboardingState{}, validate.FieldFailure("action", validate.KindFieldInvalid, "Action must be advance, complete or reset.")
}
