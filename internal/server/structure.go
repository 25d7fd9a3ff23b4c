package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
)

type workflowPath struct {
	WorkflowID string `path:"workflow_id"`
}

type activityPath struct {
	ActivityID string `path:"activity_id"`
}

var readErrors = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}

func registerStructure(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/playbooks/{playbook_id}/workflows",
		Summary:       "Append a workflow to a playbook",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlaybookID string          `path:"playbook_id"`
		Body       WorkflowRequest `json:"body"`
	}) (*WorkflowOutput, error) {
		w, err := e.Workflows.Create(ctx, input.PlaybookID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/workflows",
		Summary:     "List workflows in order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *playbookPath) (*struct {
		Body []domain.Workflow `json:"body"`
	}, error) {
		ws, err := e.Workflows.List(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Workflow `json:"body"`
		}{Body: ws}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow",
		Errors:      readErrors,
	}, func(ctx context.Context, input *workflowPath) (*WorkflowOutput, error) {
		w, err := e.Workflows.Get(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPut,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Update workflow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowID string          `path:"workflow_id"`
		Body       WorkflowRequest `json:"body"`
	}) (*WorkflowOutput, error) {
		w, err := e.Workflows.Update(ctx, input.WorkflowID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workflow",
		Method:        http.MethodDelete,
		Path:          "/workflows/{workflow_id}",
		Summary:       "Delete workflow and its activities",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *workflowPath) (*struct{}, error) {
		if err := e.Workflows.Delete(ctx, input.WorkflowID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/duplicate",
		Summary:       "Copy workflow with its activities, artifacts and inputs",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowID string      `path:"workflow_id"`
		Body       NameRequest `json:"body"`
	}) (*WorkflowOutput, error) {
		w, err := e.Workflows.Duplicate(ctx, input.WorkflowID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &WorkflowOutput{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-activity",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/activities",
		Summary:       "Append an activity to a workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkflowID string          `path:"workflow_id"`
		Body       ActivityRequest `json:"body"`
	}) (*ActivityOutput, error) {
		a, err := e.Activities.Create(ctx, input.WorkflowID, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &ActivityOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/activities",
		Summary:     "List a workflow's activities in order",
		Errors:      readErrors,
	}, func(ctx context.Context, input *workflowPath) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		as, err := e.Activities.List(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: as}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-playbook-activities",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/activities",
		Summary:     "List every activity of a playbook",
		Errors:      readErrors,
	}, func(ctx context.Context, input *playbookPath) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		as, err := e.Activities.ListByPlaybook(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: as}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-activity",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}",
		Summary:     "Get activity",
		Errors:      readErrors,
	}, func(ctx context.Context, input *activityPath) (*ActivityOutput, error) {
		a, err := e.Activities.Get(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ActivityOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPut,
		Path:        "/activities/{activity_id}",
		Summary:     "Update activity",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string          `path:"activity_id"`
		Body       ActivityRequest `json:"body"`
	}) (*ActivityOutput, error) {
		a, err := e.Activities.Update(ctx, input.ActivityID, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &ActivityOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-activity",
		Method:        http.MethodDelete,
		Path:          "/activities/{activity_id}",
		Summary:       "Delete activity",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *activityPath) (*struct{}, error) {
		if err := e.Activities.Delete(ctx, input.ActivityID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-activity",
		Method:        http.MethodPost,
		Path:          "/activities/{activity_id}/duplicate",
		Summary:       "Copy activity guidance and phase",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string      `path:"activity_id"`
		Body       NameRequest `json:"body"`
	}) (*ActivityOutput, error) {
		a, err := e.Activities.Duplicate(ctx, input.ActivityID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &ActivityOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity-inputs",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}/inputs",
		Summary:     "List artifacts the activity consumes",
		Errors:      readErrors,
	}, func(ctx context.Context, input *activityPath) (*struct {
		Body []domain.ArtifactInput `json:"body"`
	}, error) {
		ins, err := e.Artifacts.ListInputs(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ArtifactInput `json:"body"`
		}{Body: ins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-activity-inputs",
		Method:      http.MethodGet,
		Path:        "/activities/{activity_id}/available-inputs",
		Summary:     "List artifacts the activity could still consume",
		Errors:      readErrors,
	}, func(ctx context.Context, input *activityPath) (*struct {
		Body []domain.Artifact `json:"body"`
	}, error) {
		xs, err := e.Artifacts.AvailableInputs(ctx, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Artifact `json:"body"`
		}{Body: xs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bulk-add-inputs",
		Method:        http.MethodPost,
		Path:          "/activities/{activity_id}/inputs/bulk",
		Summary:       "Link several artifacts as inputs, all or nothing",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string            `path:"activity_id"`
		Body       BulkInputsRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		res, err := e.Artifacts.BulkAddInputs(ctx, input.ActivityID, input.Body.ArtifactIDs, input.Body.AllRequired)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "copy-activity-inputs",
		Method:      http.MethodPost,
		Path:        "/activities/{activity_id}/inputs/copy",
		Summary:     "Copy another activity's inputs",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string            `path:"activity_id"`
		Body       CopyInputsRequest `json:"body"`
	}) (*struct {
		Body engine.CopyResult `json:"body"`
	}, error) {
		res, err := e.Artifacts.CopyInputs(ctx, input.ActivityID, input.Body.SourceActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CopyResult `json:"body"`
		}{Body: res}, nil
	})
}
