package server

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/flow"
	"playbooks/internal/repo"
)

type artifactPath struct {
	ArtifactID string `path:"artifact_id"`
}

type rawOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerArtifacts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-artifact",
		Method:        http.MethodPost,
		Path:          "/activities/{activity_id}/artifacts",
		Summary:       "Declare an artifact the activity produces",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActivityID string          `path:"activity_id"`
		Body       ArtifactRequest `json:"body"`
	}) (*ArtifactOutput, error) {
		x, err := e.Artifacts.Create(ctx, input.ActivityID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &ArtifactOutput{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/artifacts",
		Summary:     "List a playbook's artifacts",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		PlaybookID   string `path:"playbook_id"`
		WorkflowID   string `query:"workflow_id"`
		ProducedByID string `query:"produced_by"`
		Type         string `query:"type"`
	}) (*struct {
		Body []domain.Artifact `json:"body"`
	}, error) {
		xs, err := e.Artifacts.List(ctx, repo.ArtifactFilters{
			PlaybookID:   input.PlaybookID,
			WorkflowID:   input.WorkflowID,
			ProducedByID: input.ProducedByID,
			Type:         domain.ArtifactType(input.Type),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Artifact `json:"body"`
		}{Body: xs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}",
		Summary:     "Get artifact",
		Errors:      readErrors,
	}, func(ctx context.Context, input *artifactPath) (*ArtifactOutput, error) {
		x, err := e.Artifacts.Get(ctx, input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ArtifactOutput{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-artifact",
		Method:      http.MethodPut,
		Path:        "/artifacts/{artifact_id}",
		Summary:     "Update artifact, optionally moving it to another producer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string          `path:"artifact_id"`
		Body       ArtifactRequest `json:"body"`
	}) (*ArtifactOutput, error) {
		x, err := e.Artifacts.Update(ctx, input.ArtifactID, engine.ArtifactUpdate{
			ArtifactFields: input.Body.fields(),
			ProducedByID:   input.Body.ProducedByID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &ArtifactOutput{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-artifact",
		Method:        http.MethodDelete,
		Path:          "/artifacts/{artifact_id}",
		Summary:       "Delete artifact",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *artifactPath) (*struct{}, error) {
		if err := e.Artifacts.Delete(ctx, input.ArtifactID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-artifact",
		Method:        http.MethodPost,
		Path:          "/artifacts/{artifact_id}/duplicate",
		Summary:       "Copy artifact under the same producer",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string      `path:"artifact_id"`
		Body       NameRequest `json:"body"`
	}) (*ArtifactOutput, error) {
		x, err := e.Artifacts.Duplicate(ctx, input.ArtifactID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &ArtifactOutput{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-artifact-consumer",
		Method:        http.MethodPost,
		Path:          "/artifacts/{artifact_id}/consumers",
		Summary:       "Make an activity consume the artifact",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string          `path:"artifact_id"`
		Body       ConsumerRequest `json:"body"`
	}) (*struct {
		Body engine.InputResult `json:"body"`
	}, error) {
		res, err := e.Artifacts.AddConsumer(ctx, input.ArtifactID, input.Body.ActivityID, input.Body.IsRequired)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InputResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-artifact-consumer",
		Method:        http.MethodDelete,
		Path:          "/inputs/{input_id}",
		Summary:       "Remove one input edge",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		InputID string `path:"input_id"`
	}) (*struct{}, error) {
		if err := e.Artifacts.RemoveConsumer(ctx, input.InputID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "artifact-flow-chain",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}/flow-chain",
		Summary:     "Producer and consumers of an artifact",
		Errors:      readErrors,
	}, func(ctx context.Context, input *artifactPath) (*struct {
		Body flow.Chain `json:"body"`
	}, error) {
		chain, err := e.Artifacts.FlowChain(ctx, input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body flow.Chain `json:"body"`
		}{Body: chain}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-artifact-flow",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}/validate-flow",
		Summary:     "Check a prospective input edge without writing it",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
		ActivityID string `query:"activity_id" required:"true"`
	}) (*struct {
		Body FlowValidation `json:"body"`
	}, error) {
		res, err := e.Artifacts.ValidateFlow(ctx, input.ArtifactID, input.ActivityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FlowValidation `json:"body"`
		}{Body: flowValidation(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "playbook-flow-data",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/flow",
		Summary:     "Nodes and edges of the artifact flow",
		Errors:      readErrors,
	}, func(ctx context.Context, input *playbookPath) (*FlowDataOutput, error) {
		d, err := e.Artifacts.GenerateFlowData(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &FlowDataOutput{Body: d}, nil
	})

	for _, f := range []struct {
		format      flow.Format
		contentType string
	}{
		{flow.FormatSVG, "image/svg+xml"},
		{flow.FormatDOT, "text/vnd.graphviz"},
	} {
		format, contentType := f.format, f.contentType
		huma.Register(api, huma.Operation{
			OperationID: "playbook-flow-" + string(format),
			Method:      http.MethodGet,
			Path:        "/playbooks/{playbook_id}/flow." + string(format),
			Summary:     "Render the artifact flow as " + string(format),
			Errors:      append([]int{http.StatusServiceUnavailable}, readErrors...),
		}, func(ctx context.Context, input *playbookPath) (*rawOutput, error) {
			data, err := e.Artifacts.RenderFlow(ctx, input.PlaybookID, format)
			if err != nil {
				return nil, handleError(err)
			}
			return &rawOutput{ContentType: contentType, Body: data}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "attach-artifact-template",
		Method:      http.MethodPut,
		Path:        "/artifacts/{artifact_id}/template",
		Summary:     "Upload the artifact's template file",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
		Filename   string `query:"filename" required:"true"`
		RawBody    []byte
	}) (*ArtifactOutput, error) {
		x, err := e.Artifacts.AttachTemplate(ctx, input.ArtifactID, input.Filename, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return &ArtifactOutput{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-artifact-template",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}/template",
		Summary:     "Download the artifact's template file",
		Errors:      append([]int{http.StatusServiceUnavailable}, readErrors...),
	}, func(ctx context.Context, input *artifactPath) (*rawOutput, error) {
		rc, x, err := e.Artifacts.OpenTemplate(ctx, input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, handleError(err)
		}
		name := filepath.Base(x.TemplateFile)
		ct := mime.TypeByExtension(filepath.Ext(name))
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &rawOutput{ContentType: ct, ContentDisposition: `attachment; filename="` + name + `"`, Body: data}, nil
	})
}
