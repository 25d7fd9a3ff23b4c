package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
)

type playbookPath struct {
	PlaybookID string `path:"playbook_id"`
}

var mutationErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerPlaybooks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-playbook",
		Method:        http.MethodPost,
		Path:          "/playbooks",
		Summary:       "Create playbook",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body PlaybookRequest `json:"body"`
	}) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.Create(ctx, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-playbook-wizard",
		Method:        http.MethodPost,
		Path:          "/playbooks/wizard",
		Summary:       "Create playbook from all three wizard steps at once",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body WizardRequest `json:"body"`
	}) (*struct {
		Body engine.WizardResult `json:"body"`
	}, error) {
		res, err := e.Playbooks.CreateFromWizard(ctx, input.Body.input())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WizardResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-playbooks",
		Method:      http.MethodGet,
		Path:        "/playbooks",
		Summary:     "List the caller's playbooks",
		Errors:      []int{http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Category string `query:"category"`
		Query    string `query:"q"`
		Limit    int    `query:"limit" minimum:"0" maximum:"200"`
		Cursor   string `query:"cursor"`
	}) (*PlaybookPageOutput, error) {
		page, err := e.Playbooks.List(ctx, engine.ListOptions{
			Status:   domain.Status(input.Status),
			Category: domain.Category(input.Category),
			Query:    input.Query,
			Limit:    input.Limit,
			Cursor:   input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookPageOutput{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-playbook",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}",
		Summary:     "Get playbook",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *playbookPath) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.View(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-playbook-tree",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/tree",
		Summary:     "Get playbook with every descendant",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *playbookPath) (*struct {
		Body PlaybookTree `json:"body"`
	}, error) {
		g, err := e.Playbooks.Tree(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlaybookTree `json:"body"`
		}{Body: treeResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-playbook",
		Method:      http.MethodPut,
		Path:        "/playbooks/{playbook_id}",
		Summary:     "Update playbook metadata",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlaybookID string          `path:"playbook_id"`
		Body       PlaybookRequest `json:"body"`
	}) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.Update(ctx, input.PlaybookID, input.Body.fields())
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-playbook",
		Method:        http.MethodDelete,
		Path:          "/playbooks/{playbook_id}",
		Summary:       "Delete playbook",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *playbookPath) (*struct{}, error) {
		if err := e.Playbooks.Delete(ctx, input.PlaybookID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-playbook",
		Method:        http.MethodPost,
		Path:          "/playbooks/{playbook_id}/duplicate",
		Summary:       "Deep-copy playbook under a new name",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlaybookID string      `path:"playbook_id"`
		Body       NameRequest `json:"body"`
	}) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.Duplicate(ctx, input.PlaybookID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	transitions := []struct {
		id, path, summary string
		run               func(ctx context.Context, id, summary string) (domain.Playbook, error)
	}{
		{"release-playbook", "/playbooks/{playbook_id}/release", "Release draft playbook", e.Playbooks.Release},
		{"publish-playbook", "/playbooks/{playbook_id}/publish", "Publish draft playbook as active", e.Playbooks.Publish},
	}
	for _, t := range transitions {
		run := t.run
		huma.Register(api, huma.Operation{
			OperationID: t.id,
			Method:      http.MethodPost,
			Path:        t.path,
			Summary:     t.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			PlaybookID string         `path:"playbook_id"`
			Body       ReleaseRequest `json:"body,omitempty" required:"false"`
		}) (*PlaybookOutput, error) {
			pb, err := run(ctx, input.PlaybookID, input.Body.ChangeSummary)
			if err != nil {
				return nil, handleError(err)
			}
			return &PlaybookOutput{Body: pb}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "toggle-playbook-status",
		Method:      http.MethodPost,
		Path:        "/playbooks/{playbook_id}/toggle-status",
		Summary:     "Switch between active and disabled",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *playbookPath) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.ToggleStatus(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-playbook",
		Method:      http.MethodPost,
		Path:        "/playbooks/{playbook_id}/archive",
		Summary:     "Archive playbook",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *playbookPath) (*PlaybookOutput, error) {
		pb, err := e.Playbooks.Archive(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-playbook-versions",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/versions",
		Summary:     "List version snapshots",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *playbookPath) (*struct {
		Body []domain.PlaybookVersion `json:"body"`
	}, error) {
		vs, err := e.Playbooks.ListVersions(ctx, input.PlaybookID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PlaybookVersion `json:"body"`
		}{Body: vs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-playbook-version",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/versions/{number}",
		Summary:     "Get one version snapshot",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlaybookID string `path:"playbook_id"`
		Number     int    `path:"number" minimum:"1"`
	}) (*struct {
		Body domain.PlaybookVersion `json:"body"`
	}, error) {
		v, err := e.Playbooks.GetVersion(ctx, input.PlaybookID, input.Number)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PlaybookVersion `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-playbook",
		Method:      http.MethodGet,
		Path:        "/playbooks/{playbook_id}/export",
		Summary:     "Download the export document",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlaybookID string `path:"playbook_id"`
		Format     string `query:"format" enum:"json,yaml" default:"json"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		data, name, err := e.Playbooks.ExportBytes(ctx, input.PlaybookID, input.Format)
		if err != nil {
			return nil, handleError(err)
		}
		ct := "application/json"
		if input.Format == "yaml" {
			ct = "application/yaml"
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{ContentType: ct, ContentDisposition: `attachment; filename="` + name + `"`, Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-playbook",
		Method:        http.MethodPost,
		Path:          "/playbooks/import",
		Summary:       "Create a read-only playbook from an export document",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Format  string `query:"format" enum:"json,yaml" default:"json"`
		RawBody []byte
	}) (*PlaybookOutput, error) {
		doc, err := engine.ParseExport(input.RawBody, input.Format)
		if err != nil {
			return nil, handleError(err)
		}
		pb, err := e.Playbooks.Import(ctx, doc)
		if err != nil {
			return nil, handleError(err)
		}
		return &PlaybookOutput{Body: pb}, nil
	})
}
