package mcp

import (
	"context"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/flow"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

type idInput struct {
	ID string `json:"id" jsonschema:"id of the entity"`
}

type duplicateInput struct {
	ID   string `json:"id" jsonschema:"id of the entity to copy"`
	Name string `json:"name" jsonschema:"name of the copy"`
}

type playbookInput struct {
	Name        string   `json:"name" jsonschema:"3 to 100 characters and unique among your playbooks"`
	Description string   `json:"description" jsonschema:"10 to 500 characters"`
	Category    string   `json:"category" jsonschema:"one of product development research design management other"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty" jsonschema:"private (default) or family or local_only"`
}

func (in playbookInput) fields() validate.PlaybookFields {
	return validate.PlaybookFields{
		Name:        in.Name,
		Description: in.Description,
		Category:    domain.Category(in.Category),
		Tags:        append([]string{}, in.Tags...),
		Visibility:  domain.Visibility(in.Visibility),
	}
}

type updatePlaybookInput struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
}

type listPlaybooksInput struct {
	Status   string `json:"status,omitempty" jsonschema:"filter by status"`
	Category string `json:"category,omitempty" jsonschema:"filter by category"`
	Query    string `json:"query,omitempty" jsonschema:"substring of the name or description"`
	Limit    int    `json:"limit,omitempty"`
	Cursor   string `json:"cursor,omitempty" jsonschema:"next_cursor from a previous page"`
}

type wizardWorkflow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wizardInput struct {
	Playbook  playbookInput    `json:"playbook"`
	Workflows []wizardWorkflow `json:"workflows,omitempty"`
	Status    string           `json:"status,omitempty" jsonschema:"draft (default) or active or released"`
}

type transitionInput struct {
	ID            string `json:"id"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

type exportInput struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty" jsonschema:"json (default) or yaml"`
}

type importInput struct {
	Document string `json:"document" jsonschema:"an export document"`
	Format   string `json:"format,omitempty" jsonschema:"json (default) or yaml"`
}

type workflowInput struct {
	PlaybookID  string `json:"playbook_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order,omitempty" jsonschema:"position; 0 appends"`
}

type updateWorkflowInput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order,omitempty"`
}

type playbookScope struct {
	PlaybookID string `json:"playbook_id"`
}

type activityInput struct {
	WorkflowID    string `json:"workflow_id"`
	Name          string `json:"name"`
	Guidance      string `json:"guidance,omitempty" jsonschema:"markdown guidance"`
	Phase         string `json:"phase,omitempty"`
	Order         int    `json:"order,omitempty"`
	PredecessorID string `json:"predecessor_id,omitempty"`
	SuccessorID   string `json:"successor_id,omitempty"`
}

type updateActivityInput struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Guidance      string `json:"guidance,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Order         int    `json:"order,omitempty"`
	PredecessorID string `json:"predecessor_id,omitempty"`
	SuccessorID   string `json:"successor_id,omitempty"`
}

type listActivitiesInput struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	PlaybookID string `json:"playbook_id,omitempty" jsonschema:"list every activity of the playbook instead"`
}

type artifactInput struct {
	ProducedByID string `json:"produced_by_id" jsonschema:"activity that produces the artifact"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty" jsonschema:"Document (default) or Template or Code or Diagram or Data or Other"`
	IsRequired   bool   `json:"is_required,omitempty"`
}

type updateArtifactInput struct {
	ID           string `json:"id"`
	ProducedByID string `json:"produced_by_id,omitempty" jsonschema:"move the artifact to another producer"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty"`
	IsRequired   bool   `json:"is_required,omitempty"`
}

type listArtifactsInput struct {
	PlaybookID   string `json:"playbook_id"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	ProducedByID string `json:"produced_by_id,omitempty"`
	Type         string `json:"type,omitempty"`
}

type consumerInput struct {
	ArtifactID string `json:"artifact_id"`
	ActivityID string `json:"activity_id"`
	IsRequired bool   `json:"is_required,omitempty"`
}

type bulkInputsInput struct {
	ActivityID  string   `json:"activity_id"`
	ArtifactIDs []string `json:"artifact_ids"`
	AllRequired bool     `json:"all_required,omitempty"`
}

type copyInputsInput struct {
	ActivityID       string `json:"activity_id" jsonschema:"activity receiving the inputs"`
	SourceActivityID string `json:"source_activity_id"`
}

type validateFlowInput struct {
	ArtifactID string `json:"artifact_id"`
	ActivityID string `json:"activity_id"`
}

type renderFlowInput struct {
	PlaybookID string `json:"playbook_id"`
	Format     string `json:"format,omitempty" jsonschema:"dot (default) or svg"`
}

type deleted struct {
	Deleted string `json:"deleted"`
}

func (s *Server) registerTools() {
	s.registerPlaybookTools()
	s.registerWorkflowTools()
	s.registerActivityTools()
	s.registerArtifactTools()
	s.registerFlowTools()
}

func (s *Server) registerPlaybookTools() {
	p := s.engine.Playbooks
	addTool(s, "create_playbook", "Create a draft playbook owned by the current user",
		func(ctx context.Context, in playbookInput) (any, error) {
			return p.Create(ctx, in.fields())
		})
	addTool(s, "get_playbook", "Get a playbook and record that it was viewed",
		func(ctx context.Context, in idInput) (any, error) {
			return p.View(ctx, in.ID)
		})
	addTool(s, "get_playbook_tree", "Get a playbook with all workflows, activities, artifacts and inputs",
		func(ctx context.Context, in idInput) (any, error) {
			return p.Tree(ctx, in.ID)
		})
	addTool(s, "list_playbooks", "List the current user's playbooks, newest first",
		func(ctx context.Context, in listPlaybooksInput) (any, error) {
			return p.List(ctx, engine.ListOptions{
				Status:   domain.Status(in.Status),
				Category: domain.Category(in.Category),
				Query:    in.Query,
				Limit:    in.Limit,
				Cursor:   in.Cursor,
			})
		})
	addTool(s, "update_playbook", "Replace a playbook's metadata",
		func(ctx context.Context, in updatePlaybookInput) (any, error) {
			return p.Update(ctx, in.ID, playbookInput{
				Name:        in.Name,
				Description: in.Description,
				Category:    in.Category,
				Tags:        in.Tags,
				Visibility:  in.Visibility,
			}.fields())
		})
	addTool(s, "delete_playbook", "Delete a playbook and everything in it",
		func(ctx context.Context, in idInput) (any, error) {
			if err := p.Delete(ctx, in.ID); err != nil {
				return nil, err
			}
			return deleted{Deleted: in.ID}, nil
		})
	addTool(s, "duplicate_playbook", "Deep-copy a playbook into a new draft",
		func(ctx context.Context, in duplicateInput) (any, error) {
			return p.Duplicate(ctx, in.ID, in.Name)
		})
	addTool(s, "create_playbook_from_wizard", "Create a playbook with its workflows and initial status in one step",
		func(ctx context.Context, in wizardInput) (any, error) {
			wi := engine.WizardInput{Step1: in.Playbook.fields()}
			for _, w := range in.Workflows {
				wi.Step2 = append(wi.Step2, validate.WorkflowFields{Name: w.Name, Description: w.Description})
			}
			if in.Status != "" {
				wi.Step3 = &validate.PublishFields{Status: domain.Status(in.Status)}
			}
			return p.CreateFromWizard(ctx, wi)
		})
	addTool(s, "release_playbook", "Release a draft playbook and snapshot it",
		func(ctx context.Context, in transitionInput) (any, error) {
			return p.Release(ctx, in.ID, in.ChangeSummary)
		})
	addTool(s, "publish_playbook", "Publish a draft playbook as active and snapshot it",
		func(ctx context.Context, in transitionInput) (any, error) {
			return p.Publish(ctx, in.ID, in.ChangeSummary)
		})
	addTool(s, "toggle_playbook_status", "Switch a playbook between active and disabled",
		func(ctx context.Context, in idInput) (any, error) {
			return p.ToggleStatus(ctx, in.ID)
		})
	addTool(s, "archive_playbook", "Archive a playbook",
		func(ctx context.Context, in idInput) (any, error) {
			return p.Archive(ctx, in.ID)
		})
	addTool(s, "list_playbook_versions", "List a playbook's version snapshots",
		func(ctx context.Context, in idInput) (any, error) {
			vs, err := p.ListVersions(ctx, in.ID)
			return map[string]any{"versions": vs}, err
		})
	addTool(s, "export_playbook", "Render a playbook's export document",
		func(ctx context.Context, in exportInput) (any, error) {
			format := in.Format
			if format == "" {
				format = "json"
			}
			data, name, err := p.ExportBytes(ctx, in.ID, format)
			if err != nil {
				return nil, err
			}
			return map[string]string{"filename": name, "document": string(data)}, nil
		})
	addTool(s, "import_playbook", "Create a read-only playbook from an export document",
		func(ctx context.Context, in importInput) (any, error) {
			format := in.Format
			if format == "" {
				format = "json"
			}
			doc, err := engine.ParseExport([]byte(in.Document), format)
			if err != nil {
				return nil, err
			}
			return p.Import(ctx, doc)
		})
}

func (s *Server) registerWorkflowTools() {
	w := s.engine.Workflows
	addTool(s, "create_workflow", "Add a workflow to a playbook",
		func(ctx context.Context, in workflowInput) (any, error) {
			return w.Create(ctx, in.PlaybookID, validate.WorkflowFields{Name: in.Name, Description: in.Description, Order: in.Order})
		})
	addTool(s, "get_workflow", "Get a workflow",
		func(ctx context.Context, in idInput) (any, error) {
			return w.Get(ctx, in.ID)
		})
	addTool(s, "list_workflows", "List a playbook's workflows in order",
		func(ctx context.Context, in playbookScope) (any, error) {
			ws, err := w.List(ctx, in.PlaybookID)
			return map[string]any{"workflows": ws}, err
		})
	addTool(s, "update_workflow", "Replace a workflow's fields",
		func(ctx context.Context, in updateWorkflowInput) (any, error) {
			return w.Update(ctx, in.ID, validate.WorkflowFields{Name: in.Name, Description: in.Description, Order: in.Order})
		})
	addTool(s, "delete_workflow", "Delete a workflow with its activities",
		func(ctx context.Context, in idInput) (any, error) {
			if err := w.Delete(ctx, in.ID); err != nil {
				return nil, err
			}
			return deleted{Deleted: in.ID}, nil
		})
	addTool(s, "duplicate_workflow", "Copy a workflow with its activities, artifacts and inputs",
		func(ctx context.Context, in duplicateInput) (any, error) {
			return w.Duplicate(ctx, in.ID, in.Name)
		})
}

func activityFields(name, guidance, phase string, order int, pred, succ string) engine.ActivityInput {
	return engine.ActivityInput{
		ActivityFields: validate.ActivityFields{Name: name, Guidance: guidance, Phase: phase, Order: order},
		PredecessorID:  pred,
		SuccessorID:    succ,
	}
}

func (s *Server) registerActivityTools() {
	a := s.engine.Activities
	addTool(s, "create_activity", "Add an activity to a workflow",
		func(ctx context.Context, in activityInput) (any, error) {
			return a.Create(ctx, in.WorkflowID, activityFields(in.Name, in.Guidance, in.Phase, in.Order, in.PredecessorID, in.SuccessorID))
		})
	addTool(s, "get_activity", "Get an activity",
		func(ctx context.Context, in idInput) (any, error) {
			return a.Get(ctx, in.ID)
		})
	addTool(s, "list_activities", "List a workflow's activities, or a whole playbook's",
		func(ctx context.Context, in listActivitiesInput) (any, error) {
			var (
				as  []domain.Activity
				err error
			)
			if in.PlaybookID != "" {
				as, err = a.ListByPlaybook(ctx, in.PlaybookID)
			} else {
				as, err = a.List(ctx, in.WorkflowID)
			}
			return map[string]any{"activities": as}, err
		})
	addTool(s, "update_activity", "Replace an activity's fields",
		func(ctx context.Context, in updateActivityInput) (any, error) {
			return a.Update(ctx, in.ID, activityFields(in.Name, in.Guidance, in.Phase, in.Order, in.PredecessorID, in.SuccessorID))
		})
	addTool(s, "delete_activity", "Delete an activity with the artifacts it produces",
		func(ctx context.Context, in idInput) (any, error) {
			if err := a.Delete(ctx, in.ID); err != nil {
				return nil, err
			}
			return deleted{Deleted: in.ID}, nil
		})
	addTool(s, "duplicate_activity", "Copy an activity's guidance and phase",
		func(ctx context.Context, in duplicateInput) (any, error) {
			return a.Duplicate(ctx, in.ID, in.Name)
		})
}

func (s *Server) registerArtifactTools() {
	x := s.engine.Artifacts
	addTool(s, "create_artifact", "Declare an artifact produced by an activity",
		func(ctx context.Context, in artifactInput) (any, error) {
			return x.Create(ctx, in.ProducedByID, validate.ArtifactFields{
				Name:        in.Name,
				Description: in.Description,
				Type:        domain.ArtifactType(in.Type),
				IsRequired:  in.IsRequired,
			})
		})
	addTool(s, "get_artifact", "Get an artifact",
		func(ctx context.Context, in idInput) (any, error) {
			return x.Get(ctx, in.ID)
		})
	addTool(s, "list_artifacts", "List a playbook's artifacts",
		func(ctx context.Context, in listArtifactsInput) (any, error) {
			xs, err := x.List(ctx, repo.ArtifactFilters{
				PlaybookID:   in.PlaybookID,
				WorkflowID:   in.WorkflowID,
				ProducedByID: in.ProducedByID,
				Type:         domain.ArtifactType(in.Type),
			})
			return map[string]any{"artifacts": xs}, err
		})
	addTool(s, "update_artifact", "Replace an artifact's fields, optionally moving it to another producer",
		func(ctx context.Context, in updateArtifactInput) (any, error) {
			return x.Update(ctx, in.ID, engine.ArtifactUpdate{
				ArtifactFields: validate.ArtifactFields{
					Name:        in.Name,
					Description: in.Description,
					Type:        domain.ArtifactType(in.Type),
					IsRequired:  in.IsRequired,
				},
				ProducedByID: in.ProducedByID,
			})
		})
	addTool(s, "delete_artifact", "Delete an artifact and its input links",
		func(ctx context.Context, in idInput) (any, error) {
			if err := x.Delete(ctx, in.ID); err != nil {
				return nil, err
			}
			return deleted{Deleted: in.ID}, nil
		})
	addTool(s, "duplicate_artifact", "Copy an artifact under the same producer",
		func(ctx context.Context, in duplicateInput) (any, error) {
			return x.Duplicate(ctx, in.ID, in.Name)
		})
}

func (s *Server) registerFlowTools() {
	x := s.engine.Artifacts
	addTool(s, "add_artifact_consumer", "Make an activity consume an artifact",
		func(ctx context.Context, in consumerInput) (any, error) {
			return x.AddConsumer(ctx, in.ArtifactID, in.ActivityID, in.IsRequired)
		})
	addTool(s, "remove_artifact_consumer", "Remove one input link",
		func(ctx context.Context, in idInput) (any, error) {
			if err := x.RemoveConsumer(ctx, in.ID); err != nil {
				return nil, err
			}
			return deleted{Deleted: in.ID}, nil
		})
	addTool(s, "list_activity_inputs", "List the artifacts an activity consumes",
		func(ctx context.Context, in idInput) (any, error) {
			ins, err := x.ListInputs(ctx, in.ID)
			return map[string]any{"inputs": ins}, err
		})
	addTool(s, "available_inputs", "List artifacts an activity could still consume",
		func(ctx context.Context, in idInput) (any, error) {
			xs, err := x.AvailableInputs(ctx, in.ID)
			return map[string]any{"artifacts": xs}, err
		})
	addTool(s, "bulk_add_inputs", "Link several artifacts as inputs; nothing is linked if one fails",
		func(ctx context.Context, in bulkInputsInput) (any, error) {
			return x.BulkAddInputs(ctx, in.ActivityID, in.ArtifactIDs, in.AllRequired)
		})
	addTool(s, "copy_inputs", "Copy another activity's inputs, skipping ones already present",
		func(ctx context.Context, in copyInputsInput) (any, error) {
			return x.CopyInputs(ctx, in.ActivityID, in.SourceActivityID)
		})
	addTool(s, "validate_artifact_flow", "Check a prospective input link without writing it",
		func(ctx context.Context, in validateFlowInput) (any, error) {
			return x.ValidateFlow(ctx, in.ArtifactID, in.ActivityID)
		})
	addTool(s, "artifact_flow_chain", "Show an artifact's producer and consumers",
		func(ctx context.Context, in idInput) (any, error) {
			return x.FlowChain(ctx, in.ID)
		})
	addTool(s, "generate_flow_data", "Nodes and edges of a playbook's artifact flow",
		func(ctx context.Context, in playbookScope) (any, error) {
			return x.GenerateFlowData(ctx, in.PlaybookID)
		})
	addTool(s, "render_flow", "Render a playbook's artifact flow with Graphviz",
		func(ctx context.Context, in renderFlowInput) (any, error) {
			format := flow.Format(in.Format)
			if format == "" {
				format = flow.FormatDOT
			}
			data, err := x.RenderFlow(ctx, in.PlaybookID, format)
			if err != nil {
				return nil, err
			}
			return map[string]string{"format": string(format), "graph": string(data)}, nil
		})
}
