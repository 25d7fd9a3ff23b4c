package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/validate"
)

type WorkflowService struct {
	e *Engine
}

func (e *Engine) workflowNames(tx *sql.Tx, playbookID, excludeID string) validate.NameProbe {
	return func(ctx context.Context, name string) (bool, error) {
		return e.Repo.WorkflowNameExists(ctx, tx, playbookID, name, excludeID)
	}
}

func (s *WorkflowService) check(ctx context.Context, tx *sql.Tx, playbookID, excludeID string, f validate.WorkflowFields) error {
	res, err := s.e.Validator.Workflow(ctx, f, s.e.workflowNames(tx, playbookID, excludeID))
	if err != nil {
		return err
	}
	return res.Err()
}

// Create appends a workflow when f.Order is zero.
func (s *WorkflowService) Create(ctx context.Context, playbookID string, f validate.WorkflowFields) (domain.Workflow, error) {
	const op = "workflow.create"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		return s.check(ctx, tx, playbookID, "", f)
	}
	var w domain.Workflow
	err = s.e.mutate(ctx, "workflow", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadEditable(ctx, tx, playbookID, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		w, err = s.e.insertWorkflow(ctx, tx, playbookID, userID, f)
		return err
	}, check)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", playbookID, "workflow_id", w.ID)
	return w, nil
}

func (e *Engine) insertWorkflow(ctx context.Context, tx *sql.Tx, playbookID, userID string, f validate.WorkflowFields) (domain.Workflow, error) {
	order := f.Order
	if order == 0 {
		highest, err := e.Repo.MaxWorkflowOrder(ctx, tx, playbookID)
		if err != nil {
			return domain.Workflow{}, err
		}
		order = highest + 1
	}
	now := e.stamp()
	w := domain.Workflow{
		ID:          newID(),
		PlaybookID:  playbookID,
		Name:        f.Name,
		Description: f.Description,
		Order:       order,
		Status:      domain.StatusDraft,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
		return w, err
	}
	if _, err := e.afterWrite(ctx, tx, playbookID); err != nil {
		return w, err
	}
	return w, e.audit(ctx, tx, domain.ActionWorkflowCreated, userID, playbookID, "Created workflow "+w.Name,
		events.Metadata{"workflow_id": w.ID})
}

func (s *WorkflowService) Get(ctx context.Context, id string) (domain.Workflow, error) {
	const op = "workflow.get"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	var w domain.Workflow
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if w, err = s.e.Repo.GetWorkflow(ctx, tx, id); err != nil {
			return err
		}
		_, err = s.e.loadViewable(ctx, tx, w.PlaybookID, userID)
		return err
	})
	return w, fail(op, err)
}

func (s *WorkflowService) List(ctx context.Context, playbookID string) ([]domain.Workflow, error) {
	const op = "workflow.list"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var ws []domain.Workflow
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, playbookID, userID); err != nil {
			return err
		}
		ws, err = s.e.Repo.ListWorkflows(ctx, tx, playbookID)
		return err
	})
	return ws, fail(op, err)
}

// Update rewrites name, description and, when non-zero, order.
func (s *WorkflowService) Update(ctx context.Context, id string, f validate.WorkflowFields) (domain.Workflow, error) {
	const op = "workflow.update"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	f.Normalize()
	var w domain.Workflow
	check := func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.e.Repo.GetWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.check(ctx, tx, cur.PlaybookID, id, f)
	}
	err = s.e.mutate(ctx, "workflow", func(ctx context.Context, tx *sql.Tx) error {
		if w, err = s.e.Repo.GetWorkflow(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, w.PlaybookID, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		w.Name, w.Description = f.Name, f.Description
		if f.Order > 0 {
			w.Order = f.Order
		}
		w.UpdatedAt = s.e.stamp()
		if err := s.e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, w.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionWorkflowUpdated, userID, w.PlaybookID, "Updated workflow "+w.Name,
			events.Metadata{"workflow_id": w.ID})
	}, check)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	s.e.committed(ctx, op, "workflow_id", w.ID)
	return w, nil
}

// Delete removes the workflow with its activities, their artifacts and inputs.
func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	const op = "workflow.delete"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return fail(op, err)
	}
	var templates []string
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		w, err := s.e.Repo.GetWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, w.PlaybookID, userID); err != nil {
			return err
		}
		if templates, err = s.e.templatesUnder(ctx, tx, w.PlaybookID, id, ""); err != nil {
			return err
		}
		if err := s.e.Repo.DeleteWorkflow(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, w.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionWorkflowDeleted, userID, w.PlaybookID, "Deleted workflow "+w.Name,
			events.Metadata{"workflow_id": w.ID})
	})
	if err != nil {
		return fail(op, err)
	}
	for _, key := range templates {
		s.e.dropBlob(ctx, key)
	}
	s.e.committed(ctx, op, "workflow_id", id)
	return nil
}

// Duplicate copies the workflow, its activities, the artifacts they produce and the inputs between them
// into the same playbook. Artifact names get the new workflow name as a suffix to stay unique.
func (s *WorkflowService) Duplicate(ctx context.Context, id, newName string) (domain.Workflow, error) {
	const op = "workflow.duplicate"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	var w domain.Workflow
	var playbookID string
	check := func(ctx context.Context, tx *sql.Tx) error {
		src, err := s.e.Repo.GetWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.check(ctx, tx, src.PlaybookID, "", validate.WorkflowFields{Name: newName, Description: src.Description}); err != nil {
			return err
		}
		g, err := s.e.Repo.LoadGraph(ctx, tx, src.PlaybookID)
		if err != nil {
			return err
		}
		_, err = s.e.copiedArtifactNames(ctx, tx, g, src.ID, strings.TrimSpace(newName))
		return err
	}
	err = s.e.mutate(ctx, "workflow", func(ctx context.Context, tx *sql.Tx) error {
		src, err := s.e.Repo.GetWorkflow(ctx, tx, id)
		if err != nil {
			return err
		}
		playbookID = src.PlaybookID
		if _, err := s.e.loadEditable(ctx, tx, src.PlaybookID, userID); err != nil {
			return err
		}
		f := validate.WorkflowFields{Name: newName, Description: src.Description}
		f.Normalize()
		if err := s.check(ctx, tx, src.PlaybookID, "", f); err != nil {
			return err
		}
		g, err := s.e.Repo.LoadGraph(ctx, tx, src.PlaybookID)
		if err != nil {
			return err
		}
		names, err := s.e.copiedArtifactNames(ctx, tx, g, src.ID, f.Name)
		if err != nil {
			return err
		}
		if w, err = s.e.insertWorkflow(ctx, tx, src.PlaybookID, userID, f); err != nil {
			return err
		}
		return s.e.copyWorkflowContents(ctx, tx, g, src.ID, w, names, userID)
	}, check)
	if err != nil {
		return domain.Workflow{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", playbookID, "workflow_id", w.ID, "source_id", id)
	return w, nil
}

// artifactNameLimit matches the max rule on validate.ArtifactFields.Name.
const artifactNameLimit = 200

// copyName suffixes name with the workflow name, shortening name so the result fits the limit.
func copyName(name, workflowName string) string {
	suffix := " (" + workflowName + ")"
	room := artifactNameLimit - utf8.RuneCountInString(suffix)
	if r := []rune(name); room > 0 && len(r) > room {
		name = strings.TrimSpace(string(r[:room]))
	}
	return name + suffix
}

// copiedArtifactNames names the copies of the artifacts produced inside workflow srcID and runs
// each through the artifact rules. Failures are keyed artifacts[i].<field>, i counting copied
// artifacts in graph order.
func (e *Engine) copiedArtifactNames(ctx context.Context, tx *sql.Tx, g domain.Graph, srcID, workflowName string) (map[string]string, error) {
	inSource := map[string]bool{}
	for _, a := range g.Activities {
		if a.WorkflowID == srcID {
			inSource[a.ID] = true
		}
	}
	names := map[string]string{}
	batch := map[string]bool{}
	var res validate.Result
	i := 0
	for _, x := range g.Artifacts {
		if !inSource[x.ProducedByID] {
			continue
		}
		name := copyName(x.Name, workflowName)
		f := validate.ArtifactFields{Name: name, Description: x.Description, Type: x.Type, IsRequired: x.IsRequired}
		r, err := e.Validator.Artifact(ctx, f, e.artifactNames(tx, x.PlaybookID, ""))
		if err != nil {
			return nil, err
		}
		if batch[name] {
			r.Add("name", validate.KindNameDuplicate, "Another copied artifact gets this name.")
		}
		res.Merge(fmt.Sprintf("artifacts[%d]", i), r)
		batch[name] = true
		names[x.ID] = name
		i++
	}
	return names, res.Err()
}

func (e *Engine) copyWorkflowContents(ctx context.Context, tx *sql.Tx, g domain.Graph, srcID string, dst domain.Workflow, names map[string]string, userID string) error {
	now := e.stamp()
	ids := map[string]string{}
	var acts []domain.Activity
	for _, a := range g.Activities {
		if a.WorkflowID != srcID {
			continue
		}
		ids[a.ID] = newID()
		acts = append(acts, a)
		c := a
		c.ID, c.WorkflowID, c.PredecessorID, c.SuccessorID = ids[a.ID], dst.ID, nil, nil
		c.CreatedAt, c.UpdatedAt = now, now
		if err := e.Repo.InsertActivity(ctx, tx, c); err != nil {
			return err
		}
		if _, err := e.afterWrite(ctx, tx, dst.PlaybookID); err != nil {
			return err
		}
	}
	for _, a := range acts {
		if a.PredecessorID == nil && a.SuccessorID == nil {
			continue
		}
		c := a
		c.ID, c.WorkflowID = ids[a.ID], dst.ID
		c.PredecessorID, c.SuccessorID = remap(ids, a.PredecessorID), remap(ids, a.SuccessorID)
		c.UpdatedAt = now
		if err := e.Repo.UpdateActivity(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, x := range g.Artifacts {
		if _, ok := ids[x.ProducedByID]; !ok {
			continue
		}
		newArtifact := newID()
		ids[x.ID] = newArtifact
		c := x
		c.ID, c.ProducedByID, c.TemplateFile = newArtifact, ids[x.ProducedByID], ""
		c.Name = names[x.ID]
		c.CreatedAt, c.UpdatedAt = now, now
		if err := e.Repo.InsertArtifact(ctx, tx, c); err != nil {
			return err
		}
		if _, err := e.afterWrite(ctx, tx, dst.PlaybookID); err != nil {
			return err
		}
	}
	for _, in := range g.Inputs {
		activity, ok := ids[in.ActivityID]
		if !ok {
			continue
		}
		artifact := in.ArtifactID
		if mapped, ok := ids[in.ArtifactID]; ok {
			artifact = mapped
		}
		c := domain.ArtifactInput{ID: newID(), ArtifactID: artifact, ActivityID: activity, IsRequired: in.IsRequired, CreatedAt: now, UpdatedAt: now}
		if err := e.Repo.InsertInput(ctx, tx, c); err != nil {
			return err
		}
		if _, err := e.afterWrite(ctx, tx, dst.PlaybookID); err != nil {
			return err
		}
	}
	return nil
}
