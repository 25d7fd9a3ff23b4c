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

type ActivityService struct {
	e *Engine
}

// ActivityInput is the writable state of an activity. Empty link ids clear the link.
type ActivityInput struct {
	validate.ActivityFields
	PredecessorID string `json:"predecessor_id,omitempty"`
	SuccessorID   string `json:"successor_id,omitempty"`
}

func (e *Engine) activityNames(tx *sql.Tx, workflowID, excludeID string) validate.NameProbe {
	return func(ctx context.Context, name string) (bool, error) {
		return e.Repo.ActivityNameExists(ctx, tx, workflowID, name, excludeID)
	}
}

func (s *ActivityService) check(ctx context.Context, tx *sql.Tx, workflowID, selfID string, in ActivityInput) error {
	res, err := s.e.Validator.Activity(ctx, in.ActivityFields, s.e.activityNames(tx, workflowID, selfID))
	if err != nil {
		return err
	}
	pred, err := s.linked(ctx, tx, "predecessor", in.PredecessorID)
	if err != nil {
		return err
	}
	succ, err := s.linked(ctx, tx, "successor", in.SuccessorID)
	if err != nil {
		return err
	}
	res.Merge("", validate.ActivityLinks(selfID, workflowID, pred, succ))
	return res.Err()
}

func (s *ActivityService) linked(ctx context.Context, tx *sql.Tx, field, id string) (*domain.Activity, error) {
	if id == "" {
		return nil, nil
	}
	a, err := s.e.Repo.GetActivity(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, validate.FieldFailure(field, validate.KindInvalidReference, "Select an existing activity.")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func optional(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Create appends the activity when Order is zero.
func (s *ActivityService) Create(ctx context.Context, workflowID string, in ActivityInput) (domain.Activity, error) {
	const op = "activity.create"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	in.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		return s.check(ctx, tx, workflowID, "", in)
	}
	var a domain.Activity
	err = s.e.mutate(ctx, "activity", func(ctx context.Context, tx *sql.Tx) error {
		w, err := s.e.Repo.GetWorkflow(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, w.PlaybookID, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		order := in.Order
		if order == 0 {
			highest, err := s.e.Repo.MaxActivityOrder(ctx, tx, workflowID)
			if err != nil {
				return err
			}
			order = highest + 1
		}
		now := s.e.stamp()
		a = domain.Activity{
			ID:            newID(),
			WorkflowID:    workflowID,
			PlaybookID:    w.PlaybookID,
			Name:          in.Name,
			Guidance:      in.Guidance,
			Order:         order,
			Phase:         in.Phase,
			PredecessorID: optional(in.PredecessorID),
			SuccessorID:   optional(in.SuccessorID),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.e.Repo.InsertActivity(ctx, tx, a); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, w.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionActivityCreated, userID, w.PlaybookID, "Created activity "+a.Name,
			events.Metadata{"activity_id": a.ID, "workflow_id": workflowID})
	}, check)
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	s.e.committed(ctx, op, "activity_id", a.ID)
	return a, nil
}

func (s *ActivityService) Get(ctx context.Context, id string) (domain.Activity, error) {
	const op = "activity.get"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	var a domain.Activity
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if a, err = s.e.Repo.GetActivity(ctx, tx, id); err != nil {
			return err
		}
		_, err = s.e.loadViewable(ctx, tx, a.PlaybookID, userID)
		return err
	})
	return a, fail(op, err)
}

// List returns the activities of one workflow in order.
func (s *ActivityService) List(ctx context.Context, workflowID string) ([]domain.Activity, error) {
	const op = "activity.list"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var acts []domain.Activity
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		w, err := s.e.Repo.GetWorkflow(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadViewable(ctx, tx, w.PlaybookID, userID); err != nil {
			return err
		}
		acts, err = s.e.Repo.ListActivities(ctx, tx, workflowID)
		return err
	})
	return acts, fail(op, err)
}

// ListByPlaybook returns every activity of a playbook, workflow by workflow.
func (s *ActivityService) ListByPlaybook(ctx context.Context, playbookID string) ([]domain.Activity, error) {
	const op = "activity.list_by_playbook"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var acts []domain.Activity
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, playbookID, userID); err != nil {
			return err
		}
		acts, err = s.e.Repo.ListPlaybookActivities(ctx, tx, playbookID)
		return err
	})
	return acts, fail(op, err)
}

func (s *ActivityService) Update(ctx context.Context, id string, in ActivityInput) (domain.Activity, error) {
	const op = "activity.update"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	in.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.e.Repo.GetActivity(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.check(ctx, tx, cur.WorkflowID, id, in)
	}
	var a domain.Activity
	err = s.e.mutate(ctx, "activity", func(ctx context.Context, tx *sql.Tx) error {
		if a, err = s.e.Repo.GetActivity(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, a.PlaybookID, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		a.Name, a.Guidance, a.Phase = in.Name, in.Guidance, in.Phase
		if in.Order > 0 {
			a.Order = in.Order
		}
		a.PredecessorID, a.SuccessorID = optional(in.PredecessorID), optional(in.SuccessorID)
		a.UpdatedAt = s.e.stamp()
		if err := s.e.Repo.UpdateActivity(ctx, tx, a); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, a.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionActivityUpdated, userID, a.PlaybookID, "Updated activity "+a.Name,
			events.Metadata{"activity_id": a.ID})
	}, check)
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	s.e.committed(ctx, op, "activity_id", a.ID)
	return a, nil
}

// Delete removes the activity, the artifacts it produces and every input touching either.
func (s *ActivityService) Delete(ctx context.Context, id string) error {
	const op = "activity.delete"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return fail(op, err)
	}
	var templates []string
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.e.Repo.GetActivity(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, a.PlaybookID, userID); err != nil {
			return err
		}
		if templates, err = s.e.templatesUnder(ctx, tx, a.PlaybookID, "", id); err != nil {
			return err
		}
		if err := s.e.Repo.DeleteActivity(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, a.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionActivityDeleted, userID, a.PlaybookID, "Deleted activity "+a.Name,
			events.Metadata{"activity_id": a.ID})
	})
	if err != nil {
		return fail(op, err)
	}
	for _, key := range templates {
		s.e.dropBlob(ctx, key)
	}
	s.e.committed(ctx, op, "activity_id", id)
	return nil
}

// Duplicate copies guidance and phase into a new activity appended to the same workflow.
// Produced artifacts and links are not copied.
func (s *ActivityService) Duplicate(ctx context.Context, id, newName string) (domain.Activity, error) {
	const op = "activity.duplicate"
	src, err := s.Get(ctx, id)
	if err != nil {
		return domain.Activity{}, err
	}
	a, err := s.Create(ctx, src.WorkflowID, ActivityInput{ActivityFields: validate.ActivityFields{
		Name:     newName,
		Guidance: src.Guidance,
		Phase:    src.Phase,
	}})
	if err != nil {
		return domain.Activity{}, fail(op, err)
	}
	return a, nil
}
