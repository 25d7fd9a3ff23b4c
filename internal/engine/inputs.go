package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/flow"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

// InputResult is a created edge plus non-blocking temporal warnings.
type InputResult struct {
	Input    domain.ArtifactInput `json:"input"`
	Warnings []string             `json:"warnings"`
}

type BulkResult struct {
	Inputs   []domain.ArtifactInput `json:"inputs"`
	Warnings []string               `json:"warnings"`
}

type CopyResult struct {
	Copied   []domain.ArtifactInput `json:"copied"`
	Skipped  int                    `json:"skipped"`
	Warnings []string               `json:"warnings"`
}

func (e *Engine) view(ctx context.Context, tx *sql.Tx, playbookID string) (*flow.View, error) {
	g, err := e.Repo.LoadGraph(ctx, tx, playbookID)
	if err != nil {
		return nil, err
	}
	return flow.NewView(g), nil
}

// link inserts one edge after the view accepted it, bumping the playbook per edge.
func (e *Engine) link(ctx context.Context, tx *sql.Tx, v *flow.View, artifactID, activityID, userID string, required bool) (domain.ArtifactInput, error) {
	now := e.stamp()
	in := domain.ArtifactInput{ID: newID(), ArtifactID: artifactID, ActivityID: activityID, IsRequired: required, CreatedAt: now, UpdatedAt: now}
	if err := e.Repo.InsertInput(ctx, tx, in); err != nil {
		return in, err
	}
	v.Link(in)
	pb := v.Playbook()
	if _, err := e.afterWrite(ctx, tx, pb.ID); err != nil {
		return in, err
	}
	x, _ := v.Artifact(artifactID)
	a, _ := v.Activity(activityID)
	return in, e.audit(ctx, tx, domain.ActionInputAdded, userID, pb.ID, fmt.Sprintf("Added %s as input of %s", x.Name, a.Name),
		events.Metadata{"artifact_id": artifactID, "activity_id": activityID, "input_id": in.ID})
}

// edgeRace turns a unique-constraint race on (artifact, activity) into duplicate_input.
func edgeRace(err error) error {
	if errors.Is(err, repo.ErrConflict) {
		return validate.FieldFailure("artifact", validate.KindDuplicateInput, "This artifact is already an input of the activity.")
	}
	return err
}

// AddConsumer marks the artifact as an input of the activity.
func (s *ArtifactService) AddConsumer(ctx context.Context, artifactID, activityID string, required bool) (InputResult, error) {
	const op = "artifact.add_consumer"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return InputResult{}, fail(op, err)
	}
	out := InputResult{Warnings: []string{}}
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		x, err := s.e.Repo.GetArtifact(ctx, tx, artifactID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, x.PlaybookID, userID); err != nil {
			return err
		}
		v, err := s.e.view(ctx, tx, x.PlaybookID)
		if err != nil {
			return err
		}
		res := v.ValidateFlow(artifactID, activityID)
		if err := res.Err(); err != nil {
			return err
		}
		out.Warnings = append(out.Warnings, res.Warnings...)
		out.Input, err = s.e.link(ctx, tx, v, artifactID, activityID, userID, required)
		return err
	})
	if err != nil {
		return InputResult{}, fail(op, edgeRace(err))
	}
	s.e.committed(ctx, op, "artifact_id", artifactID, "activity_id", activityID, "warnings", len(out.Warnings))
	return out, nil
}

// RemoveConsumer deletes one input edge.
func (s *ArtifactService) RemoveConsumer(ctx context.Context, inputID string) error {
	const op = "artifact.remove_consumer"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return fail(op, err)
	}
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		in, err := s.e.Repo.GetInput(ctx, tx, inputID)
		if err != nil {
			return err
		}
		x, err := s.e.Repo.GetArtifact(ctx, tx, in.ArtifactID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, x.PlaybookID, userID); err != nil {
			return err
		}
		if err := s.e.Repo.DeleteInput(ctx, tx, inputID); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, x.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionInputRemoved, userID, x.PlaybookID, "Removed input "+x.Name,
			events.Metadata{"artifact_id": in.ArtifactID, "activity_id": in.ActivityID, "input_id": in.ID})
	})
	if err != nil {
		return fail(op, err)
	}
	s.e.committed(ctx, op, "input_id", inputID)
	return nil
}

// ListInputs returns the edges into an activity.
func (s *ArtifactService) ListInputs(ctx context.Context, activityID string) ([]domain.ArtifactInput, error) {
	const op = "artifact.list_inputs"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var ins []domain.ArtifactInput
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.e.Repo.GetActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadViewable(ctx, tx, a.PlaybookID, userID); err != nil {
			return err
		}
		ins, err = s.e.Repo.ListInputsByActivity(ctx, tx, activityID)
		return err
	})
	return ins, fail(op, err)
}

// BulkAddInputs links several artifacts to one activity. Any rule violation fails the whole call;
// every offending entry is reported under artifact_ids[i].
func (s *ArtifactService) BulkAddInputs(ctx context.Context, activityID string, artifactIDs []string, allRequired bool) (BulkResult, error) {
	const op = "artifact.bulk_add_inputs"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return BulkResult{}, fail(op, err)
	}
	out := BulkResult{Inputs: []domain.ArtifactInput{}, Warnings: []string{}}
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.e.Repo.GetActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, a.PlaybookID, userID); err != nil {
			return err
		}
		v, err := s.e.view(ctx, tx, a.PlaybookID)
		if err != nil {
			return err
		}
		var failed validate.Result
		for i, artifactID := range artifactIDs {
			res := v.ValidateFlow(artifactID, activityID)
			if !res.Valid() {
				failed.Merge(fmt.Sprintf("artifact_ids[%d]", i), res)
				continue
			}
			out.Warnings = append(out.Warnings, res.Warnings...)
			in, err := s.e.link(ctx, tx, v, artifactID, activityID, userID, allRequired)
			if err != nil {
				return err
			}
			out.Inputs = append(out.Inputs, in)
		}
		return failed.Err()
	})
	if err != nil {
		return BulkResult{}, fail(op, edgeRace(err))
	}
	s.e.committed(ctx, op, "activity_id", activityID, "inputs", len(out.Inputs))
	return out, nil
}

// CopyInputs gives target every input source has. Edges target already has, and artifacts target
// produces, are skipped, so repeating the call changes nothing.
func (s *ArtifactService) CopyInputs(ctx context.Context, targetID, sourceID string) (CopyResult, error) {
	const op = "artifact.copy_inputs"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return CopyResult{}, fail(op, err)
	}
	out := CopyResult{Copied: []domain.ArtifactInput{}, Warnings: []string{}}
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		target, err := s.e.Repo.GetActivity(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, target.PlaybookID, userID); err != nil {
			return err
		}
		v, err := s.e.view(ctx, tx, target.PlaybookID)
		if err != nil {
			return err
		}
		if _, ok := v.Activity(sourceID); !ok {
			return validate.FieldFailure("source", validate.KindInvalidReference, "Select an activity from the same playbook.")
		}
		for _, src := range v.Inputs(sourceID) {
			res := v.ValidateFlow(src.ArtifactID, targetID)
			if !res.Valid() {
				out.Skipped++
				continue
			}
			out.Warnings = append(out.Warnings, res.Warnings...)
			in, err := s.e.link(ctx, tx, v, src.ArtifactID, targetID, userID, src.IsRequired)
			if err != nil {
				return err
			}
			out.Copied = append(out.Copied, in)
		}
		return nil
	})
	if err != nil {
		return CopyResult{}, fail(op, edgeRace(err))
	}
	s.e.committed(ctx, op, "target_id", targetID, "source_id", sourceID, "copied", len(out.Copied))
	return out, nil
}

// viewOf loads the flow view for the playbook owning an activity or artifact after a view check.
func (s *ArtifactService) viewOf(ctx context.Context, tx *sql.Tx, playbookID, userID string) (*flow.View, error) {
	if _, err := s.e.loadViewable(ctx, tx, playbookID, userID); err != nil {
		return nil, err
	}
	return s.e.view(ctx, tx, playbookID)
}

// AvailableInputs lists artifacts the activity could still consume.
func (s *ArtifactService) AvailableInputs(ctx context.Context, activityID string) ([]domain.Artifact, error) {
	const op = "artifact.available_inputs"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var xs []domain.Artifact
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.e.Repo.GetActivity(ctx, tx, activityID)
		if err != nil {
			return err
		}
		v, err := s.viewOf(ctx, tx, a.PlaybookID, userID)
		if err != nil {
			return err
		}
		xs, err = v.AvailableInputs(activityID)
		return err
	})
	return xs, fail(op, err)
}

// ValidateFlow reports, without writing, whether activityID could consume artifactID.
func (s *ArtifactService) ValidateFlow(ctx context.Context, artifactID, activityID string) (validate.Result, error) {
	const op = "artifact.validate_flow"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return validate.Result{}, fail(op, err)
	}
	var res validate.Result
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		x, err := s.e.Repo.GetArtifact(ctx, tx, artifactID)
		if err != nil {
			return err
		}
		v, err := s.viewOf(ctx, tx, x.PlaybookID, userID)
		if err != nil {
			return err
		}
		res = v.ValidateFlow(artifactID, activityID)
		return nil
	})
	return res, fail(op, err)
}

func (s *ArtifactService) FlowChain(ctx context.Context, artifactID string) (flow.Chain, error) {
	const op = "artifact.flow_chain"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return flow.Chain{}, fail(op, err)
	}
	var chain flow.Chain
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		x, err := s.e.Repo.GetArtifact(ctx, tx, artifactID)
		if err != nil {
			return err
		}
		v, err := s.viewOf(ctx, tx, x.PlaybookID, userID)
		if err != nil {
			return err
		}
		chain, err = v.FlowChain(artifactID)
		return err
	})
	return chain, fail(op, err)
}

// GenerateFlowData returns the node/edge graph of a playbook.
func (s *ArtifactService) GenerateFlowData(ctx context.Context, playbookID string) (flow.Data, error) {
	const op = "artifact.generate_flow_data"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return flow.Data{}, fail(op, err)
	}
	var d flow.Data
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		v, err := s.viewOf(ctx, tx, playbookID, userID)
		if err != nil {
			return err
		}
		d = v.GenerateFlowData()
		return nil
	})
	return d, fail(op, err)
}

// RenderFlow draws the flow graph as DOT or SVG.
func (s *ArtifactService) RenderFlow(ctx context.Context, playbookID string, format flow.Format) ([]byte, error) {
	pb, err := s.e.Playbooks.Get(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	d, err := s.GenerateFlowData(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	return flow.Render(ctx, pb.Name, d, format)
}
