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

type ArtifactService struct {
	e *Engine
}

func (e *Engine) artifactNames(tx *sql.Tx, playbookID, excludeID string) validate.NameProbe {
	return func(ctx context.Context, name string) (bool, error) {
		return e.Repo.ArtifactNameExists(ctx, tx, playbookID, name, excludeID)
	}
}

func (s *ArtifactService) check(ctx context.Context, tx *sql.Tx, playbookID, selfID string, f validate.ArtifactFields) error {
	res, err := s.e.Validator.Artifact(ctx, f, s.e.artifactNames(tx, playbookID, selfID))
	if err != nil {
		return err
	}
	return res.Err()
}

// producer resolves the producing activity and its playbook, checking the caller may edit it.
func (s *ArtifactService) producer(ctx context.Context, tx *sql.Tx, activityID, userID string) (domain.Activity, domain.Playbook, error) {
	a, err := s.e.Repo.GetActivity(ctx, tx, activityID)
	if errors.Is(err, repo.ErrNotFound) {
		return a, domain.Playbook{}, validate.FieldFailure("produced_by", validate.KindInvalidReference, "Select an existing activity.")
	}
	if err != nil {
		return a, domain.Playbook{}, err
	}
	pb, err := s.e.loadEditable(ctx, tx, a.PlaybookID, userID)
	return a, pb, err
}

// Create declares an artifact produced by producedByID.
func (s *ArtifactService) Create(ctx context.Context, producedByID string, f validate.ArtifactFields) (domain.Artifact, error) {
	const op = "artifact.create"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.e.Repo.GetActivity(ctx, tx, producedByID)
		if err != nil {
			return err
		}
		return s.check(ctx, tx, a.PlaybookID, "", f)
	}
	var x domain.Artifact
	err = s.e.mutate(ctx, "artifact", func(ctx context.Context, tx *sql.Tx) error {
		a, pb, err := s.producer(ctx, tx, producedByID, userID)
		if err != nil {
			return err
		}
		if err := s.check(ctx, tx, pb.ID, "", f); err != nil {
			return err
		}
		if err := validate.Producer(pb.ID, a).Err(); err != nil {
			return err
		}
		now := s.e.stamp()
		x = domain.Artifact{
			ID:           newID(),
			PlaybookID:   pb.ID,
			Name:         f.Name,
			Description:  f.Description,
			Type:         f.Type,
			ProducedByID: a.ID,
			IsRequired:   f.IsRequired,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.e.Repo.InsertArtifact(ctx, tx, x); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, pb.ID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionArtifactCreated, userID, pb.ID, "Created artifact "+x.Name,
			events.Metadata{"artifact_id": x.ID, "produced_by": a.ID})
	}, check)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	s.e.committed(ctx, op, "artifact_id", x.ID)
	return x, nil
}

func (s *ArtifactService) Get(ctx context.Context, id string) (domain.Artifact, error) {
	const op = "artifact.get"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	var x domain.Artifact
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if x, err = s.e.Repo.GetArtifact(ctx, tx, id); err != nil {
			return err
		}
		_, err = s.e.loadViewable(ctx, tx, x.PlaybookID, userID)
		return err
	})
	return x, fail(op, err)
}

// List returns a playbook's artifacts, optionally narrowed to one producer, workflow or type.
func (s *ArtifactService) List(ctx context.Context, f repo.ArtifactFilters) ([]domain.Artifact, error) {
	const op = "artifact.list"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	if f.PlaybookID == "" {
		return nil, validate.FieldFailure("playbook", validate.KindFieldInvalid, "This field is required.")
	}
	var xs []domain.Artifact
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, f.PlaybookID, userID); err != nil {
			return err
		}
		xs, err = s.e.Repo.ListArtifacts(ctx, tx, f)
		return err
	})
	return xs, fail(op, err)
}

// ArtifactUpdate changes fields and, when ProducedByID is set, the producer.
type ArtifactUpdate struct {
	validate.ArtifactFields
	ProducedByID string `json:"produced_by_id,omitempty"`
}

func (s *ArtifactService) Update(ctx context.Context, id string, u ArtifactUpdate) (domain.Artifact, error) {
	const op = "artifact.update"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	u.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.e.Repo.GetArtifact(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.check(ctx, tx, cur.PlaybookID, id, u.ArtifactFields)
	}
	var x domain.Artifact
	err = s.e.mutate(ctx, "artifact", func(ctx context.Context, tx *sql.Tx) error {
		if x, err = s.e.Repo.GetArtifact(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, x.PlaybookID, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		if u.ProducedByID != "" && u.ProducedByID != x.ProducedByID {
			a, err := s.e.Repo.GetActivity(ctx, tx, u.ProducedByID)
			if errors.Is(err, repo.ErrNotFound) {
				return validate.FieldFailure("produced_by", validate.KindInvalidReference, "Select an existing activity.")
			}
			if err != nil {
				return err
			}
			if err := validate.Producer(x.PlaybookID, a).Err(); err != nil {
				return err
			}
			consumes, err := s.e.Repo.InputExists(ctx, tx, x.ID, a.ID)
			if err != nil {
				return err
			}
			if consumes {
				return validate.FieldFailure("produced_by", validate.KindCircularDependency, "An activity cannot produce an artifact it consumes.")
			}
			x.ProducedByID = a.ID
		}
		x.Name, x.Description, x.Type, x.IsRequired = u.Name, u.Description, u.Type, u.IsRequired
		x.UpdatedAt = s.e.stamp()
		if err := s.e.Repo.UpdateArtifact(ctx, tx, x); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, x.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionArtifactUpdated, userID, x.PlaybookID, "Updated artifact "+x.Name,
			events.Metadata{"artifact_id": x.ID})
	}, check)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	s.e.committed(ctx, op, "artifact_id", x.ID)
	return x, nil
}

func (s *ArtifactService) Delete(ctx context.Context, id string) error {
	const op = "artifact.delete"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return fail(op, err)
	}
	var template string
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		x, err := s.e.Repo.GetArtifact(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, x.PlaybookID, userID); err != nil {
			return err
		}
		template = x.TemplateFile
		if err := s.e.Repo.DeleteArtifact(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, x.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionArtifactDeleted, userID, x.PlaybookID, "Deleted artifact "+x.Name,
			events.Metadata{"artifact_id": x.ID})
	})
	if err != nil {
		return fail(op, err)
	}
	s.e.dropBlob(ctx, template)
	s.e.committed(ctx, op, "artifact_id", id)
	return nil
}

// Duplicate copies an artifact under the same producer. Consumers and the template are not copied.
func (s *ArtifactService) Duplicate(ctx context.Context, id, newName string) (domain.Artifact, error) {
	const op = "artifact.duplicate"
	src, err := s.Get(ctx, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	x, err := s.Create(ctx, src.ProducedByID, validate.ArtifactFields{
		Name:        newName,
		Description: src.Description,
		Type:        src.Type,
		IsRequired:  src.IsRequired,
	})
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	return x, nil
}

// templatesUnder lists template keys of artifacts produced inside a workflow or by an activity.
func (e *Engine) templatesUnder(ctx context.Context, tx *sql.Tx, playbookID, workflowID, activityID string) ([]string, error) {
	xs, err := e.Repo.ListArtifacts(ctx, tx, repo.ArtifactFilters{PlaybookID: playbookID, WorkflowID: workflowID, ProducedByID: activityID})
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, x := range xs {
		if x.HasTemplate() {
			keys = append(keys, x.TemplateFile)
		}
	}
	return keys, nil
}
