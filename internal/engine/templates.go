package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"playbooks/internal/blob"
	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/validate"
)

var errNoBlobStore = fmt.Errorf("%w: no template store configured", ErrUnavailable)

// AttachTemplate uploads a template file for the artifact, replacing any previous one.
func (s *ArtifactService) AttachTemplate(ctx context.Context, artifactID, filename string, r io.Reader) (domain.Artifact, error) {
	const op = "artifact.attach_template"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}
	if s.e.Blob == nil {
		return domain.Artifact{}, errNoBlobStore
	}
	if filename == "" {
		return domain.Artifact{}, validate.FieldFailure("template_file", validate.KindFieldInvalid, "This field is required.")
	}
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		x, err := s.e.Repo.GetArtifact(ctx, tx, artifactID)
		if err != nil {
			return err
		}
		_, err = s.e.loadEditable(ctx, tx, x.PlaybookID, userID)
		return err
	})
	if err != nil {
		return domain.Artifact{}, fail(op, err)
	}

	key := blob.TemplateKey(artifactID, newID(), filename)
	if err := s.e.Blob.Put(ctx, key, r); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: store template: %w", ErrUnavailable, err)
	}
	var x domain.Artifact
	var previous string
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if x, err = s.e.Repo.GetArtifact(ctx, tx, artifactID); err != nil {
			return err
		}
		if _, err := s.e.loadEditable(ctx, tx, x.PlaybookID, userID); err != nil {
			return err
		}
		previous = x.TemplateFile
		x.TemplateFile, x.UpdatedAt = key, s.e.stamp()
		if err := s.e.Repo.UpdateArtifact(ctx, tx, x); err != nil {
			return err
		}
		if _, err := s.e.afterWrite(ctx, tx, x.PlaybookID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionArtifactUpdated, userID, x.PlaybookID, "Attached template to "+x.Name,
			events.Metadata{"artifact_id": x.ID, "template_file": key})
	})
	if err != nil {
		s.e.dropBlob(ctx, key)
		return domain.Artifact{}, fail(op, err)
	}
	s.e.dropBlob(ctx, previous)
	s.e.committed(ctx, op, "artifact_id", x.ID, "template_file", key)
	return x, nil
}

// OpenTemplate streams the artifact's template. The caller closes the reader.
func (s *ArtifactService) OpenTemplate(ctx context.Context, artifactID string) (io.ReadCloser, domain.Artifact, error) {
	x, err := s.Get(ctx, artifactID)
	if err != nil {
		return nil, x, err
	}
	if !x.HasTemplate() {
		return nil, x, fmt.Errorf("artifact %s has no template: %w", artifactID, ErrNotFound)
	}
	if s.e.Blob == nil {
		return nil, x, errNoBlobStore
	}
	rc, err := s.e.Blob.Open(ctx, x.TemplateFile)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, x, fmt.Errorf("template %s: %w", x.TemplateFile, ErrNotFound)
	}
	if err != nil {
		return nil, x, fmt.Errorf("%w: open template: %w", ErrUnavailable, err)
	}
	return rc, x, nil
}
