package engine

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"playbooks/internal/blob"
	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

type PlaybookService struct {
	e *Engine
}

func (e *Engine) playbookNames(tx *sql.Tx, authorID, excludeID string) validate.NameProbe {
	return func(ctx context.Context, name string) (bool, error) {
		return e.Repo.PlaybookNameExists(ctx, tx, authorID, name, excludeID)
	}
}

func (s *PlaybookService) checkFields(ctx context.Context, tx *sql.Tx, f validate.PlaybookFields, authorID, excludeID string) error {
	res, err := s.e.Validator.Playbook(ctx, f, s.e.playbookNames(tx, authorID, excludeID))
	if err != nil {
		return err
	}
	return res.Err()
}

// Create stores a new draft playbook at the minimum version.
func (s *PlaybookService) Create(ctx context.Context, f validate.PlaybookFields) (domain.Playbook, error) {
	const op = "playbook.create"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		return s.checkFields(ctx, tx, f, userID, "")
	}
	var pb domain.Playbook
	err = s.e.mutate(ctx, "playbook", func(ctx context.Context, tx *sql.Tx) error {
		if err := check(ctx, tx); err != nil {
			return err
		}
		now := s.e.stamp()
		pb = domain.Playbook{
			ID:          newID(),
			Name:        f.Name,
			Description: f.Description,
			Category:    f.Category,
			Tags:        f.Tags,
			Visibility:  f.Visibility,
			Status:      domain.StatusDraft,
			Version:     domain.MinDraftVersion,
			Source:      domain.SourceOwned,
			AuthorID:    userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.e.Repo.InsertPlaybook(ctx, tx, pb); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookCreated, userID, pb.ID, "Created playbook "+pb.Name, nil)
	}, check)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID)
	return pb, nil
}

func (s *PlaybookService) Get(ctx context.Context, id string) (domain.Playbook, error) {
	const op = "playbook.get"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var pb domain.Playbook
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		pb, err = s.e.loadViewable(ctx, tx, id, userID)
		return err
	})
	return pb, fail(op, err)
}

// View is Get for a detail page: it also records a playbook_viewed event.
func (s *PlaybookService) View(ctx context.Context, id string) (domain.Playbook, error) {
	const op = "playbook.view"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var pb domain.Playbook
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if pb, err = s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookViewed, userID, pb.ID, "Viewed playbook "+pb.Name, nil)
	})
	return pb, fail(op, err)
}

// Tree loads the whole subtree of a playbook.
func (s *PlaybookService) Tree(ctx context.Context, id string) (domain.Graph, error) {
	const op = "playbook.tree"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Graph{}, fail(op, err)
	}
	var g domain.Graph
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		g, err = s.e.Repo.LoadGraph(ctx, tx, id)
		return err
	})
	return g, fail(op, err)
}

type ListOptions struct {
	Status   domain.Status
	Category domain.Category
	Query    string
	Limit    int
	Cursor   string
}

type PlaybookPage struct {
	Items      []domain.Playbook `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

var errBadCursor = validate.FieldFailure("cursor", validate.KindFieldInvalid, "Invalid page cursor.")

func encodeCursor(pb domain.Playbook) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pb.UpdatedAt + "|" + pb.ID))
}

func decodeCursor(c string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", "", errBadCursor
	}
	updated, id, ok := strings.Cut(string(raw), "|")
	if !ok || updated == "" || id == "" {
		return "", "", errBadCursor
	}
	return updated, id, nil
}

// List returns the caller's playbooks, most recently updated first.
func (s *PlaybookService) List(ctx context.Context, opts ListOptions) (PlaybookPage, error) {
	const op = "playbook.list"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return PlaybookPage{}, fail(op, err)
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	f := repo.PlaybookFilters{AuthorID: userID, Status: opts.Status, Category: opts.Category, Query: opts.Query, Limit: limit + 1}
	if opts.Cursor != "" {
		if f.CursorUpdatedAt, f.CursorID, err = decodeCursor(opts.Cursor); err != nil {
			return PlaybookPage{}, err
		}
	}
	var items []domain.Playbook
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		items, err = s.e.Repo.ListPlaybooks(ctx, tx, f)
		return err
	})
	if err != nil {
		return PlaybookPage{}, fail(op, err)
	}
	page := PlaybookPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = encodeCursor(page.Items[limit-1])
	}
	return page, nil
}

// Update replaces the playbook's metadata. A draft is bumped once.
func (s *PlaybookService) Update(ctx context.Context, id string, f validate.PlaybookFields) (domain.Playbook, error) {
	const op = "playbook.update"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		return s.checkFields(ctx, tx, f, userID, id)
	}
	var pb domain.Playbook
	err = s.e.mutate(ctx, "playbook", func(ctx context.Context, tx *sql.Tx) error {
		if pb, err = s.e.loadEditable(ctx, tx, id, userID); err != nil {
			return err
		}
		if err := check(ctx, tx); err != nil {
			return err
		}
		pb.Name, pb.Description, pb.Category = f.Name, f.Description, f.Category
		pb.Tags, pb.Visibility = f.Tags, f.Visibility
		pb.UpdatedAt = s.e.stamp()
		if err := s.e.Repo.UpdatePlaybook(ctx, tx, pb); err != nil {
			return err
		}
		if pb.Version, err = s.e.afterWrite(ctx, tx, pb.ID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookUpdated, userID, pb.ID, "Updated playbook "+pb.Name, nil)
	}, check)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID, "version", pb.Version.String())
	return pb, nil
}

// Delete removes the playbook and its subtree. Template blobs are removed after commit, best-effort.
func (s *PlaybookService) Delete(ctx context.Context, id string) error {
	const op = "playbook.delete"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return fail(op, err)
	}
	var templates []string
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		pb, err := s.e.loadViewable(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if pb.IsImmutable() {
			return auth.ForbiddenError{Reason: auth.ReasonImmutable, PlaybookID: pb.ID, Status: pb.Status}
		}
		artifacts, err := s.e.Repo.ListArtifacts(ctx, tx, repo.ArtifactFilters{PlaybookID: id})
		if err != nil {
			return err
		}
		for _, x := range artifacts {
			if x.HasTemplate() {
				templates = append(templates, x.TemplateFile)
			}
		}
		if err := s.e.Repo.DeletePlaybook(ctx, tx, id); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookDeleted, userID, id, "Deleted playbook "+pb.Name, nil)
	})
	if err != nil {
		return fail(op, err)
	}
	for _, key := range templates {
		s.e.dropBlob(ctx, key)
	}
	s.e.committed(ctx, op, "playbook_id", id)
	return nil
}

// dropBlob deletes a template blob; an absent blob is fine and other failures are only logged.
func (e *Engine) dropBlob(ctx context.Context, key string) {
	if e.Blob == nil || key == "" {
		return
	}
	if err := e.Blob.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotExist) {
		e.Log.For(ctx).Warn("template delete failed", "key", key, "err", err)
	}
}

// Duplicate deep-copies the playbook subtree for the caller under newName.
// The copy is an owned draft at the minimum version without version history or templates.
func (s *PlaybookService) Duplicate(ctx context.Context, id, newName string) (domain.Playbook, error) {
	const op = "playbook.duplicate"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var src domain.Graph
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		src, err = s.e.Repo.LoadGraph(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	f := validate.PlaybookFields{
		Name:        newName,
		Description: src.Playbook.Description,
		Category:    src.Playbook.Category,
		Tags:        append([]string{}, src.Playbook.Tags...),
		Visibility:  src.Playbook.Visibility,
	}
	f.Normalize()
	check := func(ctx context.Context, tx *sql.Tx) error {
		return s.checkFields(ctx, tx, f, userID, "")
	}
	var pb domain.Playbook
	err = s.e.mutate(withoutBump(ctx), "playbook", func(ctx context.Context, tx *sql.Tx) error {
		if err := check(ctx, tx); err != nil {
			return err
		}
		now := s.e.stamp()
		pb = src.Playbook
		pb.ID, pb.Name, pb.Tags = newID(), f.Name, f.Tags
		pb.Status, pb.Version, pb.Source = domain.StatusDraft, domain.MinDraftVersion, domain.SourceOwned
		pb.AuthorID, pb.CreatedAt, pb.UpdatedAt = userID, now, now
		if err := s.e.Repo.InsertPlaybook(ctx, tx, pb); err != nil {
			return err
		}
		if err := s.e.copyTree(ctx, tx, src, pb.ID, userID); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookCreated, userID, pb.ID, "Duplicated playbook "+src.Playbook.Name,
			events.Metadata{"duplicated_from": src.Playbook.ID})
	}, check)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID, "source_id", id)
	return pb, nil
}

// copyTree inserts every workflow, activity, artifact and input of src under playbookID with fresh ids.
func (e *Engine) copyTree(ctx context.Context, tx *sql.Tx, src domain.Graph, playbookID, userID string) error {
	now := e.stamp()
	ids := map[string]string{}
	for _, w := range src.Workflows {
		ids[w.ID] = newID()
		w.ID, w.PlaybookID, w.Status, w.CreatedBy = ids[w.ID], playbookID, domain.StatusDraft, userID
		w.CreatedAt, w.UpdatedAt = now, now
		if err := e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
			return err
		}
	}
	for _, a := range src.Activities {
		ids[a.ID] = newID()
		c := a
		c.ID, c.WorkflowID, c.PlaybookID = ids[a.ID], ids[a.WorkflowID], playbookID
		c.PredecessorID, c.SuccessorID = nil, nil
		c.CreatedAt, c.UpdatedAt = now, now
		if err := e.Repo.InsertActivity(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, a := range src.Activities {
		if a.PredecessorID == nil && a.SuccessorID == nil {
			continue
		}
		c := a
		c.ID, c.WorkflowID, c.PlaybookID = ids[a.ID], ids[a.WorkflowID], playbookID
		c.PredecessorID, c.SuccessorID = remap(ids, a.PredecessorID), remap(ids, a.SuccessorID)
		c.CreatedAt, c.UpdatedAt = now, now
		if err := e.Repo.UpdateActivity(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, x := range src.Artifacts {
		ids[x.ID] = newID()
		x.ID, x.PlaybookID, x.ProducedByID, x.TemplateFile = ids[x.ID], playbookID, ids[x.ProducedByID], ""
		x.CreatedAt, x.UpdatedAt = now, now
		if err := e.Repo.InsertArtifact(ctx, tx, x); err != nil {
			return err
		}
	}
	for _, in := range src.Inputs {
		in.ID, in.ArtifactID, in.ActivityID = newID(), ids[in.ArtifactID], ids[in.ActivityID]
		in.CreatedAt, in.UpdatedAt = now, now
		if err := e.Repo.InsertInput(ctx, tx, in); err != nil {
			return err
		}
	}
	return nil
}

func remap(ids map[string]string, id *string) *string {
	if id == nil {
		return nil
	}
	mapped, ok := ids[*id]
	if !ok {
		return nil
	}
	return &mapped
}

// Release moves a draft to released, promotes the version to the next integer and records a snapshot.
func (s *PlaybookService) Release(ctx context.Context, id, summary string) (domain.Playbook, error) {
	return s.promote(ctx, "playbook.release", id, summary, domain.StatusReleased, domain.ActionPlaybookReleased)
}

// Publish moves a draft to active the same way Release does.
func (s *PlaybookService) Publish(ctx context.Context, id, summary string) (domain.Playbook, error) {
	return s.promote(ctx, "playbook.publish", id, summary, domain.StatusActive, domain.ActionPlaybookPublished)
}

func (s *PlaybookService) promote(ctx context.Context, op, id, summary string, to domain.Status, action domain.ActionType) (domain.Playbook, error) {
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var pb domain.Playbook
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if pb, err = s.e.loadEditable(ctx, tx, id, userID); err != nil {
			return err
		}
		if pb.Status != domain.StatusDraft {
			return fmt.Errorf("%w: %s playbook cannot become %s", ErrInvalidTransition, pb.Status, to)
		}
		from := pb.Version
		pb.Status, pb.Version, pb.UpdatedAt = to, pb.Version.NextMajor(), s.e.stamp()
		if err := s.e.Repo.UpdatePlaybook(ctx, tx, pb); err != nil {
			return err
		}
		if _, err := s.e.snapshot(ctx, tx, pb.ID, userID, summary); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, action, userID, pb.ID, fmt.Sprintf("Moved playbook %s to %s at %s", pb.Name, to, pb.Version),
			events.Metadata{"from_version": from.String(), "to_version": pb.Version.String()})
	})
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID, "version", pb.Version.String())
	return pb, nil
}

// ToggleStatus flips active and disabled.
func (s *PlaybookService) ToggleStatus(ctx context.Context, id string) (domain.Playbook, error) {
	const op = "playbook.toggle_status"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var pb domain.Playbook
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if pb, err = s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		from := pb.Status
		switch pb.Status {
		case domain.StatusActive:
			pb.Status = domain.StatusDisabled
		case domain.StatusDisabled:
			pb.Status = domain.StatusActive
		default:
			return fmt.Errorf("%w: only active and disabled playbooks can be toggled, not %s", ErrInvalidTransition, pb.Status)
		}
		pb.UpdatedAt = s.e.stamp()
		if err := s.e.Repo.UpdatePlaybook(ctx, tx, pb); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookToggled, userID, pb.ID, fmt.Sprintf("Changed %s from %s to %s", pb.Name, from, pb.Status),
			events.Metadata{"from": string(from), "to": string(pb.Status)})
	})
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID, "status", string(pb.Status))
	return pb, nil
}

// Archive is the terminal soft-remove.
func (s *PlaybookService) Archive(ctx context.Context, id string) (domain.Playbook, error) {
	const op = "playbook.archive"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	var pb domain.Playbook
	err = s.e.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if pb, err = s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		if pb.Status == domain.StatusArchived {
			return fmt.Errorf("%w: playbook is already archived", ErrInvalidTransition)
		}
		pb.Status, pb.UpdatedAt = domain.StatusArchived, s.e.stamp()
		if err := s.e.Repo.UpdatePlaybook(ctx, tx, pb); err != nil {
			return err
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookArchived, userID, pb.ID, "Archived playbook "+pb.Name, nil)
	})
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID)
	return pb, nil
}

func (s *PlaybookService) ListVersions(ctx context.Context, id string) ([]domain.PlaybookVersion, error) {
	const op = "playbook.list_versions"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return nil, fail(op, err)
	}
	var versions []domain.PlaybookVersion
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		versions, err = s.e.Repo.ListVersions(ctx, tx, id)
		return err
	})
	return versions, fail(op, err)
}

func (s *PlaybookService) GetVersion(ctx context.Context, id string, number int) (domain.PlaybookVersion, error) {
	const op = "playbook.get_version"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.PlaybookVersion{}, fail(op, err)
	}
	var v domain.PlaybookVersion
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.e.loadViewable(ctx, tx, id, userID); err != nil {
			return err
		}
		v, err = s.e.Repo.GetVersion(ctx, tx, id, number)
		return err
	})
	return v, fail(op, err)
}

// Export serializes the subtree to the canonical document.
func (s *PlaybookService) Export(ctx context.Context, id string) (domain.ExportDocument, error) {
	g, err := s.Tree(ctx, id)
	if err != nil {
		return domain.ExportDocument{}, err
	}
	return domain.BuildExport(g), nil
}

// ExportBytes renders the export document as json or yaml and returns the download filename.
func (s *PlaybookService) ExportBytes(ctx context.Context, id, format string) ([]byte, string, error) {
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "yaml" {
		return nil, "", validate.FieldFailure("format", validate.KindFieldInvalid, "Format must be json or yaml.")
	}
	doc, err := s.Export(ctx, id)
	if err != nil {
		return nil, "", err
	}
	var data []byte
	if format == "yaml" {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode export: %w", err)
	}
	return data, domain.ExportFilename(doc.Name, format), nil
}

// ParseExport decodes a json or yaml export document.
func ParseExport(data []byte, format string) (domain.ExportDocument, error) {
	var doc domain.ExportDocument
	var err error
	if format == "yaml" {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return doc, validate.FieldFailure("document", validate.KindFieldInvalid, "Could not parse playbook document: "+err.Error())
	}
	return doc, nil
}
