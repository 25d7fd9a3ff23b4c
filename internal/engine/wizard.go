package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"playbooks/internal/domain"
	"playbooks/internal/engine/auth"
	"playbooks/internal/events"
	"playbooks/internal/validate"
)

// WizardInput is the staged state of the three-step create flow.
// Step2 and Step3 are optional; a missing Step3 creates a draft.
type WizardInput struct {
	Step1 validate.PlaybookFields   `json:"step1"`
	Step2 []validate.WorkflowFields `json:"step2,omitempty"`
	Step3 *validate.PublishFields   `json:"step3,omitempty"`
}

type WizardResult struct {
	Playbook  domain.Playbook         `json:"playbook"`
	Workflows []domain.Workflow       `json:"workflows"`
	Version   *domain.PlaybookVersion `json:"version,omitempty"`
}

// ValidateStep1 checks the basic information step, including the caller's name uniqueness.
func (s *PlaybookService) ValidateStep1(ctx context.Context, f validate.PlaybookFields) (validate.Result, error) {
	userID, err := auth.Caller(ctx)
	if err != nil {
		return validate.Result{}, fail("wizard.step1", err)
	}
	f.Normalize()
	var res validate.Result
	err = s.e.read(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err = s.e.Validator.Playbook(ctx, f, s.e.playbookNames(tx, userID, ""))
		return err
	})
	return res, err
}

func (s *PlaybookService) ValidateStep2(drafts []validate.WorkflowFields) validate.Result {
	return s.e.Validator.WizardWorkflows(drafts)
}

func (s *PlaybookService) ValidateStep3(f validate.PublishFields) validate.Result {
	return s.e.Validator.Publish(f)
}

// CreateFromWizard commits the wizard in one transaction. A playbook created active or released
// starts at 1.0 with an "Initial version" snapshot.
func (s *PlaybookService) CreateFromWizard(ctx context.Context, in WizardInput) (WizardResult, error) {
	const op = "playbook.create_from_wizard"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return WizardResult{}, fail(op, err)
	}
	in.Step1.Normalize()
	for i := range in.Step2 {
		in.Step2[i].Normalize()
	}
	publish := validate.PublishFields{Status: domain.StatusDraft}
	if in.Step3 != nil {
		publish = *in.Step3
		publish.Status = domain.Status(strings.TrimSpace(string(publish.Status)))
	}

	check := func(ctx context.Context, tx *sql.Tx) error {
		res, err := s.e.Validator.Playbook(ctx, in.Step1, s.e.playbookNames(tx, userID, ""))
		if err != nil {
			return err
		}
		res.Merge("", s.e.Validator.WizardWorkflows(in.Step2))
		res.Merge("", s.e.Validator.Publish(publish))
		return res.Err()
	}

	var out WizardResult
	err = s.e.mutate(withoutBump(ctx), "playbook", func(ctx context.Context, tx *sql.Tx) error {
		if err := check(ctx, tx); err != nil {
			return err
		}
		now := s.e.stamp()
		version := domain.MinDraftVersion
		if publish.Status != domain.StatusDraft {
			version = domain.MinReleasedVersion
		}
		pb := domain.Playbook{
			ID:          newID(),
			Name:        in.Step1.Name,
			Description: in.Step1.Description,
			Category:    in.Step1.Category,
			Tags:        in.Step1.Tags,
			Visibility:  in.Step1.Visibility,
			Status:      publish.Status,
			Version:     version,
			Source:      domain.SourceOwned,
			AuthorID:    userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.e.Repo.InsertPlaybook(ctx, tx, pb); err != nil {
			return err
		}
		if err := s.e.audit(ctx, tx, domain.ActionPlaybookCreated, userID, pb.ID, "Created playbook "+pb.Name,
			events.Metadata{"via": "wizard", "workflows": len(in.Step2)}); err != nil {
			return err
		}
		out = WizardResult{Playbook: pb, Workflows: []domain.Workflow{}}
		for i, d := range in.Step2 {
			order := d.Order
			if order == 0 {
				order = i + 1
			}
			w := domain.Workflow{
				ID:          newID(),
				PlaybookID:  pb.ID,
				Name:        d.Name,
				Description: d.Description,
				Order:       order,
				Status:      domain.StatusDraft,
				CreatedBy:   userID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
				return err
			}
			if err := s.e.audit(ctx, tx, domain.ActionWorkflowCreated, userID, pb.ID, "Created workflow "+w.Name, nil); err != nil {
				return err
			}
			out.Workflows = append(out.Workflows, w)
		}
		if pb.Status != domain.StatusDraft {
			v, err := s.e.snapshot(ctx, tx, pb.ID, userID, "")
			if err != nil {
				return err
			}
			out.Version = &v
		}
		return nil
	}, check)
	if err != nil {
		return WizardResult{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", out.Playbook.ID, "status", string(out.Playbook.Status), "workflows", len(out.Workflows))
	return out, nil
}

// Import creates a read-only playbook for the caller from an export document.
func (s *PlaybookService) Import(ctx context.Context, doc domain.ExportDocument) (domain.Playbook, error) {
	const op = "playbook.import"
	userID, err := auth.Caller(ctx)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	f := validate.PlaybookFields{
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		Tags:        doc.Tags,
		Visibility:  doc.Visibility,
	}
	f.Normalize()
	status := doc.Status
	if !status.Valid() {
		status = domain.StatusDraft
	}
	version := doc.Version
	if version < domain.MinDraftVersion {
		version = domain.MinDraftVersion
	}

	check := func(ctx context.Context, tx *sql.Tx) error {
		res, err := s.e.Validator.Playbook(ctx, f, s.e.playbookNames(tx, userID, ""))
		if err != nil {
			return err
		}
		res.Merge("", s.e.checkDocument(doc))
		return res.Err()
	}

	var pb domain.Playbook
	err = s.e.mutate(withoutBump(ctx), "playbook", func(ctx context.Context, tx *sql.Tx) error {
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
			Status:      status,
			Version:     version,
			Source:      domain.SourceDownloaded,
			AuthorID:    userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.e.Repo.InsertPlaybook(ctx, tx, pb); err != nil {
			return err
		}
		for wi, ew := range doc.Workflows {
			order := ew.Order
			if order < 1 {
				order = wi + 1
			}
			w := domain.Workflow{ID: newID(), PlaybookID: pb.ID, Name: strings.TrimSpace(ew.Name), Description: strings.TrimSpace(ew.Description),
				Order: order, Status: domain.StatusDraft, CreatedBy: userID, CreatedAt: now, UpdatedAt: now}
			if err := s.e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
				return err
			}
			for ai, ea := range ew.Activities {
				order := ea.Order
				if order < 1 {
					order = ai + 1
				}
				a := domain.Activity{ID: newID(), WorkflowID: w.ID, PlaybookID: pb.ID, Name: strings.TrimSpace(ea.Name), Guidance: ea.Guidance,
					Order: order, Phase: strings.TrimSpace(ea.Phase), CreatedAt: now, UpdatedAt: now}
				if err := s.e.Repo.InsertActivity(ctx, tx, a); err != nil {
					return err
				}
				for _, ex := range ea.Artifacts {
					typ := ex.Type
					if typ == "" {
						typ = domain.ArtifactDocument
					}
					x := domain.Artifact{ID: newID(), PlaybookID: pb.ID, Name: strings.TrimSpace(ex.Name), Type: typ,
						ProducedByID: a.ID, IsRequired: ex.IsRequired, CreatedAt: now, UpdatedAt: now}
					if err := s.e.Repo.InsertArtifact(ctx, tx, x); err != nil {
						return err
					}
				}
			}
		}
		return s.e.audit(ctx, tx, domain.ActionPlaybookImported, userID, pb.ID, "Imported playbook "+pb.Name,
			events.Metadata{"version": version.String(), "workflows": len(doc.Workflows)})
	}, check)
	if err != nil {
		return domain.Playbook{}, fail(op, err)
	}
	s.e.committed(ctx, op, "playbook_id", pb.ID)
	return pb, nil
}

// checkDocument applies the field and uniqueness rules to every child of an export document.
func (e *Engine) checkDocument(doc domain.ExportDocument) validate.Result {
	var res validate.Result
	drafts := make([]validate.WorkflowFields, len(doc.Workflows))
	for i, w := range doc.Workflows {
		drafts[i] = validate.WorkflowFields{Name: w.Name, Description: w.Description}
	}
	res.Merge("", e.Validator.WizardWorkflows(drafts))
	artifactNames := map[string]bool{}
	for wi, w := range doc.Workflows {
		activityNames := map[string]bool{}
		for ai, a := range w.Activities {
			prefix := fmt.Sprintf("workflows[%d].activities[%d]", wi, ai)
			af := validate.ActivityFields{Name: a.Name, Guidance: a.Guidance, Phase: a.Phase}
			af.Normalize()
			res.Merge(prefix, e.Validator.Fields(af))
			if activityNames[af.Name] {
				res.Add(prefix+".name", validate.KindNameDuplicate, "An activity with this name already exists in this workflow.")
			}
			activityNames[af.Name] = true
			for xi, x := range a.Artifacts {
				xprefix := fmt.Sprintf("%s.artifacts[%d]", prefix, xi)
				xf := validate.ArtifactFields{Name: x.Name, Type: x.Type, IsRequired: x.IsRequired}
				xf.Normalize()
				res.Merge(xprefix, e.Validator.Fields(xf))
				if artifactNames[xf.Name] {
					res.Add(xprefix+".name", validate.KindNameDuplicate, "An artifact with this name already exists in this playbook.")
				}
				artifactNames[xf.Name] = true
			}
		}
	}
	return res
}
