package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/moogar0880/problems"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/repo"
	"playbooks/internal/session"
	"playbooks/internal/validate"
)

// The form surface answers every successful write with 302 to the canonical page and every
// rejected submission with 200 and a problem document carrying the field errors.

const (
	sessionCookie = "pb_session"
	flashKey      = "flash"
	loginPath     = "/auth/user/login/"
	safePath      = "/playbooks/"
	maxUpload     = 32 << 20
)

type formProblem struct {
	*problems.Problem
	Errors   map[string]string `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

type formPage struct {
	Data  any      `json:"data"`
	Flash []string `json:"flash,omitempty"`
}

type wizardStep2 struct {
	WorkflowCount int `json:"workflow_count"`
}

func (s *server) registerForms(r chi.Router) {
	r.Get("/dashboard/", s.dashboardPage)

	r.Route("/playbooks", func(r chi.Router) {
		r.Get("/", s.playbookListPage)

		r.Get("/create/", s.wizardStep1Page)
		r.Post("/create/", s.wizardStep1Submit)
		r.Get("/create/step2/", s.wizardStep2Page)
		r.Post("/create/step2/", s.wizardStep2Submit)
		r.Get("/create/step3/", s.wizardStep3Page)
		r.Post("/create/step3/", s.wizardStep3Submit)
		r.Post("/create/cancel/", s.wizardCancel)

		r.Route("/{playbook_id}", func(r chi.Router) {
			r.Get("/", s.playbookPage)
			r.Post("/edit/", s.playbookEdit)
			r.Post("/delete/", s.playbookDelete)
			r.Post("/duplicate/", s.playbookDuplicate)
			r.Post("/release/", s.playbookTransition(func(e *engine.Engine) transitionFunc { return e.Playbooks.Release }))
			r.Post("/publish/", s.playbookTransition(func(e *engine.Engine) transitionFunc { return e.Playbooks.Publish }))
			r.Post("/toggle-status/", s.playbookTransition(func(e *engine.Engine) transitionFunc { return ignoreSummary(e.Playbooks.ToggleStatus) }))
			r.Post("/archive/", s.playbookTransition(func(e *engine.Engine) transitionFunc { return ignoreSummary(e.Playbooks.Archive) }))
			r.Get("/versions/", s.versionsPage)
			r.Get("/export/", s.playbookExport)
			r.Get("/flow/", s.flowPage)

			r.Post("/workflows/create/", s.workflowCreate)
			r.Route("/workflows/{workflow_id}", func(r chi.Router) {
				r.Get("/", s.workflowPage)
				r.Post("/edit/", s.workflowEdit)
				r.Post("/delete/", s.workflowDelete)
				r.Post("/duplicate/", s.workflowDuplicate)

				r.Post("/activities/create/", s.activityCreate)
				r.Route("/activities/{activity_id}", func(r chi.Router) {
					r.Get("/", s.activityPage)
					r.Post("/edit/", s.activityEdit)
					r.Post("/delete/", s.activityDelete)
					r.Post("/inputs/bulk/", s.activityBulkInputs)
					r.Post("/inputs/copy/", s.activityCopyInputs)
				})
			})

			r.Get("/artifacts/", s.artifactListPage)
			r.Post("/artifacts/create/", s.artifactCreate)
		})
	})

	r.Route("/artifacts/{artifact_id}", func(r chi.Router) {
		r.Get("/", s.artifactPage)
		r.Post("/edit/", s.artifactEdit)
		r.Post("/delete/", s.artifactDelete)
		r.Post("/consumers/", s.artifactAddConsumer)
		r.Post("/consumers/{input_id}/delete/", s.artifactRemoveConsumer)
		r.Get("/template/", s.artifactTemplateDownload)
		r.Post("/template/", s.artifactTemplateUpload)
	})

	s.registerAccountForms(r)
}

// Session plumbing

func (s *server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := session.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	// Later lookups in the same request see the minted id.
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: id})
	return id
}

func (s *server) flash(w http.ResponseWriter, r *http.Request, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	sid := s.sessionID(w, r)
	var prev []string
	_ = session.GetJSON(r.Context(), s.cfg.Sessions, sid, flashKey, &prev)
	if err := session.PutJSON(r.Context(), s.cfg.Sessions, sid, flashKey, append(prev, msgs...), s.cfg.SessionTTL); err != nil {
		s.log.For(r.Context()).Warn("store flash failed", "error", err)
	}
}

func (s *server) takeFlash(r *http.Request) []string {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	var msgs []string
	if err := session.GetJSON(r.Context(), s.cfg.Sessions, c.Value, flashKey, &msgs); err != nil {
		return nil
	}
	_ = s.cfg.Sessions.Delete(r.Context(), c.Value, flashKey)
	return msgs
}

// Responses

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, p formProblem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func (s *server) render(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, formPage{Data: data, Flash: s.takeFlash(r)})
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusFound)
}

// invalid re-presents the form: the HTTP status stays 200 while the document records 422.
func invalid(w http.ResponseWriter, r *http.Request, res validate.Result) {
	p := problems.NewStatusProblem(http.StatusUnprocessableEntity).
		WithInstance(r.URL.Path).
		WithType(string(engine.CodeValidation)).
		WithDetail("The submission has errors.")
	writeProblem(w, http.StatusOK, formProblem{Problem: p, Errors: res.Messages(), Warnings: res.Warnings})
}

func userMessage(err error) string {
	var se *engine.ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validate.Error
	if errors.As(err, &ve) {
		invalid(w, r, ve.Result)
		return
	}
	code := engine.CodeOf(err)
	switch code {
	case engine.CodeUnauthenticated:
		redirect(w, r, loginPath+"?next="+url.QueryEscape(r.URL.Path))
		return
	case engine.CodePermissionDenied, engine.CodeReleasedImmutable:
		s.flash(w, r, userMessage(err))
		redirect(w, r, safePath)
		return
	}
	status := statusFor(code)
	p := problems.NewStatusProblem(status).WithInstance(r.URL.Path).WithType(string(code))
	if status == http.StatusInternalServerError {
		s.log.For(r.Context()).Error("form request failed", "path", r.URL.Path, "error", err)
		p = p.WithDetail("internal error")
	} else {
		p = p.WithDetail(userMessage(err))
	}
	writeProblem(w, status, formProblem{Problem: p})
}

func (s *server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		p := problems.NewStatusProblem(http.StatusBadRequest).
			WithInstance(r.URL.Path).
			WithType("bad_request").
			WithError(err)
		writeProblem(w, http.StatusBadRequest, formProblem{Problem: p})
		return false
	}
	return true
}

// Field parsing

func formBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.PostFormValue(key))) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func formOrder(r *http.Request) (int, error) {
	v := strings.TrimSpace(r.PostFormValue("order"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, validate.FieldFailure("order", validate.KindOrderInvalid, "Order must be a whole number.")
	}
	return n, nil
}

func formTags(r *http.Request) []string {
	tags := []string{}
	for _, v := range r.PostForm["tags"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func playbookForm(r *http.Request) validate.PlaybookFields {
	return validate.PlaybookFields{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		Category:    domain.Category(r.PostFormValue("category")),
		Tags:        formTags(r),
		Visibility:  domain.Visibility(r.PostFormValue("visibility")),
	}
}

func workflowForm(r *http.Request) (validate.WorkflowFields, error) {
	order, err := formOrder(r)
	return validate.WorkflowFields{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		Order:       order,
	}, err
}

func activityForm(r *http.Request) (engine.ActivityInput, error) {
	order, err := formOrder(r)
	return engine.ActivityInput{
		ActivityFields: validate.ActivityFields{
			Name:     r.PostFormValue("name"),
			Guidance: r.PostFormValue("guidance"),
			Phase:    r.PostFormValue("phase"),
			Order:    order,
		},
		PredecessorID: strings.TrimSpace(r.PostFormValue("predecessor_id")),
		SuccessorID:   strings.TrimSpace(r.PostFormValue("successor_id")),
	}, err
}

func artifactForm(r *http.Request) validate.ArtifactFields {
	return validate.ArtifactFields{
		Name:        r.PostFormValue("name"),
		Description: r.PostFormValue("description"),
		Type:        domain.ArtifactType(r.PostFormValue("type")),
		IsRequired:  formBool(r, "is_required"),
	}
}

// Canonical pages

func playbookURL(id string) string {
	return "/playbooks/" + id + "/"
}

func workflowURL(w domain.Workflow) string {
	return playbookURL(w.PlaybookID) + "workflows/" + w.ID + "/"
}

func activityURL(a domain.Activity) string {
	return playbookURL(a.PlaybookID) + "workflows/" + a.WorkflowID + "/activities/" + a.ID + "/"
}

func artifactURL(id string) string {
	return "/artifacts/" + id + "/"
}

func notInPlaybook(kind string) error {
	return fmt.Errorf("%w: %s does not belong to this playbook", engine.ErrNotFound, kind)
}

// Dashboard and playbooks

func (s *server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	ov, err := s.cfg.Engine.Dashboard.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, ov)
}

func (s *server) playbookListPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := s.cfg.Engine.Playbooks.List(r.Context(), engine.ListOptions{
		Status:   domain.Status(q.Get("status")),
		Category: domain.Category(q.Get("category")),
		Query:    q.Get("q"),
		Limit:    limit,
		Cursor:   q.Get("cursor"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, page)
}

func (s *server) playbookPage(w http.ResponseWriter, r *http.Request) {
	g, err := s.cfg.Engine.Playbooks.Tree(r.Context(), chi.URLParam(r, "playbook_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, treeResponse(g))
}

func (s *server) playbookEdit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	pb, err := s.cfg.Engine.Playbooks.Update(r.Context(), chi.URLParam(r, "playbook_id"), playbookForm(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, playbookURL(pb.ID))
}

func (s *server) playbookDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Engine.Playbooks.Delete(r.Context(), chi.URLParam(r, "playbook_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(w, r, "Playbook deleted.")
	redirect(w, r, safePath)
}

func (s *server) playbookDuplicate(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	pb, err := s.cfg.Engine.Playbooks.Duplicate(r.Context(), chi.URLParam(r, "playbook_id"), r.PostFormValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, playbookURL(pb.ID))
}

type transitionFunc func(ctx context.Context, id, summary string) (domain.Playbook, error)

func ignoreSummary(fn func(ctx context.Context, id string) (domain.Playbook, error)) transitionFunc {
	return func(ctx context.Context, id, _ string) (domain.Playbook, error) {
		return fn(ctx, id)
	}
}

func (s *server) playbookTransition(pick func(*engine.Engine) transitionFunc) http.HandlerFunc {
	run := pick(s.cfg.Engine)
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.parseForm(w, r) {
			return
		}
		pb, err := run(r.Context(), chi.URLParam(r, "playbook_id"), r.PostFormValue("change_summary"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		redirect(w, r, playbookURL(pb.ID))
	}
}

func (s *server) versionsPage(w http.ResponseWriter, r *http.Request) {
	vs, err := s.cfg.Engine.Playbooks.ListVersions(r.Context(), chi.URLParam(r, "playbook_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, vs)
}

func (s *server) playbookExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	data, name, err := s.cfg.Engine.Playbooks.ExportBytes(r.Context(), chi.URLParam(r, "playbook_id"), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ct := "application/json"
	if format == "yaml" {
		ct = "application/yaml"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write(data)
}

func (s *server) flowPage(w http.ResponseWriter, r *http.Request) {
	d, err := s.cfg.Engine.Artifacts.GenerateFlowData(r.Context(), chi.URLParam(r, "playbook_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, d)
}

// Wizard

func (s *server) wizardStep1Page(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	var step1 validate.PlaybookFields
	if err := session.GetJSON(r.Context(), s.cfg.Sessions, sid, session.KeyWizardStep1, &step1); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, map[string]any{"step": 1, "step1": step1})
}

func (s *server) wizardStep1Submit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	f := playbookForm(r)
	res, err := s.cfg.Engine.Playbooks.ValidateStep1(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Valid() {
		invalid(w, r, res)
		return
	}
	f.Normalize()
	sid := s.sessionID(w, r)
	if err := session.PutJSON(r.Context(), s.cfg.Sessions, sid, session.KeyWizardStep1, f, s.cfg.SessionTTL); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, "/playbooks/create/step2/")
}

// staged loads the wizard state; ok is false when step 1 has not been completed.
func (s *server) staged(r *http.Request, sid string) (engine.WizardInput, bool, error) {
	var in engine.WizardInput
	err := session.GetJSON(r.Context(), s.cfg.Sessions, sid, session.KeyWizardStep1, &in.Step1)
	if errors.Is(err, session.ErrNotFound) {
		return in, false, nil
	}
	if err != nil {
		return in, false, err
	}
	err = session.GetJSON(r.Context(), s.cfg.Sessions, sid, session.KeyWizardWorkflows, &in.Step2)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return in, false, err
	}
	return in, true, nil
}

func (s *server) wizardStep2Page(w http.ResponseWriter, r *http.Request) {
	in, ok, err := s.staged(r, s.sessionID(w, r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		redirect(w, r, "/playbooks/create/")
		return
	}
	s.render(w, r, map[string]any{"step": 2, "step1": in.Step1, "workflows": in.Step2})
}

func wizardWorkflows(r *http.Request) []validate.WorkflowFields {
	names := r.PostForm["workflow_name"]
	descs := r.PostForm["workflow_description"]
	drafts := []validate.WorkflowFields{}
	for i, name := range names {
		desc := ""
		if i < len(descs) {
			desc = descs[i]
		}
		if strings.TrimSpace(name) == "" && strings.TrimSpace(desc) == "" {
			continue
		}
		drafts = append(drafts, validate.WorkflowFields{Name: name, Description: desc})
	}
	return drafts
}

func (s *server) wizardStep2Submit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	sid := s.sessionID(w, r)
	if _, ok, err := s.staged(r, sid); err != nil || !ok {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		redirect(w, r, "/playbooks/create/")
		return
	}
	drafts := wizardWorkflows(r)
	if res := s.cfg.Engine.Playbooks.ValidateStep2(drafts); !res.Valid() {
		invalid(w, r, res)
		return
	}
	for i := range drafts {
		drafts[i].Normalize()
	}
	ctx := r.Context()
	if err := session.PutJSON(ctx, s.cfg.Sessions, sid, session.KeyWizardWorkflows, drafts, s.cfg.SessionTTL); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := session.PutJSON(ctx, s.cfg.Sessions, sid, session.KeyWizardStep2, wizardStep2{WorkflowCount: len(drafts)}, s.cfg.SessionTTL); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, "/playbooks/create/step3/")
}

func (s *server) step2Done(r *http.Request, sid string) (bool, error) {
	var st wizardStep2
	err := session.GetJSON(r.Context(), s.cfg.Sessions, sid, session.KeyWizardStep2, &st)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *server) wizardStep3Page(w http.ResponseWriter, r *http.Request) {
	sid := s.sessionID(w, r)
	in, ok, err := s.staged(r, sid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		redirect(w, r, "/playbooks/create/")
		return
	}
	done, err := s.step2Done(r, sid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !done {
		redirect(w, r, "/playbooks/create/step2/")
		return
	}
	s.render(w, r, map[string]any{"step": 3, "step1": in.Step1, "workflows": in.Step2})
}

func (s *server) wizardStep3Submit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	sid := s.sessionID(w, r)
	in, ok, err := s.staged(r, sid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		redirect(w, r, "/playbooks/create/")
		return
	}
	if done, err := s.step2Done(r, sid); err != nil || !done {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		redirect(w, r, "/playbooks/create/step2/")
		return
	}
	publish := validate.PublishFields{Status: domain.Status(strings.TrimSpace(r.PostFormValue("status")))}
	if res := s.cfg.Engine.Playbooks.ValidateStep3(publish); !res.Valid() {
		invalid(w, r, res)
		return
	}
	in.Step3 = &publish
	res, err := s.cfg.Engine.Playbooks.CreateFromWizard(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := session.ClearWizard(r.Context(), s.cfg.Sessions, sid); err != nil {
		s.log.For(r.Context()).Warn("clear wizard state failed", "error", err)
	}
	s.flash(w, r, "Playbook "+res.Playbook.Name+" created.")
	redirect(w, r, playbookURL(res.Playbook.ID))
}

func (s *server) wizardCancel(w http.ResponseWriter, r *http.Request) {
	if err := session.ClearWizard(r.Context(), s.cfg.Sessions, s.sessionID(w, r)); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, safePath)
}

// Workflows

func (s *server) scopedWorkflow(r *http.Request) (domain.Workflow, error) {
	wf, err := s.cfg.Engine.Workflows.Get(r.Context(), chi.URLParam(r, "workflow_id"))
	if err != nil {
		return wf, err
	}
	if wf.PlaybookID != chi.URLParam(r, "playbook_id") {
		return wf, notInPlaybook("workflow")
	}
	return wf, nil
}

func (s *server) workflowCreate(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	f, err := workflowForm(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.cfg.Engine.Workflows.Create(r.Context(), chi.URLParam(r, "playbook_id"), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, workflowURL(wf))
}

func (s *server) workflowPage(w http.ResponseWriter, r *http.Request) {
	wf, err := s.scopedWorkflow(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	acts, err := s.cfg.Engine.Activities.List(r.Context(), wf.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, map[string]any{"workflow": wf, "activities": acts})
}

func (s *server) workflowEdit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.scopedWorkflow(r); err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := workflowForm(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.cfg.Engine.Workflows.Update(r.Context(), chi.URLParam(r, "workflow_id"), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, workflowURL(wf))
}

func (s *server) workflowDelete(w http.ResponseWriter, r *http.Request) {
	wf, err := s.scopedWorkflow(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cfg.Engine.Workflows.Delete(r.Context(), wf.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, playbookURL(wf.PlaybookID))
}

func (s *server) workflowDuplicate(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.scopedWorkflow(r); err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.cfg.Engine.Workflows.Duplicate(r.Context(), chi.URLParam(r, "workflow_id"), r.PostFormValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, workflowURL(wf))
}

// Activities

func (s *server) scopedActivity(r *http.Request) (domain.Activity, error) {
	a, err := s.cfg.Engine.Activities.Get(r.Context(), chi.URLParam(r, "activity_id"))
	if err != nil {
		return a, err
	}
	if a.WorkflowID != chi.URLParam(r, "workflow_id") || a.PlaybookID != chi.URLParam(r, "playbook_id") {
		return a, notInPlaybook("activity")
	}
	return a, nil
}

func (s *server) activityCreate(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.scopedWorkflow(r); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := activityForm(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.cfg.Engine.Activities.Create(r.Context(), chi.URLParam(r, "workflow_id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, activityURL(a))
}

func (s *server) activityPage(w http.ResponseWriter, r *http.Request) {
	a, err := s.scopedActivity(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	inputs, err := s.cfg.Engine.Artifacts.ListInputs(ctx, a.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	available, err := s.cfg.Engine.Artifacts.AvailableInputs(ctx, a.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, map[string]any{"activity": a, "inputs": inputs, "available_inputs": available})
}

func (s *server) activityEdit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	if _, err := s.scopedActivity(r); err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := activityForm(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.cfg.Engine.Activities.Update(r.Context(), chi.URLParam(r, "activity_id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, activityURL(a))
}

func (s *server) activityDelete(w http.ResponseWriter, r *http.Request) {
	a, err := s.scopedActivity(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cfg.Engine.Activities.Delete(r.Context(), a.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, playbookURL(a.PlaybookID)+"workflows/"+a.WorkflowID+"/")
}

func (s *server) activityBulkInputs(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	a, err := s.scopedActivity(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ids := r.PostForm["artifact_ids"]
	if len(ids) == 0 {
		invalid(w, r, validate.FieldFailure("artifact_ids", validate.KindFieldInvalid, "Select at least one artifact.").Result)
		return
	}
	res, err := s.cfg.Engine.Artifacts.BulkAddInputs(r.Context(), a.ID, ids, formBool(r, "all_required"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(w, r, res.Warnings...)
	redirect(w, r, activityURL(a))
}

func (s *server) activityCopyInputs(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	a, err := s.scopedActivity(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.cfg.Engine.Artifacts.CopyInputs(r.Context(), a.ID, strings.TrimSpace(r.PostFormValue("source_activity_id")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(w, r, res.Warnings...)
	redirect(w, r, activityURL(a))
}

// Artifacts

func (s *server) artifactListPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	xs, err := s.cfg.Engine.Artifacts.List(r.Context(), repo.ArtifactFilters{
		PlaybookID:   chi.URLParam(r, "playbook_id"),
		WorkflowID:   q.Get("workflow_id"),
		ProducedByID: q.Get("produced_by"),
		Type:         domain.ArtifactType(q.Get("type")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, xs)
}

func (s *server) artifactCreate(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	producerID := strings.TrimSpace(r.PostFormValue("produced_by"))
	if producerID == "" {
		invalid(w, r, validate.FieldFailure("produced_by", validate.KindInvalidReference, "Choose the activity that produces this artifact.").Result)
		return
	}
	producer, err := s.cfg.Engine.Activities.Get(r.Context(), producerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if producer.PlaybookID != chi.URLParam(r, "playbook_id") {
		invalid(w, r, validate.FieldFailure("produced_by", validate.KindInvalidReference, "The producer must belong to this playbook.").Result)
		return
	}
	x, err := s.cfg.Engine.Artifacts.Create(r.Context(), producer.ID, artifactForm(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, artifactURL(x.ID))
}

func (s *server) artifactPage(w http.ResponseWriter, r *http.Request) {
	chain, err := s.cfg.Engine.Artifacts.FlowChain(r.Context(), chi.URLParam(r, "artifact_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, chain)
}

func (s *server) artifactEdit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	x, err := s.cfg.Engine.Artifacts.Update(r.Context(), chi.URLParam(r, "artifact_id"), engine.ArtifactUpdate{
		ArtifactFields: artifactForm(r),
		ProducedByID:   strings.TrimSpace(r.PostFormValue("produced_by")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, artifactURL(x.ID))
}

func (s *server) artifactDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	x, err := s.cfg.Engine.Artifacts.Get(ctx, chi.URLParam(r, "artifact_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cfg.Engine.Artifacts.Delete(ctx, x.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, playbookURL(x.PlaybookID)+"artifacts/")
}

func (s *server) artifactAddConsumer(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	id := chi.URLParam(r, "artifact_id")
	res, err := s.cfg.Engine.Artifacts.AddConsumer(r.Context(), id, strings.TrimSpace(r.PostFormValue("activity_id")), formBool(r, "is_required"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.flash(w, r, res.Warnings...)
	redirect(w, r, artifactURL(id))
}

func (s *server) artifactRemoveConsumer(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Engine.Artifacts.RemoveConsumer(r.Context(), chi.URLParam(r, "input_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, artifactURL(chi.URLParam(r, "artifact_id")))
}

func (s *server) artifactTemplateUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		invalid(w, r, validate.FieldFailure("file", validate.KindFieldInvalid, "Upload the template as multipart form data.").Result)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		invalid(w, r, validate.FieldFailure("file", validate.KindFieldInvalid, "Choose a template file.").Result)
		return
	}
	defer file.Close()
	id := chi.URLParam(r, "artifact_id")
	if _, err := s.cfg.Engine.Artifacts.AttachTemplate(r.Context(), id, header.Filename, file); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, artifactURL(id))
}

func (s *server) artifactTemplateDownload(w http.ResponseWriter, r *http.Request) {
	rc, x, err := s.cfg.Engine.Artifacts.OpenTemplate(r.Context(), chi.URLParam(r, "artifact_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()
	name := filepath.Base(x.TemplateFile)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		s.log.For(r.Context()).Warn("stream template failed", "artifact_id", x.ID, "error", err)
	}
}
