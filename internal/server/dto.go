package server

import (
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/flow"
	"playbooks/internal/validate"
)

// Request payloads

type PlaybookRequest struct {
	Name        string   `json:"name" maxLength:"100"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" enum:"product,development,research,design,management,other"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty" enum:"private,family,local_only"`
}

func (r PlaybookRequest) fields() validate.PlaybookFields {
	return validate.PlaybookFields{
		Name:        r.Name,
		Description: r.Description,
		Category:    domain.Category(r.Category),
		Tags:        append([]string{}, r.Tags...),
		Visibility:  domain.Visibility(r.Visibility),
	}
}

type WizardRequest struct {
	Step1 PlaybookRequest   `json:"step1"`
	Step2 []WorkflowRequest `json:"step2,omitempty"`
	Step3 *PublishRequest   `json:"step3,omitempty"`
}

func (r WizardRequest) input() engine.WizardInput {
	in := engine.WizardInput{Step1: r.Step1.fields()}
	for _, w := range r.Step2 {
		in.Step2 = append(in.Step2, w.fields())
	}
	if r.Step3 != nil {
		in.Step3 = &validate.PublishFields{Status: domain.Status(r.Step3.Status)}
	}
	return in
}

type PublishRequest struct {
	Status string `json:"status" enum:"draft,active,released"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type ReleaseRequest struct {
	ChangeSummary string `json:"change_summary,omitempty"`
}

type WorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty" minimum:"0"`
}

func (r WorkflowRequest) fields() validate.WorkflowFields {
	return validate.WorkflowFields{Name: r.Name, Description: r.Description, Order: r.Order}
}

type ActivityRequest struct {
	Name          string `json:"name"`
	Guidance      string `json:"guidance,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Order         int    `json:"order,omitempty" minimum:"0"`
	PredecessorID string `json:"predecessor_id,omitempty"`
	SuccessorID   string `json:"successor_id,omitempty"`
}

func (r ActivityRequest) input() engine.ActivityInput {
	return engine.ActivityInput{
		ActivityFields: validate.ActivityFields{Name: r.Name, Guidance: r.Guidance, Phase: r.Phase, Order: r.Order},
		PredecessorID:  r.PredecessorID,
		SuccessorID:    r.SuccessorID,
	}
}

type ArtifactRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty" enum:"Document,Template,Code,Diagram,Data,Other"`
	IsRequired   bool   `json:"is_required,omitempty"`
	ProducedByID string `json:"produced_by_id,omitempty"`
}

func (r ArtifactRequest) fields() validate.ArtifactFields {
	return validate.ArtifactFields{Name: r.Name, Description: r.Description, Type: domain.ArtifactType(r.Type), IsRequired: r.IsRequired}
}

type ConsumerRequest struct {
	ActivityID string `json:"activity_id"`
	IsRequired bool   `json:"is_required,omitempty"`
}

type BulkInputsRequest struct {
	ArtifactIDs []string `json:"artifact_ids" minItems:"1"`
	AllRequired bool     `json:"all_required,omitempty"`
}

type CopyInputsRequest struct {
	SourceActivityID string `json:"source_activity_id"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

type OnboardingRequest struct {
	Action string `json:"action" enum:"advance,complete,reset"`
}

// Response payloads

type DevLoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type PlaybookTree struct {
	Playbook   domain.Playbook        `json:"playbook"`
	Workflows  []domain.Workflow      `json:"workflows"`
	Activities []domain.Activity      `json:"activities"`
	Artifacts  []domain.Artifact      `json:"artifacts"`
	Inputs     []domain.ArtifactInput `json:"inputs"`
}

func treeResponse(g domain.Graph) PlaybookTree {
	t := PlaybookTree{
		Playbook:   g.Playbook,
		Workflows:  g.Workflows,
		Activities: g.Activities,
		Artifacts:  g.Artifacts,
		Inputs:     g.Inputs,
	}
	if t.Workflows == nil {
		t.Workflows = []domain.Workflow{}
	}
	if t.Activities == nil {
		t.Activities = []domain.Activity{}
	}
	if t.Artifacts == nil {
		t.Artifacts = []domain.Artifact{}
	}
	if t.Inputs == nil {
		t.Inputs = []domain.ArtifactInput{}
	}
	return t
}

type FlowValidation struct {
	Valid    bool              `json:"valid"`
	Errors   map[string]string `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func flowValidation(r validate.Result) FlowValidation {
	out := FlowValidation{Valid: r.Valid(), Errors: r.Messages(), Warnings: r.Warnings}
	if out.Errors == nil {
		out.Errors = map[string]string{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out
}

type PlaybookOutput struct {
	Body domain.Playbook `json:"body"`
}

type PlaybookPageOutput struct {
	Body engine.PlaybookPage `json:"body"`
}

type WorkflowOutput struct {
	Body domain.Workflow `json:"body"`
}

type ActivityOutput struct {
	Body domain.Activity `json:"body"`
}

type ArtifactOutput struct {
	Body domain.Artifact `json:"body"`
}

type FlowDataOutput struct {
	Body flow.Data `json:"body"`
}
