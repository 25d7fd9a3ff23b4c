// Package validate holds the field and cross-entity rules applied before every write.
package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"playbooks/internal/domain"
)

type PlaybookFields struct {
	Name        string            `json:"name" validate:"required,min=3,max=100"`
	Description string            `json:"description" validate:"min=10,max=500"`
	Category    domain.Category   `json:"category" validate:"required,oneof=product development research design management other"`
	Tags        []string          `json:"tags" validate:"dive,required,max=50"`
	Visibility  domain.Visibility `json:"visibility" validate:"required,oneof=private family local_only"`
}

func (f *PlaybookFields) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	f.Category = domain.Category(strings.TrimSpace(string(f.Category)))
	f.Visibility = domain.Visibility(strings.TrimSpace(string(f.Visibility)))
	if f.Visibility == "" {
		f.Visibility = domain.VisibilityPrivate
	}
	tags := make([]string, len(f.Tags))
	for i, t := range f.Tags {
		tags[i] = strings.TrimSpace(t)
	}
	f.Tags = tags
}

type WorkflowFields struct {
	Name        string `json:"name" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"min=10,max=2000"`
	// Order 0 means append after the last workflow.
	Order int `json:"order" validate:"min=0"`
}

func (f *WorkflowFields) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
}

type ActivityFields struct {
	Name     string `json:"name" validate:"required,max=200"`
	Guidance string `json:"guidance"`
	Phase    string `json:"phase" validate:"max=100"`
	Order    int    `json:"order" validate:"min=0"`
}

func (f *ActivityFields) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Phase = strings.TrimSpace(f.Phase)
}

type ArtifactFields struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Description string              `json:"description" validate:"max=2000"`
	Type        domain.ArtifactType `json:"type" validate:"required,oneof=Document Template Code Diagram Data Other"`
	IsRequired  bool                `json:"is_required"`
}

func (f *ArtifactFields) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	if f.Type == "" {
		f.Type = domain.ArtifactDocument
	}
}

// PublishFields are the wizard's step-3 settings.
type PublishFields struct {
	Status domain.Status `json:"status" validate:"required,oneof=draft active released"`
}

type UserFields struct {
	Username    string `json:"username" validate:"required,min=3,max=150,excludesall= /\\"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

func (f *UserFields) Normalize() {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
	f.DisplayName = strings.TrimSpace(f.DisplayName)
}

// NameProbe reports whether name is already taken in the relevant scope.
type NameProbe func(ctx context.Context, name string) (bool, error)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Fields runs the struct-tag rules only.
func (v *Validator) Fields(s any) Result {
	var r Result
	err := v.v.Struct(s)
	if err == nil {
		return r
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		r.Add("__all__", KindFieldInvalid, err.Error())
		return r
	}
	for _, fe := range verrs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i >= 0 {
			field = field[:i]
		}
		r.Add(field, kindFor(field), messageFor(field, fe))
	}
	return r
}

func kindFor(field string) Kind {
	switch field {
	case "name", "username":
		return KindNameInvalid
	case "description", "guidance":
		return KindDescriptionInvalid
	case "category":
		return KindCategoryInvalid
	case "tags":
		return KindTagsInvalid
	case "visibility":
		return KindVisibilityInvalid
	case "type":
		return KindTypeInvalid
	case "status":
		return KindStatusInvalid
	case "order":
		return KindOrderInvalid
	}
	return KindFieldInvalid
}

func messageFor(field string, fe validator.FieldError) string {
	if field == "tags" {
		return "Tags must be non-empty and at most 50 characters each."
	}
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "oneof":
		return fmt.Sprintf("Select a valid choice. %q is not one of: %s.", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	}
	return "Enter a valid value."
}

func (v *Validator) check(ctx context.Context, fields any, taken NameProbe, name, duplicate string) (Result, error) {
	r := v.Fields(fields)
	if _, bad := r.Errors["name"]; bad || taken == nil {
		return r, nil
	}
	exists, err := taken(ctx, name)
	if err != nil {
		return r, err
	}
	if exists {
		r.Add("name", KindNameDuplicate, duplicate)
	}
	return r, nil
}

func (v *Validator) Playbook(ctx context.Context, f PlaybookFields, taken NameProbe) (Result, error) {
	return v.check(ctx, f, taken, f.Name, "You already have a playbook with this name.")
}

func (v *Validator) Workflow(ctx context.Context, f WorkflowFields, taken NameProbe) (Result, error) {
	return v.check(ctx, f, taken, f.Name, "A workflow with this name already exists in this playbook.")
}

func (v *Validator) Activity(ctx context.Context, f ActivityFields, taken NameProbe) (Result, error) {
	return v.check(ctx, f, taken, f.Name, "An activity with this name already exists in this workflow.")
}

func (v *Validator) Artifact(ctx context.Context, f ArtifactFields, taken NameProbe) (Result, error) {
	return v.check(ctx, f, taken, f.Name, "An artifact with this name already exists in this playbook.")
}

// Duplicate is the error reported when a unique constraint fires after validation passed.
func Duplicate(entity string) *Error {
	return FieldFailure("name", KindNameDuplicate, fmt.Sprintf("A %s with this name already exists.", entity))
}

// ActivityLinks checks that predecessor and successor stay inside the activity's workflow.
func ActivityLinks(selfID, workflowID string, pred, succ *domain.Activity) Result {
	var r Result
	for _, link := range []struct {
		field string
		act   *domain.Activity
	}{{"predecessor", pred}, {"successor", succ}} {
		if link.act == nil {
			continue
		}
		switch {
		case selfID != "" && link.act.ID == selfID:
			r.Add(link.field, KindInvalidReference, "An activity cannot reference itself.")
		case link.act.WorkflowID != workflowID:
			r.Add(link.field, KindCrossWorkflowReference, fmt.Sprintf("The %s must belong to the same workflow.", link.field))
		}
	}
	if pred != nil && succ != nil && pred.ID == succ.ID {
		r.Add("successor", KindInvalidReference, "Predecessor and successor must differ.")
	}
	return r
}

// Producer checks that the producing activity belongs to the artifact's playbook.
func Producer(playbookID string, producer domain.Activity) Result {
	var r Result
	if producer.PlaybookID != playbookID {
		r.Add("produced_by", KindInvalidReference, "The producing activity must belong to the same playbook.")
	}
	return r
}

// WizardWorkflows validates step-2 drafts, including name uniqueness inside the batch.
// Names compare exactly, like the store's (playbook, name) constraint.
func (v *Validator) WizardWorkflows(drafts []WorkflowFields) Result {
	var r Result
	seen := map[string]int{}
	for i, d := range drafts {
		d.Normalize()
		prefix := fmt.Sprintf("workflows[%d]", i)
		r.Merge(prefix, v.Fields(d))
		if _, bad := r.Errors[prefix+".name"]; bad {
			continue
		}
		if first, dup := seen[d.Name]; dup {
			r.Add(prefix+".name", KindNameDuplicate, fmt.Sprintf("Duplicates the name of workflow %d.", first+1))
			continue
		}
		seen[d.Name] = i
	}
	return r
}

func (v *Validator) User(ctx context.Context, f UserFields, taken NameProbe) (Result, error) {
	r := v.Fields(f)
	if _, bad := r.Errors["username"]; bad || taken == nil {
		return r, nil
	}
	exists, err := taken(ctx, f.Username)
	if err != nil {
		return r, err
	}
	if exists {
		r.Add("username", KindNameDuplicate, "A user with that username already exists.")
	}
	return r, nil
}

func (v *Validator) Publish(f PublishFields) Result {
	return v.Fields(f)
}
