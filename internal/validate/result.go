package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindNameInvalid            Kind = "name_invalid"
	KindNameDuplicate          Kind = "name_duplicate"
	KindDescriptionInvalid     Kind = "description_invalid"
	KindCategoryInvalid        Kind = "category_invalid"
	KindTagsInvalid            Kind = "tags_invalid"
	KindVisibilityInvalid      Kind = "visibility_invalid"
	KindTypeInvalid            Kind = "type_invalid"
	KindStatusInvalid          Kind = "status_invalid"
	KindOrderInvalid           Kind = "order_invalid"
	KindFieldInvalid           Kind = "field_invalid"
	KindCrossWorkflowReference Kind = "cross_workflow_reference"
	KindDuplicateInput         Kind = "duplicate_input"
	KindCircularDependency     Kind = "circular_dependency"
	KindInvalidReference       Kind = "invalid_reference"
)

// ErrValidation matches every *Error.
var ErrValidation = errors.New("validation failed")

type FieldError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of validating one write: field errors block it, warnings do not.
type Result struct {
	Errors   map[string]FieldError
	Warnings []string
}

// Add records a field error. The first error per field wins.
func (r *Result) Add(field string, kind Kind, message string) {
	if r.Errors == nil {
		r.Errors = map[string]FieldError{}
	}
	if _, ok := r.Errors[field]; ok {
		return
	}
	r.Errors[field] = FieldError{Kind: kind, Message: message}
}

func (r *Result) Warn(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Merge copies other's errors under prefix and appends its warnings.
func (r *Result) Merge(prefix string, other Result) {
	for field, fe := range other.Errors {
		if prefix != "" {
			field = prefix + "." + field
		}
		r.Add(field, fe.Kind, fe.Message)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Messages flattens errors to field -> message.
func (r Result) Messages() map[string]string {
	out := make(map[string]string, len(r.Errors))
	for field, fe := range r.Errors {
		out[field] = fe.Message
	}
	return out
}

func (r Result) Kind(field string) Kind {
	return r.Errors[field].Kind
}

// Err returns nil for a valid result, otherwise an *Error.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &Error{Result: r}
}

func (r Result) MarshalJSON() ([]byte, error) {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return json.Marshal(struct {
		Valid    bool              `json:"valid"`
		Errors   map[string]string `json:"errors"`
		Warnings []string          `json:"warnings"`
	}{r.Valid(), r.Messages(), warnings})
}

type Error struct {
	Result Result
}

func (e *Error) Error() string {
	fields := make([]string, 0, len(e.Result.Errors))
	for f := range e.Result.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Result.Errors[f].Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrValidation
}

// Field returns the error recorded for field.
func (e *Error) Field(field string) (FieldError, bool) {
	fe, ok := e.Result.Errors[field]
	return fe, ok
}

// FieldFailure builds a one-field *Error.
func FieldFailure(field string, kind Kind, message string) *Error {
	var r Result
	r.Add(field, kind, message)
	return &Error{Result: r}
}

// KindOf extracts the kind recorded for field from err, or "".
func KindOf(err error, field string) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Result.Kind(field)
	}
	return ""
}
