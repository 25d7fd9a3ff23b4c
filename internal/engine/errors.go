package engine

import (
	"context"
	"errors"
	"fmt"

	"playbooks/internal/engine/auth"
	"playbooks/internal/repo"
	"playbooks/internal/validate"
)

var (
	ErrNotFound          = repo.ErrNotFound
	ErrPermissionDenied  = auth.ErrPermissionDenied
	ErrReleasedImmutable = auth.ErrReleasedImmutable
	ErrUnauthenticated   = auth.ErrUnauthenticated
	ErrValidation        = validate.ErrValidation

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnavailable       = errors.New("store unavailable")
)

// Code classifies a failure for the surfaces.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodePermissionDenied  Code = "permission_denied"
	CodeReleasedImmutable Code = "released_immutable"
	CodeValidation        Code = "validation_error"
	CodeInvalidTransition Code = "invalid_transition"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeUnavailable       Code = "unavailable"
	CodeInternal          Code = "internal"
)

// ServiceError names the use case that failed.
type ServiceError struct {
	Op      string
	Code    Code
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// CodeOf maps err onto a Code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrReleasedImmutable):
		return CodeReleasedImmutable
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	}
	return CodeInternal
}

// fail wraps denials and transitions into a ServiceError; other errors pass through.
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	switch code := CodeOf(err); code {
	case CodePermissionDenied, CodeReleasedImmutable, CodeInvalidTransition, CodeUnauthenticated:
		return &ServiceError{Op: op, Code: code, Message: err.Error(), Err: err}
	}
	return err
}

// storeErr turns lock contention and deadlines into ErrUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrBusy) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
