// Package auth decides what the current user may do with a playbook.
package auth

import (
	"context"
	"errors"
	"fmt"

	"playbooks/internal/domain"
	"playbooks/internal/reqctx"
)

var (
	ErrUnauthenticated   = errors.New("no current user")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrReleasedImmutable = errors.New("playbook is released and cannot be modified")
)

type Reason string

const (
	ReasonNotOwner   Reason = "not_owner"
	ReasonDownloaded Reason = "downloaded"
	ReasonDisabled   Reason = "disabled"
	ReasonImmutable  Reason = "immutable"
)

// ForbiddenError indicates the caller may not perform an action on a playbook.
type ForbiddenError struct {
	Reason     Reason
	PlaybookID string
	Status     domain.Status
}

func (e ForbiddenError) Error() string {
	switch e.Reason {
	case ReasonImmutable:
		return fmt.Sprintf("playbook %s is %s and cannot be modified", e.PlaybookID, e.Status)
	case ReasonDownloaded:
		return fmt.Sprintf("playbook %s was imported and is read-only", e.PlaybookID)
	case ReasonDisabled:
		return fmt.Sprintf("playbook %s is disabled", e.PlaybookID)
	}
	return fmt.Sprintf("you do not own playbook %s", e.PlaybookID)
}

// Is matches ErrPermissionDenied for every reason and ErrReleasedImmutable for immutable playbooks.
func (e ForbiddenError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return true
	case ErrReleasedImmutable:
		return e.Reason == ReasonImmutable
	}
	return false
}

// Caller returns the user bound to the request.
func Caller(ctx context.Context) (string, error) {
	id, ok := reqctx.UserID(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// CanView allows the author only; visibility levels are labels.
func CanView(pb domain.Playbook, userID string) error {
	if !pb.IsOwnedBy(userID) {
		return ForbiddenError{Reason: ReasonNotOwner, PlaybookID: pb.ID, Status: pb.Status}
	}
	return nil
}

// CanEdit guards structural and metadata edits.
func CanEdit(pb domain.Playbook, userID string) error {
	if err := CanView(pb, userID); err != nil {
		return err
	}
	if pb.IsImmutable() {
		return ForbiddenError{Reason: ReasonImmutable, PlaybookID: pb.ID, Status: pb.Status}
	}
	if pb.Source != domain.SourceOwned {
		return ForbiddenError{Reason: ReasonDownloaded, PlaybookID: pb.ID, Status: pb.Status}
	}
	if !pb.CanEdit(userID) {
		return ForbiddenError{Reason: ReasonDisabled, PlaybookID: pb.ID, Status: pb.Status}
	}
	return nil
}

// CanManage guards lifecycle actions (status changes, delete, export) that stay open after release.
func CanManage(pb domain.Playbook, userID string) error {
	return CanView(pb, userID)
}
