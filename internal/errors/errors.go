// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNoConnectedInstance is recorded on rows whose owner has no usable channel instance.
var ErrNoConnectedInstance = errors.New("no connected channel instance")

// ErrOwnerRequired is returned when a tenant-scoped call has no owner.
var ErrOwnerRequired = errors.New("owner id is required")

// NotFoundError reports a missing (or foreign-tenant) entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Kind, e.ID)
}

// Helper constructors
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func NewCampaignNotFound(id string) error {
	return NewNotFound("campaign", id)
}

func NewScheduledSendNotFound(id string) error {
	return NewNotFound("scheduled send", id)
}

// InvalidTransitionError is returned when a status change is not allowed
// from the entity's current status.
type InvalidTransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Kind, e.ID, e.From, e.To)
}

func NewInvalidTransition(kind, id, from, to string) error {
	return &InvalidTransitionError{Kind: kind, ID: id, From: from, To: to}
}

// ValidationError describes a rejected producer input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
