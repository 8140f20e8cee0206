package services

import (
	"errors"
	"fmt"

	"emsdispatch/internal/models"
)

// Expected, recoverable-by-caller failures. Anything else coming out of the
// service is a wrapped persistence or transport fault and should be treated as
// retryable by callers.
var (
	ErrRequestNotFound   = errors.New("ems request not found")
	ErrAlreadyAssigned   = errors.New("ems request already has a responder")
	ErrActorBusy         = errors.New("actor already has an active ems request")
	ErrForbidden         = errors.New("actor is not allowed to perform this operation")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvalidTransitionError reports the attempted and current status so the
// caller can resynchronize its view. errors.Is(err, ErrInvalidTransition)
// matches it.
type InvalidTransitionError struct {
	From models.EMSStatus
	To   models.EMSStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition ems request from %q to %q", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
