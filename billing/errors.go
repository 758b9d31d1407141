package billing

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNothingToBill is a no-op outcome of a billing run, not a fault.
	ErrNothingToBill = errors.New("nothing to bill")

	ErrDomainSubscribed = fmt.Errorf("%w: domain already has an active subscription", ErrConflict)
	ErrAlreadyBilled    = fmt.Errorf("%w: demand already billed", ErrConflict)
	ErrOpenDemands      = fmt.Errorf("%w: ticket still has open demands", ErrInvalidTransition)
)

// TransitionError reports an operation the entity's current status does not allow.
type TransitionError struct {
	Entity string
	From   string
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %q", e.Event, e.Entity, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

func notFound(entity string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return err
}
