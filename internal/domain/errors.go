package domain

import (
	"errors"
	"fmt"
	"strings"

	"seasonbook/internal/models"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrStatusTransition = errors.New("status transition error")
	ErrAvailability     = errors.New("availability error")
	ErrPriceCalculation = errors.New("price calculation error")
	ErrSystem           = errors.New("system error")

	// Persistence Gateway contract errors.
	ErrRecordNotFound         = errors.New("record not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateReference     = errors.New("duplicate booking reference")
)

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity    string
	ID        int64
	Reference string
}

func (e *NotFoundError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s %q not found", e.Entity, e.Reference)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StatusTransitionError covers illegal transitions, edits of terminal bookings
// and blocked pre-transition checks.
type StatusTransitionError struct {
	BookingID int64
	From      models.Status
	To        models.Status
	Reason    string
}

func (e *StatusTransitionError) Error() string {
	msg := fmt.Sprintf("booking %d: cannot move from %s to %s", e.BookingID, e.From, e.To)
	if e.To == "" {
		msg = fmt.Sprintf("booking %d: cannot modify booking in status %s", e.BookingID, e.From)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StatusTransitionError) Is(target error) bool { return target == ErrStatusTransition }

type AvailabilityError struct {
	Conflicts   []models.Conflict
	Suggestions []models.Suggestion
}

func (e *AvailabilityError) Error() string {
	if len(e.Conflicts) == 0 {
		return "requested window is not available"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.Message)
	}
	return "not available: " + strings.Join(parts, "; ")
}

func (e *AvailabilityError) Is(target error) bool { return target == ErrAvailability }

type PriceCalculationError struct {
	Reason string
	Err    error
}

func (e *PriceCalculationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price calculation: %s: %v", e.Reason, e.Err)
	}
	return "price calculation: " + e.Reason
}

func (e *PriceCalculationError) Is(target error) bool { return target == ErrPriceCalculation }

func (e *PriceCalculationError) Unwrap() error { return e.Err }

// SystemError hides infrastructure details from callers; Err keeps them for logs.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: internal error", e.Op)
}

func (e *SystemError) Is(target error) bool { return target == ErrSystem }

func (e *SystemError) Unwrap() error { return e.Err }

// IsExpected reports errors that callers act on directly instead of logging as failures.
func IsExpected(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStatusTransition) ||
		errors.Is(err, ErrAvailability) ||
		errors.Is(err, ErrConcurrentModification)
}

// FromStore maps a gateway error onto the taxonomy. Already typed errors and
// version conflicts pass through; anything else becomes a SystemError.
func FromStore(op, entity string, id int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, ErrConcurrentModification):
		return fmt.Errorf("%s %s %d: %w", op, entity, id, ErrConcurrentModification)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrStatusTransition),
		errors.Is(err, ErrAvailability), errors.Is(err, ErrPriceCalculation), errors.Is(err, ErrSystem):
		return err
	default:
		return &SystemError{Op: op, Err: err}
	}
}
