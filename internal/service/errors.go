package service

import (
	"errors"
	"fmt"
	"strings"

	"pos-service/internal/store"
)

var (
	// ErrValidation is matched by every input rejection
	ErrValidation = errors.New("validation failed")

	ErrEmptyBasket       = errors.New("order must contain at least one item")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrDuplicateProduct  = errors.New("product appears more than once in the order")
	ErrProductNotFound   = errors.New("product not found")
	ErrMissingPrice      = errors.New("product has no selling price")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound is returned for unknown order, product or category ids
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a concurrent update or a referencing row
	// blocks the operation; the caller may retry
	ErrConflict = errors.New("conflict")
	// ErrPersistence is returned when storage fails
	ErrPersistence = errors.New("persistence failure")
)

// InsufficientStockError reports a basket line asking for more than is
// available.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Violation is one rejected input field
type Violation struct {
	Field string
	Err   error
}

func (v Violation) Error() string {
	return v.Field + ": " + v.Err.Error()
}

// ValidationError carries every violation found in one request. It matches
// ErrValidation and each violation's error.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Violations)+1)
	errs = append(errs, ErrValidation)
	for _, v := range e.Violations {
		errs = append(errs, v.Err)
	}
	return errs
}

// Fields groups violation messages by field name
func (e *ValidationError) Fields() map[string][]string {
	fields := make(map[string][]string, len(e.Violations))
	for _, v := range e.Violations {
		fields[v.Field] = append(fields[v.Field], v.Err.Error())
	}
	return fields
}

func invalid(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// storeError maps store sentinels onto the service taxonomy
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrPersistence):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrSerialization):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}
