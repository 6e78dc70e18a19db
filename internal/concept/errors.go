package concept

import (
	"errors"
	"fmt"

	"github.com/roach88/classwatch/internal/ir"
)

var (
	// ErrNotFound is returned for unknown providers, actions and queries.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery is returned when a query name lacks the "_" prefix.
	ErrInvalidQuery = errors.New("query names must start with '_'")

	// ErrInvalidInput is returned when input violates the declared args.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDefinition is returned when an operation table is malformed.
	ErrDefinition = errors.New("invalid provider definition")
)

// OperationError reports a failed dispatch of Provider.Operation.
type OperationError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Provider, e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// InputError carries every schema violation found in an input map.
type InputError struct {
	Violations []ir.ValidationError
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidInput, ir.JoinValidationErrors(e.Violations))
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func opError(provider, operation string, err error) error {
	return &OperationError{Provider: provider, Operation: operation, Err: err}
}
