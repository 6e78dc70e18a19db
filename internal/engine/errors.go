package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSealed is returned by registration after the first Invoke or Query.
	ErrSealed = errors.New("engine sealed: registration closed after first use")

	// ErrDuplicate is returned when a provider or rule name is registered twice.
	ErrDuplicate = errors.New("duplicate registration")

	// ErrInvalidRule is returned for rules without a name, patterns or effect.
	ErrInvalidRule = errors.New("invalid rule")
)

// RuntimeError represents an error detected while evaluating a flow.
//
// Runtime errors include:
//   - Quota exceeded: flow exceeds the max steps limit
//   - Invalid effect: an effect input has no canonical form
//   - Effect failed: dispatching a fired effect returned an error
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Flow identifies the affected flow.
	Flow string

	// Rule identifies the rule whose effect failed.
	Rule string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates the flow exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeInvalidEffect indicates an effect input could not be keyed.
	ErrCodeInvalidEffect RuntimeErrorCode = "INVALID_EFFECT"

	// ErrCodeEffectFailed indicates a fired effect failed to dispatch.
	ErrCodeEffectFailed RuntimeErrorCode = "EFFECT_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.Flow != "" && e.Rule != "":
		return fmt.Sprintf("%s (flow=%s, rule=%s)", msg, e.Flow, e.Rule)
	case e.Flow != "":
		return fmt.Sprintf("%s (flow=%s)", msg, e.Flow)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) && re.Code == ErrCodeQuotaExceeded {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsEffectError returns true if the error came from a fired effect.
func IsEffectError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeEffectFailed || re.Code == ErrCodeInvalidEffect
	}
	return false
}

func newEffectError(code RuntimeErrorCode, flow, rule, message string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, Flow: flow, Rule: rule, Err: err}
}
