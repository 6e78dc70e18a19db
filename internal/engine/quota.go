package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default maximum number of appends per flow.
const DefaultMaxSteps = 1000

// QuotaEnforcer counts appends to one flow and enforces a maximum.
//
// The emitted-set stops any effect from firing twice per flow, which ends
// cascades drawn from a finite set of keys. Rules whose effect inputs are
// unbounded (a counter in the input, a fresh handle per step) never repeat a
// key; the quota ends those.
//
// QuotaEnforcer is not synchronized; the engine guards it with its mutex.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check reserves one step and validates against the limit.
// A rejected step is not counted.
func (q *QuotaEnforcer) Check(flow string) error {
	if q.current >= q.maxSteps {
		return &StepsExceededError{Flow: flow, Steps: q.current + 1, Limit: q.maxSteps}
	}
	q.current++
	return nil
}

// Release returns a reserved step whose dispatch failed.
func (q *QuotaEnforcer) Release() {
	if q.current > 0 {
		q.current--
	}
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a flow exceeds the max steps quota.
//
// Unlike a duplicate effect (skipped silently), an exceeded quota stops the
// whole cascade.
type StepsExceededError struct {
	Flow  string // The flow that exceeded the quota
	Steps int    // Step that was refused
	Limit int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit",
		e.Flow, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
