package engine

import (
	"context"
	"time"

	"github.com/roach88/classwatch/internal/ir"
)

// CascadeStats summarizes one fixpoint evaluation.
//
// Passes counts every evaluation pass, including the last one that queued
// nothing and so confirmed the fixpoint. Productive excludes it: a cascade
// that halts within k passes reports Productive <= k and Passes ==
// Productive+1. A pass cut short by the step quota counts in Passes only.
type CascadeStats struct {
	Passes       int   // Passes run, including the final empty one
	Productive   int   // Passes that queued at least one effect
	Fired        int   // Effects dispatched successfully
	Deduplicated int   // Effects skipped because their key already fired
	Failed       int   // Effects that could not be keyed or dispatched
	Err          error // *StepsExceededError when the quota stopped the cascade
}

// Observer receives engine events for metrics. Implementations must be safe
// for concurrent use and must not call back into the engine.
type Observer interface {
	// Dispatched is called after every dispatch attempt.
	Dispatched(provider, operation string, elapsed time.Duration, err error)

	// RuleFired is called once per effect a rule queued.
	RuleFired(rule string)

	// RuleDeduplicated is called once per effect skipped as already emitted.
	RuleDeduplicated(rule string)

	// EffectFailed is called when a queued effect fails to dispatch.
	EffectFailed(rule string, err error)

	// CascadeFinished is called when a flow reaches its fixpoint or stops.
	CascadeFinished(flow string, stats CascadeStats)
}

// Recorder receives appended records and firings for audit export.
// Errors are logged by the engine and never affect evaluation.
type Recorder interface {
	RecordAction(ctx context.Context, rec ir.ActionRecord) error
	RecordFiring(ctx context.Context, f ir.Firing) error
}

type nopObserver struct{}

func (nopObserver) Dispatched(string, string, time.Duration, error) {}
func (nopObserver) RuleFired(string)                                {}
func (nopObserver) RuleDeduplicated(string)                         {}
func (nopObserver) EffectFailed(string, error)                      {}
func (nopObserver) CascadeFinished(string, CascadeStats)            {}
