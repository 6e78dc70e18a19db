package harness

import (
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

// TraceEvent is one record of the scenario flow.
type TraceEvent struct {
	Seq    int64       `json:"seq"`
	Action string      `json:"action"`
	Input  ir.IRObject `json:"input"`
	Output ir.IRObject `json:"output,omitempty"`
	// Rule names the rule whose effect produced the record; empty for
	// records invoked by a step.
	Rule string `json:"rule,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is the scenario flow's log in append order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Cascades holds the cascade statistics of each invoke step.
	Cascades []engine.CascadeStats `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func actionName(provider, operation string) string {
	return provider + "." + operation
}
