package engine

import (
	"slices"

	"github.com/roach88/classwatch/internal/ir"
)

// Frame is one rule's view of a flow during one evaluation pass: the pass
// snapshot of the flow's records plus a variable-binding environment.
//
// The snapshot is shared by every rule in the pass and must not be modified;
// the environment belongs to one rule evaluation.
type Frame struct {
	flow    string
	records []ir.ActionRecord
	vars    map[string]ir.IRValue
}

func newFrame(flow string, records []ir.ActionRecord) *Frame {
	return &Frame{flow: flow, records: records, vars: make(map[string]ir.IRValue)}
}

// NewFrame builds a detached frame over records. Used to exercise guards and
// effect producers in isolation.
func NewFrame(flow string, records []ir.ActionRecord) *Frame {
	return newFrame(flow, slices.Clone(records))
}

// Flow returns the flow token.
func (f *Frame) Flow() string { return f.flow }

// Records returns the snapshot in append order.
func (f *Frame) Records() []ir.ActionRecord { return f.records }

// Last returns the most recent record of provider.operation in the snapshot.
func (f *Frame) Last(provider, operation string) (ir.ActionRecord, bool) {
	for i := len(f.records) - 1; i >= 0; i-- {
		rec := f.records[i]
		if rec.Provider == provider && rec.Operation == operation {
			return rec, true
		}
	}
	return ir.ActionRecord{}, false
}

// Bind sets a variable, replacing any earlier binding.
func (f *Frame) Bind(name string, v ir.IRValue) {
	if v == nil {
		v = ir.IRNull{}
	}
	f.vars[name] = v
}

// Lookup returns a bound variable.
func (f *Frame) Lookup(name string) (ir.IRValue, bool) {
	v, ok := f.vars[name]
	return v, ok
}

// Get returns a bound variable, or null when unbound.
func (f *Frame) Get(name string) ir.IRValue {
	if v, ok := f.vars[name]; ok {
		return v
	}
	return ir.IRNull{}
}

// String returns a bound string variable, or "" when unbound or not a string.
func (f *Frame) String(name string) string {
	s, _ := f.vars[name].(ir.IRString)
	return string(s)
}

// Vars returns a copy of the binding environment.
func (f *Frame) Vars() ir.IRObject {
	out := make(ir.IRObject, len(f.vars))
	for k, v := range f.vars {
		out[k] = v
	}
	return out
}
