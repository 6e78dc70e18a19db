package engine

import (
	"maps"
	"slices"

	"github.com/roach88/classwatch/internal/ir"
)

// match tests every when-pattern against the frame's snapshot, binding
// variables as it goes. All patterns must match (logical AND), each against
// the most recent record of its own provider+operation.
//
// A failed match may leave partial bindings; callers discard the frame.
func (f *Frame) match(patterns []WhenPattern) bool {
	for _, p := range patterns {
		if !f.matchPattern(p) {
			return false
		}
	}
	return true
}

func (f *Frame) matchPattern(p WhenPattern) bool {
	rec, ok := f.Last(p.Provider, p.Operation)
	if !ok || rec.Output == nil {
		return false
	}

	// Sorted so a variable bound by two terms resolves the same way every pass.
	for _, key := range slices.Sorted(maps.Keys(p.Input)) {
		term := p.Input[key]
		actual, present := rec.Input[key]
		if !present {
			actual = ir.IRNull{}
		}
		if term.bind {
			f.Bind(term.name, actual)
			continue
		}
		if !ir.Equal(term.value, actual) {
			return false
		}
	}

	for _, key := range slices.Sorted(maps.Keys(p.Output)) {
		name := p.Output[key]
		v, present := rec.Output[key]
		if !present {
			return false
		}
		f.Bind(name, v)
	}
	return true
}
