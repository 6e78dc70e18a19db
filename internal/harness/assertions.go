package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/classwatch/internal/ir"
)

// AssertionError describes a failed assertion together with the trace it
// was checked against.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Action, display(ev.Input))
			if ev.Rule != "" {
				fmt.Fprintf(&buf, " (rule %s)", ev.Rule)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions checks each assertion against the result's trace and
// returns a message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceAbsent:
		return assertTraceAbsent(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		ok, err := eventMatches(ev, a)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceAbsent(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		ok, err := eventMatches(ev, a)
		if err != nil {
			return err
		}
		if ok {
			return &AssertionError{
				Type:     AssertTraceAbsent,
				Expected: "no " + describe(a),
				Actual:   fmt.Sprintf("found at seq %d", ev.Seq),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceOrder checks that the first occurrence of each action comes
// after the first occurrence of the one before it. Other records may
// appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int, len(a.Actions))
	for i, ev := range trace {
		if _, seen := first[ev.Action]; !seen {
			first[ev.Action] = i
		}
	}
	for _, action := range a.Actions {
		if _, ok := first[action]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all of %v", a.Actions),
				Actual:   "missing " + action,
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if first[prev] >= first[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual: fmt.Sprintf("%s (position %d) is not before %s (position %d)",
					prev, first[prev]+1, curr, first[curr]+1),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		ok, err := eventMatches(ev, a)
		if err != nil {
			return err
		}
		if ok {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d x %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// eventMatches reports whether ev is the assertion's action with matching
// args, output and rule. Unset filters match anything.
func eventMatches(ev TraceEvent, a Assertion) (bool, error) {
	if ev.Action != a.Action {
		return false, nil
	}
	if a.Rule != "" && ev.Rule != a.Rule {
		return false, nil
	}
	if a.Args != nil {
		want, err := ir.ObjectFromGo(a.Args)
		if err != nil {
			return false, fmt.Errorf("args: %w", err)
		}
		if !matches(ev.Input, want) {
			return false, nil
		}
	}
	if a.Output != nil {
		want, err := ir.ObjectFromGo(a.Output)
		if err != nil {
			return false, fmt.Errorf("output: %w", err)
		}
		if !matches(ev.Output, want) {
			return false, nil
		}
	}
	return true, nil
}

func describe(a Assertion) string {
	var b strings.Builder
	b.WriteString(a.Action)
	if a.Args != nil {
		fmt.Fprintf(&b, " with args %v", a.Args)
	}
	if a.Output != nil {
		fmt.Fprintf(&b, " with output %v", a.Output)
	}
	if a.Rule != "" {
		fmt.Fprintf(&b, " from rule %s", a.Rule)
	}
	return b.String()
}

// matches reports whether actual contains every field of want.
//
// Nested objects match as subsets too. Arrays must have equal length with
// each element matching. A string matches a ref written as "kind:id", and
// integers match floats of the same value.
func matches(actual, want ir.IRValue) bool {
	switch w := want.(type) {
	case ir.IRObject:
		a, ok := actual.(ir.IRObject)
		if !ok {
			return false
		}
		for k, wv := range w {
			av, present := a[k]
			if !present || !matches(av, wv) {
				return false
			}
		}
		return true
	case ir.IRArray:
		a, ok := actual.(ir.IRArray)
		if !ok || len(a) != len(w) {
			return false
		}
		for i := range w {
			if !matches(a[i], w[i]) {
				return false
			}
		}
		return true
	case ir.IRString:
		if ref, ok := actual.(ir.IRRef); ok {
			return ref.Kind+":"+ref.ID == string(w)
		}
	case ir.IRInt:
		if f, ok := actual.(ir.IRFloat); ok {
			return float64(f) == float64(w)
		}
	case ir.IRFloat:
		if n, ok := actual.(ir.IRInt); ok {
			return float64(n) == float64(w)
		}
	}
	return ir.Equal(actual, want)
}

// display renders v as JSON for messages, falling back to %v.
func display(v ir.IRValue) string {
	data, err := ir.MarshalIRValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
