package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/ir"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Action: "Ticker.tick", Input: ir.IRObject{"key": ir.IRString("detect")}, Output: ir.IRObject{"key": ir.IRString("detect")}},
		{Seq: 2, Action: "Detector.detect", Input: ir.IRObject{"frame": ir.IRRef{Kind: "frame", ID: "frame-1"}, "conf": ir.IRFloat(0.25)}, Output: ir.IRObject{"detections": ir.IRString("det-1")}, Rule: "TickToDetect"},
		{Seq: 3, Action: "Counter.update", Input: ir.IRObject{"using": ir.IRArray{ir.IRInt(0)}}, Output: ir.IRObject{"count": ir.IRInt(1)}, Rule: "RenderAfterAssociate"},
		{Seq: 4, Action: "Counter.update", Input: ir.IRObject{"using": ir.IRArray{}}, Output: ir.IRObject{"count": ir.IRInt(0)}, Rule: "RenderAfterAssociate"},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
		fail string
	}{
		{"contains action", Assertion{Type: AssertTraceContains, Action: "Detector.detect"}, ""},
		{"contains with ref arg", Assertion{Type: AssertTraceContains, Action: "Detector.detect", Args: map[string]any{"frame": "frame:frame-1"}}, ""},
		{"contains int matches float", Assertion{Type: AssertTraceContains, Action: "Counter.update", Output: map[string]any{"count": 1.0}}, ""},
		{"contains by rule", Assertion{Type: AssertTraceContains, Action: "Detector.detect", Rule: "TickToDetect"}, ""},
		{"contains wrong rule", Assertion{Type: AssertTraceContains, Action: "Detector.detect", Rule: "Other"}, "not found in trace"},
		{"contains wrong args", Assertion{Type: AssertTraceContains, Action: "Ticker.tick", Args: map[string]any{"key": "capture"}}, "not found in trace"},
		{"contains nested array", Assertion{Type: AssertTraceContains, Action: "Counter.update", Args: map[string]any{"using": []any{0}}}, ""},
		{"array length differs", Assertion{Type: AssertTraceContains, Action: "Counter.update", Args: map[string]any{"using": []any{0, 1}}}, "not found in trace"},
		{"absent", Assertion{Type: AssertTraceAbsent, Action: "Renderer.render"}, ""},
		{"absent but present", Assertion{Type: AssertTraceAbsent, Action: "Ticker.tick"}, "found at seq 1"},
		{"absent with output filter", Assertion{Type: AssertTraceAbsent, Action: "Counter.update", Output: map[string]any{"count": 2}}, ""},
		{"order", Assertion{Type: AssertTraceOrder, Actions: []string{"Ticker.tick", "Detector.detect", "Counter.update"}}, ""},
		{"order reversed", Assertion{Type: AssertTraceOrder, Actions: []string{"Counter.update", "Ticker.tick"}}, "is not before"},
		{"order missing", Assertion{Type: AssertTraceOrder, Actions: []string{"Ticker.tick", "Renderer.render"}}, "missing Renderer.render"},
		{"count", Assertion{Type: AssertTraceCount, Action: "Counter.update", Count: 2}, ""},
		{"count filtered", Assertion{Type: AssertTraceCount, Action: "Counter.update", Output: map[string]any{"count": 0}, Count: 1}, ""},
		{"count zero", Assertion{Type: AssertTraceCount, Action: "Renderer.render", Count: 0}, ""},
		{"count wrong", Assertion{Type: AssertTraceCount, Action: "Counter.update", Count: 3}, "Actual: 2"},
		{"unknown type", Assertion{Type: "final_state"}, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(sampleTrace(), tt.a)
			if tt.fail == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.fail)
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := evaluate(sampleTrace(), Assertion{Type: AssertTraceContains, Action: "Renderer.render"})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "Expected: Renderer.render")
	assert.Contains(t, err.Error(), `[2] Detector.detect`)
	assert.Contains(t, err.Error(), "(rule TickToDetect)")
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Action: "Ticker.tick"},
		{Type: AssertTraceCount, Action: "Ticker.tick", Count: 5},
		{Type: AssertTraceAbsent, Action: "Detector.detect"},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], "assertions[2]")
}

func TestMatches(t *testing.T) {
	actual := ir.IRObject{
		"frame": ir.IRRef{Kind: "frame", ID: "f1"},
		"box":   ir.IRObject{"x1": ir.IRInt(1), "y1": ir.IRInt(2)},
		"ok":    ir.IRBool(true),
	}

	assert.True(t, matches(actual, ir.IRObject{}))
	assert.True(t, matches(actual, ir.IRObject{"frame": ir.IRString("frame:f1")}))
	assert.True(t, matches(actual, ir.IRObject{"frame": ir.IRRef{Kind: "frame", ID: "f1"}}))
	assert.True(t, matches(actual, ir.IRObject{"box": ir.IRObject{"x1": ir.IRFloat(1)}}))
	assert.False(t, matches(actual, ir.IRObject{"box": ir.IRObject{"x1": ir.IRFloat(1.5)}}))
	assert.False(t, matches(actual, ir.IRObject{"missing": ir.IRNull{}}))
	assert.False(t, matches(actual, ir.IRObject{"ok": ir.IRString("true")}))
	assert.False(t, matches(nil, ir.IRObject{"ok": ir.IRBool(true)}))
}
