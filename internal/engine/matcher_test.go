package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/ir"
)

func record(provider, operation string, input, output ir.IRObject) ir.ActionRecord {
	return ir.ActionRecord{Provider: provider, Operation: operation, Input: input, Output: output, Flow: "f"}
}

func TestMatch_LatestRecordWins(t *testing.T) {
	f := NewFrame("f", []ir.ActionRecord{
		record("Ticker", "tick", ir.IRObject{"key": ir.IRString("capture")}, ir.IRObject{}),
		record("Ticker", "tick", ir.IRObject{"key": ir.IRString("detect")}, ir.IRObject{}),
	})

	capture := WhenPattern{Provider: "Ticker", Operation: "tick", Input: map[string]Term{"key": Lit(ir.IRString("capture"))}}
	detect := WhenPattern{Provider: "Ticker", Operation: "tick", Input: map[string]Term{"key": Lit(ir.IRString("detect"))}}

	assert.False(t, f.match([]WhenPattern{capture}), "only the latest tick is considered")
	assert.True(t, NewFrame("f", f.Records()).match([]WhenPattern{detect}))
}

func TestMatch_BindAndLiteral(t *testing.T) {
	records := []ir.ActionRecord{
		record("API", "request", ir.IRObject{"path": ir.IRString("$p"), "method": ir.IRString("GET")}, ir.IRObject{"request": ir.IRString("r1")}),
	}

	t.Run("literal that looks like a variable", func(t *testing.T) {
		f := NewFrame("f", records)
		ok := f.match([]WhenPattern{{Provider: "API", Operation: "request", Input: map[string]Term{"path": Lit(ir.IRString("$p"))}}})
		assert.True(t, ok)
		_, bound := f.Lookup("p")
		assert.False(t, bound)
	})

	t.Run("bind takes the actual value", func(t *testing.T) {
		f := NewFrame("f", records)
		require.True(t, f.match([]WhenPattern{{
			Provider:  "API",
			Operation: "request",
			Input:     map[string]Term{"path": Bind("p"), "params": Bind("params")},
			Output:    map[string]string{"request": "req"},
		}}))
		assert.Equal(t, ir.IRString("$p"), f.Get("p"))
		assert.Equal(t, ir.IRString("r1"), f.Get("req"))

		v, bound := f.Lookup("params")
		assert.True(t, bound, "absent input binds null")
		assert.Equal(t, ir.IRNull{}, v)
	})

	t.Run("literal null matches absent field", func(t *testing.T) {
		f := NewFrame("f", records)
		assert.True(t, f.match([]WhenPattern{{Provider: "API", Operation: "request", Input: map[string]Term{"params": Lit(nil)}}}))
	})

	t.Run("typed equality", func(t *testing.T) {
		f := NewFrame("f", []ir.ActionRecord{record("Counter", "update", ir.IRObject{"n": ir.IRInt(1)}, ir.IRObject{})})
		assert.False(t, f.match([]WhenPattern{{Provider: "Counter", Operation: "update", Input: map[string]Term{"n": Lit(ir.IRFloat(1))}}}))
	})
}

func TestMatch_OutputRequired(t *testing.T) {
	f := NewFrame("f", []ir.ActionRecord{
		record("Detector", "detect", ir.IRObject{"frame": ir.IRString("f1")}, ir.IRObject{"detections": ir.IRString("d1")}),
	})

	assert.False(t, f.match([]WhenPattern{{Provider: "Detector", Operation: "detect", Output: map[string]string{"boxes": "b"}}}))
	assert.True(t, NewFrame("f", f.Records()).match([]WhenPattern{{Provider: "Detector", Operation: "detect", Output: map[string]string{"detections": "det"}}}))
}

func TestMatch_NoOutputNeverMatches(t *testing.T) {
	f := NewFrame("f", []ir.ActionRecord{record("Camera", "capture", ir.IRObject{}, nil)})
	assert.False(t, f.match([]WhenPattern{{Provider: "Camera", Operation: "capture"}}))
}

func TestMatch_AllPatternsMustMatch(t *testing.T) {
	records := []ir.ActionRecord{
		record("Ticker", "tick", ir.IRObject{"key": ir.IRString("detect")}, ir.IRObject{}),
	}
	patterns := []WhenPattern{
		{Provider: "Ticker", Operation: "tick", Input: map[string]Term{"key": Lit(ir.IRString("detect"))}},
		{Provider: "Camera", Operation: "capture", Output: map[string]string{"frame": "frame"}},
	}

	assert.False(t, NewFrame("f", records).match(patterns))

	records = append(records, record("Camera", "capture", ir.IRObject{}, ir.IRObject{"frame": ir.IRString("f9")}))
	f := NewFrame("f", records)
	require.True(t, f.match(patterns))
	assert.Equal(t, "f9", f.String("frame"))
}

func TestFrame_Bindings(t *testing.T) {
	f := NewFrame("flow-1", nil)
	assert.Equal(t, "flow-1", f.Flow())
	assert.Equal(t, ir.IRNull{}, f.Get("missing"))
	assert.Empty(t, f.String("missing"))

	f.Bind("x", nil)
	f.Bind("y", ir.IRInt(2))
	f.Bind("y", ir.IRInt(3))
	assert.Equal(t, ir.IRObject{"x": ir.IRNull{}, "y": ir.IRInt(3)}, f.Vars())

	vars := f.Vars()
	vars["y"] = ir.IRInt(100)
	assert.Equal(t, ir.IRInt(3), f.Get("y"))
}

func TestNewFrame_CopiesRecords(t *testing.T) {
	records := []ir.ActionRecord{record("Ticker", "tick", ir.IRObject{}, ir.IRObject{})}
	f := NewFrame("f", records)
	records[0].Operation = "tock"

	_, ok := f.Last("Ticker", "tick")
	assert.True(t, ok)
}

func TestTerm_String(t *testing.T) {
	assert.Equal(t, "?frame", Bind("frame").String())
	assert.Equal(t, `"capture"`, Lit(ir.IRString("capture")).String())
	assert.Equal(t, "null", Lit(nil).String())
}
