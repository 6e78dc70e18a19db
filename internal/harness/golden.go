package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/classwatch/internal/testutil"
)

// GoldenDir holds golden traces, relative to the test's package.
const GoldenDir = "testdata/golden"

// snapshot is the golden form of a scenario run.
type snapshot struct {
	Scenario string       `json:"scenario"`
	Flow     string       `json:"flow"`
	Pass     bool         `json:"pass"`
	Trace    []TraceEvent `json:"trace"`
	Errors   []string     `json:"errors,omitempty"`
}

// Snapshot renders a result as indented JSON. Object keys are sorted, so
// the output is stable across runs.
func Snapshot(sc *Scenario, result *Result) ([]byte, error) {
	flow := sc.FlowToken
	if flow == "" {
		flow = testutil.DefaultFlowToken
	}
	data, err := json.MarshalIndent(snapshot{
		Scenario: sc.Name,
		Flow:     flow,
		Pass:     result.Pass,
		Trace:    result.Trace,
		Errors:   result.Errors,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs the scenario and compares its snapshot with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("run scenario %s: %v", sc.Name, err)
	}
	AssertGolden(t, sc, result)
	return result
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, sc *Scenario, result *Result) {
	t.Helper()

	data, err := Snapshot(sc, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", sc.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
}
