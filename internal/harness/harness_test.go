package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/store"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

func parse(t *testing.T, src string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(src), "testdata/scenarios")
	require.NoError(t, err)
	return sc
}

func run(t *testing.T, sc *Scenario, opts ...Option) *Result {
	t.Helper()
	result, err := Run(context.Background(), sc, opts...)
	require.NoError(t, err)
	return result
}

func TestRun_ScriptedProvidersAndRule(t *testing.T) {
	result := run(t, load(t, "cart_reserve"))

	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 3)

	assert.Equal(t, "Cart.addItem", result.Trace[0].Action)
	assert.Empty(t, result.Trace[0].Rule)
	assert.Equal(t, "Inventory.reserve", result.Trace[1].Action)
	assert.Equal(t, "ReserveOnAdd", result.Trace[1].Rule)
	assert.Equal(t, "Cart.addItem", result.Trace[2].Action)

	require.Len(t, result.Cascades, 2)
	assert.Equal(t, 1, result.Cascades[0].Fired)
	assert.Equal(t, 0, result.Cascades[1].Fired)
	assert.Equal(t, 1, result.Cascades[1].Deduplicated)
}

func TestRun_RingOfRulesReachesFixpoint(t *testing.T) {
	result := run(t, load(t, "relay_ring"))

	require.True(t, result.Pass, "errors: %v", result.Errors)
	actions := make([]string, len(result.Trace))
	for i, ev := range result.Trace {
		actions[i] = ev.Action
	}
	assert.Equal(t, []string{"A.hit", "B.hit", "C.hit", "A.hit"}, actions)
	assert.Equal(t, "CtoA", result.Trace[3].Rule)
	assert.NoError(t, result.Cascades[0].Err)
}

func TestRun_BuiltinDetectCascade(t *testing.T) {
	result := run(t, load(t, "builtin_detect"))

	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "Ticker.tick", result.Trace[0].Action)
	assert.Equal(t, "TickToCapture", result.Trace[1].Rule)
}

func TestRun_QuotaStopsCascade(t *testing.T) {
	src := `
name: quota
description: A chain longer than the step quota.
max_steps: 2
providers:
  A: {operations: {hit: {args: {token: string}, outputs: {token: string}, echo: true}}}
  B: {operations: {hit: {args: {token: string}, outputs: {token: string}, echo: true}}}
  C: {operations: {hit: {args: {token: string}, outputs: {token: string}, echo: true}}}
rules: [../rules/relay.cue]
steps:
  - invoke: A.hit
    args: {token: x}
    expect_quota: true
assertions:
  - type: trace_absent
    action: C.hit
`
	result := run(t, parse(t, src))
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 2)

	unexpected := parse(t, src)
	unexpected.Steps[0].ExpectQuota = false
	result = run(t, unexpected)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "exceeded max steps")
}

func TestRun_ExpectQuotaFailsWhenCascadeFinishes(t *testing.T) {
	sc := load(t, "relay_ring")
	sc.Steps[0].ExpectQuota = true

	result := run(t, sc)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected the cascade to exceed the step quota")
}

func TestRun_ExpectError(t *testing.T) {
	sc := parse(t, `
name: failing
description: A provider that refuses every call.
providers:
  Payments:
    operations:
      charge: {args: {amount: int}, fail: card declined}
steps:
  - invoke: Payments.charge
    args: {amount: 5}
    expect_error: card declined
  - invoke: Payments.charge
    args: {}
    expect_error: required field missing
`)
	result := run(t, sc)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace)

	sc.Steps[0].ExpectError = "insufficient funds"
	result = run(t, sc)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected error containing "insufficient funds"`)
}

func TestRun_UnexpectedErrorAndMismatch(t *testing.T) {
	sc := parse(t, `
name: mismatch
description: Output and error expectations that do not hold.
providers:
  Echo:
    operations:
      say: {args: {text: string}, outputs: {text: string}, echo: true}
steps:
  - invoke: Echo.say
    args: {text: hello}
    expect: {text: goodbye}
  - invoke: Echo.shout
    args: {text: hello}
`)
	result := run(t, sc)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "does not match")
	assert.Contains(t, result.Errors[1], "Echo.shout")
	assert.Len(t, result.Trace, 1)
}

func TestRun_FailedEffectSkipsRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "charge.cue"), []byte(`
rule: ChargeOnOrder: {
	when: [{provider: "Orders", operation: "place", output: {amount: "a"}}]
	then: [{provider: "Payments", operation: "charge", input: {amount: {var: "a"}}}]
}
`), 0o644))
	sc, err := ParseScenario([]byte(`
name: failed_effect
description: A rule whose effect fails leaves no record.
providers:
  Orders:
    operations:
      place: {args: {amount: int}, outputs: {amount: int}, echo: true}
  Payments:
    operations:
      charge: {args: {amount: int}, fail: card declined}
rules: [charge.cue]
steps:
  - invoke: Orders.place
    args: {amount: 5}
assertions:
  - type: trace_absent
    action: Payments.charge
`), dir)
	require.NoError(t, err)

	result := run(t, sc)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Cascades[0].Failed)
	assert.Len(t, result.Trace, 1)
}

func TestRun_StepInOtherFlowStaysOutOfTrace(t *testing.T) {
	sc := load(t, "cart_reserve")
	sc.Assertions = nil
	sc.Steps = []Step{
		{Invoke: "Cart.addItem", Args: map[string]any{"item": "a", "qty": 1}, Flow: "elsewhere"},
		{Invoke: "Cart.addItem", Args: map[string]any{"item": "b", "qty": 1}},
	}

	result := run(t, sc)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	item, _ := result.Trace[0].Input.GetString("item")
	assert.Equal(t, "b", item)
}

func TestRun_CustomFlowToken(t *testing.T) {
	sc := load(t, "cart_reserve")
	sc.FlowToken = "checkout"

	result := run(t, sc)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 3)
}

func TestRun_InvalidRulesRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte(`
rule: Broken: {
	when: [{provider: "Ghost", operation: "appear"}]
	then: [{provider: "Echo", operation: "say", input: {text: "boo"}}]
}
`), 0o644))
	sc, err := ParseScenario([]byte(`
name: bad_rules
description: Rules naming an unknown provider.
providers:
  Echo: {operations: {say: {args: {text: string}, echo: true}}}
rules: [bad.cue]
steps:
  - invoke: Echo.say
    args: {text: hi}
`), dir)
	require.NoError(t, err)

	_, err = Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E110")
}

func TestRun_ScriptedProviderCannotShadowBuiltin(t *testing.T) {
	sc := parse(t, `
name: shadow
description: A scripted provider reusing a built-in name.
builtin: true
providers:
  Counter: {operations: {update: {echo: true}}}
steps:
  - invoke: Counter.update
`)
	_, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider Counter")
}

func TestRun_WithRecorderWritesStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	result := run(t, load(t, "cart_reserve"), WithRecorder(st))
	require.True(t, result.Pass, "errors: %v", result.Errors)

	ctx := context.Background()
	records, err := st.ReadFlow(ctx, "test-flow")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "rec-1", records[0].ID)

	firings, err := st.ReadFirings(ctx, "test-flow")
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, "ReserveOnAdd", firings[0].Rule)
	assert.Equal(t, "rec-2", firings[0].RecordID)
}

func TestRun_Deterministic(t *testing.T) {
	first := run(t, load(t, "cart_reserve"))
	second := run(t, load(t, "cart_reserve"))
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_ScenariosInParallel(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"), "")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			t.Parallel()
			sc, err := LoadScenario(path)
			require.NoError(t, err)
			result := run(t, sc)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
