package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Fixture(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/cart_reserve.yaml")
	require.NoError(t, err)

	assert.Equal(t, "cart_reserve", sc.Name)
	assert.Equal(t, "testdata/scenarios", sc.BaseDir)
	assert.Len(t, sc.Steps, 3)
	assert.Len(t, sc.Assertions, 4)
	assert.Equal(t, "Cart.addItem", sc.Steps[0].Invoke)
	assert.Equal(t, "widget", sc.Steps[0].Args["item"])
	assert.Equal(t, 2, sc.Steps[0].Args["qty"])
	assert.True(t, sc.Providers["Cart"].Operations["addItem"].Echo)
	assert.Equal(t, "string?", sc.Providers["Inventory"].Operations["_stock"].Args["item"])
	assert.Equal(t, filepath.Join("testdata", "rules", "cart.cue"), sc.resolve(sc.Rules[0]))
}

func TestLoadScenario_AllFixturesParse(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			_, err := LoadScenario(file)
			require.NoError(t, err)
		})
	}
}

func TestBuildProvider_OptionalArg(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: optional
description: A query with an optional filter.
providers:
  Inventory:
    operations:
      _stock:
        args: {item: "string?"}
        outputs: {count: int}
        returns: {count: 7}
steps:
  - query: Inventory._stock
    expect: {count: 7}
`), "")
	require.NoError(t, err)

	table, err := buildProvider("Inventory", sc.Providers["Inventory"])
	require.NoError(t, err)
	sig, ok := table.Spec().Operation("_stock")
	require.True(t, ok)
	require.Len(t, sig.Args, 1)
	assert.Equal(t, "item", sig.Args[0].Name)
	assert.Equal(t, "string", sig.Args[0].Type)
	assert.True(t, sig.Args[0].Optional)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
description: y
flow: []
steps:
  - invoke: A.b
`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{invoke: A.b}]",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps: [{invoke: A.b}]",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d",
			want: "steps list is required",
		},
		{
			name: "invoke and query",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b, query: A._c}]",
			want: "exclusive",
		},
		{
			name: "neither invoke nor query",
			yaml: "name: n\ndescription: d\nsteps: [{args: {a: 1}}]",
			want: "invoke or query is required",
		},
		{
			name: "bad action name",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: nodot}]",
			want: "is not Provider.operation",
		},
		{
			name: "query without prefix",
			yaml: "name: n\ndescription: d\nsteps: [{query: A.count}]",
			want: "must start with",
		},
		{
			name: "expect and expect_error",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b, expect: {x: 1}, expect_error: boom}]",
			want: "expect and expect_error are exclusive",
		},
		{
			name: "expect_quota on query",
			yaml: "name: n\ndescription: d\nsteps: [{query: A._b, expect_quota: true}]",
			want: "expect_quota applies to invoke steps",
		},
		{
			name: "detections without builtin",
			yaml: "name: n\ndescription: d\ndetections: d.yaml\nsteps: [{invoke: A.b}]",
			want: "detections requires builtin",
		},
		{
			name: "negative max steps",
			yaml: "name: n\ndescription: d\nmax_steps: -1\nsteps: [{invoke: A.b}]",
			want: "max_steps must be non-negative",
		},
		{
			name: "missing rule file",
			yaml: "name: n\ndescription: d\nrules: [missing.cue]\nsteps: [{invoke: A.b}]",
			want: "rule file not found",
		},
		{
			name: "provider without operations",
			yaml: "name: n\ndescription: d\nproviders: {A: {purpose: p}}\nsteps: [{invoke: A.b}]",
			want: "operations are required",
		},
		{
			name: "fail with returns",
			yaml: "name: n\ndescription: d\nproviders: {A: {operations: {b: {fail: boom, returns: {x: 1}}}}}\nsteps: [{invoke: A.b}]",
			want: "fail excludes echo and returns",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b}]\nassertions: [{type: final_state}]",
			want: "unknown assertion type",
		},
		{
			name: "contains without action",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b}]\nassertions: [{type: trace_contains}]",
			want: "action is required",
		},
		{
			name: "order without actions",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b}]\nassertions: [{type: trace_order}]",
			want: "actions list is required",
		},
		{
			name: "negative count",
			yaml: "name: n\ndescription: d\nsteps: [{invoke: A.b}]\nassertions: [{type: trace_count, action: A.b, count: -1}]",
			want: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesRelativeRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r.cue"), []byte("rule: {}"), 0o644))
	path := writeScenario(t, dir, `
name: n
description: d
rules: [r.cue]
steps:
  - invoke: A.b
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "r.cue"), sc.resolve("r.cue"))
	assert.Equal(t, "/abs/r.cue", sc.resolve("/abs/r.cue"))
}

func TestSplitAction(t *testing.T) {
	p, op, err := splitAction("Counter.update")
	require.NoError(t, err)
	assert.Equal(t, "Counter", p)
	assert.Equal(t, "update", op)

	for _, bad := range []string{"", "Counter", ".update", "Counter."} {
		_, _, err := splitAction(bad)
		assert.Error(t, err, bad)
	}
}
