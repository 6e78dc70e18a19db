package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const pingRule = `rule: PingCount: {
	when: [{
		provider:  "API"
		operation: "request"
		input: {path: "/ping", method: "GET"}
		output: {request: "r"}
	}]
	where: [{provider: "Counter", query: "_get", output: {count: "n"}}]
	then: [{
		provider:  "API"
		operation: "respond"
		input: {
			request:     {var: "r"}
			body:        {using: {var: "n"}}
			contentType: "application/json"
		}
	}]
}
`

const unknownProviderRule = `rule: Dangling: {
	when: [{provider: "Bell", operation: "ring"}]
	then: [{provider: "Ticker", operation: "tick", input: {key: "capture"}}]
}
`

const tickLoopRule = `rule: TickAgain: {
	when: [{provider: "Ticker", operation: "tick", output: {key: "k"}}]
	then: [{provider: "Ticker", operation: "tick", input: {key: {var: "k"}}}]
}
`

// writeFiles creates a temporary directory holding files and returns it.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
