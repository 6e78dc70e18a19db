package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidRules(t *testing.T) {
	dir := writeFiles(t, map[string]string{"ping.cue": pingRule})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 rule(s) valid")
}

func TestValidateValidRulesJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"ping.cue": pingRule})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Rules)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateUnknownProvider(t *testing.T) {
	dir := writeFiles(t, map[string]string{"dangling.cue": unknownProviderRule})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 1 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "[E110]")
	assert.Contains(t, out, `unknown provider "Bell"`)
}

func TestValidateUnknownProviderJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"dangling.cue": unknownProviderRule})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *ResponseError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "Dangling", resp.Data.Errors[0].Rule)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E110", resp.Error.Code)
}

func TestValidateWarnsOnCycles(t *testing.T) {
	dir := writeFiles(t, map[string]string{"loop.cue": tickLoopRule})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: Self-triggering rule detected")
	assert.Contains(t, out, "✓ 1 rule(s) valid")
}

func TestValidateCommandErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), ErrCodeNotFound)
		assert.Contains(t, out, "not found")
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), ErrCodeNoFiles)
	})

	t.Run("requires one argument", func(t *testing.T) {
		_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}))
		require.Error(t, err)
	})
}
