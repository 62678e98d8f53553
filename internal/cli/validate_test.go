package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var specsDir = filepath.Join("..", "harness", "testdata", "specs")

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidDescriptors(t *testing.T) {
	out, err := executeValidate(t, "text", specsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "map (migratable=true, 1 properties)")
	assert.Contains(t, out, "list (migratable=false, 0 properties)")
	assert.Contains(t, out, "✓ All descriptors valid (2 components in 1 files)")
}

func TestValidateValidDescriptorsJSON(t *testing.T) {
	out, err := executeValidate(t, "json", specsDir)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   ValidateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Files)
	require.Len(t, resp.Data.Components, 2)
	assert.Equal(t, ComponentRow{ID: "map", Migratable: true, UI: true, Channels: []string{"geo"}, Properties: 1}, resp.Data.Components[0])
}

func TestValidateNonExistentPath(t *testing.T) {
	out, err := executeValidate(t, "text", "/nonexistent/descriptors")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := executeValidate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateNoComponents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.cue", "other: 1\n")

	_, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no components declared")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.cue", "component: chart: properties: ratio: float\n")
	writeFile(t, dir, "b.cue", "component: table: migratable: \"yes\"\n")
	writeFile(t, dir, "c.cue", "component: list: {}\n")
	writeFile(t, dir, "d.cue", "component: list: {}\n")

	out, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed with 3 error(s)")
	assert.Contains(t, out, ErrCodePropertyType)
	assert.Contains(t, out, ErrCodeFieldType)
	assert.Contains(t, out, ErrCodeDuplicate)
}

func TestValidateErrorsJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.cue", "component: chart: properties: ratio: float\n")

	out, err := executeValidate(t, "json", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePropertyType, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := map[string]string{
		"cue":              ErrCodeBuildFailed,
		"component":        "E101",
		"type":             ErrCodePropertyType,
		"properties.zoom":  ErrCodePropertyType,
		"migratable":       ErrCodeFieldType,
		"channels[1]":      ErrCodeFieldType,
		"":                 ErrCodeGeneric,
	}
	for field, want := range tests {
		assert.Equal(t, want, MapFieldToErrorCode(field), "field %q", field)
	}
}
