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

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const validSchema = `component: Health: {
	fields: {
		hp: {type: "int", required: true}
	}
}
`

// TestValidate_Valid accepts a well-formed schema file.
func TestValidate_Valid(t *testing.T) {
	path := writeFile(t, "health.cue", validSchema)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 component(s) valid")
}

// TestValidate_BadType rejects an unknown field type with a positioned
// issue and exit code 1.
func TestValidate_BadType(t *testing.T) {
	path := writeFile(t, "bad.cue", `component: Broken: {
	fields: {
		hp: {type: "integer"}
	}
}
`)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Broken.hp")
}

// TestValidate_DuplicateComponent rejects the same component name
// declared in two files.
func TestValidate_DuplicateComponent(t *testing.T) {
	first := writeFile(t, "a.cue", validSchema)
	second := writeFile(t, "b.cue", validSchema)

	out, err := execute(t, "validate", first, second)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Health")
}

// TestValidate_MissingFile reports unreadable paths as issues rather
// than crashing.
func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "does-not-exist.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

// TestValidate_JSONOutput emits the machine-readable envelope.
func TestValidate_JSONOutput(t *testing.T) {
	path := writeFile(t, "health.cue", validSchema)

	out, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}
