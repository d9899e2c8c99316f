package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenarioDir lays out a schema and scenario pair in a temp dir so
// the scenario's relative schema path resolves.
func writeScenarioDir(t *testing.T, scenario string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.cue"), []byte(validSchema), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))
	return path
}

const passingScenario = `
name: cli-pass
description: one entity created and asserted
schemas:
  - core.cue
namespaces:
  - name: alpha
steps:
  - submit:
      namespace: alpha
      patch:
        type: entity
        op: create
        entity: alpha/1
  - tick: {}
assertions:
  - type: entity_state
    entity: alpha/1
    exists: true
`

const failingScenario = `
name: cli-fail
description: asserts an entity that never existed
schemas:
  - core.cue
namespaces:
  - name: alpha
steps:
  - tick: {}
assertions:
  - type: entity_state
    entity: alpha/1
    exists: true
`

// TestRun_Pass runs a green scenario and prints the cycle trace.
func TestRun_Pass(t *testing.T) {
	path := writeScenarioDir(t, passingScenario)

	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "cycle 1: committed")
	assert.Contains(t, out, "cli-pass passed")
}

// TestRun_AssertionFailure exits with code 1 and names the failed
// assertion.
func TestRun_AssertionFailure(t *testing.T) {
	path := writeScenarioDir(t, failingScenario)

	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "cli-fail failed")
}

// TestRun_BadScenario exits with code 2 on a malformed scenario file.
func TestRun_BadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// TestRun_JSONOutput carries the trace in the JSON envelope.
func TestRun_JSONOutput(t *testing.T) {
	path := writeScenarioDir(t, passingScenario)

	out, err := execute(t, "--format", "json", "run", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cli-pass", data["scenario"])
	assert.Equal(t, true, data["passed"])
}
