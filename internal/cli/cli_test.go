package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/store"
)

const (
	validScenario   = "testdata/scenario.yaml"
	invalidScenario = "testdata/invalid.yaml"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", validScenario)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", assert.AnError)))
}

func TestValidateValidScenario(t *testing.T) {
	out, err := execute(t, "validate", validScenario)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ scenario valid (3 rules, 2 destinations)")
	assert.Contains(t, out, "! events[0].rules[2]: rule to workflow does not exist")
}

func TestValidateValidScenarioJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", validScenario)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateReportsProblems(t *testing.T) {
	out, err := execute(t, "validate", invalidScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "destinations[0]")
	assert.Contains(t, out, `resource "r9" is not defined`)
	assert.Contains(t, out, `events[0].rules[1]: flow "f404" is not defined`)
	assert.Contains(t, out, "events[0].rules[2]: rule to workflow does not exist")
	assert.NotContains(t, out, "events[0].rules[0]")
	assert.NotContains(t, out, "✓ scenario valid")
	assert.Contains(t, err.Error(), "3 problem(s) found")
}

func TestValidateMissingFile(t *testing.T) {
	out, err := execute(t, "validate", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "load scenario")
}

func TestValidateUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flowz: []\n"), 0o644))

	_, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDispatchText(t *testing.T) {
	out, err := execute(t, "dispatch", validScenario)
	require.NoError(t, err)

	assert.Contains(t, out, "flows invoked: f-welcome, f-broken")
	assert.Contains(t, out, "flow responses: 1")
	assert.Contains(t, out, "✓ page-view/welcome (f-welcome)")
	assert.Contains(t, out, "✗ page-view/broken (f-broken): workflow f-broken for event e1: upstream unavailable")
	assert.Contains(t, out, "rule to workflow does not exist")
	assert.Contains(t, out, "flow f-welcome ran in dry-run mode")
	assert.Contains(t, out, `d-log {"payload":{"name":"Ada","welcomed":true}`)
	assert.Contains(t, out, "d-batch batch of 1")
}

func TestDispatchJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "dispatch", validScenario)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   dispatchReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	require.Len(t, resp.Data.FlowResponses, 1)
	assert.Equal(t, "Hello Ada", resp.Data.FlowResponses[0]["greeting"])
	assert.Equal(t, "/pricing", resp.Data.FlowResponses[0]["page"])
	assert.Equal(t, []string{"welcome", "broken"}, resp.Data.InvokedRules["e1"])
	assert.Equal(t, true, resp.Data.Profile.Traits["welcomed"])
	assert.True(t, resp.Data.Diagnostics["page-view"]["broken"].Failed())
	assert.Len(t, resp.Data.Deliveries, 2)
}

func TestDispatchStrict(t *testing.T) {
	_, err := execute(t, "dispatch", "--strict", validScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 workflow(s) failed")
}

func TestDispatchNoDeliver(t *testing.T) {
	out, err := execute(t, "dispatch", "--no-deliver", validScenario)
	require.NoError(t, err)
	assert.NotContains(t, out, "deliveries:")
}

func TestDispatchSQLiteCatalog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")

	_, err := execute(t, "dispatch", "--db", dbPath, validScenario)
	require.NoError(t, err)

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	flow, err := s.LoadFlow(context.Background(), "f-welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", flow.Name)
}
