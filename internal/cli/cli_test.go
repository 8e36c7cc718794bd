package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and captures stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRun_CleanStop(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/exit0.cue")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestRun_NonzeroExitCode(t *testing.T) {
	_, _, err := execute(t, "run", "testdata/exit3.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "program exited with code 3")
}

func TestRun_UndefinedBehavior(t *testing.T) {
	out, _, err := execute(t, "run", "testdata/div-zero.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [DIV_BY_ZERO]")
}

func TestRun_CompileError(t *testing.T) {
	_, _, err := execute(t, "run", "testdata/broken.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to compile program")
}

func TestRun_IllFormed(t *testing.T) {
	_, _, err := execute(t, "run", "testdata/ill-formed.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "program is ill-formed")
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "run", "--format", "json", "testdata/exit0.cue")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "stop", data["outcome"])
	assert.Equal(t, "7\n", data["stdout"])
}

func TestRun_MaxSteps(t *testing.T) {
	_, _, err := execute(t, "run", "--max-steps", "1", "testdata/exit0.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "step budget exhausted")
}

func TestRun_InvalidFormat(t *testing.T) {
	_, _, err := execute(t, "run", "--format", "xml", "testdata/exit0.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestCheck_MixedResults(t *testing.T) {
	out, _, err := execute(t, "check", "testdata/exit0.cue", "testdata/ill-formed.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "ok    testdata/exit0.cue")
	assert.Contains(t, out, "FAIL  testdata/ill-formed.cue: fn main:")
	assert.Contains(t, err.Error(), "1 of 2 programs ill-formed")
}

func TestCheck_AllOK(t *testing.T) {
	out, _, err := execute(t, "check", "testdata/exit0.cue", "testdata/exit3.cue")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "ok    "))
}

func TestCheck_CompileErrorIsCommandError(t *testing.T) {
	_, _, err := execute(t, "check", "testdata/broken.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheck_JSON(t *testing.T) {
	out, _, err := execute(t, "check", "--format", "json", "testdata/ill-formed.cue")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	files, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, files, 1)
	entry := files[0].(map[string]interface{})
	assert.Equal(t, false, entry["ok"])
	assert.Equal(t, "fn main", entry["where"])
}

func TestScenarios_Pass(t *testing.T) {
	out, _, err := execute(t, "scenarios", "testdata/scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS  exit0")
	assert.Contains(t, out, "1 scenarios, 0 failed")
}

func TestScenarios_Fail(t *testing.T) {
	out, _, err := execute(t, "scenarios", "testdata/scenarios-fail")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL  failing")
	assert.Contains(t, out, "exit code is 3, want 0")
}

func TestScenarios_EmptyDir(t *testing.T) {
	_, _, err := execute(t, "scenarios", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no scenarios found")
}

func TestTrace_RecordListShow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "traces.db")

	out, _, err := execute(t, "trace", "record", "--db", db, "testdata/exit0.cue")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "run "), "unexpected output %q", out)
	id := strings.TrimPrefix(strings.SplitN(out, ":", 2)[0], "run ")

	out, _, err = execute(t, "trace", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "testdata/exit0.cue")
	assert.Contains(t, out, "stop")

	out, _, err = execute(t, "trace", "show", "--db", db, id)
	require.NoError(t, err)
	assert.Contains(t, out, "main")

	_, _, err = execute(t, "trace", "show", "--db", db, "not-a-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_RequiresDatabaseFlag(t *testing.T) {
	_, _, err := execute(t, "trace", "list")
	require.Error(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
	assert.Equal(t, "inner", wrapped.Unwrap().Error())
}
