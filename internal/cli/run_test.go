package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findVariable(t *testing.T, vars []VariableState, module, name string) VariableState {
	t.Helper()
	for _, v := range vars {
		if v.Module == module && v.Name == name {
			return v
		}
	}
	t.Fatalf("variable %s/%s not in result", module, name)
	return VariableState{}
}

func TestRun_TextOutput(t *testing.T) {
	stdout, _, err := execute(t, "run", "testdata/simple.yaml")
	require.NoError(t, err)

	assert.Contains(t, stdout, "main/a = 6")
	assert.Contains(t, stdout, "main/b = 7")
	assert.Contains(t, stdout, "main/c: NOT_DEFINED: missing is not defined")
	assert.Contains(t, stdout, "Settled after 0 turn(s): 2 fulfilled, 1 rejected, 0 pending")
	assert.NotContains(t, stdout, "Journal run:")
}

func TestRun_JSONOutput(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "run", "testdata/simple.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "testdata/simple.yaml", resp.Data.Notebook)
	assert.Empty(t, resp.Data.RunID)
	assert.Positive(t, resp.Data.Events)

	fulfilled, rejected, pending := resp.Data.Counts()
	assert.Equal(t, 2, fulfilled)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, pending)

	b := findVariable(t, resp.Data.Variables, "main", "b")
	assert.Equal(t, "fulfilled", b.State)
	assert.EqualValues(t, 7, b.Value)

	c := findVariable(t, resp.Data.Variables, "main", "c")
	assert.Equal(t, "rejected", c.State)
	assert.Equal(t, "NOT_DEFINED", c.Code)
}

func TestRun_MissingNotebook(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "run", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestRun_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notebook.txt")
	writeFile(t, path, "name: x\n")

	_, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ErrCodeFormat, exitErr.Message)
}

func TestRun_RejectsNonPositiveFrame(t *testing.T) {
	_, _, err := execute(t, "run", "--frame", "0s", "testdata/simple.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--frame must be positive")
}

func TestRun_JournalRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	stdout, _, err := execute(t, "--format", "json", "run", "--journal", db, "testdata/simple.yaml")
	require.NoError(t, err)

	var runResp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &runResp))
	require.NotEmpty(t, runResp.Data.RunID)

	stdout, _, err = execute(t, "--format", "json", "trace", "--db", db)
	require.NoError(t, err)

	var traceResp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &traceResp))
	assert.Equal(t, "ok", traceResp.Status)
	assert.Equal(t, runResp.Data.RunID, traceResp.Data.Run.ID)
	assert.Equal(t, "testdata/simple.yaml", traceResp.Data.Run.Notebook)
	assert.Len(t, traceResp.Data.Timeline, int(runResp.Data.Events))
	assert.Equal(t, 2, traceResp.Data.Stats.Fulfilled)
	assert.Equal(t, 1, traceResp.Data.Stats.Rejected)
}
