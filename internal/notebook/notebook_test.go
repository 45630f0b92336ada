package notebook

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellflow/internal/engine"
)

func TestLoad_YAML(t *testing.T) {
	nb, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "demo", nb.Name)
	assert.Equal(t, map[string]any{"rate": int64(3)}, nb.Builtins)
	require.Len(t, nb.Modules, 2)

	lib := nb.Module("lib")
	require.NotNil(t, lib)
	assert.Equal(t, "lib", lib.Name, "name defaults to id")
	assert.Equal(t, int64(1), lib.Version, "version defaults to 1")

	main := nb.Module("main")
	require.NotNil(t, main)
	assert.Equal(t, "Main", main.Name)
	assert.Len(t, main.Cells, 3)
	assert.Equal(t, []Import{{From: "lib", Name: "pi"}}, main.Imports)
	assert.Equal(t, "pi", main.Imports[0].Binding())
}

func TestLoad_CUEMatchesYAML(t *testing.T) {
	fromYAML, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)
	fromCUE, err := Load(filepath.Join("testdata", "demo.cue"))
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Name, fromCUE.Name)
	assert.Equal(t, fromYAML.Builtins, fromCUE.Builtins)
	assert.Equal(t, fromYAML.Modules, fromCUE.Modules)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "nb.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))

	_, err := Load(txt)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	badCUE := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(badCUE, []byte("name: 1 & 2"), 0o644))
	_, err = Load(badCUE)
	assert.Error(t, err)
}

func TestParseYAML_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no modules", "name: x", "modules list is required"},
		{"unknown field", "modulez: []", "field modulez not found"},
		{"missing module id", "modules: [{cells: []}]", "modules[0]: id is required"},
		{"duplicate module", "modules: [{id: a}, {id: a}]", `duplicate module id "a"`},
		{"duplicate cell", "modules: [{id: a, cells: [{id: c, source: x}, {id: c, source: y}]}]", `duplicate cell id "c"`},
		{"unknown import module", "modules: [{id: a, imports: [{from: b, name: x}]}]", `unknown module "b"`},
		{"import without name", "modules: [{id: a, imports: [{from: a}]}]", "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseYAML_DefaultCellIDs(t *testing.T) {
	nb, err := ParseYAML([]byte(`modules: [{id: m, cells: [{source: "a = 1"}, {source: "b = 2"}]}]`))
	require.NoError(t, err)
	assert.Equal(t, "cell1", nb.Modules[0].Cells[0].ID)
	assert.Equal(t, "cell2", nb.Modules[0].Cells[1].ID)
}

func TestApply(t *testing.T) {
	nb, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	rt := nb.Runtime(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(rt.Dispose)

	modules, err := nb.Apply(rt)
	require.NoError(t, err)
	require.Len(t, modules, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Idle(ctx))

	main := rt.Module("main")
	require.NotNil(t, main)
	v, err := main.Value("b")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	counter, err := main.Value("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter)

	_, err = nb.Apply(rt)
	assert.ErrorIs(t, err, engine.ErrModuleExists)
}

func TestCheck_Clean(t *testing.T) {
	nb, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	report := nb.Check()
	assert.True(t, report.OK(), "%v", report.Diagnostics)
	assert.Equal(t, 4, report.Cells)
	assert.Equal(t, 1, report.Imports)
	assert.Equal(t, 2, report.Components)
}

func TestCheck_ReportsEveryProblem(t *testing.T) {
	nb, err := Load(filepath.Join("testdata", "broken.yaml"))
	require.NoError(t, err)

	report := nb.Check()
	require.False(t, report.OK())

	var got []string
	for _, d := range report.Diagnostics {
		got = append(got, d.Code+" "+d.Cell)
	}
	assert.Equal(t, []string{
		"SYNTAX_ERROR bad",
		"NOT_DEFINED u",
		"DUPLICATE_DEFINITION d1",
		"DUPLICATE_DEFINITION d2",
		"CIRCULAR_DEPENDENCY x",
		"CIRCULAR_DEPENDENCY y",
	}, got)

	cycle := report.Diagnostics[4]
	assert.Equal(t, cycle.Component, report.Diagnostics[5].Component)
	assert.Contains(t, cycle.Message, "cycle through x, y")
	assert.Equal(t, 6, report.Components)
}

func TestCheck_CrossModuleCycleAndMissingImport(t *testing.T) {
	nb, err := ParseYAML([]byte(`
modules:
  - id: a
    cells: [{id: x, source: "x = y + 1"}]
    imports: [{from: b, name: y}, {from: b, name: gone}]
  - id: b
    cells: [{id: y, source: "y = x + 1"}]
    imports: [{from: a, name: x}]
`))
	require.NoError(t, err)

	var got []string
	for _, d := range nb.Check().Diagnostics {
		got = append(got, d.Code+" "+d.Module+"/"+d.Cell)
	}
	assert.ElementsMatch(t, []string{
		"CIRCULAR_DEPENDENCY a/x",
		"CIRCULAR_DEPENDENCY a/import:y",
		"CIRCULAR_DEPENDENCY b/y",
		"CIRCULAR_DEPENDENCY b/import:x",
		"NOT_DEFINED a/import:gone",
	}, got)
}
