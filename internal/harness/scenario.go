package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cellflow/internal/engine"
	"github.com/roach88/cellflow/internal/notebook"
)

// Scenario is a scripted session against one notebook.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Notebook is a notebook file, relative to the scenario file. It
	// excludes Modules.
	Notebook string `yaml:"notebook,omitempty"`

	// Builtins are added to the notebook's builtins, replacing any with
	// the same name.
	Builtins map[string]any `yaml:"builtins,omitempty"`

	// Modules is an inline notebook.
	Modules []notebook.Module `yaml:"modules,omitempty"`

	// Steps run in order after the notebook is applied and settled.
	Steps []Step `yaml:"steps,omitempty"`

	// Expect is checked once every step has run.
	Expect []Expectation `yaml:"expect,omitempty"`

	// Assertions validate the full trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Dir is the directory of the scenario file, empty for scenarios built
	// in code.
	Dir string `yaml:"-"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Define   *CellStep `yaml:"define,omitempty"`
	Redefine *CellStep `yaml:"redefine,omitempty"`
	Delete   *CellStep `yaml:"delete,omitempty"`
	Set      *SetStep  `yaml:"set,omitempty"`

	// Turn advances generators this many frames.
	Turn int `yaml:"turn,omitempty"`

	// Expect is checked after this step settles.
	Expect []Expectation `yaml:"expect,omitempty"`
}

// CellStep addresses a cell. Source is unused by delete.
type CellStep struct {
	Module string `yaml:"module"`
	ID     string `yaml:"id"`
	Source string `yaml:"source,omitempty"`
}

// SetStep writes the slot of "mutable <Name>" in Module.
type SetStep struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
	Value  any    `yaml:"value"`
}

// Expectation checks one variable. With neither Error nor State set the
// variable must be fulfilled with Value.
type Expectation struct {
	Module string `yaml:"module"`
	Name   string `yaml:"name"`
	Value  any    `yaml:"value,omitempty"`
	Error  string `yaml:"error,omitempty"`
	State  string `yaml:"state,omitempty"`
}

// Assertion validates the recorded trace.
type Assertion struct {
	// Type is trace_contains, trace_order or trace_count.
	Type string `yaml:"type"`

	// Event is the pattern for trace_contains and trace_count.
	Event string `yaml:"event,omitempty"`

	// Events are the patterns for trace_order.
	Events []string `yaml:"events,omitempty"`

	// Count is the exact match count for trace_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	s.Dir = filepath.Dir(path)

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, sorted by file
// name. Subdirectories are not searched.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[s.Name]; ok {
			return nil, fmt.Errorf("scenario %q defined in both %s and %s", s.Name, prev, p)
		}
		names[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Notebook == "" && len(s.Modules) == 0:
		return fmt.Errorf("notebook or modules is required")
	case s.Notebook != "" && len(s.Modules) > 0:
		return fmt.Errorf("notebook and modules are mutually exclusive")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		for j, e := range step.Expect {
			if err := validateExpectation(e); err != nil {
				return fmt.Errorf("step %d expect %d: %w", i, j, err)
			}
		}
	}
	for i, e := range s.Expect {
		if err := validateExpectation(e); err != nil {
			return fmt.Errorf("expect %d: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Define != nil,
		step.Redefine != nil,
		step.Delete != nil,
		step.Set != nil,
		step.Turn != 0,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, got %d", actions)
	}

	switch {
	case step.Turn < 0:
		return fmt.Errorf("turn must be positive, got %d", step.Turn)
	case step.Define != nil:
		return validateCellStep("define", step.Define, true)
	case step.Redefine != nil:
		return validateCellStep("redefine", step.Redefine, true)
	case step.Delete != nil:
		return validateCellStep("delete", step.Delete, false)
	case step.Set != nil:
		if step.Set.Module == "" || step.Set.Name == "" {
			return fmt.Errorf("set requires module and name")
		}
	}
	return nil
}

func validateCellStep(action string, c *CellStep, needSource bool) error {
	if c.Module == "" || c.ID == "" {
		return fmt.Errorf("%s requires module and id", action)
	}
	if needSource && strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("%s requires source", action)
	}
	return nil
}

func validateExpectation(e Expectation) error {
	if e.Module == "" || e.Name == "" {
		return fmt.Errorf("module and name are required")
	}
	if e.State != "" {
		if _, ok := parseState(e.State); !ok {
			return fmt.Errorf("unknown state %q", e.State)
		}
		if e.Error != "" && e.State != engine.Rejected.String() {
			return fmt.Errorf("error requires state rejected, got %q", e.State)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("%s requires event", a.Type)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("%s requires at least two events", a.Type)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("%s requires event", a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s count must be non-negative, got %d", a.Type, a.Count)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func parseState(s string) (engine.State, bool) {
	for _, st := range []engine.State{engine.Pending, engine.Fulfilled, engine.Rejected} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// load builds the scenario's notebook.
func (s *Scenario) load() (*notebook.Notebook, error) {
	if s.Notebook == "" {
		return notebook.New(s.Name, s.Builtins, s.Modules)
	}

	path := s.Notebook
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}
	nb, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}
	for name, v := range s.Builtins {
		if nb.Builtins == nil {
			nb.Builtins = make(map[string]any, len(s.Builtins))
		}
		nb.Builtins[name] = notebook.Normalize(v)
	}
	return nb, nil
}
