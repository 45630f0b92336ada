package notebook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cellflow/internal/cell"
)

// Notebook is a loaded notebook document.
type Notebook struct {
	Name     string         `yaml:"name" json:"name"`
	Builtins map[string]any `yaml:"builtins,omitempty" json:"builtins,omitempty"`
	Modules  []Module       `yaml:"modules" json:"modules"`

	// Path is the file the notebook was loaded from.
	Path string `yaml:"-" json:"-"`
}

// Module is one module of a notebook.
type Module struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Version int64    `yaml:"version,omitempty" json:"version,omitempty"`
	Cells   []Cell   `yaml:"cells" json:"cells"`
	Imports []Import `yaml:"imports,omitempty" json:"imports,omitempty"`
}

// Cell is one source cell.
type Cell struct {
	ID     string `yaml:"id,omitempty" json:"id,omitempty"`
	Source string `yaml:"source" json:"source"`
}

// Import binds Alias (default Name) in a module to Name in module From.
type Import struct {
	From  string `yaml:"from" json:"from"`
	Name  string `yaml:"name" json:"name"`
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`
}

// Binding returns the name the import binds.
func (imp Import) Binding() string {
	if imp.Alias == "" {
		return imp.Name
	}
	return imp.Alias
}

// ErrUnsupportedFormat is returned by Load for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported notebook format")

// Load reads a notebook from path. The format follows the extension.
func Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}

	var nb *Notebook
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		nb, err = ParseYAML(data)
	case ".cue":
		nb, err = ParseCUE(data, path)
	default:
		return nil, fmt.Errorf("%s: %w", ext, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	nb.Path = path
	return nb, nil
}

// New builds a validated notebook from parts, as Load would.
func New(name string, builtins map[string]any, modules []Module) (*Notebook, error) {
	nb := &Notebook{Name: name, Builtins: make(map[string]any, len(builtins)), Modules: modules}
	for k, v := range builtins {
		nb.Builtins[k] = Normalize(v)
	}
	if err := nb.validate(); err != nil {
		return nil, fmt.Errorf("invalid notebook: %w", err)
	}
	return nb, nil
}

// ParseYAML decodes and validates a YAML notebook. Unknown fields are
// rejected.
func ParseYAML(data []byte) (*Notebook, error) {
	var nb Notebook
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&nb); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for name, v := range nb.Builtins {
		nb.Builtins[name] = Normalize(v)
	}
	if err := nb.validate(); err != nil {
		return nil, fmt.Errorf("invalid notebook: %w", err)
	}
	return &nb, nil
}

// ParseCUE evaluates and validates a CUE notebook. filename is used in
// error positions.
func ParseCUE(data []byte, filename string) (*Notebook, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}

	var nb Notebook
	if name := value.LookupPath(cue.ParsePath("name")); name.Exists() {
		s, err := name.String()
		if err != nil {
			return nil, fmt.Errorf("name: %w", err)
		}
		nb.Name = s
	}
	if modules := value.LookupPath(cue.ParsePath("modules")); modules.Exists() {
		if err := modules.Decode(&nb.Modules); err != nil {
			return nil, fmt.Errorf("modules: %w", err)
		}
	}
	if builtins := value.LookupPath(cue.ParsePath("builtins")); builtins.Exists() {
		iter, err := builtins.Fields()
		if err != nil {
			return nil, fmt.Errorf("builtins: %w", err)
		}
		nb.Builtins = make(map[string]any)
		for iter.Next() {
			v, err := cell.FromCUE(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("builtins.%s: %w", iter.Label(), err)
			}
			nb.Builtins[iter.Label()] = v
		}
	}

	if err := nb.validate(); err != nil {
		return nil, fmt.Errorf("invalid notebook: %w", err)
	}
	return &nb, nil
}

// validate checks required fields and fills defaults: a module's name
// defaults to its id, its version to 1, and a cell's id to "cell<n>".
func (nb *Notebook) validate() error {
	if len(nb.Modules) == 0 {
		return fmt.Errorf("modules list is required and must be non-empty")
	}

	modules := make(map[string]struct{}, len(nb.Modules))
	for i := range nb.Modules {
		m := &nb.Modules[i]
		if m.ID == "" {
			return fmt.Errorf("modules[%d]: id is required", i)
		}
		if _, ok := modules[m.ID]; ok {
			return fmt.Errorf("modules[%d]: duplicate module id %q", i, m.ID)
		}
		modules[m.ID] = struct{}{}
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Version == 0 {
			m.Version = 1
		}

		cells := make(map[string]struct{}, len(m.Cells))
		for j := range m.Cells {
			c := &m.Cells[j]
			if c.ID == "" {
				c.ID = fmt.Sprintf("cell%d", j+1)
			}
			if _, ok := cells[c.ID]; ok {
				return fmt.Errorf("modules[%d].cells[%d]: duplicate cell id %q", i, j, c.ID)
			}
			cells[c.ID] = struct{}{}
		}
	}

	for i, m := range nb.Modules {
		for j, imp := range m.Imports {
			if imp.Name == "" {
				return fmt.Errorf("modules[%d].imports[%d]: name is required", i, j)
			}
			if _, ok := modules[imp.From]; !ok {
				return fmt.Errorf("modules[%d].imports[%d]: unknown module %q", i, j, imp.From)
			}
		}
	}
	return nil
}

// Module returns the module with the given id, or nil.
func (nb *Notebook) Module(id string) *Module {
	for i := range nb.Modules {
		if nb.Modules[i].ID == id {
			return &nb.Modules[i]
		}
	}
	return nil
}

// Normalize converts decoded YAML scalars to the value types cells
// compute with.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = Normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = Normalize(elem)
		}
		return out
	default:
		return v
	}
}
