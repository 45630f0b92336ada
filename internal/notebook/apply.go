package notebook

import (
	"fmt"

	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/engine"
)

// Runtime creates a Runtime holding the notebook's builtins.
func (nb *Notebook) Runtime(opts ...engine.Option) *engine.Runtime {
	return engine.New(nb.Builtins, opts...)
}

// Apply defines every module of nb in rt, then every cell, then every
// import, and returns the modules in notebook order.
func (nb *Notebook) Apply(rt *engine.Runtime) ([]*engine.Module, error) {
	modules := make([]*engine.Module, len(nb.Modules))
	byID := make(map[string]*engine.Module, len(nb.Modules))
	for i, m := range nb.Modules {
		em, err := rt.Define(m.ID, m.Name, m.Version)
		if err != nil {
			return nil, fmt.Errorf("apply module %s: %w", m.ID, err)
		}
		modules[i] = em
		byID[m.ID] = em
	}

	for i, m := range nb.Modules {
		for _, c := range m.Cells {
			if err := modules[i].Define(c.Parse(m.Version)); err != nil {
				return nil, fmt.Errorf("apply cell %s/%s: %w", m.ID, c.ID, err)
			}
		}
	}

	for i, m := range nb.Modules {
		for _, imp := range m.Imports {
			if _, err := modules[i].Import(imp.Name, imp.Alias, byID[imp.From]); err != nil {
				return nil, fmt.Errorf("apply import %s into %s: %w", imp.Name, m.ID, err)
			}
		}
	}
	return modules, nil
}

// Parse builds the engine cell for c.
func (c Cell) Parse(version int64) *cell.Cell {
	return cell.Parse(c.Source, cell.ParseOptions{ID: c.ID, Version: version})
}
