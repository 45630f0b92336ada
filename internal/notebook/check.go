package notebook

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cellflow/internal/cell"
	"github.com/roach88/cellflow/internal/engine"
	"github.com/roach88/cellflow/internal/graph"
)

// CodeSyntaxError marks a cell whose body does not parse. The other codes
// are the engine's RuntimeErrorCodes.
const CodeSyntaxError = "SYNTAX_ERROR"

// Diagnostic is one problem found by Check.
type Diagnostic struct {
	Code    string `json:"code"`
	Module  string `json:"module"`
	Cell    string `json:"cell"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`

	// Component numbers the connected part of the dependency graph the
	// cell belongs to, starting at 1.
	Component int `json:"component"`
}

// Report is the result of Check.
type Report struct {
	Cells       int          `json:"cells"`   // notebook cells, imports excluded
	Imports     int          `json:"imports"` // import bindings
	Components  int          `json:"components"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// OK reports whether Check found nothing.
func (r Report) OK() bool { return len(r.Diagnostics) == 0 }

type node struct {
	module string
	id     string
}

func (n node) NodeKey() string { return n.module + "/" + n.id }

type checkedCell struct {
	node   node
	names  []string
	deps   []string
	syntax error

	// Set for import passthroughs.
	from   string
	source string
}

// Check analyses the notebook's dependency graph without running it.
// Diagnostics are grouped by connected component, then listed in
// definition order.
func (nb *Notebook) Check() Report {
	g := graph.New[node]()
	cells := make(map[node]*checkedCell)
	bindings := make(map[string]map[string][]node)
	var order []*checkedCell

	add := func(cc *checkedCell) {
		g.AddNode(cc.node)
		cells[cc.node] = cc
		order = append(order, cc)
		bound := bindings[cc.node.module]
		for _, name := range cc.names {
			bound[name] = append(bound[name], cc.node)
		}
	}

	for _, m := range nb.Modules {
		bindings[m.ID] = make(map[string][]node)
		for _, c := range m.Cells {
			parsed := c.Parse(m.Version)
			add(&checkedCell{
				node:   node{module: m.ID, id: c.ID},
				names:  boundNames(parsed),
				deps:   parsed.Dependencies,
				syntax: cell.Check(c.Source, c.ID),
			})
		}
		for _, imp := range m.Imports {
			add(&checkedCell{
				node:   node{module: m.ID, id: "import:" + imp.Binding()},
				names:  []string{imp.Binding()},
				from:   imp.From,
				source: imp.Name,
			})
		}
	}

	var diags []Diagnostic
	report := func(cc *checkedCell, code engine.RuntimeErrorCode, err error) {
		diags = append(diags, Diagnostic{
			Code:    string(code),
			Module:  cc.node.module,
			Cell:    cc.node.id,
			Name:    primaryName(cc),
			Message: err.Error(),
		})
	}

	for _, cc := range order {
		if cc.syntax != nil {
			diags = append(diags, Diagnostic{
				Code:    CodeSyntaxError,
				Module:  cc.node.module,
				Cell:    cc.node.id,
				Name:    primaryName(cc),
				Message: cc.syntax.Error(),
			})
		}
		for _, name := range cc.names {
			if len(bindings[cc.node.module][name]) > 1 {
				report(cc, engine.ErrCodeDuplicateDefinition, engine.DuplicateDefinition(name))
				break
			}
		}

		if cc.from != "" {
			targets := bindings[cc.from][cc.source]
			for _, t := range targets {
				g.AddEdge(t, cc.node)
			}
			if len(targets) == 0 {
				report(cc, engine.ErrCodeNotDefined, engine.NotDefined(cc.source))
			}
			continue
		}
		for _, dep := range cc.deps {
			targets := bindings[cc.node.module][dep]
			for _, t := range targets {
				g.AddEdge(t, cc.node)
			}
			if len(targets) == 0 {
				if _, ok := nb.Builtins[dep]; !ok {
					report(cc, engine.ErrCodeNotDefined, engine.NotDefined(dep))
				}
			}
		}
	}

	nodes := g.Nodes()
	for _, members := range g.Cycles(g.Topological(nodes...).Circular) {
		names := make([]string, len(members))
		for i, n := range members {
			names[i] = primaryName(cells[n])
		}
		for _, n := range members {
			cc := cells[n]
			report(cc, engine.ErrCodeCircularDependency,
				fmt.Errorf("%s: cycle through %s", engine.CircularDependency(primaryName(cc)), strings.Join(names, ", ")))
		}
	}

	components := g.Components(nodes)
	index := make(map[node]int, len(nodes))
	for i, comp := range components {
		for _, n := range comp {
			index[n] = i + 1
		}
	}
	position := make(map[node]int, len(order))
	for i, cc := range order {
		position[cc.node] = i
	}
	for i := range diags {
		diags[i].Component = index[node{module: diags[i].Module, id: diags[i].Cell}]
	}
	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		if a.Component != b.Component {
			return a.Component - b.Component
		}
		return position[node{a.Module, a.Cell}] - position[node{b.Module, b.Cell}]
	})

	imports := 0
	for _, cc := range order {
		if cc.from != "" {
			imports++
		}
	}
	return Report{
		Cells:       len(order) - imports,
		Imports:     imports,
		Components:  len(components),
		Diagnostics: diags,
	}
}

// boundNames lists every name a source cell binds once expanded.
func boundNames(c *cell.Cell) []string {
	switch {
	case c.Name == "":
		return nil
	case c.View:
		return []string{c.Name, engine.ViewSlot(c.Name)}
	case c.Mutable:
		return []string{c.Name, engine.MutableSlot(c.Name), "mutable " + c.Name}
	default:
		return []string{c.Name}
	}
}

func primaryName(cc *checkedCell) string {
	if len(cc.names) == 0 {
		return ""
	}
	return cc.names[0]
}
