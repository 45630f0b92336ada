package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/cellflow/internal/async"
	"github.com/roach88/cellflow/internal/cell"
)

// Module is a versioned namespace of Variables. Names resolve within the
// module first and then against the Runtime builtins; other modules are
// reachable only through Import.
type Module struct {
	rt      *Runtime
	id      string
	name    string
	version int64
	seq     int

	// idx guards vars, order, byName and every Variable.cell for readers
	// that do not hold the Runtime lock. Writers hold both.
	idx    sync.RWMutex
	vars   map[string]*Variable
	order  []*Variable
	byName map[string][]*Variable

	dependents map[string]map[*Variable]struct{}
	importers  map[string]map[*Variable]struct{}
	sources    map[string]*cell.Cell
	expansions map[string][]string
	imports    map[string]importSource
	importIDs  map[string]string
}

func newModule(rt *Runtime, id, name string, version int64, seq int) *Module {
	return &Module{
		rt:         rt,
		id:         id,
		name:       name,
		version:    version,
		seq:        seq,
		vars:       make(map[string]*Variable),
		byName:     make(map[string][]*Variable),
		dependents: make(map[string]map[*Variable]struct{}),
		importers:  make(map[string]map[*Variable]struct{}),
		sources:    make(map[string]*cell.Cell),
		expansions: make(map[string][]string),
		imports:    make(map[string]importSource),
		importIDs:  make(map[string]string),
	}
}

// ID returns the module id.
func (m *Module) ID() string { return m.id }

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Version returns the module version.
func (m *Module) Version() int64 { return m.version }

// Define adds c to the module, or redefines the Variable that already
// carries c's id. Cells flagged View or Mutable are expanded into their
// cooperating cells first.
func (m *Module) Define(c *cell.Cell) error {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return err
	}
	if err := m.define(c); err != nil {
		return err
	}
	m.rt.schedule()
	return nil
}

// Redefine replaces the cell of an existing Variable. A hash-equal cell only
// bumps the version; anything else rewires the Variable's edges.
func (m *Module) Redefine(c *cell.Cell) error {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.vars[c.ID]; !ok {
		return fmt.Errorf("redefine %s: %w", c.ID, ErrUnknownVariable)
	}
	if err := m.define(c); err != nil {
		return err
	}
	m.rt.schedule()
	return nil
}

// Delete removes the Variable with the given cell id, or every Variable an
// expanded cell produced.
func (m *Module) Delete(id string) error {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return err
	}
	if err := m.delete(id); err != nil {
		return err
	}
	m.rt.schedule()
	return nil
}

// DeleteAll tears the module's Variables down in bulk. Each is replaced with
// a no-op bound to a fresh unused name, so consumers in other modules reject
// with NotDefined.
func (m *Module) DeleteAll() error {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return err
	}
	for _, v := range slices.Clone(m.order) {
		if v.tombstone || v.cell.Builtin {
			continue
		}
		noop := cell.Create(cell.Options{ID: v.cell.ID, Name: uuid.NewString()})
		v.stop()
		m.rewire(v, noop)
		v.tombstone = true
		m.rt.markDirty(v)
	}
	clear(m.sources)
	clear(m.expansions)
	clear(m.imports)
	clear(m.importIDs)
	m.rt.schedule()
	return nil
}

// Import binds alias in m to the value of name in from. The Graph never
// holds an edge between modules: from notifies the passthrough whenever a
// Variable bound to name settles or the name is rebound.
func (m *Module) Import(name, alias string, from *Module) (*Variable, error) {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return nil, err
	}
	v, err := m.importName(name, alias, from)
	if err != nil {
		return nil, err
	}
	m.rt.schedule()
	return v, nil
}

// Inject names a binding of a derived module that is imported from another
// module instead of copied.
type Inject struct {
	Name  string
	Alias string
}

// Derive creates a module holding a copy of m's cells and imports, except
// those bound to an inject alias, which are imported from from instead.
func (m *Module) Derive(id, name string, injects []Inject, from *Module) (*Module, error) {
	m.rt.lock()
	defer m.rt.unlock()

	if err := m.check(); err != nil {
		return nil, err
	}
	if len(injects) > 0 {
		if err := from.check(); err != nil {
			return nil, err
		}
	}

	injected := make(map[string]struct{}, len(injects))
	for _, inj := range injects {
		injected[inj.alias()] = struct{}{}
	}

	d, err := m.rt.define(id, name, m.version)
	if err != nil {
		return nil, err
	}

	for _, v := range m.order {
		src, ok := m.sources[v.cell.ID]
		if !ok || injectedCell(src, injected) {
			continue
		}
		if err := d.define(src); err != nil {
			return nil, err
		}
	}
	aliases := make([]string, 0, len(m.imports))
	for alias := range m.imports {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)
	for _, alias := range aliases {
		if _, ok := injected[alias]; ok {
			continue
		}
		imp := m.imports[alias]
		if _, err := d.importName(imp.name, alias, imp.module); err != nil {
			return nil, err
		}
	}
	for _, inj := range injects {
		if _, err := d.importName(inj.Name, inj.alias(), from); err != nil {
			return nil, err
		}
	}
	m.rt.schedule()
	return d, nil
}

func (inj Inject) alias() string {
	if inj.Alias == "" {
		return inj.Name
	}
	return inj.Alias
}

func injectedCell(c *cell.Cell, injected map[string]struct{}) bool {
	for _, name := range []string{c.Name, ViewSlot(c.Name), "mutable " + c.Name} {
		if _, ok := injected[name]; ok {
			return true
		}
	}
	return false
}

// Value returns the last committed outcome of the Variable bound to name.
func (m *Module) Value(name string) (any, error) {
	v, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	snap := v.Snapshot()
	return snap.Value, snap.Err
}

// Await blocks until the Variable bound to name is settled and returns its
// outcome.
func (m *Module) Await(ctx context.Context, name string) (any, error) {
	for {
		ch := m.rt.changedChan()
		v, err := m.lookup(name)
		if err == nil {
			if snap := v.Snapshot(); snap.State != Pending {
				return snap.Value, snap.Err
			}
		} else if !isUnknown(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Variable returns the Variable with the given cell id, or nil.
func (m *Module) Variable(id string) *Variable {
	m.idx.RLock()
	defer m.idx.RUnlock()
	return m.vars[id]
}

// Lookup returns the Variable bound to name, or a builtin.
func (m *Module) Lookup(name string) (*Variable, error) {
	return m.lookup(name)
}

// Variables returns the module's Variables in definition order.
func (m *Module) Variables() []*Variable {
	m.idx.RLock()
	defer m.idx.RUnlock()
	out := make([]*Variable, 0, len(m.order))
	for _, v := range m.order {
		if !v.tombstone {
			out = append(out, v)
		}
	}
	return out
}

// Mutable returns the accessor for a "mutable name" declaration.
func (m *Module) Mutable(name string) *Accessor {
	return m.rt.mutable.scoped(m, MutableSlot(name))
}

func (m *Module) lookup(name string) (*Variable, error) {
	m.idx.RLock()
	bound := slices.Clone(m.byName[name])
	m.idx.RUnlock()

	switch len(bound) {
	case 0:
		if b := m.rt.builtins[name]; b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownVariable)
	case 1:
		return bound[0], nil
	default:
		return nil, DuplicateDefinition(name)
	}
}

func isUnknown(err error) bool {
	return errors.Is(err, ErrUnknownVariable)
}

func (m *Module) check() error {
	if m == nil {
		return ErrUnknownModule
	}
	if m.rt.disposed.Load() {
		return ErrDisposed
	}
	if m.rt.modules[m.id] != m {
		return fmt.Errorf("module %s: %w", m.id, ErrUnknownModule)
	}
	return nil
}

// resolve returns every Variable a dependency name resolves to.
func (m *Module) resolve(name string) []*Variable {
	if bound := m.byName[name]; len(bound) > 0 {
		return bound
	}
	if b := m.rt.builtins[name]; b != nil {
		return []*Variable{b}
	}
	return nil
}

// define expands c and creates or redefines each resulting cell. Ids an
// earlier expansion of the same source produced and this one does not are
// deleted.
func (m *Module) define(c *cell.Cell) error {
	if v, ok := m.vars[c.ID]; ok && v.cell.Builtin {
		return fmt.Errorf("redefine %s: %w", c.ID, ErrBuiltinImmutable)
	}

	cells := m.expand(c)
	produced := make(map[string]struct{}, len(cells))
	for _, nc := range cells {
		produced[nc.ID] = struct{}{}
	}
	for _, old := range m.expansions[c.ID] {
		if _, ok := produced[old]; !ok {
			m.remove(m.vars[old])
		}
	}
	if len(cells) > 1 {
		ids := make([]string, len(cells))
		for i, nc := range cells {
			ids[i] = nc.ID
		}
		m.expansions[c.ID] = ids
	} else {
		delete(m.expansions, c.ID)
	}
	m.sources[c.ID] = c

	for _, nc := range cells {
		if v, ok := m.vars[nc.ID]; ok {
			m.redefine(v, nc)
			continue
		}
		m.create(nc)
	}
	return nil
}

func (m *Module) create(c *cell.Cell) *Variable {
	v := newVariable(m, c)
	m.idx.Lock()
	m.vars[c.ID] = v
	m.order = append(m.order, v)
	m.idx.Unlock()
	m.rt.metrics.addVariables(1)

	m.attach(v)
	m.rt.markDirty(v)
	return v
}

func (m *Module) redefine(v *Variable, c *cell.Cell) {
	v.tombstone = false
	if v.cell.Eq(c) {
		m.idx.Lock()
		v.cell = c
		m.idx.Unlock()
		m.rt.markDirty(v)
		return
	}
	m.rewire(v, c)
	m.rt.markDirty(v)
}

// rewire swaps v's cell and rebuilds its graph node and edges.
func (m *Module) rewire(v *Variable, c *cell.Cell) {
	m.detach(v)
	m.idx.Lock()
	v.cell = c
	m.idx.Unlock()
	m.attach(v)
}

// attach binds v's name, connects its dependency names and adds the graph
// node and edges.
func (m *Module) attach(v *Variable) {
	g := m.rt.graph
	g.AddNode(v)

	name := v.cell.Name
	if name != "" {
		m.idx.Lock()
		m.byName[name] = append(m.byName[name], v)
		m.idx.Unlock()
	}

	for _, dep := range v.cell.Dependencies {
		set, ok := m.dependents[dep]
		if !ok {
			set = make(map[*Variable]struct{})
			m.dependents[dep] = set
		}
		set[v] = struct{}{}
		for _, in := range m.byName[dep] {
			g.AddEdge(in, v)
		}
	}
	if name != "" {
		for d := range m.dependents[name] {
			g.AddEdge(v, d)
		}
		m.touch(name)
	}
}

// detach is the inverse of attach.
func (m *Module) detach(v *Variable) {
	m.rt.graph.RemoveNode(v)

	for _, dep := range v.cell.Dependencies {
		if set, ok := m.dependents[dep]; ok {
			delete(set, v)
			if len(set) == 0 {
				delete(m.dependents, dep)
			}
		}
	}
	if v.source != nil {
		if set, ok := v.source.module.importers[v.source.name]; ok {
			delete(set, v)
		}
		v.source = nil
	}

	name := v.cell.Name
	if name == "" {
		return
	}
	m.idx.Lock()
	m.byName[name] = slices.DeleteFunc(m.byName[name], func(b *Variable) bool { return b == v })
	if len(m.byName[name]) == 0 {
		delete(m.byName, name)
	}
	m.idx.Unlock()
	m.touch(name)
}

// touch applies the binding rule: every Variable bound to name, every
// dependent of name and every importer of name is marked dirty.
func (m *Module) touch(name string) {
	for _, v := range m.byName[name] {
		m.rt.markDirty(v)
	}
	for v := range m.dependents[name] {
		m.rt.markDirty(v)
	}
	for v := range m.importers[name] {
		m.rt.markDirty(v)
	}
}

func (m *Module) delete(id string) error {
	if ids, ok := m.expansions[id]; ok {
		for _, derived := range ids {
			m.remove(m.vars[derived])
		}
		delete(m.expansions, id)
		delete(m.sources, id)
		return nil
	}

	v, ok := m.vars[id]
	if !ok || v.tombstone {
		return fmt.Errorf("delete %s: %w", id, ErrUnknownVariable)
	}
	if v.cell.Builtin {
		return fmt.Errorf("delete %s: %w", id, ErrBuiltinImmutable)
	}
	for alias, aid := range m.importIDs {
		if aid == id {
			delete(m.importIDs, alias)
			delete(m.imports, alias)
		}
	}
	delete(m.sources, id)
	m.remove(v)
	return nil
}

func (m *Module) remove(v *Variable) {
	if v == nil || v.deleted {
		return
	}
	v.stop()
	m.detach(v)
	v.deleted = true
	v.dirty = false
	if v.State() == Pending || v.interim {
		m.rt.pending.Add(-1)
	}
	v.interim = false

	m.idx.Lock()
	delete(m.vars, v.cell.ID)
	m.order = slices.DeleteFunc(m.order, func(o *Variable) bool { return o == v })
	m.idx.Unlock()
	m.rt.metrics.addVariables(-1)
}

func (m *Module) importName(name, alias string, from *Module) (*Variable, error) {
	if err := from.check(); err != nil {
		return nil, fmt.Errorf("import %s: %w", name, err)
	}
	if alias == "" {
		alias = name
	}

	id := "import:" + alias
	src := importSource{module: from, name: name}
	c := cell.Create(cell.Options{
		ID:   id,
		Name: alias,
		Code: fmt.Sprintf("import {%s as %s} from %s", name, alias, from.id),
		Definition: func(context.Context, []any) (any, error) {
			return from.imported(name)
		},
	})

	if err := m.define(c); err != nil {
		return nil, err
	}
	v := m.vars[id]
	if v.source != nil {
		delete(v.source.module.importers[v.source.name], v)
	}
	v.source = &src
	set, ok := from.importers[name]
	if !ok {
		set = make(map[*Variable]struct{})
		from.importers[name] = set
	}
	set[v] = struct{}{}

	delete(m.sources, id)
	m.imports[alias] = src
	m.importIDs[alias] = id
	return v, nil
}

// imported is the body of an import passthrough. While the source is
// pending the passthrough stays pending; the source marks it dirty again
// when it settles.
func (m *Module) imported(name string) (any, error) {
	bound := m.resolve(name)
	switch len(bound) {
	case 0:
		return nil, NotDefined(name)
	case 1:
	default:
		return nil, DuplicateDefinition(name)
	}
	snap := bound[0].Snapshot()
	switch snap.State {
	case Fulfilled:
		return snap.Value, nil
	case Rejected:
		return nil, snap.Err
	default:
		return async.New(), nil
	}
}

// notifyImporters marks dirty the passthroughs importing v's name when v's
// outcome differs from its previous one or the passthrough is still
// waiting. Comparing outcomes lets import cycles between modules settle.
func (m *Module) notifyImporters(v *Variable, prev *Snapshot, first bool) {
	if m == nil {
		return
	}
	set := m.importers[v.cell.Name]
	if len(set) == 0 {
		return
	}
	snap := v.snap.Load()
	changed := first ||
		errText(prev.Err) != errText(snap.Err) ||
		!reflect.DeepEqual(prev.Value, snap.Value)
	for imp := range set {
		if changed || imp.State() == Pending {
			m.rt.markDirty(imp)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
