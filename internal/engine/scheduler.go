package engine

import (
	"slices"

	"github.com/roach88/cellflow/internal/graph"
)

// markDirty gives v a fresh version, which makes any in-flight result for
// it stale, and queues it for the next pass.
func (rt *Runtime) markDirty(v *Variable) {
	if v.deleted || v.module == nil {
		return
	}
	v.version = rt.clock.Next()
	if !v.dirty {
		v.dirty = true
		rt.dirty = append(rt.dirty, v)
	}
}

func (rt *Runtime) enqueueReady(v *Variable) {
	rt.ready = append(rt.ready, readyEntry{v: v, version: v.version})
}

func (rt *Runtime) unregisterGenerator(v *Variable) {
	rt.generators = slices.DeleteFunc(rt.generators, func(g *Variable) bool { return g == v })
}

// schedule runs passes until the dirty and ready queues are empty. Dirty
// variables are drained first, grouped by owning module in module creation
// order; ready variables compute one at a time in the order they became
// ready. It is not reentrant: a nested call returns immediately and the
// outer loop picks up its work.
func (rt *Runtime) schedule() {
	if rt.scheduling || rt.disposed.Load() {
		return
	}
	rt.scheduling = true
	defer func() { rt.scheduling = false }()

	for {
		if len(rt.dirty) > 0 {
			batch := rt.dirty
			rt.dirty = nil
			for _, v := range batch {
				v.dirty = false
			}
			for _, group := range groupByModule(batch) {
				rt.recompute(group.module, group.vars)
			}
			continue
		}
		if len(rt.ready) > 0 {
			e := rt.ready[0]
			rt.ready[0] = readyEntry{}
			rt.ready = rt.ready[1:]
			v := e.v
			if v.deleted || v.version != e.version || v.State() != Pending || len(v.waitingOn) > 0 {
				continue
			}
			v.compute()
			continue
		}
		return
	}
}

type moduleBatch struct {
	module *Module
	vars   []*Variable
}

func groupByModule(vars []*Variable) []moduleBatch {
	var groups []moduleBatch
	index := make(map[*Module]int)
	for _, v := range vars {
		if v.deleted {
			continue
		}
		i, ok := index[v.module]
		if !ok {
			i = len(groups)
			index[v.module] = i
			groups = append(groups, moduleBatch{module: v.module})
		}
		groups[i].vars = append(groups[i].vars, v)
	}
	slices.SortStableFunc(groups, func(a, b moduleBatch) int {
		return a.module.seq - b.module.seq
	})
	return groups
}

// recompute runs one pass over the downstream closure of a module's dirty
// variables:
//
//  1. every connected variable stops and goes Pending with a fresh version
//  2. variables with a duplicated name, an unresolvable dependency, or
//     membership in a cycle are rejected on the spot
//  3. the rest wait for their pending inputs; those with none are queued
//     in topological order. A dependent of a duplicated name waits on the
//     first binding and receives its rejection
func (rt *Runtime) recompute(m *Module, batch []*Variable) {
	rt.metrics.pass()
	order := rt.graph.Topological(batch...)
	connected := order.Nodes()

	for _, v := range connected {
		v.stop()
		v.version = rt.clock.Next()
		v.setPending()
	}

	circular := make(map[*Variable]struct{})
	for _, scc := range rt.graph.Cycles(order.Circular) {
		for _, v := range scc {
			circular[v] = struct{}{}
		}
	}
	// A cycle may also close through imports, which the graph never holds.
	if rt.importing() {
		for _, scc := range graph.StronglyConnected(connected, rt.successors) {
			for _, v := range scc {
				circular[v] = struct{}{}
			}
		}
	}

	rejected := 0
	for _, v := range connected {
		if err := v.staticError(circular); err != nil {
			v.settle(v.version, nil, err, false)
			rejected++
		}
	}

	var roots int
	for _, v := range connected {
		if v.State() != Pending {
			continue
		}
		for _, in := range v.upstream() {
			if in != nil && in.State() == Pending {
				v.waitOn(in)
			}
		}
		if len(v.waitingOn) == 0 {
			rt.enqueueReady(v)
			roots++
		}
	}

	rt.logger.Debug("recompute",
		"module", m.id,
		"dirty", len(batch),
		"connected", len(connected),
		"roots", roots,
		"circular", len(circular),
		"rejected", rejected,
	)
}

// importing reports whether any module imports from another.
func (rt *Runtime) importing() bool {
	for _, m := range rt.modules {
		if len(m.importers) > 0 {
			return true
		}
	}
	return false
}

// successors are v's graph outputs followed by the passthroughs that
// import v's name from its module.
func (rt *Runtime) successors(v *Variable) []*Variable {
	out := rt.graph.Outgoing(v)
	if v.module == nil || v.deleted {
		return out
	}
	for imp := range v.module.importers[v.cell.Name] {
		if !imp.deleted {
			out = append(out, imp)
		}
	}
	return out
}

// staticError is the error the graph shape alone assigns to v.
func (v *Variable) staticError(circular map[*Variable]struct{}) error {
	m := v.module
	if name := v.cell.Name; name != "" && len(m.byName[name]) > 1 {
		return DuplicateDefinition(name)
	}
	// A dependent of an ambiguous name takes the duplicated binding's
	// rejection when it computes.
	for _, dep := range v.cell.Dependencies {
		if len(m.resolve(dep)) == 0 {
			return NotDefined(dep)
		}
	}
	if _, ok := circular[v]; ok {
		return CircularDependency(v.cell.Name)
	}
	return nil
}
