package cell

import (
	"context"

	"github.com/roach88/cellflow/internal/canon"
)

// HashDomain separates cell hashes from every other hash in the system.
const HashDomain = "cellflow/cell/v1"

// Definition computes a cell value. args holds one value per declared
// dependency, in declaration order. ctx is cancelled when the computation is
// invalidated; honouring it is optional.
//
// A Definition may return an *async.Deferred or an async.Generator, which
// the engine awaits or steps.
type Definition func(ctx context.Context, args []any) (any, error)

// Cell is an immutable computation description.
type Cell struct {
	ID           string
	Name         string
	Version      int64
	Code         string
	Hash         string
	Dependencies []string
	Definition   Definition

	Mutable bool
	View    bool
	Builtin bool
}

// Options are the explicit fields of a Cell.
type Options struct {
	ID           string
	Name         string
	Version      int64
	Code         string
	Dependencies []string
	Definition   Definition
	Mutable      bool
	View         bool
	Builtin      bool
}

// Create builds a Cell from explicit fields. Repeated dependency names keep
// their first position. A nil Definition yields nil.
func Create(opts Options) *Cell {
	c := &Cell{
		ID:           opts.ID,
		Name:         opts.Name,
		Version:      opts.Version,
		Code:         opts.Code,
		Dependencies: dedupe(opts.Dependencies),
		Definition:   opts.Definition,
		Mutable:      opts.Mutable,
		View:         opts.View,
		Builtin:      opts.Builtin,
	}
	if c.Definition == nil {
		c.Definition = func(context.Context, []any) (any, error) { return nil, nil }
	}
	c.Hash = c.computeHash()
	return c
}

// Eq reports whether c and other describe the same computation.
func (c *Cell) Eq(other *Cell) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Hash == other.Hash
}

// With returns a copy of c with a different identity. The callable is
// shared and the hash is recomputed.
func (c *Cell) With(id, name string, deps []string) *Cell {
	return Create(Options{
		ID:           id,
		Name:         name,
		Version:      c.Version,
		Code:         c.Code,
		Dependencies: deps,
		Definition:   c.Definition,
		Builtin:      c.Builtin,
	})
}

// DependsOn reports whether name is one of the declared dependencies.
func (c *Cell) DependsOn(name string) bool {
	for _, d := range c.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

// computeHash covers every field except the callable, which has no stable
// identity.
func (c *Cell) computeHash() string {
	deps := c.Dependencies
	if deps == nil {
		deps = []string{}
	}
	return canon.MustHash(HashDomain, map[string]any{
		"id":           c.ID,
		"name":         c.Name,
		"version":      c.Version,
		"code":         c.Code,
		"dependencies": deps,
		"flags": map[string]any{
			"mutable": c.Mutable,
			"view":    c.View,
			"builtin": c.Builtin,
		},
	})
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
