package cell

import (
	"strings"

	"cuelang.org/go/cue/ast"
)

// predeclared identifiers of the CUE language.
var predeclared = map[string]struct{}{
	"_": {}, "null": {}, "true": {}, "false": {},
	"bool": {}, "bytes": {}, "string": {}, "number": {}, "float": {}, "int": {},
	"int8": {}, "int16": {}, "int32": {}, "int64": {}, "int128": {},
	"uint": {}, "uint8": {}, "uint16": {}, "uint32": {}, "uint64": {}, "uint128": {},
	"float32": {}, "float64": {}, "rune": {},
	"len": {}, "close": {}, "and": {}, "or": {},
	"div": {}, "mod": {}, "quo": {}, "rem": {},
}

// builtinPackages may be referenced without an import when used as the
// operand of a selector, e.g. strings.ToUpper(x).
var builtinPackages = map[string]struct{}{
	"strings": {}, "math": {}, "list": {}, "regexp": {}, "strconv": {},
	"struct": {}, "time": {}, "json": {}, "yaml": {}, "base64": {},
	"hex": {}, "path": {},
}

// FreeNames returns the identifiers that n reads from its enclosing scope,
// in order of first occurrence.
func FreeNames(n ast.Node) []string {
	var w walker
	w.node(n)
	return w.names
}

type walker struct {
	scopes []map[string]struct{}
	seen   map[string]struct{}
	names  []string
}

func (w *walker) push(names ...string) {
	scope := make(map[string]struct{}, len(names))
	for _, n := range names {
		scope[n] = struct{}{}
	}
	w.scopes = append(w.scopes, scope)
}

func (w *walker) pop(n int) {
	w.scopes = w.scopes[:len(w.scopes)-n]
}

func (w *walker) bound(name string) bool {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if _, ok := w.scopes[i][name]; ok {
			return true
		}
	}
	return false
}

func (w *walker) ref(name string) {
	if _, ok := predeclared[name]; ok {
		return
	}
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, "#") {
		return
	}
	if w.bound(name) {
		return
	}
	if w.seen == nil {
		w.seen = make(map[string]struct{})
	}
	if _, ok := w.seen[name]; ok {
		return
	}
	w.seen[name] = struct{}{}
	w.names = append(w.names, name)
}

func (w *walker) nodes(list ...ast.Node) {
	for _, n := range list {
		w.node(n)
	}
}

func (w *walker) node(n ast.Node) {
	switch x := n.(type) {
	case nil:
	case *ast.Ident:
		w.ref(x.Name)
	case *ast.BasicLit, *ast.BottomLit:
	case *ast.ParenExpr:
		w.node(x.X)
	case *ast.UnaryExpr:
		w.node(x.X)
	case *ast.BinaryExpr:
		w.nodes(x.X, x.Y)
	case *ast.SelectorExpr:
		if id, ok := x.X.(*ast.Ident); ok && w.isPackage(id.Name) {
			return
		}
		w.node(x.X)
	case *ast.IndexExpr:
		w.nodes(x.X, x.Index)
	case *ast.SliceExpr:
		w.nodes(x.X, x.Low, x.High)
	case *ast.CallExpr:
		w.node(x.Fun)
		for _, a := range x.Args {
			w.node(a)
		}
	case *ast.Interpolation:
		for _, e := range x.Elts {
			w.node(e)
		}
	case *ast.ListLit:
		for _, e := range x.Elts {
			w.node(e)
		}
	case *ast.Ellipsis:
		w.node(x.Type)
	case *ast.StructLit:
		w.structLit(x)
	case *ast.Comprehension:
		w.comprehension(x)
	case *ast.Field:
		w.label(x.Label)
		w.node(x.Value)
	case *ast.LetClause:
		w.node(x.Expr)
	case *ast.EmbedDecl:
		w.node(x.Expr)
	case *ast.Alias:
		w.node(x.Expr)
	}
}

func (w *walker) isPackage(name string) bool {
	_, ok := builtinPackages[name]
	return ok && !w.bound(name)
}

// structLit binds every field name and let identifier of the struct before
// walking it, since CUE references are order independent.
func (w *walker) structLit(s *ast.StructLit) {
	var names []string
	for _, d := range s.Elts {
		switch x := ast.Node(d).(type) {
		case *ast.Field:
			names = append(names, labelNames(x.Label)...)
		case *ast.LetClause:
			if x.Ident != nil {
				names = append(names, x.Ident.Name)
			}
		}
	}
	w.push(names...)
	for _, d := range s.Elts {
		w.node(d)
	}
	w.pop(1)
}

func labelNames(l ast.Label) []string {
	switch x := ast.Node(l).(type) {
	case *ast.Ident:
		return []string{x.Name}
	case *ast.Alias:
		names := []string{x.Ident.Name}
		if inner, ok := x.Expr.(ast.Label); ok {
			names = append(names, labelNames(inner)...)
		}
		return names
	}
	return nil
}

func (w *walker) label(l ast.Label) {
	switch x := ast.Node(l).(type) {
	case *ast.ParenExpr:
		w.node(x.X)
	case *ast.Interpolation:
		w.node(x)
	case *ast.ListLit:
		w.node(x)
	case *ast.Alias:
		if inner, ok := x.Expr.(ast.Label); ok {
			w.label(inner)
		}
	}
}

func (w *walker) comprehension(c *ast.Comprehension) {
	pushed := 0
	for _, clause := range c.Clauses {
		switch x := ast.Node(clause).(type) {
		case *ast.ForClause:
			w.node(x.Source)
			var names []string
			if x.Key != nil {
				names = append(names, x.Key.Name)
			}
			if x.Value != nil {
				names = append(names, x.Value.Name)
			}
			w.push(names...)
			pushed++
		case *ast.IfClause:
			w.node(x.Condition)
		case *ast.LetClause:
			w.node(x.Expr)
			if x.Ident != nil {
				w.push(x.Ident.Name)
				pushed++
			}
		}
	}
	w.node(c.Value)
	w.pop(pushed)
}
