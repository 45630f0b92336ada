package cell

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/parser"
)

// ParseOptions carries the identity the host assigns to a source cell.
// A declaration head in the source overrides Name.
type ParseOptions struct {
	ID      string
	Name    string
	Version int64
}

// SyntaxError is returned by the callable of a cell whose source failed to
// parse.
type SyntaxError struct {
	CellID  string
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error in cell %s at %d:%d: %s", e.CellID, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("syntax error in cell %s: %s", e.CellID, e.Message)
}

// headPattern matches "name =", "viewof name =" and "mutable name =". The
// character after "=" is checked separately so "a == b" stays a body.
var headPattern = regexp.MustCompile(`^\s*(?:(viewof|mutable)\s+)?([A-Za-z][A-Za-z0-9_]*)\s*=`)

type head struct {
	kind string
	name string
	body string
}

func splitHead(source string) (head, bool) {
	loc := headPattern.FindStringSubmatchIndex(source)
	if loc == nil {
		return head{body: source}, false
	}
	end := loc[1]
	if end < len(source) && (source[end] == '=' || source[end] == '~') {
		return head{body: source}, false
	}
	h := head{name: source[loc[4]:loc[5]], body: source[end:]}
	if loc[2] >= 0 {
		h.kind = source[loc[2]:loc[3]]
	}
	return h, true
}

// Parse builds a Cell from source text. It never fails: a source that does
// not parse yields a Cell whose callable returns a *SyntaxError, so the
// problem surfaces through normal computation.
//
// An empty body yields a cell with value nil.
func Parse(source string, opts ParseOptions) *Cell {
	h, named := splitHead(source)
	name := opts.Name
	if named {
		name = h.name
	}

	c := Options{
		ID:      opts.ID,
		Name:    name,
		Version: opts.Version,
		Code:    source,
		View:    h.kind == "viewof",
		Mutable: h.kind == "mutable",
	}

	body := strings.TrimSpace(h.body)
	if body == "" {
		return Create(c)
	}

	expr, err := parser.ParseExpr(opts.ID, body)
	if err != nil {
		synErr := newSyntaxError(opts.ID, err)
		c.Definition = func(context.Context, []any) (any, error) { return nil, synErr }
		return Create(c)
	}

	c.Dependencies = FreeNames(expr)
	c.Definition = evaluator(name, body, c.Dependencies)
	return Create(c)
}

func newSyntaxError(id string, err error) *SyntaxError {
	synErr := &SyntaxError{CellID: id, Message: err.Error()}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		first := errs[0]
		format, args := first.Msg()
		synErr.Message = fmt.Sprintf(format, args...)
		if pos := first.Position(); pos.IsValid() {
			synErr.Line = pos.Line()
			synErr.Column = pos.Column()
		}
	}
	return synErr
}

// Check reports the syntax error Parse would defer to compute time, or nil
// if the body parses.
func Check(source, id string) error {
	h, _ := splitHead(source)
	body := strings.TrimSpace(h.body)
	if body == "" {
		return nil
	}
	if _, err := parser.ParseExpr(id, body); err != nil {
		return newSyntaxError(id, err)
	}
	return nil
}
