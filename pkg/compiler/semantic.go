package compiler

import (
	"fmt"
	"slices"
	"strconv"

	"crz64i/pkg/isa"
)

// Issue is one diagnostic produced by the semantic or dataflow analyzer.
type Issue struct {
	Type    string `json:"type"` // "error" or "warning"
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Path    []int  `json:"path,omitempty"` // block indices, dataflow issues only
}

const (
	IssueError   = "error"
	IssueWarning = "warning"
)

func (i Issue) String() string {
	return fmt.Sprintf("%d:%d: %s: %s", i.Line, i.Column, i.Type, i.Message)
}

// HasErrors reports whether any issue is error-level.
func HasErrors(issues []Issue) bool {
	return slices.ContainsFunc(issues, func(i Issue) bool { return i.Type == IssueError })
}

// allowedAttrs is the attribute allow-list per syntactic context. Contexts
// not listed allow nothing.
var allowedAttrs = map[string][]string{
	"function":    {"fusion", "reversible", "realtime", "power", "thermal_hint"},
	"instruction": {"fusion", "no_erase", "energy", "latency", "thermal_hint", "energy_opt"},
	"if":          {"reversible", "realtime"},
	"loop":        {"reversible", "realtime"},
}

var powerModes = []string{"low", "med", "high"}

// analyzer holds the issues collected over one Analyze call.
type analyzer struct {
	issues []Issue
}

// blockCtx is the constraint context of a statement list.
type blockCtx struct {
	fn         string
	realtime   bool
	reversible bool
	captured   map[string]bool // shared in linear statement order
}

// Analyze runs the attribute, realtime and flat reversible checks over every
// function. It never modifies prog.
func Analyze(prog *Program) []Issue {
	a := &analyzer{}
	for _, fn := range prog.Functions() {
		a.function(fn)
	}
	return a.issues
}

func (a *analyzer) add(level string, pos Pos, format string, args ...any) {
	a.issues = append(a.issues, Issue{Type: level, Message: fmt.Sprintf(format, args...), Line: pos.Line, Column: pos.Column})
}

func (a *analyzer) checkAttrs(attrs []Attribute, context string, pos Pos) {
	allowed := allowedAttrs[context]
	for _, attr := range attrs {
		if !slices.Contains(allowed, attr.Name) {
			at := pos
			if attr.Pos.Line > 0 {
				at = attr.Pos
			}
			a.add(IssueError, at, "Attribute #[%s] not allowed on %s", attr.Name, context)
		}
	}
}

func (a *analyzer) function(fn *Function) {
	a.checkAttrs(fn.Attrs, "function", fn.Pos)
	if p, ok := fn.Attr("power"); ok && !slices.Contains(powerModes, p.Value) {
		a.add(IssueError, fn.Pos, "Invalid power value %q on function %s (want low, med or high)", p.Value, fn.Name)
	}
	if th, ok := fn.Attr("thermal_hint"); ok {
		if _, err := strconv.ParseFloat(th.Value, 64); err != nil {
			a.add(IssueError, fn.Pos, "thermal_hint on function %s must be numeric, got %q", fn.Name, th.Value)
		}
	}
	ctx := blockCtx{
		fn:         fn.Name,
		realtime:   fn.HasAttr("realtime"),
		reversible: fn.HasAttr("reversible"),
		captured:   make(map[string]bool),
	}
	a.block(fn.Body, ctx)
}

func (a *analyzer) block(stmts []Stmt, ctx blockCtx) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Instr:
			a.checkAttrs(s.Attrs, "instruction", s.Pos)
			a.instr(s, ctx)
		case *If:
			a.checkAttrs(s.Attrs, "if", s.Pos)
			inner := ctx.nested(s.Attrs)
			a.block(s.Then, inner)
			a.block(s.Else, inner)
		case *Loop:
			a.checkAttrs(s.Attrs, "loop", s.Pos)
			a.block(s.Body, ctx.nested(s.Attrs))
		case *LocalDecl:
			a.checkAttrs(s.Attrs, "statement", s.Pos)
			if ctx.reversible {
				for _, name := range captures(s) {
					ctx.captured[name] = true
				}
			}
		default:
			a.checkAttrs(s.Attributes(), "statement", s.Position())
		}
	}
}

func (ctx blockCtx) nested(attrs []Attribute) blockCtx {
	ctx.realtime = ctx.realtime || HasAttr(attrs, "realtime")
	ctx.reversible = ctx.reversible || HasAttr(attrs, "reversible")
	return ctx
}

// captures returns the names a let declaration preserves: the declared name
// and, when the initializer is a plain name or register, that name too.
func captures(d *LocalDecl) []string {
	names := []string{d.Name}
	if id, ok := d.Init.(*Ident); ok {
		names = append(names, id.Name)
	}
	return names
}

func (a *analyzer) instr(in *Instr, ctx blockCtx) {
	op, desc, known := isa.Lookup(in.Mnemonic)
	if !known {
		a.add(IssueWarning, in.Pos, "Unknown mnemonic %s", in.Mnemonic)
	} else if !desc.Accepts(len(in.Operands)) {
		a.add(IssueError, in.Pos, "%s expects %s operands, got %d", in.Mnemonic, desc.Arity(), len(in.Operands))
	}

	if ctx.realtime && isa.IsBlocking(op) {
		a.add(IssueError, in.Pos, "Realtime violation: %s inside realtime function %s.", in.Mnemonic, ctx.fn)
	}
	if !ctx.reversible {
		return
	}
	if target, ok := unguardedWrite(in, ctx.captured); ok {
		a.add(IssueError, in.Pos, "%s", writeMessage(target, ctx.fn))
	}
}

// unguardedWrite returns the first operand in erases without a capture or
// #[no_erase].
func unguardedWrite(in *Instr, captured map[string]bool) (string, bool) {
	if HasAttr(in.Attrs, "no_erase") {
		return "", false
	}
	for _, target := range in.Written() {
		if !captured[target] {
			return target, true
		}
	}
	return "", false
}

func writeMessage(target, fn string) string {
	return fmt.Sprintf("Write to %s in function %s without prior let tmp = %s or #[no_erase]", target, fn, target)
}
