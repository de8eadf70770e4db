package compiler

import (
	"fmt"

	"crz64i/pkg/config"
	"crz64i/pkg/ir"
)

// comparisons maps source comparison operators to BR_IF condition codes.
var comparisons = map[string]string{
	"==": "EQ",
	"!=": "NE",
	"<":  "LT",
	"<=": "LE",
	">":  "GT",
	">=": "GE",
}

// lowerer flattens statements into IR ops. The label counter is shared by
// every function lowered through the same lowerer, so synthesized labels
// never collide.
type lowerer struct {
	cfg    *config.Config
	ops    []ir.Op
	labelN int
}

func (l *lowerer) emit(mnemonic string, args ...string) {
	l.ops = append(l.ops, ir.New(l.cfg, mnemonic, args...))
}

func (l *lowerer) newID() int {
	l.labelN++
	return l.labelN
}

// Lower converts fn's body to IR. Parameter i is copied from register ri.
func Lower(fn *Function, cfg *config.Config) []ir.Op {
	l := &lowerer{cfg: cfg}
	l.function(fn)
	return l.ops
}

// LowerProgram lowers the whole program: stray top-level items first, then
// the entry function (main, or the first function) followed by HALT, then
// each function reachable from it as LABEL name, body, RET. Unreachable
// functions are dropped.
func LowerProgram(prog *Program, cfg *config.Config) []ir.Op {
	l := &lowerer{cfg: cfg}
	for _, d := range prog.Items {
		if s, ok := d.(Stmt); ok {
			l.stmt(s)
		}
	}
	entry := EntryFunction(prog)
	if entry == nil {
		return l.ops
	}
	l.function(entry)
	l.emit("HALT")
	for _, fn := range eliminateDeadFunctions(prog, entry) {
		if fn == entry {
			continue
		}
		l.emit("LABEL", fn.Name)
		l.function(fn)
		l.emit("RET")
	}
	return l.ops
}

func (l *lowerer) function(fn *Function) {
	for i, p := range fn.Params {
		l.emit("ADD", p.Name, fmt.Sprintf("r%d", i), "0")
	}
	l.stmts(fn.Body)
}

func (l *lowerer) stmts(stmts []Stmt) {
	for _, s := range stmts {
		l.stmt(s)
	}
}

func (l *lowerer) stmt(s Stmt) {
	switch s := s.(type) {
	case *Instr:
		l.emit(s.Mnemonic, s.Operands...)
	case *Label:
		l.emit("LABEL", s.Name)
	case *LocalDecl:
		l.assign(s.Name, s.Init)
	case *Assign:
		l.assign(s.Target, s.Value)
	case *Return:
		if s.Value != nil {
			l.assign("r0", s.Value)
		}
	case *If:
		l.ifStmt(s)
	case *Loop:
		l.loop(s)
	}
}

func unparen(e Expr) Expr {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

// assign lowers target = e. Sums and differences map to ADD/SUB, a call
// passes its arguments in r0.. and copies the result out of r0, anything
// else is copied with ADD target, e, 0.
func (l *lowerer) assign(target string, e Expr) {
	switch x := unparen(e).(type) {
	case *BinaryExpr:
		switch x.Op {
		case "+":
			l.emit("ADD", target, x.Left.String(), x.Right.String())
			return
		case "-":
			l.emit("SUB", target, x.Left.String(), x.Right.String())
			return
		}
	case *CallExpr:
		for i, arg := range x.Args {
			l.emit("ADD", fmt.Sprintf("r%d", i), arg.String(), "0")
		}
		l.emit("CALL", x.Name)
		if target != "r0" {
			l.emit("ADD", target, "r0", "0")
		}
		return
	}
	l.emit("ADD", target, e.String(), "0")
}

// branch emits a conditional branch to label taken when cond holds. Any
// other condition is a truthy test against zero, so a local named like a
// flag (z, n) is still read as a value.
func (l *lowerer) branch(cond Expr, label string) {
	if b, ok := unparen(cond).(*BinaryExpr); ok {
		if cc, ok := comparisons[b.Op]; ok {
			l.emit("BR_IF", cc, b.Left.String(), b.Right.String(), label)
			return
		}
	}
	l.emit("BR_IF", "NE", unparen(cond).String(), "0", label)
}

func (l *lowerer) ifStmt(s *If) {
	id := l.newID()
	then := fmt.Sprintf("then_%d", id)
	els := fmt.Sprintf("else_%d", id)
	end := fmt.Sprintf("end_if_%d", id)

	l.branch(s.Cond, then)
	if s.Else != nil {
		l.emit("JMP", els)
	} else {
		l.emit("JMP", end)
	}
	l.emit("LABEL", then)
	l.stmts(s.Then)
	if s.Else != nil {
		l.emit("JMP", end)
		l.emit("LABEL", els)
		l.stmts(s.Else)
	}
	l.emit("LABEL", end)
}

// loop lowers for v in a..b as
//
//	v = a; BR_IF GE, v, b, loop_end_N
//	loop_N: body; ADD v, v, 1; BR_IF LT, v, b, loop_N
//	loop_end_N:
func (l *lowerer) loop(s *Loop) {
	id := l.newID()
	start := fmt.Sprintf("loop_%d", id)
	end := fmt.Sprintf("loop_end_%d", id)
	bound := s.End.String()

	l.assign(s.Var, s.Start)
	l.emit("BR_IF", "GE", s.Var, bound, end)
	l.emit("LABEL", start)
	l.stmts(s.Body)
	l.emit("ADD", s.Var, s.Var, "1")
	l.emit("BR_IF", "LT", s.Var, bound, start)
	l.emit("LABEL", end)
}
