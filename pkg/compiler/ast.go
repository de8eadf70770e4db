package compiler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"crz64i/pkg/isa"
)

// Pos is a 1-based source position.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Attribute is #[name] or #[name=value].
type Attribute struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"-"`
	Pos      Pos    `json:"-"`
}

func (a Attribute) String() string {
	if !a.HasValue {
		return a.Name
	}
	return a.Name + "=" + a.Value
}

// HasAttr reports whether attrs contains an attribute called name.
func HasAttr(attrs []Attribute, name string) bool {
	_, ok := FindAttr(attrs, name)
	return ok
}

// FindAttr returns the first attribute called name.
func FindAttr(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

//  Expression nodes

// Expr is implemented by every expression node. String renders canonical
// source text.
type Expr interface {
	exprNode()
	String() string
}

// Ident is a name, register or vector register.
type Ident struct {
	Name string
}

func (*Ident) exprNode()        {}
func (i *Ident) String() string { return i.Name }

// Number is a numeric literal kept as written ("5", "#5", "0x10", "4.5e-8").
type Number struct {
	Text string
}

func (*Number) exprNode()        {}
func (n *Number) String() string { return n.Text }

// StringLit is a string constant "...".
type StringLit struct {
	Value string
}

func (*StringLit) exprNode()        {}
func (s *StringLit) String() string { return strconv.Quote(s.Value) }

// BinaryExpr is Left Op Right.
//
//	R0 + 8
//	^  ^ ^
//	|  | Right
//	|  Op
//	Left
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", b.Left, b.Op, b.Right)
}

// UnaryExpr is Op X for -, ! and ~.
type UnaryExpr struct {
	Op string
	X  Expr
}

func (*UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string { return u.Op + u.X.String() }

// ParenExpr keeps explicit grouping so String round-trips.
type ParenExpr struct {
	X Expr
}

func (*ParenExpr) exprNode()        {}
func (p *ParenExpr) String() string { return "(" + p.X.String() + ")" }

// CallExpr is name(args).
type CallExpr struct {
	Name string
	Args []Expr
}

func (*CallExpr) exprNode() {}
func (c *CallExpr) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

// MemRef is a bracketed memory reference [Addr].
type MemRef struct {
	Addr Expr
}

func (*MemRef) exprNode()        {}
func (m *MemRef) String() string { return "[" + m.Addr.String() + "]" }

//  Statement nodes

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
	Position() Pos
	Attributes() []Attribute
	String() string
}

// node carries the fields every statement shares.
type node struct {
	Pos   Pos
	Attrs []Attribute
}

func (n *node) Position() Pos           { return n.Pos }
func (n *node) Attributes() []Attribute { return n.Attrs }

// Instr is MNEMONIC op, op, ...;
type Instr struct {
	node
	Mnemonic string
	Operands []string
	Raw      string
}

func (*Instr) stmtNode() {}
func (*Instr) declNode() {}
func (i *Instr) String() string {
	if len(i.Operands) == 0 {
		return i.Mnemonic + ";"
	}
	return i.Mnemonic + " " + strings.Join(i.Operands, ", ") + ";"
}

// Target returns the first operand, the write target of writing mnemonics.
func (i *Instr) Target() string {
	if len(i.Operands) == 0 {
		return ""
	}
	return i.Operands[0]
}

// Written returns the operands the instruction overwrites.
func (i *Instr) Written() []string {
	var out []string
	for _, idx := range isa.WriteOperands(isa.Parse(i.Mnemonic)) {
		if idx < len(i.Operands) {
			out = append(out, i.Operands[idx])
		}
	}
	return out
}

// Label is name:
type Label struct {
	node
	Name string
}

func (*Label) stmtNode()        {}
func (*Label) declNode()        {}
func (l *Label) String() string { return l.Name + ":" }

// LocalDecl is let name[: type] = init;
type LocalDecl struct {
	node
	Name string
	Type string
	Init Expr
}

func (*LocalDecl) stmtNode() {}
func (d *LocalDecl) String() string {
	if d.Type != "" {
		return fmt.Sprintf("let %s: %s = %s;", d.Name, d.Type, d.Init)
	}
	return fmt.Sprintf("let %s = %s;", d.Name, d.Init)
}

// Assign is target = value;
type Assign struct {
	node
	Target string
	Value  Expr
}

func (*Assign) stmtNode()        {}
func (a *Assign) String() string { return fmt.Sprintf("%s = %s;", a.Target, a.Value) }

// Return is return [value];
type Return struct {
	node
	Value Expr // nil for a bare return
}

func (*Return) stmtNode() {}
func (r *Return) String() string {
	if r.Value == nil {
		return "return;"
	}
	return fmt.Sprintf("return %s;", r.Value)
}

// If is if cond { then } [else { else }]. Else is nil when absent.
type If struct {
	node
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (*If) stmtNode() {}
func (s *If) String() string {
	if s.Else == nil {
		return fmt.Sprintf("if %s { %d stmts }", s.Cond, len(s.Then))
	}
	return fmt.Sprintf("if %s { %d stmts } else { %d stmts }", s.Cond, len(s.Then), len(s.Else))
}

// Loop is for var in start..end { body }.
type Loop struct {
	node
	Var   string
	Start Expr
	End   Expr
	Body  []Stmt
}

func (*Loop) stmtNode() {}
func (l *Loop) String() string {
	return fmt.Sprintf("for %s in %s..%s { %d stmts }", l.Var, l.Start, l.End, len(l.Body))
}

//  Declarations

// Decl is a top-level item: a function, or a stray instruction or label.
type Decl interface {
	declNode()
}

// Param is name[: type].
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function is fn name(params) [-> type] { body }.
type Function struct {
	Name       string
	Params     []Param
	ReturnType string
	Body       []Stmt
	Attrs      []Attribute
	Pos        Pos
}

func (*Function) declNode() {}

// Attr returns the function attribute called name.
func (f *Function) Attr(name string) (Attribute, bool) {
	return FindAttr(f.Attrs, name)
}

// HasAttr reports whether the function carries attribute name.
func (f *Function) HasAttr(name string) bool {
	return HasAttr(f.Attrs, name)
}

// Program is the parsed compilation unit.
type Program struct {
	Items []Decl
}

// Functions returns the function declarations in source order.
func (p *Program) Functions() []*Function {
	var out []*Function
	for _, d := range p.Items {
		if fn, ok := d.(*Function); ok {
			out = append(out, fn)
		}
	}
	return out
}

// Function returns the function called name, or nil.
func (p *Program) Function(name string) *Function {
	for _, fn := range p.Functions() {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// MarshalJSON renders the program as {"functions": [...], "attrs": [...]}
// where attrs lists the stray top-level instructions and labels.
func (p *Program) MarshalJSON() ([]byte, error) {
	type jsonFunc struct {
		Name       string           `json:"name"`
		Params     []Param          `json:"params"`
		ReturnType string           `json:"return_type,omitempty"`
		Attrs      []Attribute      `json:"attrs"`
		Body       []map[string]any `json:"body"`
	}
	doc := struct {
		Functions []jsonFunc       `json:"functions"`
		Attrs     []map[string]any `json:"attrs"`
	}{Functions: []jsonFunc{}, Attrs: []map[string]any{}}

	for _, d := range p.Items {
		switch d := d.(type) {
		case *Function:
			params := d.Params
			if params == nil {
				params = []Param{}
			}
			attrs := d.Attrs
			if attrs == nil {
				attrs = []Attribute{}
			}
			doc.Functions = append(doc.Functions, jsonFunc{
				Name: d.Name, Params: params, ReturnType: d.ReturnType,
				Attrs: attrs, Body: stmtsJSON(d.Body),
			})
		case Stmt:
			doc.Attrs = append(doc.Attrs, stmtJSON(d))
		}
	}
	return json.Marshal(doc)
}

func stmtsJSON(stmts []Stmt) []map[string]any {
	out := make([]map[string]any, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, stmtJSON(s))
	}
	return out
}

func stmtJSON(s Stmt) map[string]any {
	m := map[string]any{"line": s.Position().Line}
	if attrs := s.Attributes(); len(attrs) > 0 {
		m["attrs"] = attrs
	}
	switch s := s.(type) {
	case *Instr:
		m["kind"] = "instr"
		m["mnemonic"] = s.Mnemonic
		m["operands"] = s.Operands
		m["raw"] = s.Raw
	case *Label:
		m["kind"] = "label"
		m["name"] = s.Name
	case *LocalDecl:
		m["kind"] = "let"
		m["name"] = s.Name
		m["type"] = s.Type
		m["expr"] = s.Init.String()
	case *Assign:
		m["kind"] = "assign"
		m["target"] = s.Target
		m["expr"] = s.Value.String()
	case *Return:
		m["kind"] = "return"
		if s.Value != nil {
			m["expr"] = s.Value.String()
		}
	case *If:
		m["kind"] = "if"
		m["condition"] = s.Cond.String()
		m["then"] = stmtsJSON(s.Then)
		if s.Else != nil {
			m["else"] = stmtsJSON(s.Else)
		}
	case *Loop:
		m["kind"] = "loop"
		m["var"] = s.Var
		m["start"] = s.Start.String()
		m["end"] = s.End.String()
		m["body"] = stmtsJSON(s.Body)
	}
	return m
}
