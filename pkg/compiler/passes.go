package compiler

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"crz64i/pkg/config"
	"crz64i/pkg/isa"
)

// Pass transforms a function into a new function. Passes never modify their
// input.
type Pass func(*Function) *Function

// Pass names accepted by RunPasses.
const (
	PassFusion              = "fusion"
	PassReversibleEmulation = "reversible_emulation"
	PassReversibleFine      = "reversible_fine"
	PassEnergyProfile       = "energy_profile"
)

// DefaultPasses is the standard pass order.
var DefaultPasses = []string{PassFusion, PassReversibleEmulation, PassEnergyProfile}

// Fusion pattern names.
const (
	PatternLoadAdd      = "load_add"
	PatternLoadVDot32   = "load_vdot32"
	PatternAddStore     = "add_store"
	PatternLoadAddStore = "load_add_store"
)

// AllFusionPatterns lists every fusion pattern the pass understands.
var AllFusionPatterns = []string{PatternLoadAdd, PatternLoadVDot32, PatternAddStore, PatternLoadAddStore}

// PassConfig parameterizes the passes.
type PassConfig struct {
	Config               *config.Config // energy and cycle tables; config.Default() when nil
	FusionPatterns       []string       // defaults to load_add only
	MaxFusionSteps       int            // scan cap, default 10000
	ThermalHintThreshold float64        // joules; instructions above it get thermal_hint="cool"
}

const (
	DefaultMaxFusionSteps       = 10000
	DefaultThermalHintThreshold = 1e-6
)

func (pc PassConfig) withDefaults() PassConfig {
	if pc.Config == nil {
		pc.Config = config.Default()
	}
	if pc.FusionPatterns == nil {
		pc.FusionPatterns = []string{PatternLoadAdd}
	}
	if pc.MaxFusionSteps <= 0 {
		pc.MaxFusionSteps = DefaultMaxFusionSteps
	}
	if pc.ThermalHintThreshold <= 0 {
		pc.ThermalHintThreshold = DefaultThermalHintThreshold
	}
	return pc
}

// PassByName resolves a pass name.
func PassByName(name string, pc PassConfig) (Pass, error) {
	pc = pc.withDefaults()
	switch name {
	case PassFusion:
		return FusionPass(pc.FusionPatterns, pc.MaxFusionSteps), nil
	case PassReversibleEmulation:
		return ReversibleEmulation, nil
	case PassReversibleFine:
		return ReversibleFine, nil
	case PassEnergyProfile:
		return EnergyProfile(pc.Config, pc.ThermalHintThreshold), nil
	}
	return nil, fmt.Errorf("unknown pass %q", name)
}

// RunPasses applies the named passes, in order, to every function of prog
// and returns a new program. Stray top-level items are carried over.
func RunPasses(prog *Program, names []string, pc PassConfig) (*Program, error) {
	passes := make([]Pass, 0, len(names))
	for _, name := range names {
		p, err := PassByName(name, pc)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	out := &Program{Items: make([]Decl, 0, len(prog.Items))}
	for _, d := range prog.Items {
		fn, ok := d.(*Function)
		if !ok {
			out.Items = append(out.Items, d)
			continue
		}
		for _, p := range passes {
			fn = p(fn)
		}
		out.Items = append(out.Items, fn)
	}
	return out, nil
}

//  Copying

func cloneFunction(fn *Function) *Function {
	out := *fn
	out.Params = slices.Clone(fn.Params)
	out.Attrs = slices.Clone(fn.Attrs)
	out.Body = cloneStmts(fn.Body)
	return &out
}

func cloneStmts(stmts []Stmt) []Stmt {
	if stmts == nil {
		return nil
	}
	out := make([]Stmt, len(stmts))
	for i, s := range stmts {
		out[i] = cloneStmt(s)
	}
	return out
}

// cloneStmt copies a statement and its attribute and operand slices.
// Expression trees are immutable and shared.
func cloneStmt(s Stmt) Stmt {
	switch s := s.(type) {
	case *Instr:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		c.Operands = slices.Clone(s.Operands)
		return &c
	case *Label:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		return &c
	case *LocalDecl:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		return &c
	case *Assign:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		return &c
	case *Return:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		return &c
	case *If:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		c.Then = cloneStmts(s.Then)
		c.Else = cloneStmts(s.Else)
		return &c
	case *Loop:
		c := *s
		c.Attrs = slices.Clone(s.Attrs)
		c.Body = cloneStmts(s.Body)
		return &c
	}
	return s
}

// mapBodies applies f to every straight-line statement list in stmts,
// innermost lists first.
func mapBodies(stmts []Stmt, f func([]Stmt) []Stmt) []Stmt {
	for _, s := range stmts {
		switch s := s.(type) {
		case *If:
			s.Then = mapBodies(s.Then, f)
			if s.Else != nil {
				s.Else = mapBodies(s.Else, f)
			}
		case *Loop:
			s.Body = mapBodies(s.Body, f)
		}
	}
	return f(stmts)
}

//  Fusion

type fuser struct {
	patterns map[string]bool
	steps    int
	maxSteps int
}

// FusionPass merges adjacent instructions matching the enabled patterns
// into fused pseudo-ops. Only instructions in the same straight-line list
// are paired; if and loop bodies are scanned on their own. The scan stops
// fusing after maxSteps positions and copies the rest unchanged.
func FusionPass(patterns []string, maxSteps int) Pass {
	return func(fn *Function) *Function {
		f := &fuser{patterns: make(map[string]bool), maxSteps: maxSteps}
		for _, p := range patterns {
			f.patterns[p] = true
		}
		out := cloneFunction(fn)
		out.Body = mapBodies(out.Body, f.fuse)
		return out
	}
}

func (f *fuser) fuse(stmts []Stmt) []Stmt {
	out := make([]Stmt, 0, len(stmts))
	for i := 0; i < len(stmts); {
		if f.steps >= f.maxSteps {
			out = append(out, stmts[i:]...)
			break
		}
		f.steps++
		if fused, n := f.match(stmts[i:]); n > 0 {
			out = append(out, fused)
			i += n
			continue
		}
		out = append(out, stmts[i])
		i++
	}
	return out
}

func asInstr(s Stmt, mnemonic string, operands int) (*Instr, bool) {
	in, ok := s.(*Instr)
	if !ok || strings.ToUpper(in.Mnemonic) != mnemonic || len(in.Operands) != operands {
		return nil, false
	}
	return in, true
}

// match tries the enabled patterns, longest first, at the head of stmts. It
// returns the fused instruction and how many statements it replaces.
func (f *fuser) match(stmts []Stmt) (*Instr, int) {
	if len(stmts) < 2 {
		return nil, 0
	}
	if f.patterns[PatternLoadAddStore] && len(stmts) >= 3 {
		ld, ok1 := asInstr(stmts[0], "LOAD", 2)
		add, ok2 := asInstr(stmts[1], "ADD", 3)
		st, ok3 := asInstr(stmts[2], "STORE", 2)
		if ok1 && ok2 && ok3 && add.Operands[1] == ld.Operands[0] && st.Operands[0] == add.Operands[0] {
			return fusedInstr("FUSED_LOAD_ADD_STORE",
				[]string{ld.Operands[0], add.Operands[0], ld.Operands[1], add.Operands[2], st.Operands[1]},
				ld, add, st), 3
		}
	}
	if f.patterns[PatternLoadAdd] {
		ld, ok1 := asInstr(stmts[0], "LOAD", 2)
		add, ok2 := asInstr(stmts[1], "ADD", 3)
		if ok1 && ok2 && add.Operands[1] == ld.Operands[0] {
			return fusedInstr("FUSED_LOAD_ADD",
				[]string{ld.Operands[0], add.Operands[0], ld.Operands[1], add.Operands[2]},
				ld, add), 2
		}
	}
	if f.patterns[PatternLoadVDot32] {
		ld, ok1 := asInstr(stmts[0], "LOAD", 2)
		if !ok1 {
			ld, ok1 = asInstr(stmts[0], "VLOAD", 2)
		}
		dot, ok2 := asInstr(stmts[1], "VDOT32", 3)
		if ok1 && ok2 && (dot.Operands[1] == ld.Operands[0] || dot.Operands[2] == ld.Operands[0]) {
			return fusedInstr("FUSED_LOAD_VDOT32",
				[]string{ld.Operands[0], dot.Operands[0], ld.Operands[1], dot.Operands[1], dot.Operands[2]},
				ld, dot), 2
		}
	}
	if f.patterns[PatternAddStore] {
		add, ok1 := asInstr(stmts[0], "ADD", 3)
		st, ok2 := asInstr(stmts[1], "STORE", 2)
		if ok1 && ok2 && st.Operands[0] == add.Operands[0] {
			return fusedInstr("FUSED_ADD_STORE",
				[]string{add.Operands[0], add.Operands[1], add.Operands[2], st.Operands[1]},
				add, st), 2
		}
	}
	return nil, 0
}

// fusedInstr builds the composite instruction. Attributes are the union of
// the constituents' and the raw text joins theirs.
func fusedInstr(mnemonic string, operands []string, parts ...*Instr) *Instr {
	var attrs []Attribute
	raws := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, a := range p.Attrs {
			if !slices.Contains(attrs, a) {
				attrs = append(attrs, a)
			}
		}
		raws = append(raws, p.Raw)
	}
	return &Instr{
		node:     node{Pos: parts[0].Pos, Attrs: attrs},
		Mnemonic: mnemonic,
		Operands: operands,
		Raw:      strings.Join(raws, " "),
	}
}

//  Reversible emulation

func newInstr(mnemonic string, pos Pos) *Instr {
	return &Instr{node: node{Pos: pos}, Mnemonic: mnemonic, Operands: []string{}, Raw: mnemonic + ";"}
}

func isMnemonicStmt(s Stmt, mnemonic string) bool {
	in, ok := s.(*Instr)
	return ok && strings.ToUpper(in.Mnemonic) == mnemonic
}

// ReversibleEmulation brackets the body of a #[reversible] function with
// SAVE_DELTA and RESTORE_DELTA. A body that is already bracketed is left as
// is, so applying the pass twice changes nothing.
func ReversibleEmulation(fn *Function) *Function {
	out := cloneFunction(fn)
	if !fn.HasAttr("reversible") {
		return out
	}
	body := out.Body
	if len(body) >= 2 && isMnemonicStmt(body[0], "SAVE_DELTA") && isMnemonicStmt(body[len(body)-1], "RESTORE_DELTA") {
		return out
	}
	wrapped := make([]Stmt, 0, len(body)+2)
	wrapped = append(wrapped, newInstr("SAVE_DELTA", fn.Pos))
	wrapped = append(wrapped, body...)
	wrapped = append(wrapped, newInstr("RESTORE_DELTA", fn.Pos))
	out.Body = wrapped
	return out
}

// ReversibleFine brackets each erasing instruction of a #[reversible]
// function that is neither captured by a preceding let nor marked
// #[no_erase] with its own SAVE_DELTA/RESTORE_DELTA pair, and marks it
// #[no_erase]. Captures are tracked per branch.
func ReversibleFine(fn *Function) *Function {
	out := cloneFunction(fn)
	if !fn.HasAttr("reversible") {
		return out
	}
	out.Body = protectWrites(out.Body, map[string]bool{})
	return out
}

func protectWrites(stmts []Stmt, captured map[string]bool) []Stmt {
	out := make([]Stmt, 0, len(stmts))
	for i, s := range stmts {
		switch s := s.(type) {
		case *LocalDecl:
			for _, name := range captures(s) {
				captured[name] = true
			}
		case *If:
			s.Then = protectWrites(s.Then, maps.Clone(captured))
			if s.Else != nil {
				s.Else = protectWrites(s.Else, maps.Clone(captured))
			}
		case *Loop:
			s.Body = protectWrites(s.Body, maps.Clone(captured))
		case *Instr:
			bracketed := i > 0 && isMnemonicStmt(stmts[i-1], "SAVE_DELTA")
			if _, unguarded := unguardedWrite(s, captured); unguarded && !bracketed {
				s.Attrs = append(s.Attrs, Attribute{Name: "no_erase"})
				out = append(out, newInstr("SAVE_DELTA", s.Pos), s, newInstr("RESTORE_DELTA", s.Pos))
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

//  Energy profiling

// EnergyProfile annotates every instruction with energy and latency
// attributes from cfg. When the table makes FMA cheaper than MUL, MUL d, a, b
// is rewritten to FMA d, a, b, 0 and tagged #[energy_opt]. Instructions whose
// energy exceeds threshold get thermal_hint="cool".
func EnergyProfile(cfg *config.Config, threshold float64) Pass {
	return func(fn *Function) *Function {
		out := cloneFunction(fn)
		out.Body = mapBodies(out.Body, func(stmts []Stmt) []Stmt {
			for i, s := range stmts {
				if in, ok := s.(*Instr); ok {
					stmts[i] = profileInstr(in, cfg, threshold)
				}
			}
			return stmts
		})
		return out
	}
}

func profileInstr(in *Instr, cfg *config.Config, threshold float64) *Instr {
	if isa.Parse(in.Mnemonic) == isa.OpMUL && len(in.Operands) == 3 && cfg.EnergyOf("FMA") < cfg.EnergyOf("MUL") {
		in.Mnemonic = "FMA"
		in.Operands = append(in.Operands, "0")
		in.Raw = in.String()
		in.Attrs = setAttr(in.Attrs, Attribute{Name: "energy_opt"})
	}
	mn := strings.ToUpper(in.Mnemonic)
	energy := cfg.EnergyOf(mn)
	in.Attrs = setAttr(in.Attrs, Attribute{Name: "energy", Value: strconv.FormatFloat(energy, 'g', -1, 64), HasValue: true})
	in.Attrs = setAttr(in.Attrs, Attribute{Name: "latency", Value: strconv.Itoa(cfg.CyclesOf(mn)), HasValue: true})
	if energy > threshold {
		in.Attrs = setAttr(in.Attrs, Attribute{Name: "thermal_hint", Value: "cool", HasValue: true})
	}
	return in
}

// setAttr replaces the attribute with the same name or appends a.
func setAttr(attrs []Attribute, a Attribute) []Attribute {
	for i := range attrs {
		if attrs[i].Name == a.Name {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}
