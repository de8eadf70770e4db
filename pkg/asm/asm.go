// Package asm reads and writes the textual form of the IR:
//
//	loop_1:                 ; LABEL op
//	    ADD r0, r0, 1
//	    BR_IF LT, r0, 10, loop_1
//
// Comments start with ';' or '//'.
package asm

import (
	"fmt"
	"strings"
	"unicode"

	"crz64i/pkg/config"
	"crz64i/pkg/ir"
	"crz64i/pkg/isa"
)

type Assembler struct {
	cfg    *config.Config
	labels map[string]int // label -> op index
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler(cfg *config.Config) *Assembler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Assembler{
		cfg:    cfg,
		labels: make(map[string]int),
	}
}

// Assemble parses textual IR. It returns the ops and a map from op index to
// 1-based source line.
func Assemble(code string, cfg *config.Config) ([]ir.Op, map[int]int, error) {
	return NewAssembler(cfg).Assemble(code)
}

func (a *Assembler) Assemble(code string) ([]ir.Op, map[int]int, error) {
	lines := strings.Split(code, "\n")

	parsed := make([]parsedLine, 0, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, nil, err
		}
		parsed = append(parsed, p)
	}

	if err := a.pass1(parsed); err != nil {
		return nil, nil, err
	}
	return a.pass2(parsed)
}

// pass1 assigns every label the index of the LABEL op it becomes.
func (a *Assembler) pass1(lines []parsedLine) error {
	index := 0
	for _, p := range lines {
		for _, lbl := range p.labels {
			if _, exists := a.labels[lbl]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, p.lineNo)
			}
			a.labels[lbl] = index
			index++
		}
		if p.mnemonic == "" {
			continue
		}
		if p.mnemonic == "LABEL" {
			if len(p.operands) != 1 {
				return fmt.Errorf("LABEL expects exactly one operand on line %d", p.lineNo)
			}
			if _, exists := a.labels[p.operands[0]]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", p.operands[0], p.lineNo)
			}
			a.labels[p.operands[0]] = index
		}
		index++
	}
	return nil
}

func (a *Assembler) pass2(lines []parsedLine) ([]ir.Op, map[int]int, error) {
	var ops []ir.Op
	sourceMap := make(map[int]int)

	for _, p := range lines {
		for _, lbl := range p.labels {
			sourceMap[len(ops)] = p.lineNo
			ops = append(ops, ir.New(a.cfg, "LABEL", lbl))
		}
		if p.mnemonic == "" {
			continue
		}

		op, desc, ok := isa.Lookup(p.mnemonic)
		if !ok {
			return nil, nil, fmt.Errorf("unknown instruction on line %d: %s", p.lineNo, p.mnemonic)
		}
		if !desc.Accepts(len(p.operands)) {
			return nil, nil, fmt.Errorf("%s expects %s operands, got %d on line %d", desc.Mnemonic, desc.Arity(), len(p.operands), p.lineNo)
		}
		if target, ok := branchTarget(op, p.operands); ok {
			if err := a.checkTarget(target, p.lineNo); err != nil {
				return nil, nil, err
			}
		}

		sourceMap[len(ops)] = p.lineNo
		ops = append(ops, ir.New(a.cfg, desc.Mnemonic, p.operands...))
	}
	return ops, sourceMap, nil
}

// branchTarget returns the label operand of a control-transfer op.
func branchTarget(op isa.Opcode, operands []string) (string, bool) {
	switch op {
	case isa.OpJMP, isa.OpJZ, isa.OpJNZ, isa.OpCALL:
		return operands[0], true
	case isa.OpBR_IF:
		return operands[len(operands)-1], true
	}
	return "", false
}

func (a *Assembler) checkTarget(target string, lineNo int) error {
	if _, ok := isa.ParseImmediate(target); ok {
		return nil
	}
	if _, ok := a.labels[target]; ok {
		return nil
	}
	if isIdentifier(target) {
		return fmt.Errorf("undefined label '%s' on line %d", target, lineNo)
	}
	return fmt.Errorf("invalid branch target '%s' on line %d", target, lineNo)
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}
		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t[") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}
		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	mnemonic, rest, _ := strings.Cut(line, " ")
	p.mnemonic = strings.ToUpper(strings.TrimSpace(mnemonic))
	ops, err := splitOperands(rest, lineNo)
	if err != nil {
		return p, err
	}
	p.operands = ops
	return p, nil
}

// splitOperands splits on commas outside brackets and parentheses.
func splitOperands(s string, lineNo int) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}, nil
	}
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q on line %d", r, lineNo)
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets on line %d", lineNo)
	}
	out = append(out, strings.TrimSpace(s[start:]))
	for _, o := range out {
		if o == "" {
			return nil, fmt.Errorf("empty operand on line %d", lineNo)
		}
	}
	return out, nil
}

func stripComments(line string) string {
	semicolon := strings.Index(line, ";")
	doubleSlash := strings.Index(line, "//")

	cut := -1
	if semicolon >= 0 {
		cut = semicolon
	}
	if doubleSlash >= 0 && (cut == -1 || doubleSlash < cut) {
		cut = doubleSlash
	}
	if cut >= 0 {
		return line[:cut]
	}
	return line
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Format renders ops in the textual form Assemble reads. Labels sit at
// column zero, everything else is indented.
func Format(ops []ir.Op) string {
	var b strings.Builder
	for _, op := range ops {
		if op.IsLabel() && len(op.Args) == 1 {
			b.WriteString(op.Args[0])
			b.WriteString(":\n")
			continue
		}
		b.WriteString("    ")
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}
