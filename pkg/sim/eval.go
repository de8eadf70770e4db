package sim

import (
	"math"
	"strconv"
	"strings"

	"crz64i/pkg/isa"
)

// Operands are expression text as printed by the compiler ("R1", "#5",
// "[R0 + 8]", "x > 2", "-1"). They are evaluated with the source
// language's precedence:
//
//	||  &&  comparisons  + -  * / % << >> & | ^  unary - ! ~

type exprToken struct {
	kind byte // 'n' number, 'i' identifier, 'o' operator, or the bracket itself
	text string
}

func tokenizeOperand(op, src string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '[' || c == ']' || c == '(' || c == ')':
			toks = append(toks, exprToken{kind: c, text: string(c)})
			i++
		case c == '#' || isDigit(c):
			start := i
			if c == '#' {
				i++
				if i < len(src) && src[i] == '-' {
					i++
				}
			}
			for i < len(src) && (isDigit(src[i]) || isLetter(src[i])) {
				i++
			}
			toks = append(toks, exprToken{kind: 'n', text: src[start:i]})
		case isLetter(c) || c == '_':
			start := i
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i]) || src[i] == '_') {
				i++
			}
			toks = append(toks, exprToken{kind: 'i', text: src[start:i]})
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				switch two {
				case "||", "&&", "==", "!=", "<=", ">=", "<<", ">>":
					toks = append(toks, exprToken{kind: 'o', text: two})
					i += 2
					continue
				}
			}
			if !strings.ContainsRune("+-*/%&|^<>!~", rune(c)) {
				return nil, badOperand(op, src, "unexpected character "+strconv.QuoteRune(rune(c)))
			}
			toks = append(toks, exprToken{kind: 'o', text: string(c)})
			i++
		}
	}
	return toks, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

var evalLevels = [][]string{
	{"||"},
	{"&&"},
	{"==", "!=", "<", ">", "<=", ">="},
	{"+", "-"},
	{"*", "/", "%", "<<", ">>", "&", "|", "^"},
}

type evaluator struct {
	s    *Simulator
	op   string
	src  string
	toks []exprToken
	pos  int
}

// value evaluates an operand to an integer. Bracketed sub-expressions read
// memory.
func (s *Simulator) value(op, operand string) (int64, error) {
	toks, err := tokenizeOperand(op, operand)
	if err != nil {
		return 0, err
	}
	if len(toks) == 0 {
		return 0, badOperand(op, operand, "empty operand")
	}
	e := &evaluator{s: s, op: op, src: operand, toks: toks}
	v, err := e.binary(0)
	if err != nil {
		return 0, err
	}
	if e.pos != len(e.toks) {
		return 0, badOperand(op, operand, "trailing "+e.toks[e.pos].text)
	}
	return v, nil
}

// address resolves a memory operand. "[x]" and "x" both name address x.
func (s *Simulator) address(op, operand string) (int64, error) {
	operand = strings.TrimSpace(operand)
	if inner, ok := unbracket(operand); ok {
		operand = inner
	}
	return s.value(op, operand)
}

func unbracket(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// floatValue resolves a float operand: a literal such as 1.5, or a register
// holding float64 bits.
func (s *Simulator) floatValue(op, operand string) (float64, error) {
	t := strings.TrimPrefix(strings.TrimSpace(operand), "#")
	if strings.ContainsAny(t, ".eE") && !isa.IsRegister(t) {
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, nil
		}
	}
	if v, ok := isa.ParseImmediate(t); ok {
		return float64(v), nil
	}
	bits, err := s.value(op, operand)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

func (e *evaluator) peek() (exprToken, bool) {
	if e.pos >= len(e.toks) {
		return exprToken{}, false
	}
	return e.toks[e.pos], true
}

func (e *evaluator) atLevel(level int) (string, bool) {
	t, ok := e.peek()
	if !ok || t.kind != 'o' {
		return "", false
	}
	for _, o := range evalLevels[level] {
		if t.text == o {
			return o, true
		}
	}
	return "", false
}

func (e *evaluator) binary(level int) (int64, error) {
	if level == len(evalLevels) {
		return e.unary()
	}
	left, err := e.binary(level + 1)
	if err != nil {
		return 0, err
	}
	for {
		o, ok := e.atLevel(level)
		if !ok {
			return left, nil
		}
		e.pos++
		right, err := e.binary(level + 1)
		if err != nil {
			return 0, err
		}
		left, err = e.apply(o, left, right)
		if err != nil {
			return 0, err
		}
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (e *evaluator) apply(o string, a, b int64) (int64, error) {
	switch o {
	case "||":
		return boolInt(a != 0 || b != 0), nil
	case "&&":
		return boolInt(a != 0 && b != 0), nil
	case "==":
		return boolInt(a == b), nil
	case "!=":
		return boolInt(a != b), nil
	case "<":
		return boolInt(a < b), nil
	case ">":
		return boolInt(a > b), nil
	case "<=":
		return boolInt(a <= b), nil
	case ">=":
		return boolInt(a >= b), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, &ArithmeticError{Op: e.op, Operand: e.src}
		}
		if o == "/" {
			return a / b, nil
		}
		return a % b, nil
	case "<<":
		return a << uint64(b&63), nil
	case ">>":
		return a >> uint64(b&63), nil
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	}
	return 0, badOperand(e.op, e.src, "unknown operator "+o)
}

func (e *evaluator) unary() (int64, error) {
	t, ok := e.peek()
	if ok && t.kind == 'o' && (t.text == "-" || t.text == "!" || t.text == "~") {
		e.pos++
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		switch t.text {
		case "-":
			return -v, nil
		case "!":
			return boolInt(v == 0), nil
		default:
			return ^v, nil
		}
	}
	return e.primary()
}

func (e *evaluator) primary() (int64, error) {
	t, ok := e.peek()
	if !ok {
		return 0, badOperand(e.op, e.src, "unexpected end of operand")
	}
	e.pos++
	switch t.kind {
	case 'n':
		v, ok := isa.ParseImmediate(t.text)
		if !ok {
			return 0, badOperand(e.op, e.src, "bad number "+t.text)
		}
		return v, nil
	case 'i':
		return e.s.Reg(t.text), nil
	case '(':
		v, err := e.binary(0)
		if err != nil {
			return 0, err
		}
		if err := e.expect(')'); err != nil {
			return 0, err
		}
		return v, nil
	case '[':
		addr, err := e.binary(0)
		if err != nil {
			return 0, err
		}
		if err := e.expect(']'); err != nil {
			return 0, err
		}
		return e.s.load(e.op, addr)
	}
	return 0, badOperand(e.op, e.src, "unexpected "+t.text)
}

func (e *evaluator) expect(kind byte) error {
	t, ok := e.peek()
	if !ok || t.kind != kind {
		return badOperand(e.op, e.src, "expected "+string(kind))
	}
	e.pos++
	return nil
}
