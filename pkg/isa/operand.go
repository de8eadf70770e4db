package isa

import (
	"strconv"
	"strings"
)

// OperandKind is the syntactic class of an instruction operand.
type OperandKind int

const (
	OperandInvalid OperandKind = iota
	OperandRegister
	OperandVector
	OperandImmediate
	OperandMemory
	OperandLabel
)

func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "register"
	case OperandVector:
		return "vector"
	case OperandImmediate:
		return "immediate"
	case OperandMemory:
		return "memory"
	case OperandLabel:
		return "label"
	}
	return "invalid"
}

// ClassifyOperand reports the kind of a single operand token.
func ClassifyOperand(s string) OperandKind {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return OperandInvalid
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		return OperandMemory
	case IsRegister(s):
		return OperandRegister
	case IsVectorRegister(s):
		return OperandVector
	}
	if _, ok := ParseImmediate(s); ok {
		return OperandImmediate
	}
	if isIdent(s) {
		return OperandLabel
	}
	return OperandInvalid
}

// IsRegister reports whether s names a scalar register (R0, r12, ...).
func IsRegister(s string) bool {
	return numberedName(s, 'r')
}

// IsVectorRegister reports whether s names a vector register (V0, v7, ...).
func IsVectorRegister(s string) bool {
	return numberedName(s, 'v')
}

// RegisterIndex returns the numeric part of a scalar or vector register name.
func RegisterIndex(s string) (int, bool) {
	if !IsRegister(s) && !IsVectorRegister(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	return n, err == nil
}

// ParseImmediate parses a decimal, hex or binary literal, optionally
// prefixed by '#' and/or '-'.
func ParseImmediate(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return 0, false
		}
		return int64(u), true
	}
	return v, true
}

func numberedName(s string, prefix byte) bool {
	if len(s) < 2 || (s[0] != prefix && s[0] != prefix-'a'+'A') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return s != ""
}
