package sim

import (
	"errors"
	"fmt"
)

var (
	ErrDivideByZero = errors.New("division by zero")
	ErrOutOfBounds  = errors.New("memory access out of bounds")
	ErrPermission   = errors.New("operation not permitted by sandbox")
	ErrBadOperand   = errors.New("bad operand")
	ErrUnknownLabel = errors.New("unknown label")
)

// ArithmeticError reports a DIV or MOD whose divisor resolved to zero.
type ArithmeticError struct {
	Op      string
	Operand string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("%s: divisor %s is zero", e.Op, e.Operand)
}

func (e *ArithmeticError) Unwrap() error { return ErrDivideByZero }

// MemoryBoundsError reports an access to a negative address or to an
// address at or past the configured memory limit.
type MemoryBoundsError struct {
	Op    string
	Addr  int64
	Limit int64
}

func (e *MemoryBoundsError) Error() string {
	if e.Addr < 0 {
		return fmt.Sprintf("%s: memory access out of bounds: negative address %d", e.Op, e.Addr)
	}
	return fmt.Sprintf("%s: memory access out of bounds: address %d >= memory_limit %d", e.Op, e.Addr, e.Limit)
}

func (e *MemoryBoundsError) Unwrap() error { return ErrOutOfBounds }

// SandboxPermissionError reports WRITE_IO or DMA_START without the matching
// sandbox permission.
type SandboxPermissionError struct {
	Op string
}

func (e *SandboxPermissionError) Error() string {
	return fmt.Sprintf("%s not allowed in sandbox", e.Op)
}

func (e *SandboxPermissionError) Unwrap() error { return ErrPermission }

// OperandError reports an operand the simulator cannot resolve. Err is
// ErrBadOperand or ErrUnknownLabel.
type OperandError struct {
	Op      string
	Operand string
	Reason  string
	Err     error
}

func (e *OperandError) Error() string {
	msg := fmt.Sprintf("%s: %v %q", e.Op, e.Err, e.Operand)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *OperandError) Unwrap() error { return e.Err }

func badOperand(op, operand, reason string) error {
	return &OperandError{Op: op, Operand: operand, Reason: reason, Err: ErrBadOperand}
}
