package sim

import (
	"errors"
	"testing"
)

func TestValue(t *testing.T) {
	s := newTestSim()
	s.SetReg("r1", 10)
	s.SetReg("r2", 3)
	s.SetReg("x", 4)
	if err := s.WriteMem(18, 99); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in   string
		want int64
	}{
		{"7", 7},
		{"#7", 7},
		{"#-7", -7},
		{"-7", -7},
		{"0x10", 16},
		{"0b101", 5},
		{"R1", 10},
		{"r1", 10},
		{"x", 4},
		{"unset", 0},
		{"r1 + r2 * 2", 16},
		{"(r1 + r2) * 2", 26},
		{"r1 - r2 - 1", 6},
		{"r1 / r2", 3},
		{"r1 % r2", 1},
		{"1 << 4", 16},
		{"r1 > r2", 1},
		{"r1 == 10 && x < 3", 0},
		{"r1 == 10 || x < 3", 1},
		{"!x", 0},
		{"~0", -1},
		{"[r1 + 8]", 99},
		{"[18] + 1", 100},
	}
	for _, tt := range tests {
		got, err := s.value("TEST", tt.in)
		if err != nil {
			t.Errorf("value(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("value(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValueErrors(t *testing.T) {
	s := newTestSim()
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrBadOperand},
		{"1 +", ErrBadOperand},
		{"(1", ErrBadOperand},
		{"1 2", ErrBadOperand},
		{"1.5", ErrBadOperand},
		{"$", ErrBadOperand},
		{"4 / r9", ErrDivideByZero},
		{"[-2]", ErrOutOfBounds},
	}
	for _, tt := range tests {
		_, err := s.value("TEST", tt.in)
		if !errors.Is(err, tt.want) {
			t.Errorf("value(%q) err = %v, want %v", tt.in, err, tt.want)
		}
	}
}

func TestAddress(t *testing.T) {
	s := newTestSim()
	s.SetReg("r0", 5)
	for _, in := range []string{"[r0 + 1]", "r0 + 1", " [6] "} {
		got, err := s.address("LOAD", in)
		if err != nil || got != 6 {
			t.Errorf("address(%q) = %d, %v; want 6", in, got, err)
		}
	}
}
