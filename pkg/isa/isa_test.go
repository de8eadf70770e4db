package isa

import (
	"slices"
	"testing"
)

func TestLookupCaseInsensitive(t *testing.T) {
	op, d, ok := Lookup("fused_load_add")
	if !ok || op != OpFUSED_LOAD_ADD {
		t.Fatalf("Lookup: got %v ok=%v", op, ok)
	}
	if d.Operands != 4 || d.Class != ClassFused {
		t.Fatalf("descriptor: %+v", d)
	}
	if op.String() != "FUSED_LOAD_ADD" {
		t.Fatalf("String: %q", op.String())
	}
}

func TestLookupUnknown(t *testing.T) {
	op, d, ok := Lookup("FROB")
	if ok || op != OpUnknown {
		t.Fatalf("expected unknown, got %v ok=%v", op, ok)
	}
	if d.Latency != 1 {
		t.Fatalf("unknown latency = %d, want 1", d.Latency)
	}
}

func TestTableHasEveryMnemonic(t *testing.T) {
	seen := map[string]bool{}
	for _, op := range Opcodes() {
		d := op.Descriptor()
		if d.Mnemonic == "" {
			t.Fatalf("opcode %d has no descriptor", op)
		}
		if seen[d.Mnemonic] {
			t.Fatalf("duplicate mnemonic %s", d.Mnemonic)
		}
		seen[d.Mnemonic] = true
		if got := Parse(d.Mnemonic); got != op {
			t.Fatalf("Parse(%s) = %v, want %v", d.Mnemonic, got, op)
		}
	}
	if len(seen) != 62 {
		t.Fatalf("table has %d mnemonics, want 62", len(seen))
	}
}

func TestDerivedSets(t *testing.T) {
	blocking := []Opcode{OpLOAD, OpSTORE, OpVLOAD, OpVSTORE, OpDMA_START, OpSLEEP, OpYIELD}
	for _, op := range blocking {
		if !IsBlocking(op) {
			t.Errorf("%v should be blocking", op)
		}
	}
	for _, op := range []Opcode{OpADD, OpJMP, OpFUSED_LOAD_ADD, OpNOP} {
		if IsBlocking(op) {
			t.Errorf("%v should not be blocking", op)
		}
	}

	writes := []Opcode{OpADD, OpLOAD, OpSTORE, OpVADD, OpFMUL, OpHASH_UPDATE, OpPROFILE_START, OpFUSED_LOAD_ADD}
	for _, op := range writes {
		if !IsWrite(op) {
			t.Errorf("%v should write", op)
		}
	}
	for _, op := range []Opcode{OpCMP, OpJMP, OpLABEL, OpSAVE_DELTA, OpWRITE_IO} {
		if IsWrite(op) {
			t.Errorf("%v should not write", op)
		}
	}

	writeOperands := map[Opcode][]int{
		OpADD:                  {0},
		OpFUSED_LOAD_ADD:       {0, 1},
		OpFUSED_LOAD_ADD_STORE: {0, 1},
		OpFUSED_LOAD_VDOT32:    {0, 1},
		OpFUSED_ADD_STORE:      {0},
		OpCMP:                  nil,
	}
	for op, want := range writeOperands {
		if got := WriteOperands(op); !slices.Equal(got, want) {
			t.Errorf("WriteOperands(%v) = %v, want %v", op, got, want)
		}
	}

	if !HeatsALU(OpMUL) || !HeatsALU(OpVDOT32) || HeatsALU(OpLOAD) || HeatsALU(OpJMP) {
		t.Error("HeatsALU classification wrong")
	}
	for _, op := range []Opcode{OpJMP, OpJZ, OpJNZ, OpBR_IF, OpCALL, OpRET} {
		if !IsBranch(op) {
			t.Errorf("%v should be a branch", op)
		}
	}
}

func TestAccepts(t *testing.T) {
	br := OpBR_IF.Descriptor()
	for n, want := range map[int]bool{1: false, 2: true, 3: true, 4: true, 5: false} {
		if br.Accepts(n) != want {
			t.Errorf("BR_IF.Accepts(%d) = %v", n, !want)
		}
	}
	if !OpADD.Descriptor().Accepts(3) || OpADD.Descriptor().Accepts(2) {
		t.Error("ADD arity wrong")
	}
	if br.Arity() != "2-4" {
		t.Errorf("Arity = %q", br.Arity())
	}
}

func TestClassifyOperand(t *testing.T) {
	tests := []struct {
		in   string
		want OperandKind
	}{
		{"R0", OperandRegister},
		{"r15", OperandRegister},
		{"V3", OperandVector},
		{"#5", OperandImmediate},
		{"-12", OperandImmediate},
		{"0x1F", OperandImmediate},
		{"[R1 + 8]", OperandMemory},
		{"loop_3", OperandLabel},
		{"R", OperandLabel},
		{"Rx", OperandLabel},
		{"", OperandInvalid},
		{"a+b", OperandInvalid},
	}
	for _, tt := range tests {
		if got := ClassifyOperand(tt.in); got != tt.want {
			t.Errorf("ClassifyOperand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseImmediate(t *testing.T) {
	tests := map[string]int64{"#5": 5, "42": 42, "-7": -7, "0x10": 16, "#-0x10": -16}
	for in, want := range tests {
		got, ok := ParseImmediate(in)
		if !ok || got != want {
			t.Errorf("ParseImmediate(%q) = %d, %v", in, got, ok)
		}
	}
	if _, ok := ParseImmediate("R0"); ok {
		t.Error("R0 parsed as immediate")
	}
}
