package asm

import (
	"reflect"
	"strings"
	"testing"

	"crz64i/pkg/config"
	"crz64i/pkg/ir"
)

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"abc", true},
		{"_abc", true},
		{"loop_1", true},
		{"1abc", false},
		{"", false},
		{"ab-c", false},
	}
	for _, tc := range tests {
		if got := isIdentifier(tc.input); got != tc.want {
			t.Errorf("isIdentifier(%q) = %v; want %v", tc.input, got, tc.want)
		}
	}

	if got := stripComments("ADD r0, r1, 2 ; trailing"); got != "ADD r0, r1, 2 " {
		t.Errorf("stripComments = %q", got)
	}
	if got := stripComments("NOP // note"); got != "NOP " {
		t.Errorf("stripComments = %q", got)
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    parsedLine
		wantErr bool
	}{
		{
			"ADD r0, r1, 5",
			parsedLine{lineNo: 1, mnemonic: "ADD", operands: []string{"r0", "r1", "5"}},
			false,
		},
		{
			"  load R0, [R1 + 8]  ; comment",
			parsedLine{lineNo: 1, mnemonic: "LOAD", operands: []string{"R0", "[R1 + 8]"}},
			false,
		},
		{
			"loop_1:",
			parsedLine{lineNo: 1, labels: []string{"loop_1"}},
			false,
		},
		{
			"start: HALT",
			parsedLine{lineNo: 1, labels: []string{"start"}, mnemonic: "HALT", operands: []string{}},
			false,
		},
		{
			"ADD x, f(a, b), 0",
			parsedLine{lineNo: 1, mnemonic: "ADD", operands: []string{"x", "f(a, b)", "0"}},
			false,
		},
		{"1bad: NOP", parsedLine{}, true},
		{"ADD r0, , r1", parsedLine{}, true},
		{"LOAD r0, [r1", parsedLine{}, true},
	}
	for _, tc := range tests {
		got, err := parseLine(tc.line, 1)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseLine(%q) error = %v, wantErr %v", tc.line, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseLine(%q) = %+v; want %+v", tc.line, got, tc.want)
		}
	}
}

func TestAssemble(t *testing.T) {
	cfg := config.Default()
	code := `
; counts to three
    ADD r0, 0, 0
loop:
    ADD r0, r0, 1
    BR_IF LT, r0, 3, loop
    HALT
`
	ops, sourceMap, err := Assemble(code, cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := []ir.Op{
		ir.New(cfg, "ADD", "r0", "0", "0"),
		ir.New(cfg, "LABEL", "loop"),
		ir.New(cfg, "ADD", "r0", "r0", "1"),
		ir.New(cfg, "BR_IF", "LT", "r0", "3", "loop"),
		ir.New(cfg, "HALT"),
	}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops:\n got %v\nwant %v", ops, want)
	}
	for idx, line := range map[int]int{0: 3, 1: 4, 2: 5, 4: 7} {
		if sourceMap[idx] != line {
			t.Errorf("sourceMap[%d] = %d; want %d", idx, sourceMap[idx], line)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"duplicate label", "a:\na:\n", "duplicate label"},
		{"duplicate LABEL op", "a:\nLABEL a\n", "duplicate label"},
		{"unknown", "FROB r0\n", "unknown instruction"},
		{"arity", "ADD r0, r1\n", "expects 3 operands"},
		{"undefined label", "JMP nowhere\n", "undefined label"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Assemble(tc.code, nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v; want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	cfg := config.Default()
	ops := []ir.Op{
		ir.New(cfg, "ADD", "x", "r0", "0"),
		ir.New(cfg, "LABEL", "then_1"),
		ir.New(cfg, "FUSED_LOAD_ADD", "R0", "R2", "[R1 + 4]", "5"),
		ir.New(cfg, "BR_IF", "x > 2", "then_1"),
		ir.New(cfg, "RET"),
	}
	text := Format(ops)
	if !strings.Contains(text, "then_1:\n") {
		t.Fatalf("label not at column zero:\n%s", text)
	}
	back, _, err := Assemble(text, cfg)
	if err != nil {
		t.Fatalf("Assemble(Format): %v\n%s", err, text)
	}
	if !reflect.DeepEqual(back, ops) {
		t.Fatalf("round trip:\n got %v\nwant %v", back, ops)
	}
}
