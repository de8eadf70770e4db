package compiler

import (
	"strings"
	"testing"
)

func messages(issues []Issue, level string) []string {
	var out []string
	for _, is := range issues {
		if is.Type == level {
			out = append(out, is.Message)
		}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		errors   []string // substrings, one per expected error, in order
		warnings []string
	}{
		{
			name:  "clean function",
			input: "#[power=high] fn f() { ADD R0, R1, 2; }",
		},
		{
			name: "realtime violations",
			input: `#[realtime] fn rt() {
    LOAD R1, [R0];
    ADD R1, R1, 1;
    STORE R1, [R0];
    DMA_START R2, R3, 4;
}`,
			errors: []string{
				"Realtime violation: LOAD inside realtime function rt.",
				"Realtime violation: STORE inside realtime function rt.",
				"Realtime violation: DMA_START inside realtime function rt.",
			},
		},
		{
			name:   "realtime on a loop",
			input:  "fn f() { #[realtime] for i in 0..4 { LOAD R1, [i]; } }",
			errors: []string{"Realtime violation: LOAD inside realtime function f."},
		},
		{
			name:     "unknown mnemonic",
			input:    "fn f() { FROB R0; }",
			warnings: []string{"Unknown mnemonic FROB"},
		},
		{
			name:   "arity",
			input:  "fn f() { ADD R0, R1; }",
			errors: []string{"ADD expects 3 operands, got 2"},
		},
		{
			name:   "invalid power",
			input:  "#[power=turbo] fn f() { }",
			errors: []string{`Invalid power value "turbo" on function f`},
		},
		{
			name:   "non-numeric thermal hint",
			input:  "#[thermal_hint=hot] fn f() { }",
			errors: []string{"thermal_hint on function f must be numeric"},
		},
		{
			name:   "attribute not allowed on function",
			input:  "#[no_erase] fn f() { }",
			errors: []string{"Attribute #[no_erase] not allowed on function"},
		},
		{
			name:   "attribute not allowed on let",
			input:  "fn f() { #[fusion] let x = 1; }",
			errors: []string{"Attribute #[fusion] not allowed on statement"},
		},
		{
			name:   "reversible write without capture",
			input:  "#[reversible] fn r() { ADD R1, R1, 1; }",
			errors: []string{"Write to R1 in function r without prior let tmp = R1 or #[no_erase]"},
		},
		{
			name:  "reversible write after let",
			input: "#[reversible] fn r() { let tmp = R1; ADD R1, R1, 1; ADD tmp, tmp, 0; }",
		},
		{
			name:  "reversible write marked no_erase",
			input: "#[reversible] fn r() { #[no_erase] ADD R1, R1, 1; }",
		},
		{
			name:   "fused load writes its result register too",
			input:  "#[reversible] fn r() { let a = R1; FUSED_LOAD_ADD R1, R2, [R0], 5; }",
			errors: []string{"Write to R2 in function r without prior let tmp = R2 or #[no_erase]"},
		},
		{
			name:  "fused load with both targets captured",
			input: "#[reversible] fn r() { let a = R1; let b = R2; FUSED_LOAD_ADD_STORE R1, R2, [R0], 5, [R3]; }",
		},
		{
			name:  "writes outside reversible functions are fine",
			input: "fn f() { ADD R1, R1, 1; }",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := Analyze(mustParse(t, tt.input))
			checkMessages(t, "error", messages(issues, IssueError), tt.errors)
			checkMessages(t, "warning", messages(issues, IssueWarning), tt.warnings)
			if HasErrors(issues) != (len(tt.errors) > 0) {
				t.Errorf("HasErrors = %v", HasErrors(issues))
			}
		})
	}
}

func checkMessages(t *testing.T, kind string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d %ss %q, want %d", len(got), kind, got, len(want))
	}
	for i := range want {
		if !strings.Contains(got[i], want[i]) {
			t.Errorf("%s %d = %q, want it to contain %q", kind, i, got[i], want[i])
		}
	}
}

func TestAnalyzePositions(t *testing.T) {
	issues := Analyze(mustParse(t, "#[realtime]\nfn rt() {\n    NOP;\n    LOAD R1, [R0];\n}"))
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].Line != 4 || issues[0].Column != 5 {
		t.Errorf("issue at %d:%d, want 4:5", issues[0].Line, issues[0].Column)
	}
	if got := issues[0].String(); !strings.HasPrefix(got, "4:5: error: ") {
		t.Errorf("String() = %q", got)
	}
}

func TestAnalyzeDoesNotModify(t *testing.T) {
	prog := mustParse(t, "#[reversible] fn r() { ADD R1, R1, 1; }")
	before := prog.Function("r").Body[0].String()
	Analyze(prog)
	if after := prog.Function("r").Body[0].String(); after != before {
		t.Errorf("Analyze modified the program: %q -> %q", before, after)
	}
}
