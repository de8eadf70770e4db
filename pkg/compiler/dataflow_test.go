package compiler

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildCFG(t *testing.T) {
	tests := []struct {
		name  string
		input string
		succs [][]int
	}{
		{
			name:  "straight line",
			input: "fn f() { NOP; NOP; }",
			succs: [][]int{{1}, nil},
		},
		{
			name:  "if without else",
			input: "fn f(x) { if x { NOP; } NOP; }",
			succs: [][]int{{1, 2}, {2}, {3}, nil},
		},
		{
			name:  "if with else",
			input: "fn f(x) { if x { NOP; } else { NOP; } }",
			succs: [][]int{{1, 2}, {3}, {3}, {4}, nil},
		},
		{
			name:  "loop",
			input: "fn f() { for i in 0..4 { NOP; } }",
			succs: [][]int{{1}, {2, 3}, {1, 3}, {4}, nil},
		},
		{
			name: "labels and jumps",
			input: `fn f() {
    ADD R0, R0, 1;
    JZ done;
    ADD R0, R0, 2;
done:
    RET;
}`,
			succs: [][]int{{1, 2}, {2}, {3}, nil},
		},
		{
			name:  "code after JMP",
			input: "fn f() { top: JMP top; NOP; }",
			succs: [][]int{{0}, {2}, nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := BuildCFG(mustParse(t, tt.input).Functions()[0])
			var got [][]int
			for _, b := range g.Blocks {
				got = append(got, b.Succs)
			}
			if !reflect.DeepEqual(got, tt.succs) {
				t.Errorf("successors = %v, want %v", got, tt.succs)
			}
			if g.Exit() != len(tt.succs)-1 {
				t.Errorf("Exit() = %d", g.Exit())
			}
		})
	}
}

func TestEnumeratePaths(t *testing.T) {
	// Three independent ifs give eight paths.
	fn := mustParse(t, "fn f(x) { if x { NOP; } if x { NOP; } if x { NOP; } }").Functions()[0]
	g := BuildCFG(fn)

	paths := g.EnumeratePaths(Limits{})
	if len(paths) != 8 || g.Bounded() {
		t.Errorf("got %d paths (bounded=%v), want 8 unbounded", len(paths), g.Bounded())
	}
	for _, p := range paths {
		if p[0] != 0 || p[len(p)-1] != g.Exit() {
			t.Errorf("path %v does not run entry to exit", p)
		}
	}

	if paths := g.EnumeratePaths(Limits{MaxPaths: 3}); len(paths) != 3 || !g.Bounded() {
		t.Errorf("MaxPaths=3: got %d paths (bounded=%v)", len(paths), g.Bounded())
	}
	if paths := g.EnumeratePaths(Limits{MaxPathLen: 2}); len(paths) != 0 || !g.Bounded() {
		t.Errorf("MaxPathLen=2: got %d paths (bounded=%v)", len(paths), g.Bounded())
	}
}

func TestAnalyzeDataflow(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errors []string
		lines  []int
	}{
		{
			name: "write guarded on one branch only",
			input: `#[reversible] fn r(x) {
    if x == 0 {
        let t = R2;
        ADD R2, R2, 1;
    } else {
        ADD R2, R2, 2;
    }
}`,
			errors: []string{"Write to R2 in function r without prior let tmp = R2 or #[no_erase] (path 0->2->3->4)"},
			lines:  []int{6},
		},
		{
			name:  "capture before the branch covers both arms",
			input: "#[reversible] fn r(x) { let t = R2; if x { ADD R2, R2, 1; } else { ADD R2, R2, 2; } }",
		},
		{
			name:   "repeated write on one path is reported once",
			input:  "#[reversible] fn r() { ADD R1, R1, 1; ADD R1, R1, 2; }",
			errors: []string{"Write to R1"},
			lines:  []int{1},
		},
		{
			name:   "write inside a loop",
			input:  "#[reversible] fn r() {\n for i in 0..3 {\n  ADD R4, R4, i;\n }\n}",
			errors: []string{"(path 0->1->2->3->4)"},
			lines:  []int{3},
		},
		{
			name:  "no_erase",
			input: "#[reversible] fn r(x) { if x { #[no_erase] ADD R1, R1, 1; } }",
		},
		{
			name:   "second target of a fused load",
			input:  "#[reversible] fn r() {\n let a = R1;\n FUSED_LOAD_ADD R1, R2, [R0], 5;\n}",
			errors: []string{"Write to R2"},
			lines:  []int{3},
		},
		{
			name:  "not reversible",
			input: "fn f(x) { if x { ADD R1, R1, 1; } }",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := mustParse(t, tt.input).Functions()[0]
			issues := AnalyzeDataflow(fn, Limits{})
			if len(issues) != len(tt.errors) {
				t.Fatalf("got %d issues %v, want %d", len(issues), issues, len(tt.errors))
			}
			for i, is := range issues {
				if is.Type != IssueError {
					t.Errorf("issue %d type = %s", i, is.Type)
				}
				if !strings.Contains(is.Message, tt.errors[i]) {
					t.Errorf("issue %d = %q, want it to contain %q", i, is.Message, tt.errors[i])
				}
				if is.Line != tt.lines[i] {
					t.Errorf("issue %d line = %d, want %d", i, is.Line, tt.lines[i])
				}
				if len(is.Path) == 0 {
					t.Errorf("issue %d has no path", i)
				}
			}
		})
	}
}

func TestFlatCheckMissesBranchCapture(t *testing.T) {
	src := `#[reversible] fn r(x) {
    if x { let t = R2; ADD R2, R2, 1; } else { ADD R2, R2, 2; }
}`
	prog := mustParse(t, src)
	if HasErrors(Analyze(prog)) {
		t.Error("flat check flagged the program; it shares captures across branches")
	}
	if !HasErrors(AnalyzeProgramDataflow(prog, Limits{})) {
		t.Error("path-sensitive check accepted the unguarded else branch")
	}
}
