package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/config"
)

var quietLogger = log.NewLogger(log.DiscardHandler())

func TestCompile(t *testing.T) {
	src := `
#[reversible]
fn main() {
    let a = R1;
    let b = R2;
    let c = R3;
    LOAD R1, [R0];
    ADD R2, R1, 5;
    MUL R3, R2, R2;
}`
	build, err := Compile(src, config.Default(), Options{
		Passes: DefaultPasses,
		Logger: quietLogger,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if HasErrors(build.Issues) {
		t.Errorf("unexpected issues: %v", build.Issues)
	}
	if build.Program == build.Optimized {
		t.Error("passes returned the parsed program")
	}

	var mnemonics []string
	for _, op := range build.Ops {
		mnemonics = append(mnemonics, op.Op)
	}
	want := []string{"SAVE_DELTA", "ADD", "ADD", "ADD", "FUSED_LOAD_ADD", "FMA", "RESTORE_DELTA", "HALT"}
	if strings.Join(mnemonics, " ") != strings.Join(want, " ") {
		t.Errorf("ops = %v, want %v", mnemonics, want)
	}
	if !build.Ops[4].Fused {
		t.Error("fused op not flagged")
	}
	if !strings.Contains(build.Listing, "    FUSED_LOAD_ADD R1, R2, [R0], 5\n") {
		t.Errorf("listing:\n%s", build.Listing)
	}
}

func TestCompileBlocksOnErrors(t *testing.T) {
	src := "#[realtime] fn main() { LOAD R1, [R0]; }"

	build, err := Compile(src, nil, Options{BlockOnErrors: true, Logger: quietLogger})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if build == nil || len(build.Issues) != 1 || build.Ops != nil {
		t.Errorf("build = %+v", build)
	}

	// Without blocking the issues are reported and lowering still runs.
	build, err = Compile(src, nil, Options{Logger: quietLogger})
	if err != nil {
		t.Fatal(err)
	}
	if !HasErrors(build.Issues) || len(build.Ops) == 0 {
		t.Errorf("issues=%v ops=%v", build.Issues, build.Ops)
	}
}

func TestCompileDataflowIssues(t *testing.T) {
	src := "#[reversible] fn main(x) { if x { let t = R2; ADD R2, R2, 1; } else { ADD R2, R2, 2; } }"
	build, err := Compile(src, nil, Options{Logger: quietLogger})
	if err != nil {
		t.Fatal(err)
	}
	var pathIssues int
	for _, is := range build.Issues {
		if len(is.Path) > 0 {
			pathIssues++
		}
	}
	if pathIssues != 1 {
		t.Errorf("got %d path issues in %v, want 1", pathIssues, build.Issues)
	}
}

func TestCompileSyntaxError(t *testing.T) {
	build, err := Compile("fn main( {", nil, Options{Logger: quietLogger})
	var se *SyntaxError
	if !errors.As(err, &se) || build != nil {
		t.Errorf("build=%v err=%v, want a *SyntaxError", build, err)
	}
}

func TestCompileIRFusion(t *testing.T) {
	src := "fn main() { LOAD R1, [R0]; ADD R2, R1, 5; }"
	build, err := Compile(src, nil, Options{IRFusion: true, Logger: quietLogger})
	if err != nil {
		t.Fatal(err)
	}
	if build.Ops[0].Op != "FUSED_LOAD_ADD" {
		t.Errorf("ops = %v", build.Ops)
	}
}
