package main

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/asm"
	"crz64i/pkg/compiler"
	"crz64i/pkg/config"
	"crz64i/pkg/ir"
	"crz64i/pkg/runtime"
	"crz64i/pkg/sim"
)

var discard = log.NewLogger(log.DiscardHandler())

func build(t *testing.T, src string, cfg *config.Config, passes ...string) *compiler.Build {
	t.Helper()
	b, err := compiler.Compile(src, cfg, compiler.Options{
		Passes:     passes,
		PassConfig: compiler.PassConfig{FusionPatterns: compiler.AllFusionPatterns},
		Logger:     discard,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return b
}

func newSim(cfg *config.Config) *sim.Simulator {
	return sim.New(cfg, sim.WithLogger(discard))
}

func TestFusedProgramMatchesUnfused(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		name string
		src  string
	}{
		{"load add", "fn main() { LOAD R0, [R1]; ADD R0, R0, 5; }"},
		{"load add store", "fn main() { LOAD R0, [R1]; ADD R2, R0, R1; STORE R2, [R1 + 1]; }"},
		{"add store", "fn main() { ADD R3, R1, 2; STORE R3, [4]; LOAD R5, [4]; }"},
		{"in a loop", "fn main() { for i in 0..3 { LOAD R4, [R1]; ADD R4, R4, i; STORE R4, [R1]; } }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := build(t, tt.src, cfg)
			fused := build(t, tt.src, cfg, compiler.PassFusion)
			if reflect.DeepEqual(plain.Ops, fused.Ops) {
				t.Fatalf("nothing fused:\n%s", fused.Listing)
			}

			var states []sim.State
			var energies []float64
			for _, ops := range [][]ir.Op{plain.Ops, fused.Ops} {
				s := newSim(cfg)
				s.SetReg("R1", 10)
				if err := s.WriteMem(10, 7); err != nil {
					t.Fatal(err)
				}
				if _, err := s.Run(ops); err != nil {
					t.Fatal(err)
				}
				states = append(states, s.State())
				energies = append(energies, s.Energy())
			}
			if !reflect.DeepEqual(states[0], states[1]) {
				t.Errorf("final state differs:\nunfused %+v\nfused   %+v", states[0], states[1])
			}
			if energies[1] > energies[0] {
				t.Errorf("fused energy %g exceeds unfused %g", energies[1], energies[0])
			}
		})
	}
}

func TestFusionExample(t *testing.T) {
	cfg := config.Default()
	for _, passes := range [][]string{nil, {compiler.PassFusion}} {
		s := newSim(cfg)
		s.SetReg("R1", 10)
		if err := s.WriteMem(10, 7); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Run(build(t, "fn main() { LOAD R0, [R1]; ADD R0, R0, 5; }", cfg, passes...).Ops); err != nil {
			t.Fatal(err)
		}
		if s.Reg("R0") != 12 {
			t.Errorf("passes %v: R0 = %d, want 12", passes, s.Reg("R0"))
		}
	}
}

func TestReversibleRoundTrip(t *testing.T) {
	src := `#[reversible] fn main() {
    ADD R1, R1, 3;
    MUL R2, R1, R1;
    if R2 > 10 { SUB R3, R3, R2; }
}`
	cfg := config.Default()
	for _, pass := range []string{compiler.PassReversibleEmulation, compiler.PassReversibleFine} {
		t.Run(pass, func(t *testing.T) {
			b := build(t, src, cfg, pass)
			if pass == compiler.PassReversibleFine {
				if issues := compiler.AnalyzeProgramDataflow(b.Optimized, compiler.Limits{}); len(issues) != 0 {
					t.Errorf("protected program still has issues: %v", issues)
				}
			}
			s := newSim(cfg)
			s.SetReg("R1", 4)
			s.SetReg("R2", 9)
			s.SetReg("R3", 100)
			before := s.State()
			if _, err := s.Run(b.Ops); err != nil {
				t.Fatal(err)
			}
			if after := s.State(); !reflect.DeepEqual(after.Registers, before.Registers) {
				t.Errorf("registers changed:\nbefore %v\nafter  %v", before.Registers, after.Registers)
			}
		})
	}
}

func TestPathSensitiveReversibility(t *testing.T) {
	src := `#[reversible] fn main(x) {
    if x == 1 {
        let tmp = R0;
        ADD R0, R0, 1;
    } else {
        ADD R0, R0, 2;
    }
}`
	b := build(t, src, nil)
	var pathErrors []compiler.Issue
	for _, is := range b.Issues {
		if is.Type == compiler.IssueError && len(is.Path) > 0 {
			pathErrors = append(pathErrors, is)
		}
	}
	if len(pathErrors) != 1 {
		t.Fatalf("got %d path errors, want 1: %v", len(pathErrors), b.Issues)
	}
	if pathErrors[0].Line != 6 {
		t.Errorf("error on line %d, want the else arm on line 6", pathErrors[0].Line)
	}
}

func TestRealtimeRejected(t *testing.T) {
	src := `#[realtime] fn tick() {
    LOAD R1, [R0];
    ADD R1, R1, 1;
    STORE R1, [R0];
    DMA_START R2, R3, 8;
}`
	b, err := compiler.Compile(src, nil, compiler.Options{BlockOnErrors: true, Logger: discard})
	if !errors.Is(err, compiler.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var errs []string
	for _, is := range b.Issues {
		if is.Type == compiler.IssueError {
			errs = append(errs, is.Message)
		}
	}
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
	for i, mn := range []string{"LOAD", "STORE", "DMA_START"} {
		if !strings.Contains(errs[i], mn) || !strings.Contains(errs[i], "tick") {
			t.Errorf("error %d = %q, want it to name %s and tick", i, errs[i], mn)
		}
	}
}

func TestMemoryBounds(t *testing.T) {
	cfg := config.Default().WithMemoryLimit(16)
	tests := []struct {
		name string
		src  string
		fail bool
	}{
		{"negative", "fn main() { STORE 1, [-1]; }", true},
		{"at limit", "fn main() { STORE 1, [16]; }", true},
		{"load beyond limit", "fn main() { LOAD R0, [100]; }", true},
		{"last word", "fn main() { STORE 5, [15]; }", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSim(cfg)
			_, err := s.Run(build(t, tt.src, cfg).Ops)
			if tt.fail {
				if !errors.Is(err, sim.ErrOutOfBounds) {
					t.Errorf("err = %v, want ErrOutOfBounds", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(s.Memory) != 16 || s.Memory[15] != 5 || s.Memory[0] != 0 {
				t.Errorf("memory = %v", s.Memory)
			}
		})
	}
}

func TestDivideByZero(t *testing.T) {
	s := newSim(nil)
	s.SetReg("R0", 99)
	_, err := s.Run(build(t, "fn main() { DIV R0, R1, R2; }", nil).Ops)
	if !errors.Is(err, sim.ErrDivideByZero) {
		t.Fatalf("err = %v, want ErrDivideByZero", err)
	}
	if !strings.Contains(err.Error(), "DIV") {
		t.Errorf("error %q does not name the instruction", err)
	}
	if s.Reg("R0") != 99 {
		t.Errorf("R0 = %d, destination was written", s.Reg("R0"))
	}
}

func TestCoolHintLowersPeak(t *testing.T) {
	b := build(t, "fn main() { NOP; }", nil)
	rt := runtime.New(newSim(nil), runtime.WithLogger(discard))
	rt.InterpretHints([]runtime.Hint{{Name: "thermal_hint", Value: "cool"}})
	rt.Simulator().SetThermal(sim.ComponentALU, 48)

	prev := rt.Simulator().PeakTemperature()
	for i := 0; i < 10; i++ {
		if _, err := rt.RunWithHints(b.Ops); err != nil {
			t.Fatal(err)
		}
		peak := rt.Simulator().PeakTemperature()
		if peak >= prev {
			t.Fatalf("run %d: peak %g >= %g", i, peak, prev)
		}
		prev = peak
	}
}

func TestEnergyMatchesTable(t *testing.T) {
	cfg := config.Default()
	src := "fn main() { LOAD R0, [R1]; ADD R0, R0, 5; MUL R2, R0, R0; }"
	b := build(t, src, cfg)

	var want float64
	for _, op := range b.Ops {
		want += cfg.EnergyOf(op.Op)
	}
	s := newSim(cfg)
	if _, err := s.Run(b.Ops); err != nil {
		t.Fatal(err)
	}
	if math.Abs(s.Energy()-want) > 1e-15 {
		t.Errorf("energy = %g, want %g", s.Energy(), want)
	}
	if math.Abs(ir.TotalEnergy(b.Ops)-want) > 1e-15 {
		t.Errorf("static estimate = %g, want %g", ir.TotalEnergy(b.Ops), want)
	}
}

func TestYieldAndMigrate(t *testing.T) {
	src := "fn main() { FAST_PATH_ENTER; ADD R1, R1, 5; STORE R1, [3]; YIELD; ADD R2, R1, 1; }"
	b := build(t, src, nil)

	first := runtime.New(newSim(nil), runtime.WithLogger(discard))
	out, err := first.RunWithHints(b.Ops)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != runtime.Yielded {
		t.Fatalf("Kind = %v, want yielded", out.Kind)
	}

	// Serialize the state as a hand-off would.
	data, err := out.State.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var st runtime.MigrationState
	if err := st.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}

	second := runtime.New(newSim(nil), runtime.WithLogger(discard))
	second.Adopt(&st)
	res, err := second.Resume(b.Ops)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != runtime.Halted || second.Simulator().Reg("R2") != 6 {
		t.Errorf("resumed Kind=%v R2=%d, want halted with R2=6", res.Kind, second.Simulator().Reg("R2"))
	}
	if second.Simulator().Energy() <= st.Energy {
		t.Error("energy did not carry over")
	}

	// A full migration also carries memory.
	third := runtime.New(newSim(nil), runtime.WithLogger(discard))
	if err := first.MigrateFull(third); err != nil {
		t.Fatal(err)
	}
	if v, err := third.Simulator().ReadMem(3); err != nil || v != 5 {
		t.Errorf("migrated memory[3] = %d (%v), want 5", v, err)
	}
}

func TestListingRoundTrip(t *testing.T) {
	cfg := config.Default()
	src := `fn main() {
    let s = 0;
    for i in 0..5 { s = s + i; }
    let r = twice(s);
}
fn twice(v) { return v + v; }`
	b := build(t, src, cfg, compiler.DefaultPasses...)

	ops, _, err := asm.Assemble(b.Listing, cfg)
	if err != nil {
		t.Fatalf("Assemble(listing): %v\n%s", err, b.Listing)
	}
	if !reflect.DeepEqual(ops, b.Ops) {
		t.Fatalf("listing does not reassemble to the same ops:\n%s", b.Listing)
	}

	data, err := ir.Encode(b.Ops)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := ir.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	s := newSim(cfg)
	if _, err := s.Run(decoded); err != nil {
		t.Fatal(err)
	}
	if s.Reg("r") != 20 {
		t.Errorf("r = %d, want 20", s.Reg("r"))
	}
}
