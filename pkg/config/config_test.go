package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesTable(t *testing.T) {
	c := Default()
	tests := []struct {
		op     string
		energy float64
		cycles int
	}{
		{"ADD", 4.5e-8, 1},
		{"SUB", 6e-8, 1},
		{"MUL", 1.2e-6, 3},
		{"DIV", 3e-6, 10},
		{"LOAD", 4e-7, 3},
		{"JMP", 1e-8, 1},
		{"BR_IF", 2.5e-7, 2},
		{"LABEL", 0, 0},
		{"FUSED_LOAD_ADD", 4.1e-7, 2},
	}
	for _, tt := range tests {
		if got := c.EnergyOf(tt.op); got != tt.energy {
			t.Errorf("EnergyOf(%s) = %g, want %g", tt.op, got, tt.energy)
		}
		if got := c.CyclesOf(tt.op); got != tt.cycles {
			t.Errorf("CyclesOf(%s) = %d, want %d", tt.op, got, tt.cycles)
		}
	}
	if c.EnergyOf("NOPE") != DefaultEnergy || c.CyclesOf("NOPE") != DefaultCycles {
		t.Error("missing mnemonic should use defaults")
	}
	if c.MemoryLimit != nil {
		t.Error("default memory limit should be unset")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWithEnergyDoesNotMutate(t *testing.T) {
	base := Default()
	mod := base.WithEnergy(map[string]float64{"NOP": 0})
	if mod.EnergyOf("NOP") != 0 {
		t.Fatal("override not applied")
	}
	if base.EnergyOf("NOP") == 0 {
		t.Fatal("base config was mutated")
	}
	lim := base.WithMemoryLimit(64)
	if base.MemoryLimit != nil || *lim.MemoryLimit != 64 {
		t.Fatal("WithMemoryLimit mutated base or did not apply")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	doc := `{"energy": {"ADD": 1e-7}, "thermal": {"base_temp": 30}, "memory_limit": 128, "sim_clock_hz": 1000}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.EnergyOf("ADD") != 1e-7 {
		t.Errorf("ADD energy = %g", c.EnergyOf("ADD"))
	}
	if c.EnergyOf("SUB") != 6e-8 {
		t.Errorf("SUB energy lost its default: %g", c.EnergyOf("SUB"))
	}
	if c.Thermal.BaseTemp != 30 || c.Thermal.HeatCapacity != 100 {
		t.Errorf("thermal merge wrong: %+v", c.Thermal)
	}
	if c.MemoryLimit == nil || *c.MemoryLimit != 128 {
		t.Errorf("memory limit = %v", c.MemoryLimit)
	}
	if c.SimClockHz != 1000 {
		t.Errorf("clock = %g", c.SimClockHz)
	}
}

func TestParseRejectsBadJSON(t *testing.T) {
	if _, err := Parse([]byte("{")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Parse([]byte(`{"memory_limit": -1}`)); err == nil {
		t.Fatal("expected validation error for negative memory limit")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvMaxSteps, "5000")
	t.Setenv(EnvMemoryLimit, "256")
	t.Setenv(EnvSimClockHz, "2e6")
	c, err := FromEnv(Default())
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if c.MaxSteps != 5000 {
		t.Errorf("MaxSteps = %d", c.MaxSteps)
	}
	if c.MemoryLimit == nil || *c.MemoryLimit != 256 {
		t.Errorf("MemoryLimit = %v", c.MemoryLimit)
	}
	if c.SimClockHz != 2e6 {
		t.Errorf("SimClockHz = %g", c.SimClockHz)
	}
}
