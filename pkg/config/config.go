// Package config holds the resolved configuration consumed by the compiler
// passes, the lowering stage and the simulator.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"

	"github.com/xyproto/env/v2"

	"crz64i/pkg/isa"
)

// Default cost used for mnemonics missing from the tables.
const (
	DefaultCycles = 1
	DefaultEnergy = 1e-9
)

// Thermal holds the constants of the Newton cooling model.
type Thermal struct {
	BaseTemp          float64 `json:"base_temp"`
	HeatFactor        float64 `json:"heat_factor"`
	HeatCapacity      float64 `json:"heat_capacity"`
	ThermalResistance float64 `json:"thermal_resistance"`
}

// Config is treated as an immutable value once built. Methods that change
// it return a modified copy.
type Config struct {
	Energy      map[string]float64 `json:"energy"`
	Cycles      map[string]int     `json:"cycles"`
	Thermal     Thermal            `json:"thermal"`
	Cores       int                `json:"cores"`
	EnergyUnit  float64            `json:"energy_unit"`
	SimClockHz  float64            `json:"sim_clock_hz"`
	MemoryLimit *int64             `json:"memory_limit,omitempty"`
	MaxSteps    int                `json:"max_steps"`
	MaxPaths    int                `json:"max_paths"`
	MaxPathLen  int                `json:"max_path_len"`
}

// Default returns the built-in configuration. Energy and cycle tables are
// derived from the instruction descriptor table.
func Default() *Config {
	c := &Config{
		Energy: make(map[string]float64),
		Cycles: make(map[string]int),
		Thermal: Thermal{
			BaseTemp:          25.0,
			HeatFactor:        0.1,
			HeatCapacity:      100.0,
			ThermalResistance: 0.5,
		},
		Cores:      4,
		EnergyUnit: 1.0,
		SimClockHz: 343180684.9654721,
		MaxSteps:   1000,
		MaxPaths:   100,
		MaxPathLen: 50,
	}
	for _, op := range isa.Opcodes() {
		d := op.Descriptor()
		c.Energy[d.Mnemonic] = d.Energy
		c.Cycles[d.Mnemonic] = d.Latency
	}
	return c
}

// EnergyOf returns the configured energy for mnemonic, or DefaultEnergy.
func (c *Config) EnergyOf(mnemonic string) float64 {
	if e, ok := c.Energy[mnemonic]; ok {
		return e
	}
	return DefaultEnergy
}

// CyclesOf returns the configured cycle count for mnemonic, or DefaultCycles.
func (c *Config) CyclesOf(mnemonic string) int {
	if n, ok := c.Cycles[mnemonic]; ok {
		return n
	}
	return DefaultCycles
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Energy = maps.Clone(c.Energy)
	out.Cycles = maps.Clone(c.Cycles)
	if c.MemoryLimit != nil {
		lim := *c.MemoryLimit
		out.MemoryLimit = &lim
	}
	return &out
}

// WithEnergy returns a copy with the energy of each listed mnemonic replaced.
func (c *Config) WithEnergy(overrides map[string]float64) *Config {
	out := c.Clone()
	maps.Copy(out.Energy, overrides)
	return out
}

// WithMemoryLimit returns a copy with the memory limit set to n words.
func (c *Config) WithMemoryLimit(n int64) *Config {
	out := c.Clone()
	out.MemoryLimit = &n
	return out
}

// Validate reports configuration values the simulator cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.SimClockHz <= 0:
		return fmt.Errorf("config: sim_clock_hz must be positive, got %g", c.SimClockHz)
	case c.Thermal.HeatCapacity <= 0:
		return fmt.Errorf("config: heat_capacity must be positive, got %g", c.Thermal.HeatCapacity)
	case c.Thermal.ThermalResistance <= 0:
		return fmt.Errorf("config: thermal_resistance must be positive, got %g", c.Thermal.ThermalResistance)
	case c.MemoryLimit != nil && *c.MemoryLimit < 0:
		return fmt.Errorf("config: memory_limit must not be negative, got %d", *c.MemoryLimit)
	case c.MaxSteps <= 0:
		return fmt.Errorf("config: max_steps must be positive, got %d", c.MaxSteps)
	}
	return nil
}

// Load reads a JSON document and merges it over Default. Tables in the file
// override individual mnemonics; absent keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse merges a JSON document over Default.
func Parse(data []byte) (*Config, error) {
	base := Default()
	var doc Config
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	maps.Copy(base.Energy, doc.Energy)
	maps.Copy(base.Cycles, doc.Cycles)
	if doc.Thermal != (Thermal{}) {
		mergeThermal(&base.Thermal, doc.Thermal)
	}
	if doc.Cores > 0 {
		base.Cores = doc.Cores
	}
	if doc.EnergyUnit > 0 {
		base.EnergyUnit = doc.EnergyUnit
	}
	if doc.SimClockHz > 0 {
		base.SimClockHz = doc.SimClockHz
	}
	if doc.MemoryLimit != nil {
		base.MemoryLimit = doc.MemoryLimit
	}
	if doc.MaxSteps > 0 {
		base.MaxSteps = doc.MaxSteps
	}
	if doc.MaxPaths > 0 {
		base.MaxPaths = doc.MaxPaths
	}
	if doc.MaxPathLen > 0 {
		base.MaxPathLen = doc.MaxPathLen
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func mergeThermal(dst *Thermal, src Thermal) {
	if src.BaseTemp != 0 {
		dst.BaseTemp = src.BaseTemp
	}
	if src.HeatFactor != 0 {
		dst.HeatFactor = src.HeatFactor
	}
	if src.HeatCapacity != 0 {
		dst.HeatCapacity = src.HeatCapacity
	}
	if src.ThermalResistance != 0 {
		dst.ThermalResistance = src.ThermalResistance
	}
}

// Environment variables understood by FromEnv.
const (
	EnvSimClockHz  = "CRZ_SIM_CLOCK_HZ"
	EnvMemoryLimit = "CRZ_MEMORY_LIMIT"
	EnvMaxSteps    = "CRZ_MAX_STEPS"
	EnvMaxPaths    = "CRZ_MAX_PATHS"
	EnvMaxPathLen  = "CRZ_MAX_PATH_LEN"
	EnvCores       = "CRZ_CORES"
	EnvEnergyUnit  = "CRZ_ENERGY_UNIT"
)

// FromEnv returns a copy of base with CRZ_* environment overrides applied.
func FromEnv(base *Config) (*Config, error) {
	c := base.Clone()
	c.SimClockHz = env.Float64(EnvSimClockHz, c.SimClockHz)
	c.EnergyUnit = env.Float64(EnvEnergyUnit, c.EnergyUnit)
	c.MaxSteps = env.Int(EnvMaxSteps, c.MaxSteps)
	c.MaxPaths = env.Int(EnvMaxPaths, c.MaxPaths)
	c.MaxPathLen = env.Int(EnvMaxPathLen, c.MaxPathLen)
	c.Cores = env.Int(EnvCores, c.Cores)
	if env.Has(EnvMemoryLimit) {
		lim := env.Int64(EnvMemoryLimit, -1)
		c.MemoryLimit = &lim
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w (from environment)", err)
	}
	return c, nil
}
