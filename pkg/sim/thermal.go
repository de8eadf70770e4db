package sim

import (
	"maps"

	"crz64i/pkg/isa"
)

// Thermal components.
const (
	ComponentALU     = "alu"
	ComponentControl = "control"
)

// charge adds the configured cost of one executed op to the running totals
// and heats the component it runs on.
func (s *Simulator) charge(op isa.Opcode, mnemonic string) {
	cycles := s.cfg.CyclesOf(mnemonic)
	energy := s.cfg.EnergyOf(mnemonic) * s.cfg.EnergyUnit

	var dt float64
	if s.cfg.SimClockHz > 0 {
		dt = float64(cycles) / s.cfg.SimClockHz
	}
	s.cycles += int64(cycles)
	s.energy += energy
	s.wallClock += dt
	s.opCounts[mnemonic]++

	component := ComponentControl
	if isa.HeatsALU(op) {
		component = ComponentALU
	}
	s.heat(component, energy, dt)
}

// heat applies Newton's law of cooling to one component over dt seconds:
//
//	ΔT = (P − (T − T_ambient)/R) × (dt / C),  P = energy / dt
func (s *Simulator) heat(component string, energy, dt float64) {
	th := s.cfg.Thermal
	t, ok := s.thermal[component]
	if !ok {
		t = th.BaseTemp
	}
	if dt > 0 && th.HeatCapacity > 0 && th.ThermalResistance > 0 {
		power := energy / dt
		t += (power - (t-th.BaseTemp)/th.ThermalResistance) * (dt / th.HeatCapacity)
	}
	s.thermal[component] = t
}

// Thermal returns a copy of the per-component temperatures.
func (s *Simulator) Thermal() map[string]float64 {
	return maps.Clone(s.thermal)
}

// SetThermal overrides a component temperature.
func (s *Simulator) SetThermal(component string, t float64) {
	s.thermal[component] = t
}

// PeakTemperature is the hottest component, or the ambient temperature when
// nothing has run yet.
func (s *Simulator) PeakTemperature() float64 {
	if len(s.thermal) == 0 {
		return s.cfg.Thermal.BaseTemp
	}
	peak := s.cfg.Thermal.BaseTemp
	first := true
	for _, t := range s.thermal {
		if first || t > peak {
			peak = t
			first = false
		}
	}
	return peak
}

// Cool scales every component's excess over ambient by factor.
func (s *Simulator) Cool(factor float64) {
	amb := s.cfg.Thermal.BaseTemp
	for c, t := range s.thermal {
		s.thermal[c] = amb + (t-amb)*factor
	}
}
