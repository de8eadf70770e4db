// Package runtime runs simulator programs under power and thermal hints and
// hands suspended execution state from one simulator to another.
package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/compiler"
	"crz64i/pkg/ir"
	"crz64i/pkg/isa"
	"crz64i/pkg/sim"
)

// Policy constants.
const (
	LowPowerFactor     = 0.9  // share of an op's energy kept in low power mode
	CoolFactor         = 0.95 // thermal scale per op under the cool hint
	MigrationFactor    = 0.8  // thermal scale when moving to a cooler core
	MigrationThreshold = 50.0 // °C
)

// ErrNoMigrationState is returned by MigrateTo before any YIELD.
var ErrNoMigrationState = errors.New("runtime: no migration state captured")

// Hint is a named runtime hint, usually taken from a function attribute.
type Hint struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// HintsFromAttrs converts attributes to hints. #[reversible] becomes the
// reversible_hint hint; other names pass through.
func HintsFromAttrs(attrs []compiler.Attribute) []Hint {
	hints := make([]Hint, 0, len(attrs))
	for _, a := range attrs {
		name := a.Name
		if name == "reversible" {
			name = "reversible_hint"
		}
		hints = append(hints, Hint{Name: name, Value: a.Value})
	}
	return hints
}

type Kind int

const (
	Completed Kind = iota
	Halted
	Yielded
	StepLimit
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case Yielded:
		return "yielded"
	case StepLimit:
		return "step_limit"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of RunWithHints. State is set only when Kind is
// Yielded.
type Outcome struct {
	Kind   Kind
	State  *MigrationState
	Result sim.Result
}

// MigrationState is what a YIELD captures. Snapshot holds the full
// simulator state for MigrateFull; Regs, PC and Energy are enough for
// MigrateTo.
type MigrationState struct {
	Regs     map[string]int64 `json:"regs"`
	PC       int              `json:"pc"`
	Energy   float64          `json:"energy"`
	Snapshot []byte           `json:"snapshot,omitempty"`
}

// MarshalBinary encodes m as JSON, snapshot included.
func (m *MigrationState) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal migration state: %w", err)
	}
	return data, nil
}

func (m *MigrationState) UnmarshalBinary(data []byte) error {
	var v MigrationState
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal migration state: %w", err)
	}
	*m = v
	return nil
}

// Report summarizes runtime state.
type Report struct {
	FastPathActive bool              `json:"fast_path_active"`
	Hints          map[string]string `json:"hints"`
	Reversible     bool              `json:"reversible"`
	MigrationReady bool              `json:"migration_ready"`
	Migrations     int               `json:"migrations"`
	Simulator      sim.EnergyReport  `json:"simulator_report"`
}

type Runtime struct {
	sim *sim.Simulator
	log log.Logger

	energyMode    string
	thermalAction string
	reversible    bool

	fastPath   bool
	state      *MigrationState
	migrations int
}

type Option func(*Runtime)

func WithLogger(l log.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// New wraps s. The runtime owns s from here on.
func New(s *sim.Simulator, opts ...Option) *Runtime {
	r := &Runtime{sim: s, log: log.Root()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Simulator returns the wrapped simulator.
func (r *Runtime) Simulator() *sim.Simulator { return r.sim }

// FastPathActive reports whether a FAST_PATH_ENTER has executed.
func (r *Runtime) FastPathActive() bool { return r.fastPath }

// MigrationState returns the state captured by the last YIELD, or nil.
func (r *Runtime) MigrationState() *MigrationState { return r.state }

// InterpretHints updates the hint state. Unknown hints are ignored.
func (r *Runtime) InterpretHints(hints []Hint) {
	for _, h := range hints {
		switch h.Name {
		case "power":
			r.energyMode = h.Value
		case "thermal_hint":
			r.thermalAction = h.Value
		case "reversible_hint":
			r.reversible = true
		default:
			r.log.Debug("Ignoring hint", "name", h.Name, "value", h.Value)
		}
	}
}

// RunWithHints runs ops from the top, applying the hint policy after every
// op. FAST_PATH_ENTER and YIELD are handled here and never reach the
// simulator, so they cost nothing. FAST_PATH_ENTER turns on the fast path
// flag. YIELD captures a MigrationState and stops; the remaining ops are not
// executed.
func (r *Runtime) RunWithHints(ops []ir.Op) (Outcome, error) {
	r.sim.PC = 0
	r.sim.Halted = false
	return r.run(ops)
}

// Resume continues ops from the simulator's current PC, typically after a
// migration.
func (r *Runtime) Resume(ops []ir.Op) (Outcome, error) {
	return r.run(ops)
}

func (r *Runtime) run(ops []ir.Op) (Outcome, error) {
	if err := r.sim.Prepare(ops); err != nil {
		return Outcome{}, err
	}
	steps := 0
	for !r.sim.Done() {
		if steps >= r.sim.MaxSteps() {
			r.log.Warn("Step limit reached", "steps", steps, "pc", r.sim.PC)
			return r.outcome(StepLimit, steps), nil
		}
		cur, _ := r.sim.Current()
		switch cur.Opcode() {
		case isa.OpFAST_PATH_ENTER:
			r.fastPath = true
			r.log.Debug("Entering fast path", "pc", r.sim.PC)
			r.sim.PC++
			steps++
			continue
		case isa.OpYIELD:
			r.sim.PC++
			steps++
			st, err := r.capture()
			if err != nil {
				return r.outcome(Completed, steps), err
			}
			r.state = st
			r.log.Debug("Yielding for migration", "pc", st.PC, "energy", st.Energy)
			out := r.outcome(Yielded, steps)
			out.State = st
			return out, nil
		}
		before := r.sim.Energy()
		if err := r.sim.Step(); err != nil {
			return r.outcome(Completed, steps), err
		}
		steps++
		r.applyPolicy(before)
	}
	kind := Completed
	if r.sim.Halted {
		kind = Halted
	}
	return r.outcome(kind, steps), nil
}

func (r *Runtime) applyPolicy(energyBefore float64) {
	if r.energyMode == "low" {
		added := r.sim.Energy() - energyBefore
		r.sim.SetEnergy(energyBefore + added*LowPowerFactor)
	}
	if r.thermalAction == "cool" {
		r.sim.Cool(CoolFactor)
	}
	if peak := r.sim.PeakTemperature(); peak > MigrationThreshold {
		r.sim.Cool(MigrationFactor)
		r.migrations++
		r.log.Warn("Migrated to cooler core", "peak", peak, "now", r.sim.PeakTemperature())
	}
}

func (r *Runtime) capture() (*MigrationState, error) {
	snap, err := r.sim.Snapshot()
	if err != nil {
		return nil, err
	}
	return &MigrationState{
		Regs:     maps.Clone(r.sim.Regs),
		PC:       r.sim.PC,
		Energy:   r.sim.Energy(),
		Snapshot: snap,
	}, nil
}

func (r *Runtime) outcome(k Kind, steps int) Outcome {
	return Outcome{
		Kind: k,
		Result: sim.Result{
			Status:          simStatus(k),
			Cycles:          r.sim.Cycles(),
			Energy:          r.sim.Energy(),
			PeakTemperature: r.sim.PeakTemperature(),
			Steps:           steps,
		},
	}
}

func simStatus(k Kind) sim.Status {
	switch k {
	case Halted:
		return sim.Halted
	case StepLimit:
		return sim.StepLimit
	}
	return sim.Completed
}

// MigrateTo copies the captured registers, PC and energy into other's
// simulator. Memory and the thermal map stay behind.
func (r *Runtime) MigrateTo(other *Runtime) error {
	if r.state == nil {
		return ErrNoMigrationState
	}
	other.Adopt(r.state)
	r.log.Debug("Migrated state", "pc", r.state.PC)
	return nil
}

// Adopt loads registers, PC and energy from st.
func (r *Runtime) Adopt(st *MigrationState) {
	r.sim.Regs = maps.Clone(st.Regs)
	r.sim.PC = st.PC
	r.sim.Halted = false
	r.sim.SetEnergy(st.Energy)
}

// MigrateFull restores the whole captured simulator state, memory and
// thermal map included, into other.
func (r *Runtime) MigrateFull(other *Runtime) error {
	if r.state == nil {
		return ErrNoMigrationState
	}
	if len(r.state.Snapshot) == 0 {
		return fmt.Errorf("runtime: migration state has no snapshot")
	}
	if err := other.sim.Restore(r.state.Snapshot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}

func (r *Runtime) Report() Report {
	hints := make(map[string]string)
	if r.energyMode != "" {
		hints["energy_mode"] = r.energyMode
	}
	if r.thermalAction != "" {
		hints["thermal_action"] = r.thermalAction
	}
	return Report{
		FastPathActive: r.fastPath,
		Hints:          hints,
		Reversible:     r.reversible,
		MigrationReady: r.state != nil,
		Migrations:     r.migrations,
		Simulator:      r.sim.EnergyReport(),
	}
}
