// Package sim executes lowered CRZ64I IR with cycle, energy and thermal
// accounting.
package sim

import (
	"fmt"
	"hash"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"crz64i/pkg/config"
	"crz64i/pkg/ir"
	"crz64i/pkg/isa"
)

const (
	DefaultRegisters = 32
	NumVectorRegs    = 8
)

// Status says why a run stopped.
type Status int

const (
	Completed Status = iota // ran past the last op
	Halted                  // executed HALT
	StepLimit               // hit the step cap
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case StepLimit:
		return "step_limit"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is what Run reports.
type Result struct {
	Status          Status
	Cycles          int64
	Energy          float64
	PeakTemperature float64
	Steps           int
}

// State is the architectural state compared by equivalence tests.
type State struct {
	Registers map[string]int64 `json:"regs"`
	Memory    []int64          `json:"memory"`
}

// EnergyReport summarizes accumulated cost.
type EnergyReport struct {
	TotalEnergy     float64            `json:"total_energy"`
	Cycles          int64              `json:"cycles"`
	WallClock       float64            `json:"wall_clock_s"`
	ThermalHotspots map[string]float64 `json:"thermal_hotspots"`
}

type checkpoint struct {
	pc    int
	regs  map[string]int64
	vregs [NumVectorRegs]uint256.Int
	z, n  bool
}

type Simulator struct {
	Regs   map[string]int64 // r0..rN plus named locals
	VRegs  [NumVectorRegs]uint256.Int
	Memory []int64
	PC     int
	Z, N   bool
	Halted bool

	AllowIO  bool
	AllowDMA bool
	Output   io.Writer // WRITE_IO sink, stdout when nil

	cfg      *config.Config
	log      log.Logger
	numRegs  int
	maxSteps int

	program []ir.Op
	labels  map[string]int
	link    int // return index of the last CALL, -1 when none

	backup      map[string]int64
	backupV     [NumVectorRegs]uint256.Int
	checkpoints []checkpoint
	hashes      map[string]hash.Hash64

	cycles    int64
	energy    float64
	wallClock float64
	thermal   map[string]float64
	opCounts  map[string]int
}

type Option func(*Simulator)

// WithRegisters sets the size of the scalar register file.
func WithRegisters(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.numRegs = n
		}
	}
}

func WithOutput(w io.Writer) Option {
	return func(s *Simulator) { s.Output = w }
}

// WithSandbox grants WRITE_IO and DMA_START.
func WithSandbox(allowIO, allowDMA bool) Option {
	return func(s *Simulator) {
		s.AllowIO = allowIO
		s.AllowDMA = allowDMA
	}
}

func WithLogger(l log.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxSteps overrides the configured step cap.
func WithMaxSteps(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// New creates a simulator bound to cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) *Simulator {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Simulator{
		cfg:      cfg,
		log:      log.Root(),
		numRegs:  DefaultRegisters,
		maxSteps: cfg.MaxSteps,
		labels:   make(map[string]int),
		link:     -1,
		hashes:   make(map[string]hash.Hash64),
		thermal:  make(map[string]float64),
		opCounts: make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxSteps <= 0 {
		s.maxSteps = config.Default().MaxSteps
	}
	s.Regs = make(map[string]int64, s.numRegs)
	for i := 0; i < s.numRegs; i++ {
		s.Regs[fmt.Sprintf("r%d", i)] = 0
	}
	return s
}

// MaxSteps is the step cap applied by RunProgram.
func (s *Simulator) MaxSteps() int { return s.maxSteps }

// Config returns the configuration the simulator was built with.
func (s *Simulator) Config() *config.Config { return s.cfg }

func (s *Simulator) outputSink() io.Writer {
	if s.Output != nil {
		return s.Output
	}
	return os.Stdout
}

// regKey canonicalizes register names to lower case. Other names (locals
// introduced by lowering) are kept as written.
func regKey(name string) string {
	name = strings.TrimSpace(name)
	if isa.IsRegister(name) || isa.IsVectorRegister(name) {
		return strings.ToLower(name)
	}
	return name
}

// Reg returns a register or local, 0 when unset.
func (s *Simulator) Reg(name string) int64 {
	return s.Regs[regKey(name)]
}

func (s *Simulator) SetReg(name string, v int64) {
	s.Regs[regKey(name)] = v
}

// Prepare makes ops the current program and indexes its labels. PC is not
// touched.
func (s *Simulator) Prepare(ops []ir.Op) error {
	labels, err := ir.Labels(ops)
	if err != nil {
		return err
	}
	s.program = ops
	s.labels = labels
	return nil
}

// Done reports whether the current program has halted or run off its end.
func (s *Simulator) Done() bool {
	return s.Halted || s.PC < 0 || s.PC >= len(s.program)
}

// Current returns the op at PC.
func (s *Simulator) Current() (ir.Op, bool) {
	if s.Done() {
		return ir.Op{}, false
	}
	return s.program[s.PC], true
}

// Step executes the op at PC. Errors name the op index.
func (s *Simulator) Step() error {
	op, ok := s.Current()
	if !ok {
		return nil
	}
	pc := s.PC
	if err := s.ExecuteOp(op.Op, op.Args); err != nil {
		return fmt.Errorf("op %d (%s): %w", pc, op, err)
	}
	return nil
}

// Run resets PC, flags and the cost counters, then runs ops from the top.
// Registers, memory and the thermal map carry over.
func (s *Simulator) Run(ops []ir.Op) (Result, error) {
	s.PC = 0
	s.Halted = false
	s.link = -1
	s.cycles = 0
	s.energy = 0
	s.wallClock = 0
	s.opCounts = make(map[string]int)
	return s.RunProgram(ops)
}

// RunProgram runs ops from the current PC until the program ends, HALT is
// executed or the step cap is reached.
func (s *Simulator) RunProgram(ops []ir.Op) (Result, error) {
	if err := s.Prepare(ops); err != nil {
		return s.result(Completed, 0), err
	}
	steps := 0
	for !s.Done() {
		if steps >= s.maxSteps {
			s.log.Warn("Step limit reached", "steps", steps, "pc", s.PC)
			return s.result(StepLimit, steps), nil
		}
		if err := s.Step(); err != nil {
			return s.result(Completed, steps), err
		}
		steps++
	}
	status := Completed
	if s.Halted {
		status = Halted
	}
	s.log.Debug("Run finished", "status", status, "steps", steps, "cycles", s.cycles, "energy", s.energy)
	return s.result(status, steps), nil
}

func (s *Simulator) result(st Status, steps int) Result {
	return Result{
		Status:          st,
		Cycles:          s.cycles,
		Energy:          s.energy,
		PeakTemperature: s.PeakTemperature(),
		Steps:           steps,
	}
}

// Cycles returns the cycle count accumulated since the last Run.
func (s *Simulator) Cycles() int64 { return s.cycles }

// Energy returns the energy, in joules, accumulated since the last Run.
func (s *Simulator) Energy() float64 { return s.energy }

func (s *Simulator) SetEnergy(e float64) { s.energy = e }

// WallClock returns simulated seconds elapsed since the last Run.
func (s *Simulator) WallClock() float64 { return s.wallClock }

// State returns a copy of the registers and memory.
func (s *Simulator) State() State {
	return State{
		Registers: maps.Clone(s.Regs),
		Memory:    slices.Clone(s.Memory),
	}
}

// OpCounts returns how often each mnemonic executed since the last Run.
func (s *Simulator) OpCounts() map[string]int {
	return maps.Clone(s.opCounts)
}

func (s *Simulator) EnergyReport() EnergyReport {
	return EnergyReport{
		TotalEnergy:     s.energy,
		Cycles:          s.cycles,
		WallClock:       s.wallClock,
		ThermalHotspots: s.Thermal(),
	}
}

// Checkpoint pushes PC, registers and flags on the undo stack.
func (s *Simulator) Checkpoint() {
	s.checkpoints = append(s.checkpoints, checkpoint{
		pc:    s.PC,
		regs:  maps.Clone(s.Regs),
		vregs: s.VRegs,
		z:     s.Z,
		n:     s.N,
	})
}

// ReverseStep pops the most recent checkpoint and restores it. It reports
// false when the stack is empty.
func (s *Simulator) ReverseStep() bool {
	if len(s.checkpoints) == 0 {
		return false
	}
	cp := s.checkpoints[len(s.checkpoints)-1]
	s.checkpoints = s.checkpoints[:len(s.checkpoints)-1]
	s.PC = cp.pc
	s.Regs = cp.regs
	s.VRegs = cp.vregs
	s.Z, s.N = cp.z, cp.n
	s.Halted = false
	return true
}

// Checkpoints returns the depth of the undo stack.
func (s *Simulator) Checkpoints() int { return len(s.checkpoints) }
