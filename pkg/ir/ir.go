// Package ir defines the flat operation list produced by lowering and
// consumed by the simulator.
package ir

import (
	"encoding/json"
	"fmt"
	"strings"

	"crz64i/pkg/config"
	"crz64i/pkg/isa"
)

// Op is one lowered instruction. LABEL ops stay in the list and carry their
// name as the single argument.
type Op struct {
	Op        string   `json:"op"`
	Args      []string `json:"args"`
	Fused     bool     `json:"fused"`
	EnergyEst float64  `json:"energy_est"`
}

// New builds an op with its energy estimate taken from cfg.
func New(cfg *config.Config, mnemonic string, args ...string) Op {
	if args == nil {
		args = []string{}
	}
	return Op{
		Op:        mnemonic,
		Args:      args,
		Fused:     isa.IsFused(isa.Parse(mnemonic)),
		EnergyEst: cfg.EnergyOf(mnemonic),
	}
}

// Opcode resolves the op mnemonic.
func (o Op) Opcode() isa.Opcode { return isa.Parse(o.Op) }

// IsLabel reports whether o is a LABEL pseudo-op.
func (o Op) IsLabel() bool { return o.Op == "LABEL" }

func (o Op) String() string {
	if o.IsLabel() && len(o.Args) == 1 {
		return o.Args[0] + ":"
	}
	if len(o.Args) == 0 {
		return o.Op
	}
	return o.Op + " " + strings.Join(o.Args, ", ")
}

// Labels indexes every LABEL op by name.
func Labels(ops []Op) (map[string]int, error) {
	labels := make(map[string]int)
	for i, op := range ops {
		if !op.IsLabel() || len(op.Args) == 0 {
			continue
		}
		name := op.Args[0]
		if prev, dup := labels[name]; dup {
			return nil, fmt.Errorf("duplicate label %q at op %d (first defined at op %d)", name, i, prev)
		}
		labels[name] = i
	}
	return labels, nil
}

// Encode serializes ops as a JSON list.
func Encode(ops []Op) ([]byte, error) {
	if ops == nil {
		ops = []Op{}
	}
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal ir: %w", err)
	}
	return data, nil
}

// Decode parses a JSON list produced by Encode.
func Decode(data []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("unmarshal ir: %w", err)
	}
	for i := range ops {
		if ops[i].Op == "" {
			return nil, fmt.Errorf("unmarshal ir: op %d has no mnemonic", i)
		}
		if ops[i].Args == nil {
			ops[i].Args = []string{}
		}
	}
	return ops, nil
}

// TotalEnergy sums the static energy estimates of ops.
func TotalEnergy(ops []Op) float64 {
	var total float64
	for _, op := range ops {
		total += op.EnergyEst
	}
	return total
}
