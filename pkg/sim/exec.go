package sim

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"maps"
	"math"
	"math/bits"
	"strings"

	"crz64i/pkg/isa"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ExecuteOp charges and executes one instruction, then advances PC (or
// sets it when a branch is taken). It is the only method that changes
// architectural state while a program runs.
func (s *Simulator) ExecuteOp(mnemonic string, operands []string) error {
	op, desc, known := isa.Lookup(mnemonic)
	name := desc.Mnemonic
	if !known {
		name = mnemonic
	}
	s.charge(op, name)

	if !known {
		s.log.Warn("Unknown opcode, charged default cost", "op", mnemonic, "pc", s.PC)
		s.PC++
		return nil
	}
	if !desc.Accepts(len(operands)) {
		return badOperand(name, strings.Join(operands, ", "),
			fmt.Sprintf("expects %s operands, got %d", desc.Arity(), len(operands)))
	}

	next := s.PC + 1
	target, jump, err := s.exec(op, name, operands)
	if err != nil {
		return err
	}
	if jump {
		next = target
	}
	if isa.UpdatesFlags(op) {
		s.setFlags(s.Reg(flagOperand(op, operands)))
	}
	s.PC = next
	s.log.Trace("Executed op", "op", name, "args", operands, "next", next)
	return nil
}

// flagOperand names the register Z and N follow after op.
func flagOperand(op isa.Opcode, operands []string) string {
	switch op {
	case isa.OpFUSED_LOAD_ADD, isa.OpFUSED_LOAD_ADD_STORE:
		return operands[1]
	}
	return operands[0]
}

func (s *Simulator) setFlags(v int64) {
	s.Z = v == 0
	s.N = v < 0
}

// setScalar writes a scalar register or local.
func (s *Simulator) setScalar(op, dst string, v int64) error {
	switch isa.ClassifyOperand(dst) {
	case isa.OperandRegister, isa.OperandLabel:
		s.SetReg(dst, v)
		return nil
	case isa.OperandVector:
		idx, err := s.vreg(op, dst)
		if err != nil {
			return err
		}
		s.VRegs[idx] = broadcast(uint32(v))
		return nil
	}
	return badOperand(op, dst, "not a writable destination")
}

func (s *Simulator) values(op string, operands ...string) ([]int64, error) {
	out := make([]int64, len(operands))
	for i, o := range operands {
		v, err := s.value(op, o)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// exec carries out op. It returns a branch target when control transfers.
func (s *Simulator) exec(op isa.Opcode, name string, args []string) (int, bool, error) {
	switch op {
	case isa.OpNOP, isa.OpLABEL, isa.OpSLEEP, isa.OpYIELD, isa.OpFAST_PATH_ENTER:
		return 0, false, nil

	case isa.OpHALT:
		s.Halted = true
		return 0, false, nil

	case isa.OpMOV, isa.OpMOVI:
		if isa.IsVectorRegister(args[0]) && isa.IsVectorRegister(args[1]) {
			dst, err := s.vreg(name, args[0])
			if err != nil {
				return 0, false, err
			}
			src, err := s.vreg(name, args[1])
			if err != nil {
				return 0, false, err
			}
			s.VRegs[dst] = s.VRegs[src]
			return 0, false, nil
		}
		v, err := s.value(name, args[1])
		if err != nil {
			return 0, false, err
		}
		return 0, false, s.setScalar(name, args[0], v)

	case isa.OpADD, isa.OpSUB, isa.OpMUL, isa.OpAND, isa.OpOR, isa.OpXOR, isa.OpSHL, isa.OpSHR:
		v, err := s.values(name, args[1], args[2])
		if err != nil {
			return 0, false, err
		}
		a, b := v[0], v[1]
		var r int64
		switch op {
		case isa.OpADD:
			r = a + b
		case isa.OpSUB:
			r = a - b
		case isa.OpMUL:
			r = a * b
		case isa.OpAND:
			r = a & b
		case isa.OpOR:
			r = a | b
		case isa.OpXOR:
			r = a ^ b
		case isa.OpSHL:
			r = a << uint64(b&63)
		default:
			r = a >> uint64(b&63)
		}
		return 0, false, s.setScalar(name, args[0], r)

	case isa.OpDIV, isa.OpMOD:
		v, err := s.values(name, args[1], args[2])
		if err != nil {
			return 0, false, err
		}
		if v[1] == 0 {
			return 0, false, &ArithmeticError{Op: name, Operand: args[2]}
		}
		r := v[0] / v[1]
		if op == isa.OpMOD {
			r = v[0] % v[1]
		}
		return 0, false, s.setScalar(name, args[0], r)

	case isa.OpNOT, isa.OpPOPCNT:
		v, err := s.value(name, args[1])
		if err != nil {
			return 0, false, err
		}
		r := ^v
		if op == isa.OpPOPCNT {
			r = int64(bits.OnesCount64(uint64(v)))
		}
		return 0, false, s.setScalar(name, args[0], r)

	case isa.OpINC, isa.OpDEC:
		d := int64(1)
		if op == isa.OpDEC {
			d = -1
		}
		return 0, false, s.setScalar(name, args[0], s.Reg(args[0])+d)

	case isa.OpCMP:
		v, err := s.values(name, args[0], args[1])
		if err != nil {
			return 0, false, err
		}
		s.setFlags(v[0] - v[1])
		return 0, false, nil

	case isa.OpFMA:
		v, err := s.values(name, args[1], args[2], args[3])
		if err != nil {
			return 0, false, err
		}
		return 0, false, s.setScalar(name, args[0], v[0]*v[1]+v[2])

	case isa.OpREV_ADD:
		s.Checkpoint()
		b, err := s.value(name, args[1])
		if err != nil {
			return 0, false, err
		}
		return 0, false, s.setScalar(name, args[0], s.Reg(args[0])+b)

	case isa.OpREV_SWAP:
		s.Checkpoint()
		a, b := s.Reg(args[0]), s.Reg(args[1])
		if err := s.setScalar(name, args[0], b); err != nil {
			return 0, false, err
		}
		return 0, false, s.setScalar(name, args[1], a)

	case isa.OpLOAD:
		addr, err := s.address(name, args[1])
		if err != nil {
			return 0, false, err
		}
		v, err := s.load(name, addr)
		if err != nil {
			return 0, false, err
		}
		return 0, false, s.setScalar(name, args[0], v)

	case isa.OpSTORE:
		v, err := s.value(name, args[0])
		if err != nil {
			return 0, false, err
		}
		addr, err := s.address(name, args[1])
		if err != nil {
			return 0, false, err
		}
		return 0, false, s.store(name, addr, v)

	case isa.OpATOMIC_INC:
		addr, err := s.address(name, args[1])
		if err != nil {
			return 0, false, err
		}
		old, err := s.load(name, addr)
		if err != nil {
			return 0, false, err
		}
		s.Memory[addr] = old + 1
		return 0, false, s.setScalar(name, args[0], old)

	case isa.OpVLOAD, isa.OpVSTORE, isa.OpVADD, isa.OpVSUB, isa.OpVMUL, isa.OpVDOT32,
		isa.OpVSHL, isa.OpVSHR, isa.OpVFMA, isa.OpVREDUCE_SUM:
		return 0, false, s.execVector(op, name, args)

	case isa.OpFADD, isa.OpFSUB, isa.OpFMUL:
		a, err := s.floatValue(name, args[1])
		if err != nil {
			return 0, false, err
		}
		b, err := s.floatValue(name, args[2])
		if err != nil {
			return 0, false, err
		}
		var r float64
		switch op {
		case isa.OpFADD:
			r = a + b
		case isa.OpFSUB:
			r = a - b
		default:
			r = a * b
		}
		return 0, false, s.setScalar(name, args[0], int64(math.Float64bits(r)))

	case isa.OpCRC32:
		v, err := s.value(name, args[1])
		if err != nil {
			return 0, false, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		crc := crc32.Update(uint32(s.Reg(args[0])), castagnoli, buf[:])
		return 0, false, s.setScalar(name, args[0], int64(crc))

	case isa.OpHASH_INIT, isa.OpHASH_UPDATE, isa.OpHASH_FINAL:
		return 0, false, s.execHash(op, name, args)

	case isa.OpPROFILE_START:
		return 0, false, s.setScalar(name, args[0], s.cycles)

	case isa.OpPROFILE_STOP:
		return 0, false, s.setScalar(name, args[0], s.cycles-s.Reg(args[0]))

	case isa.OpJMP:
		t, err := s.target(name, args[0])
		return t, err == nil, err

	case isa.OpJZ, isa.OpJNZ:
		if s.Z != (op == isa.OpJZ) {
			return 0, false, nil
		}
		t, err := s.target(name, args[0])
		return t, err == nil, err

	case isa.OpBR_IF:
		taken, err := s.condition(name, args[:len(args)-1])
		if err != nil || !taken {
			return 0, false, err
		}
		t, err := s.target(name, args[len(args)-1])
		return t, err == nil, err

	case isa.OpCALL:
		t, err := s.target(name, args[0])
		if err != nil {
			return 0, false, err
		}
		s.link = s.PC + 1
		return t, true, nil

	case isa.OpRET:
		if s.link < 0 {
			return 0, false, nil
		}
		t := s.link
		s.link = -1
		return t, true, nil

	case isa.OpSAVE_DELTA:
		s.Checkpoint()
		s.backup = maps.Clone(s.Regs)
		s.backupV = s.VRegs
		return 0, false, nil

	case isa.OpRESTORE_DELTA:
		if s.backup != nil {
			s.Regs = maps.Clone(s.backup)
			s.VRegs = s.backupV
		}
		return 0, false, nil

	case isa.OpWRITE_IO:
		if !s.AllowIO {
			return 0, false, &SandboxPermissionError{Op: name}
		}
		v, err := s.value(name, args[0])
		if err != nil {
			return 0, false, err
		}
		_, err = fmt.Fprintln(s.outputSink(), v)
		return 0, false, err

	case isa.OpDMA_START:
		if !s.AllowDMA {
			return 0, false, &SandboxPermissionError{Op: name}
		}
		return 0, false, s.dma(name, args)

	case isa.OpFUSED_LOAD_ADD, isa.OpFUSED_LOAD_ADD_STORE, isa.OpFUSED_ADD_STORE, isa.OpFUSED_LOAD_VDOT32:
		return 0, false, s.execFused(op, name, args)
	}
	return 0, false, badOperand(name, "", "no semantics for opcode")
}

// target resolves a branch operand: a label, or an absolute op index.
func (s *Simulator) target(op, operand string) (int, error) {
	if idx, ok := s.labels[operand]; ok {
		return idx, nil
	}
	if n, ok := isa.ParseImmediate(operand); ok {
		return int(n), nil
	}
	return 0, &OperandError{Op: op, Operand: operand, Err: ErrUnknownLabel}
}

// condition evaluates the BR_IF operands that precede the target:
//
//	BR_IF Z, l           flag Z, N or NZ
//	BR_IF x > 2, l       truthy expression
//	BR_IF GE, x, l       x compared with 0
//	BR_IF LT, a, b, l    a compared with b
func (s *Simulator) condition(op string, args []string) (bool, error) {
	switch len(args) {
	case 1:
		switch strings.ToUpper(args[0]) {
		case "Z":
			return s.Z, nil
		case "N":
			return s.N, nil
		case "NZ":
			return !s.Z, nil
		}
		v, err := s.value(op, args[0])
		return v != 0, err
	case 2, 3:
		a, err := s.value(op, args[1])
		if err != nil {
			return false, err
		}
		var b int64
		if len(args) == 3 {
			if b, err = s.value(op, args[2]); err != nil {
				return false, err
			}
		}
		return compare(op, args[0], a, b)
	}
	return false, badOperand(op, strings.Join(args, ", "), "bad condition")
}

func compare(op, cc string, a, b int64) (bool, error) {
	switch strings.ToUpper(cc) {
	case "EQ":
		return a == b, nil
	case "NE":
		return a != b, nil
	case "LT":
		return a < b, nil
	case "LE":
		return a <= b, nil
	case "GT":
		return a > b, nil
	case "GE":
		return a >= b, nil
	}
	return false, badOperand(op, cc, "unknown condition code")
}

func (s *Simulator) execHash(op isa.Opcode, name string, args []string) error {
	key := regKey(args[0])
	h, ok := s.hashes[key]
	if op == isa.OpHASH_INIT || !ok {
		h = fnv.New64a()
		s.hashes[key] = h
	}
	if op == isa.OpHASH_UPDATE {
		v, err := s.value(name, args[1])
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	sum := int64(h.Sum64())
	if op == isa.OpHASH_FINAL {
		delete(s.hashes, key)
	}
	return s.setScalar(name, args[0], sum)
}

// dma copies n words from src to dst. Overlapping ranges copy as if through
// a temporary buffer.
func (s *Simulator) dma(name string, args []string) error {
	dst, err := s.address(name, args[0])
	if err != nil {
		return err
	}
	src, err := s.address(name, args[1])
	if err != nil {
		return err
	}
	n, err := s.value(name, args[2])
	if err != nil {
		return err
	}
	if n < 0 {
		return badOperand(name, args[2], "negative length")
	}
	if n == 0 {
		return nil
	}
	for _, a := range []int64{dst, src, dst + n - 1, src + n - 1} {
		if err := s.checkAddr(name, a); err != nil {
			return err
		}
	}
	copy(s.Memory[dst:dst+n], s.Memory[src:src+n])
	return nil
}

// execFused performs every constituent write of a fused op in order, as
// one accounted step.
//
//	FUSED_LOAD_ADD        ld, d, addr, x        ld = [addr]; d = ld + x
//	FUSED_LOAD_ADD_STORE  ld, d, addr, x, st    ... ; [st] = d
//	FUSED_ADD_STORE       d, a, b, st           d = a + b; [st] = d
//	FUSED_LOAD_VDOT32     ld, d, addr, a, b     ld = [addr]; d = a · b
func (s *Simulator) execFused(op isa.Opcode, name string, args []string) error {
	switch op {
	case isa.OpFUSED_LOAD_ADD, isa.OpFUSED_LOAD_ADD_STORE:
		addr, err := s.address(name, args[2])
		if err != nil {
			return err
		}
		v, err := s.load(name, addr)
		if err != nil {
			return err
		}
		if err := s.setScalar(name, args[0], v); err != nil {
			return err
		}
		x, err := s.value(name, args[3])
		if err != nil {
			return err
		}
		if err := s.setScalar(name, args[1], v+x); err != nil {
			return err
		}
		if op == isa.OpFUSED_LOAD_ADD {
			return nil
		}
		st, err := s.address(name, args[4])
		if err != nil {
			return err
		}
		return s.store(name, st, s.Reg(args[1]))

	case isa.OpFUSED_ADD_STORE:
		v, err := s.values(name, args[1], args[2])
		if err != nil {
			return err
		}
		if err := s.setScalar(name, args[0], v[0]+v[1]); err != nil {
			return err
		}
		st, err := s.address(name, args[3])
		if err != nil {
			return err
		}
		return s.store(name, st, s.Reg(args[0]))

	case isa.OpFUSED_LOAD_VDOT32:
		addr, err := s.address(name, args[2])
		if err != nil {
			return err
		}
		if isa.IsVectorRegister(args[0]) {
			idx, err := s.vreg(name, args[0])
			if err != nil {
				return err
			}
			v, err := s.vload(name, addr)
			if err != nil {
				return err
			}
			s.VRegs[idx] = v
		} else {
			v, err := s.load(name, addr)
			if err != nil {
				return err
			}
			if err := s.setScalar(name, args[0], v); err != nil {
				return err
			}
		}
		a, err := s.vector(name, args[3])
		if err != nil {
			return err
		}
		b, err := s.vector(name, args[4])
		if err != nil {
			return err
		}
		return s.writeDot(name, args[1], dot32(&a, &b))
	}
	return badOperand(name, "", "not a fused op")
}
