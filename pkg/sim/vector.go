package sim

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"crz64i/pkg/isa"
)

// Lanes per vector register. Lane i occupies bits [32i, 32i+32).
const Lanes = 8

// lanes splits v into its 32-bit lanes.
func lanes(v *uint256.Int) [Lanes]uint32 {
	b := v.Bytes32()
	var out [Lanes]uint32
	for i := 0; i < Lanes; i++ {
		off := 32 - 4*(i+1)
		out[i] = binary.BigEndian.Uint32(b[off : off+4])
	}
	return out
}

func fromLanes(l [Lanes]uint32) uint256.Int {
	var b [32]byte
	for i := 0; i < Lanes; i++ {
		off := 32 - 4*(i+1)
		binary.BigEndian.PutUint32(b[off:off+4], l[i])
	}
	var v uint256.Int
	v.SetBytes32(b[:])
	return v
}

func broadcast(x uint32) uint256.Int {
	var l [Lanes]uint32
	for i := range l {
		l[i] = x
	}
	return fromLanes(l)
}

// Lane returns lane i of vector register idx as a signed value.
func (s *Simulator) Lane(idx, i int) int32 {
	return int32(lanes(&s.VRegs[idx])[i])
}

// SetLanes loads vector register idx.
func (s *Simulator) SetLanes(idx int, l [Lanes]int32) {
	var u [Lanes]uint32
	for i, x := range l {
		u[i] = uint32(x)
	}
	s.VRegs[idx] = fromLanes(u)
}

func (s *Simulator) vreg(op, name string) (int, error) {
	idx, ok := isa.RegisterIndex(name)
	if !ok || !isa.IsVectorRegister(name) || idx >= NumVectorRegs {
		return 0, badOperand(op, name, "not a vector register")
	}
	return idx, nil
}

// vector resolves a vector operand. Scalars are broadcast to every lane.
func (s *Simulator) vector(op, operand string) (uint256.Int, error) {
	if isa.IsVectorRegister(operand) {
		idx, err := s.vreg(op, operand)
		if err != nil {
			return uint256.Int{}, err
		}
		return s.VRegs[idx], nil
	}
	v, err := s.value(op, operand)
	if err != nil {
		return uint256.Int{}, err
	}
	return broadcast(uint32(v)), nil
}

func laneWise(a, b *uint256.Int, f func(x, y int32) int32) uint256.Int {
	la, lb := lanes(a), lanes(b)
	var out [Lanes]uint32
	for i := range out {
		out[i] = uint32(f(int32(la[i]), int32(lb[i])))
	}
	return fromLanes(out)
}

// dot32 is the sum of the lane-wise products, computed in 64 bits.
func dot32(a, b *uint256.Int) int64 {
	la, lb := lanes(a), lanes(b)
	var sum int64
	for i := 0; i < Lanes; i++ {
		sum += int64(int32(la[i])) * int64(int32(lb[i]))
	}
	return sum
}

func reduceSum(v *uint256.Int) int64 {
	var sum int64
	for _, x := range lanes(v) {
		sum += int64(int32(x))
	}
	return sum
}

// vload reads Lanes consecutive words starting at addr.
func (s *Simulator) vload(op string, addr int64) (uint256.Int, error) {
	var l [Lanes]uint32
	for i := int64(0); i < Lanes; i++ {
		w, err := s.load(op, addr+i)
		if err != nil {
			return uint256.Int{}, err
		}
		l[i] = uint32(w)
	}
	return fromLanes(l), nil
}

func (s *Simulator) vstore(op string, addr int64, v *uint256.Int) error {
	for i, x := range lanes(v) {
		if err := s.store(op, addr+int64(i), int64(int32(x))); err != nil {
			return err
		}
	}
	return nil
}

// execVector runs the lane-wise ops.
func (s *Simulator) execVector(op isa.Opcode, name string, args []string) error {
	switch op {
	case isa.OpVLOAD:
		idx, err := s.vreg(name, args[0])
		if err != nil {
			return err
		}
		addr, err := s.address(name, args[1])
		if err != nil {
			return err
		}
		v, err := s.vload(name, addr)
		if err != nil {
			return err
		}
		s.VRegs[idx] = v
		return nil

	case isa.OpVSTORE:
		v, err := s.vector(name, args[0])
		if err != nil {
			return err
		}
		addr, err := s.address(name, args[1])
		if err != nil {
			return err
		}
		return s.vstore(name, addr, &v)

	case isa.OpVADD, isa.OpVSUB, isa.OpVMUL, isa.OpVSHL, isa.OpVSHR:
		idx, err := s.vreg(name, args[0])
		if err != nil {
			return err
		}
		a, err := s.vector(name, args[1])
		if err != nil {
			return err
		}
		b, err := s.vector(name, args[2])
		if err != nil {
			return err
		}
		var f func(x, y int32) int32
		switch op {
		case isa.OpVADD:
			f = func(x, y int32) int32 { return x + y }
		case isa.OpVSUB:
			f = func(x, y int32) int32 { return x - y }
		case isa.OpVMUL:
			f = func(x, y int32) int32 { return x * y }
		case isa.OpVSHL:
			f = func(x, y int32) int32 { return x << uint32(y&31) }
		default:
			f = func(x, y int32) int32 { return x >> uint32(y&31) }
		}
		s.VRegs[idx] = laneWise(&a, &b, f)
		return nil

	case isa.OpVFMA:
		idx, err := s.vreg(name, args[0])
		if err != nil {
			return err
		}
		var in [3]uint256.Int
		for i := range in {
			if in[i], err = s.vector(name, args[i+1]); err != nil {
				return err
			}
		}
		prod := laneWise(&in[0], &in[1], func(x, y int32) int32 { return x * y })
		s.VRegs[idx] = laneWise(&prod, &in[2], func(x, y int32) int32 { return x + y })
		return nil

	case isa.OpVDOT32:
		a, err := s.vector(name, args[1])
		if err != nil {
			return err
		}
		b, err := s.vector(name, args[2])
		if err != nil {
			return err
		}
		return s.writeDot(name, args[0], dot32(&a, &b))

	case isa.OpVREDUCE_SUM:
		v, err := s.vector(name, args[1])
		if err != nil {
			return err
		}
		return s.setScalar(name, args[0], reduceSum(&v))
	}
	return badOperand(name, "", "not a vector op")
}

// writeDot stores a dot product: into a scalar, or into lane 0 of a vector
// register with the other lanes cleared.
func (s *Simulator) writeDot(op, dst string, sum int64) error {
	if isa.IsVectorRegister(dst) {
		idx, err := s.vreg(op, dst)
		if err != nil {
			return err
		}
		var l [Lanes]uint32
		l[0] = uint32(sum)
		s.VRegs[idx] = fromLanes(l)
		return nil
	}
	return s.setScalar(op, dst, sum)
}
