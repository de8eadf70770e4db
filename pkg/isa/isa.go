package isa

import (
	"fmt"
	"strings"
)

// Opcode identifies a CRZ64I mnemonic.
type Opcode uint8

const (
	OpUnknown Opcode = iota // fallback for mnemonics outside the table

	// Control
	OpNOP
	OpHALT

	// Scalar ALU
	OpMOV
	OpMOVI
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpMOD
	OpAND
	OpOR
	OpXOR
	OpNOT
	OpSHL
	OpSHR
	OpPOPCNT
	OpINC
	OpDEC
	OpCMP
	OpFMA
	OpREV_ADD
	OpREV_SWAP

	// Memory
	OpLOAD
	OpSTORE
	OpATOMIC_INC

	// Vector
	OpVLOAD
	OpVSTORE
	OpVADD
	OpVSUB
	OpVMUL
	OpVDOT32
	OpVSHL
	OpVSHR
	OpVFMA
	OpVREDUCE_SUM

	// Float (float64 bit patterns in scalar registers)
	OpFADD
	OpFSUB
	OpFMUL

	// Hashing and profiling
	OpCRC32
	OpHASH_INIT
	OpHASH_UPDATE
	OpHASH_FINAL
	OpPROFILE_START
	OpPROFILE_STOP

	// Branches
	OpJMP
	OpJZ
	OpJNZ
	OpBR_IF
	OpCALL
	OpRET

	// Reversible checkpointing
	OpSAVE_DELTA
	OpRESTORE_DELTA

	// System
	OpWRITE_IO
	OpDMA_START
	OpSLEEP
	OpYIELD
	OpFAST_PATH_ENTER

	// Pseudo
	OpLABEL

	// Fused
	OpFUSED_LOAD_ADD
	OpFUSED_LOAD_VDOT32
	OpFUSED_ADD_STORE
	OpFUSED_LOAD_ADD_STORE

	numOpcodes
)

// Format is the operand format class of an instruction.
type Format uint8

const (
	FormatN Format = iota // no operands
	FormatR               // register
	FormatI               // register + immediate
	FormatM               // memory
	FormatV               // vector
	FormatB               // branch
	FormatX               // pseudo / composite
)

func (f Format) String() string {
	return [...]string{"N", "R", "I", "M", "V", "B", "X"}[f]
}

// Class groups instructions by the functional unit they occupy.
type Class uint8

const (
	ClassControl Class = iota
	ClassALU
	ClassMemory
	ClassVector
	ClassFloat
	ClassHash
	ClassBranch
	ClassCheckpoint
	ClassSystem
	ClassPseudo
	ClassFused
)

var classNames = [...]string{
	ClassControl:    "control",
	ClassALU:        "alu",
	ClassMemory:     "memory",
	ClassVector:     "vector",
	ClassFloat:      "float",
	ClassHash:       "hash",
	ClassBranch:     "branch",
	ClassCheckpoint: "checkpoint",
	ClassSystem:     "system",
	ClassPseudo:     "pseudo",
	ClassFused:      "fused",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Descriptor is the static definition of one mnemonic. Latency is in cycles,
// Energy in joules.
type Descriptor struct {
	Mnemonic    string
	Format      Format
	Operands    int // minimum operand count
	MaxOperands int // 0 means exactly Operands
	Latency     int
	Energy      float64
	Class       Class
	Writes      bool  // first operand is a write target
	WriteArgs   []int // every written operand when more than the first
	Blocking    bool  // variable or blocking latency
}

// Accepts reports whether n operands fit the descriptor.
func (d Descriptor) Accepts(n int) bool {
	if d.MaxOperands == 0 {
		return n == d.Operands
	}
	return n >= d.Operands && n <= d.MaxOperands
}

// Arity renders the expected operand count for diagnostics.
func (d Descriptor) Arity() string {
	if d.MaxOperands == 0 {
		return fmt.Sprintf("%d", d.Operands)
	}
	return fmt.Sprintf("%d-%d", d.Operands, d.MaxOperands)
}

// descriptors is the single instruction table. The semantic analyzer, the
// simulator, the assembler and the default configuration all read it.
var descriptors = [numOpcodes]Descriptor{
	OpUnknown: {Mnemonic: "UNKNOWN", Format: FormatX, Latency: 1, Energy: 1e-9, Class: ClassControl},

	OpNOP:  {Mnemonic: "NOP", Format: FormatN, Latency: 1, Energy: 5e-9, Class: ClassControl},
	OpHALT: {Mnemonic: "HALT", Format: FormatN, Latency: 1, Energy: 5e-9, Class: ClassControl},

	OpMOV:      {Mnemonic: "MOV", Format: FormatR, Operands: 2, Latency: 1, Energy: 3e-8, Class: ClassALU, Writes: true},
	OpMOVI:     {Mnemonic: "MOVI", Format: FormatI, Operands: 2, Latency: 1, Energy: 3e-8, Class: ClassALU, Writes: true},
	OpADD:      {Mnemonic: "ADD", Format: FormatR, Operands: 3, Latency: 1, Energy: 4.5e-8, Class: ClassALU, Writes: true},
	OpSUB:      {Mnemonic: "SUB", Format: FormatR, Operands: 3, Latency: 1, Energy: 6e-8, Class: ClassALU, Writes: true},
	OpMUL:      {Mnemonic: "MUL", Format: FormatR, Operands: 3, Latency: 3, Energy: 1.2e-6, Class: ClassALU, Writes: true},
	OpDIV:      {Mnemonic: "DIV", Format: FormatR, Operands: 3, Latency: 10, Energy: 3e-6, Class: ClassALU, Writes: true},
	OpMOD:      {Mnemonic: "MOD", Format: FormatR, Operands: 3, Latency: 10, Energy: 3e-6, Class: ClassALU, Writes: true},
	OpAND:      {Mnemonic: "AND", Format: FormatR, Operands: 3, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpOR:       {Mnemonic: "OR", Format: FormatR, Operands: 3, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpXOR:      {Mnemonic: "XOR", Format: FormatR, Operands: 3, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpNOT:      {Mnemonic: "NOT", Format: FormatR, Operands: 2, Latency: 1, Energy: 3e-8, Class: ClassALU, Writes: true},
	OpSHL:      {Mnemonic: "SHL", Format: FormatR, Operands: 3, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpSHR:      {Mnemonic: "SHR", Format: FormatR, Operands: 3, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpPOPCNT:   {Mnemonic: "POPCNT", Format: FormatR, Operands: 2, Latency: 2, Energy: 6e-8, Class: ClassALU, Writes: true},
	OpINC:      {Mnemonic: "INC", Format: FormatR, Operands: 1, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpDEC:      {Mnemonic: "DEC", Format: FormatR, Operands: 1, Latency: 1, Energy: 4e-8, Class: ClassALU, Writes: true},
	OpCMP:      {Mnemonic: "CMP", Format: FormatR, Operands: 2, Latency: 1, Energy: 4e-8, Class: ClassALU},
	OpFMA:      {Mnemonic: "FMA", Format: FormatR, Operands: 4, Latency: 3, Energy: 8e-7, Class: ClassALU, Writes: true},
	OpREV_ADD:  {Mnemonic: "REV_ADD", Format: FormatR, Operands: 2, Latency: 1, Energy: 5e-8, Class: ClassALU, Writes: true},
	OpREV_SWAP: {Mnemonic: "REV_SWAP", Format: FormatR, Operands: 2, Latency: 1, Energy: 5e-8, Class: ClassALU, Writes: true},

	OpLOAD:       {Mnemonic: "LOAD", Format: FormatM, Operands: 2, Latency: 3, Energy: 4e-7, Class: ClassMemory, Writes: true, Blocking: true},
	OpSTORE:      {Mnemonic: "STORE", Format: FormatM, Operands: 2, Latency: 3, Energy: 4e-7, Class: ClassMemory, Writes: true, Blocking: true},
	OpATOMIC_INC: {Mnemonic: "ATOMIC_INC", Format: FormatM, Operands: 2, Latency: 5, Energy: 6e-7, Class: ClassMemory, Writes: true},

	OpVLOAD:       {Mnemonic: "VLOAD", Format: FormatV, Operands: 2, Latency: 4, Energy: 1.6e-6, Class: ClassVector, Writes: true, Blocking: true},
	OpVSTORE:      {Mnemonic: "VSTORE", Format: FormatV, Operands: 2, Latency: 4, Energy: 1.6e-6, Class: ClassVector, Blocking: true},
	OpVADD:        {Mnemonic: "VADD", Format: FormatV, Operands: 3, Latency: 2, Energy: 3.6e-7, Class: ClassVector, Writes: true},
	OpVSUB:        {Mnemonic: "VSUB", Format: FormatV, Operands: 3, Latency: 2, Energy: 3.6e-7, Class: ClassVector, Writes: true},
	OpVMUL:        {Mnemonic: "VMUL", Format: FormatV, Operands: 3, Latency: 4, Energy: 2.4e-6, Class: ClassVector, Writes: true},
	OpVDOT32:      {Mnemonic: "VDOT32", Format: FormatV, Operands: 3, Latency: 4, Energy: 2e-6, Class: ClassVector, Writes: true},
	OpVSHL:        {Mnemonic: "VSHL", Format: FormatV, Operands: 3, Latency: 2, Energy: 3.2e-7, Class: ClassVector, Writes: true},
	OpVSHR:        {Mnemonic: "VSHR", Format: FormatV, Operands: 3, Latency: 2, Energy: 3.2e-7, Class: ClassVector, Writes: true},
	OpVFMA:        {Mnemonic: "VFMA", Format: FormatV, Operands: 4, Latency: 5, Energy: 2.8e-6, Class: ClassVector, Writes: true},
	OpVREDUCE_SUM: {Mnemonic: "VREDUCE_SUM", Format: FormatV, Operands: 2, Latency: 3, Energy: 4e-7, Class: ClassVector, Writes: true},

	OpFADD: {Mnemonic: "FADD", Format: FormatR, Operands: 3, Latency: 3, Energy: 5e-7, Class: ClassFloat, Writes: true},
	OpFSUB: {Mnemonic: "FSUB", Format: FormatR, Operands: 3, Latency: 3, Energy: 5e-7, Class: ClassFloat, Writes: true},
	OpFMUL: {Mnemonic: "FMUL", Format: FormatR, Operands: 3, Latency: 4, Energy: 1.5e-6, Class: ClassFloat, Writes: true},

	OpCRC32:         {Mnemonic: "CRC32", Format: FormatR, Operands: 2, Latency: 3, Energy: 2e-7, Class: ClassHash, Writes: true},
	OpHASH_INIT:     {Mnemonic: "HASH_INIT", Format: FormatR, Operands: 1, Latency: 1, Energy: 5e-8, Class: ClassHash, Writes: true},
	OpHASH_UPDATE:   {Mnemonic: "HASH_UPDATE", Format: FormatR, Operands: 2, Latency: 2, Energy: 1.5e-7, Class: ClassHash, Writes: true},
	OpHASH_FINAL:    {Mnemonic: "HASH_FINAL", Format: FormatR, Operands: 1, Latency: 2, Energy: 1.5e-7, Class: ClassHash, Writes: true},
	OpPROFILE_START: {Mnemonic: "PROFILE_START", Format: FormatR, Operands: 1, Latency: 1, Energy: 2e-8, Class: ClassSystem, Writes: true},
	OpPROFILE_STOP:  {Mnemonic: "PROFILE_STOP", Format: FormatR, Operands: 1, Latency: 1, Energy: 2e-8, Class: ClassSystem, Writes: true},

	OpJMP:   {Mnemonic: "JMP", Format: FormatB, Operands: 1, Latency: 1, Energy: 1e-8, Class: ClassBranch},
	OpJZ:    {Mnemonic: "JZ", Format: FormatB, Operands: 1, Latency: 1, Energy: 1e-8, Class: ClassBranch},
	OpJNZ:   {Mnemonic: "JNZ", Format: FormatB, Operands: 1, Latency: 1, Energy: 1e-8, Class: ClassBranch},
	OpBR_IF: {Mnemonic: "BR_IF", Format: FormatB, Operands: 2, MaxOperands: 4, Latency: 2, Energy: 2.5e-7, Class: ClassBranch},
	OpCALL:  {Mnemonic: "CALL", Format: FormatB, Operands: 1, Latency: 2, Energy: 3e-8, Class: ClassBranch},
	OpRET:   {Mnemonic: "RET", Format: FormatN, Latency: 2, Energy: 3e-8, Class: ClassBranch},

	OpSAVE_DELTA:    {Mnemonic: "SAVE_DELTA", Format: FormatN, Latency: 2, Energy: 2e-7, Class: ClassCheckpoint},
	OpRESTORE_DELTA: {Mnemonic: "RESTORE_DELTA", Format: FormatN, Latency: 2, Energy: 2e-7, Class: ClassCheckpoint},

	OpWRITE_IO:        {Mnemonic: "WRITE_IO", Format: FormatR, Operands: 1, Latency: 20, Energy: 2e-6, Class: ClassSystem},
	OpDMA_START:       {Mnemonic: "DMA_START", Format: FormatM, Operands: 3, Latency: 50, Energy: 5e-6, Class: ClassSystem, Blocking: true},
	OpSLEEP:           {Mnemonic: "SLEEP", Format: FormatI, Operands: 0, MaxOperands: 1, Latency: 100, Energy: 1e-8, Class: ClassSystem, Blocking: true},
	OpYIELD:           {Mnemonic: "YIELD", Format: FormatN, Latency: 1, Energy: 1e-8, Class: ClassSystem, Blocking: true},
	OpFAST_PATH_ENTER: {Mnemonic: "FAST_PATH_ENTER", Format: FormatN, Latency: 1, Energy: 1e-8, Class: ClassSystem},

	OpLABEL: {Mnemonic: "LABEL", Format: FormatX, Operands: 1, Latency: 0, Energy: 0, Class: ClassPseudo},

	OpFUSED_LOAD_ADD:       {Mnemonic: "FUSED_LOAD_ADD", Format: FormatX, Operands: 4, Latency: 2, Energy: 4.1e-7, Class: ClassFused, Writes: true, WriteArgs: []int{0, 1}},
	OpFUSED_LOAD_VDOT32:    {Mnemonic: "FUSED_LOAD_VDOT32", Format: FormatX, Operands: 5, Latency: 6, Energy: 2.2e-6, Class: ClassFused, Writes: true, WriteArgs: []int{0, 1}},
	OpFUSED_ADD_STORE:      {Mnemonic: "FUSED_ADD_STORE", Format: FormatX, Operands: 4, Latency: 3, Energy: 4.2e-7, Class: ClassFused, Writes: true},
	OpFUSED_LOAD_ADD_STORE: {Mnemonic: "FUSED_LOAD_ADD_STORE", Format: FormatX, Operands: 5, Latency: 5, Energy: 8e-7, Class: ClassFused, Writes: true, WriteArgs: []int{0, 1}},
}

var byMnemonic = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op := OpNOP; op < numOpcodes; op++ {
		m[descriptors[op].Mnemonic] = op
	}
	return m
}()

// Lookup resolves a mnemonic (case-insensitive). Unknown mnemonics return
// OpUnknown and ok=false.
func Lookup(mnemonic string) (Opcode, Descriptor, bool) {
	op, ok := byMnemonic[strings.ToUpper(mnemonic)]
	if !ok {
		return OpUnknown, descriptors[OpUnknown], false
	}
	return op, descriptors[op], true
}

// Parse resolves a mnemonic to its opcode, OpUnknown if it is not in the table.
func Parse(mnemonic string) Opcode {
	op, _, _ := Lookup(mnemonic)
	return op
}

// Descriptor returns the static definition of op.
func (op Opcode) Descriptor() Descriptor {
	if op >= numOpcodes {
		return descriptors[OpUnknown]
	}
	return descriptors[op]
}

func (op Opcode) String() string {
	if op >= numOpcodes {
		return fmt.Sprintf("Opcode(%d)", int(op))
	}
	return descriptors[op].Mnemonic
}

// Opcodes lists every known opcode in table order, excluding OpUnknown.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, numOpcodes-1)
	for op := OpNOP; op < numOpcodes; op++ {
		out = append(out, op)
	}
	return out
}

// IsWrite reports whether op produces a write that erases its first operand.
func IsWrite(op Opcode) bool { return op.Descriptor().Writes }

// WriteOperands lists the indexes of the operands op overwrites. Fused loads
// write both the loaded register and the result register.
func WriteOperands(op Opcode) []int {
	d := op.Descriptor()
	switch {
	case !d.Writes:
		return nil
	case d.WriteArgs != nil:
		return d.WriteArgs
	}
	return []int{0}
}

// IsBlocking reports whether op has blocking or variable latency and is
// therefore forbidden inside realtime code.
func IsBlocking(op Opcode) bool { return op.Descriptor().Blocking }

// IsBranch reports whether op can transfer control.
func IsBranch(op Opcode) bool { return op.Descriptor().Class == ClassBranch }

// IsFused reports whether op is a composite produced by fusion.
func IsFused(op Opcode) bool { return op.Descriptor().Class == ClassFused }

// HeatsALU reports whether executing op heats the "alu" thermal component
// rather than "control".
func HeatsALU(op Opcode) bool {
	switch op.Descriptor().Class {
	case ClassALU, ClassFloat, ClassVector, ClassFused:
		return true
	}
	return false
}

// UpdatesFlags reports whether Z/N follow the destination after op executes.
func UpdatesFlags(op Opcode) bool {
	switch op {
	case OpLOAD, OpFUSED_LOAD_ADD, OpFUSED_LOAD_ADD_STORE, OpFUSED_ADD_STORE:
		return true
	}
	c := op.Descriptor().Class
	return (c == ClassALU || c == ClassFloat) && op.Descriptor().Writes
}
