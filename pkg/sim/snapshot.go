package sim

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"

	"github.com/holiman/uint256"
)

// snapshotState is the JSON part of a snapshot.
type snapshotState struct {
	Regs      map[string]int64 `json:"regs"`
	PC        int              `json:"pc"`
	Z         bool             `json:"z"`
	N         bool             `json:"n"`
	Halted    bool             `json:"halted"`
	Link      int              `json:"link"`
	Backup    map[string]int64 `json:"backup,omitempty"`
	Cycles    int64            `json:"cycles"`
	Energy    float64          `json:"energy"`
	WallClock float64          `json:"wall_clock_s"`
	OpCounts  map[string]int   `json:"op_counts"`
	AllowIO   bool             `json:"allow_io"`
	AllowDMA  bool             `json:"allow_dma"`
}

// Snapshot serialises the simulator state into an in-memory ZIP archive:
//
//	sim_state.json  registers, PC, flags, counters
//	memory.bin      memory words, little-endian int64
//	vregs.bin       vector registers, 32 bytes each, big-endian
//	thermal.json    component temperatures
//
// The undo stack and open hash states are not included.
func (s *Simulator) Snapshot() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := snapshotState{
		Regs:      s.Regs,
		PC:        s.PC,
		Z:         s.Z,
		N:         s.N,
		Halted:    s.Halted,
		Link:      s.link,
		Backup:    s.backup,
		Cycles:    s.cycles,
		Energy:    s.energy,
		WallClock: s.wallClock,
		OpCounts:  s.opCounts,
		AllowIO:   s.AllowIO,
		AllowDMA:  s.AllowDMA,
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sim_state: %w", err)
	}
	if err := writeZipEntry(zw, "sim_state.json", jsonData); err != nil {
		return nil, err
	}

	if err := writeZipEntry(zw, "memory.bin", int64SliceToLE(s.Memory)); err != nil {
		return nil, err
	}

	vregs := make([]byte, 0, NumVectorRegs*32)
	for i := range s.VRegs {
		b := s.VRegs[i].Bytes32()
		vregs = append(vregs, b[:]...)
	}
	if err := writeZipEntry(zw, "vregs.bin", vregs); err != nil {
		return nil, err
	}

	thermalJSON, err := json.MarshalIndent(s.thermal, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal thermal: %w", err)
	}
	if err := writeZipEntry(zw, "thermal.json", thermalJSON); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the simulator state with a Snapshot. The configuration,
// logger, output sink and loaded program are kept.
func (s *Simulator) Restore(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "sim_state.json")
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal sim_state: %w", err)
	}

	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return err
	}
	if len(memData)%8 != 0 {
		return fmt.Errorf("memory.bin: length %d is not a multiple of 8", len(memData))
	}

	var vregs [NumVectorRegs]uint256.Int
	if raw, err := readZipEntry(fileMap, "vregs.bin"); err == nil {
		if len(raw) != NumVectorRegs*32 {
			return fmt.Errorf("vregs.bin: want %d bytes, got %d", NumVectorRegs*32, len(raw))
		}
		for i := range vregs {
			vregs[i].SetBytes32(raw[i*32 : (i+1)*32])
		}
	}

	thermal := make(map[string]float64)
	if raw, err := readZipEntry(fileMap, "thermal.json"); err == nil {
		if err := json.Unmarshal(raw, &thermal); err != nil {
			return fmt.Errorf("unmarshal thermal: %w", err)
		}
	}

	s.Regs = state.Regs
	if s.Regs == nil {
		s.Regs = make(map[string]int64)
	}
	s.PC = state.PC
	s.Z, s.N = state.Z, state.N
	s.Halted = state.Halted
	s.link = state.Link
	s.backup = state.Backup
	s.cycles = state.Cycles
	s.energy = state.Energy
	s.wallClock = state.WallClock
	s.opCounts = maps.Clone(state.OpCounts)
	if s.opCounts == nil {
		s.opCounts = make(map[string]int)
	}
	s.AllowIO, s.AllowDMA = state.AllowIO, state.AllowDMA
	s.Memory = leToInt64Slice(memData)
	s.VRegs = vregs
	s.thermal = thermal
	s.checkpoints = nil
	return nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func int64SliceToLE(src []int64) []byte {
	out := make([]byte, len(src)*8)
	for i, v := range src {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func leToInt64Slice(src []byte) []int64 {
	out := make([]int64, len(src)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(src[i*8:]))
	}
	return out
}
