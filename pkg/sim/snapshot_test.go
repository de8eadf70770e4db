package sim

import (
	"reflect"
	"testing"

	"crz64i/pkg/ir"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s1 := newTestSim(WithSandbox(true, false))
	s1.SetLanes(2, [Lanes]int32{9, -8, 7, -6, 5, -4, 3, -2})
	mustRun(t, s1, []ir.Op{
		op("ADD", "r0", "1", "2"),
		op("STORE", "r0", "[3]"),
		op("ADD", "acc", "r0", "r0"),
		op("SAVE_DELTA"),
		op("SUB", "r5", "0", "1"),
	})

	data, err := s1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	s2 := newTestSim()
	if err := s2.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if !reflect.DeepEqual(s2.State(), s1.State()) {
		t.Errorf("state: got %+v, want %+v", s2.State(), s1.State())
	}
	if s2.PC != s1.PC || s2.Z != s1.Z || s2.N != s1.N || s2.Halted != s1.Halted {
		t.Errorf("control: got pc=%d z=%v n=%v, want pc=%d z=%v n=%v", s2.PC, s2.Z, s2.N, s1.PC, s1.Z, s1.N)
	}
	if s2.VRegs != s1.VRegs {
		t.Error("vector registers differ")
	}
	if s2.Cycles() != s1.Cycles() || s2.Energy() != s1.Energy() {
		t.Errorf("counters: got %d/%g, want %d/%g", s2.Cycles(), s2.Energy(), s1.Cycles(), s1.Energy())
	}
	if !reflect.DeepEqual(s2.Thermal(), s1.Thermal()) {
		t.Errorf("thermal: got %v, want %v", s2.Thermal(), s1.Thermal())
	}
	if !reflect.DeepEqual(s2.OpCounts(), s1.OpCounts()) {
		t.Errorf("op counts: got %v, want %v", s2.OpCounts(), s1.OpCounts())
	}
	if !s2.AllowIO || s2.AllowDMA {
		t.Errorf("sandbox: io=%v dma=%v", s2.AllowIO, s2.AllowDMA)
	}

	// The saved register backup survives the round trip.
	if err := s2.ExecuteOp("RESTORE_DELTA", nil); err != nil {
		t.Fatal(err)
	}
	if s2.Reg("r5") != 0 {
		t.Errorf("RESTORE_DELTA after Restore: r5 = %d, want 0", s2.Reg("r5"))
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	s := newTestSim()
	if err := s.Restore([]byte("not a zip")); err == nil {
		t.Error("expected error for non-zip data")
	}
}
