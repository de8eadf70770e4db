package ir

import (
	"reflect"
	"strings"
	"testing"

	"crz64i/pkg/config"
)

func TestEncodeDecode(t *testing.T) {
	cfg := config.Default()
	ops := []Op{
		New(cfg, "LABEL", "start"),
		New(cfg, "LOAD", "R0", "[R1]"),
		New(cfg, "FUSED_LOAD_ADD", "R0", "R2", "[R1]", "5"),
		New(cfg, "HALT"),
	}
	data, err := Encode(ops)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, key := range []string{`"op"`, `"args"`, `"fused"`, `"energy_est"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("encoded ir missing %s", key)
		}
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, ops) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, ops)
	}
	if !got[2].Fused || got[1].Fused {
		t.Error("fused flag not derived from mnemonic")
	}
}

func TestDecodeRejectsMissingOp(t *testing.T) {
	if _, err := Decode([]byte(`[{"args": []}]`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestLabels(t *testing.T) {
	cfg := config.Default()
	ops := []Op{New(cfg, "LABEL", "a"), New(cfg, "NOP"), New(cfg, "LABEL", "b")}
	labels, err := Labels(ops)
	if err != nil {
		t.Fatal(err)
	}
	if labels["a"] != 0 || labels["b"] != 2 {
		t.Fatalf("labels = %v", labels)
	}
	ops = append(ops, New(cfg, "LABEL", "a"))
	if _, err := Labels(ops); err == nil {
		t.Fatal("expected duplicate label error")
	}
}

func TestFuse(t *testing.T) {
	cfg := config.Default()
	in := []Op{
		New(cfg, "LOAD", "R0", "[R1]"),
		New(cfg, "ADD", "R0", "R0", "5"),
		New(cfg, "LOAD", "R3", "[R4]"),
		New(cfg, "ADD", "R5", "R6", "R3"),
		New(cfg, "HALT"),
	}
	orig := make([]Op, len(in))
	copy(orig, in)

	got := Fuse(in, cfg)
	want := []Op{
		New(cfg, "FUSED_LOAD_ADD", "R0", "R0", "[R1]", "5"),
		New(cfg, "LOAD", "R3", "[R4]"),
		New(cfg, "ADD", "R5", "R6", "R3"),
		New(cfg, "HALT"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Fuse:\n got %v\nwant %v", got, want)
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatal("Fuse modified its input")
	}
	if TotalEnergy(got) > TotalEnergy(in) {
		t.Errorf("fused energy %g exceeds unfused %g", TotalEnergy(got), TotalEnergy(in))
	}
}

func TestOpString(t *testing.T) {
	cfg := config.Default()
	if s := New(cfg, "ADD", "R0", "R1", "2").String(); s != "ADD R0, R1, 2" {
		t.Errorf("String = %q", s)
	}
	if s := New(cfg, "LABEL", "loop_1").String(); s != "loop_1:" {
		t.Errorf("String = %q", s)
	}
	if s := New(cfg, "RET").String(); s != "RET" {
		t.Errorf("String = %q", s)
	}
}
