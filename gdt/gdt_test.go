package gdt

import "testing"

func TestRequestReleaseRoundTrip(t *testing.T) {
	tbl, err := NewTable(16)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := tbl.ProcessSlots(), 16-int(firstFree/8); got != want {
		t.Fatalf("ProcessSlots() = %d, want %d", got, want)
	}

	sel, err := tbl.Request()
	if err != nil {
		t.Fatal(err)
	}

	if err := tbl.Release(sel); err != nil {
		t.Fatal(err)
	}

	sel2, err := tbl.Request()
	if err != nil {
		t.Fatal(err)
	}
	if sel2 != sel {
		t.Fatalf("expected released selector to be reused, got %v want %v", sel2, sel)
	}
}

func TestRequestExhausted(t *testing.T) {
	tbl, _ := NewTable(int(firstFree/8) + 1)

	if _, err := tbl.Request(); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Request(); err == nil {
		t.Fatal("expected error on exhausted free list")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl, _ := NewTable(16)
	sel, _ := tbl.Request()

	d := Descriptor{
		Base:        0x10000,
		Size:        0xFFFFF,
		Present:     true,
		DPL:         3,
		System:      true,
		Type:        0x9,
		Granularity: true,
		BitSize:     true,
	}

	if err := tbl.Set(sel, d); err != nil {
		t.Fatal(err)
	}

	got, err := tbl.Get(sel)
	if err != nil {
		t.Fatal(err)
	}

	if got != d {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestSetRejectsOversizedOrBadDPL(t *testing.T) {
	tbl, _ := NewTable(16)
	sel, _ := tbl.Request()

	if err := tbl.Set(sel, Descriptor{Size: maxSize + 1}); err == nil {
		t.Fatal("expected error for size > 2^20")
	}
	if err := tbl.Set(sel, Descriptor{DPL: 4}); err == nil {
		t.Fatal("expected error for dpl out of range")
	}
}

func TestIDTGates(t *testing.T) {
	tbl, _ := NewTable(16)

	if err := tbl.SetIDTInterruptGate(0x21, 0xCAFEF00D); err != nil {
		t.Fatal(err)
	}

	sel, _ := tbl.Request()
	if err := tbl.SetIDTTaskGate(0x0D, sel); err != nil {
		t.Fatal(err)
	}
}
