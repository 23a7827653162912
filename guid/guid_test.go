// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package guid

import (
	"strings"
	"testing"
)

func TestNextSetsVersionAndVariantBits(t *testing.T) {
	g := New(1)
	id := g.Next()

	if id[6]&0xF0 != 0x40 {
		t.Fatalf("version nibble = %#x, want 0x4_", id[6]&0xF0)
	}
	if id[8]&0xC0 != 0x80 {
		t.Fatalf("variant bits = %#x, want 0b10xxxxxx", id[8]&0xC0)
	}
}

func TestNextProducesDistinctValues(t *testing.T) {
	g := New(1)
	a := g.Next()
	b := g.Next()
	if a == b {
		t.Fatal("consecutive GUIDs should differ")
	}
}

func TestStringFormatsCanonicalLayout(t *testing.T) {
	g := New(1)
	s := g.Next().String()

	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		t.Fatalf("String() = %q, want 5 hyphen-separated groups", s)
	}
	wantLens := []int{8, 4, 4, 4, 12}
	for i, p := range parts {
		if len(p) != wantLens[i] {
			t.Fatalf("group %d = %q, want length %d", i, p, wantLens[i])
		}
	}
}

func TestSameSeedProducesSameFirstGUID(t *testing.T) {
	a := New(99).Next()
	b := New(99).Next()
	if a != b {
		t.Fatalf("same seed should reproduce the same GUID: %v != %v", a, b)
	}
}
