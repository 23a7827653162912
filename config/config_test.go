// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package config

import (
	"bytes"
	"strings"
	"testing"
)

const sample = `# keyboard configuration
KEYBOARD.MAP=us

# network configuration
NETWORK.DEVICE=eth0
NETWORK.DHCP=yes

`

func TestReadThenWriteReproducesSource(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != sample {
		t.Fatalf("round trip mismatch:\ngot:\n%s\nwant:\n%s", buf.String(), sample)
	}
}

func TestGetReturnsParsedValues(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if v, ok := l.Get("KEYBOARD.MAP"); !ok || v != "us" {
		t.Fatalf("Get(KEYBOARD.MAP) = %q, %v, want us, true", v, ok)
	}
	if v, ok := l.Get("NETWORK.DHCP"); !ok || v != "yes" {
		t.Fatalf("Get(NETWORK.DHCP) = %q, %v, want yes, true", v, ok)
	}
	if _, ok := l.Get("MISSING"); ok {
		t.Fatal("Get(MISSING) should report absent")
	}
}

func TestSetOverwritesExistingKeyInPlace(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	l.Set("NETWORK.DEVICE", "eth1")

	var buf bytes.Buffer
	l.Write(&buf)
	if !strings.Contains(buf.String(), "NETWORK.DEVICE=eth1") {
		t.Fatalf("expected overwritten value in output, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "eth0") {
		t.Fatal("old value should no longer appear")
	}
}

func TestSetAppendsNewKeyAtEnd(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	l.Set("NEW.KEY", "value")

	var buf bytes.Buffer
	l.Write(&buf)
	if !strings.HasSuffix(strings.TrimRight(buf.String(), "\n"), "NEW.KEY=value") {
		t.Fatalf("expected appended key at end, got:\n%s", buf.String())
	}
}

func TestKeysPreservesDeclarationOrder(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"KEYBOARD.MAP", "NETWORK.DEVICE", "NETWORK.DHCP"}
	keys := l.Keys()
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestReadFileMissingReturnsEmptyList(t *testing.T) {
	l, err := ReadFile("/nonexistent/path/to/kernel.conf")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(l.Keys()) != 0 {
		t.Fatalf("expected empty list, got %v", l.Keys())
	}
}

func TestUnsetRemovesKeyAndReindexes(t *testing.T) {
	l, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	l.Unset("NETWORK.DEVICE")
	if _, ok := l.Get("NETWORK.DEVICE"); ok {
		t.Fatal("expected NETWORK.DEVICE to be gone")
	}
	if v, ok := l.Get("NETWORK.DHCP"); !ok || v != "yes" {
		t.Fatalf("Get(NETWORK.DHCP) after Unset = %q, %v, want yes, true", v, ok)
	}
}
