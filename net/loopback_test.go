// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "testing"

func TestNewLoopbackIsUpAndConfigured(t *testing.T) {
	r := NewRegistry()
	d := r.NewLoopback()

	if !d.LinkUp || !d.Loopback || !d.Promiscuous {
		t.Fatalf("loopback device flags = %+v, want LinkUp/Loopback/Promiscuous", d)
	}
	if d.HostIP != ([4]byte{127, 0, 0, 1}) {
		t.Fatalf("HostIP = %v, want 127.0.0.1", d.HostIP)
	}
	if !d.Subnet([4]byte{127, 0, 0, 1}) {
		t.Fatal("loopback device's own address should fall inside its subnet")
	}
}

func TestLoopbackWriteDataIsImmediatelyReadable(t *testing.T) {
	r := NewRegistry()
	d := r.NewLoopback()

	payload := []byte("abcdefghijklmnopqrstuvwxyz012345")
	if err := d.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, ok := d.Dequeue()
	if !ok {
		t.Fatal("expected the written frame to be queued for receive")
	}
	if string(got) != string(payload) {
		t.Fatalf("Dequeue = %q, want %q", got, payload)
	}
}

func TestLoopbackQueueWrapsAtSixteenEntries(t *testing.T) {
	b := &loopbackBackend{dev: NewDevice("net0", MAC{0}, Ops{})}

	for i := 0; i < loopbackQueueLen+4; i++ {
		if err := b.writeData([]byte{byte(i)}); err != nil {
			t.Fatalf("writeData: %v", err)
		}
	}

	if b.count != loopbackQueueLen {
		t.Fatalf("count = %d, want %d (ring must not grow past its fixed depth)", b.count, loopbackQueueLen)
	}

	// the oldest entries (0..3) were overwritten; the ring holds 4..19.
	oldestSlot := b.ring[b.head]
	if oldestSlot[0] != 4 {
		t.Fatalf("oldest retained entry = %d, want 4 (overwritten by wraparound)", oldestSlot[0])
	}
}
