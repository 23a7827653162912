// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "sync"

// loopbackQueueLen is the fixed circular-queue depth of the loopback
// device (§4.g Loopback: "a virtual device with a circular packet queue
// (length 16)").
const loopbackQueueLen = 16

// loopbackBackend implements Ops.WriteData over a fixed-length circular
// buffer: writes overwrite the oldest unread entry once full, matching a
// ring rather than growing without bound.
type loopbackBackend struct {
	mu    sync.Mutex
	ring  [loopbackQueueLen][]byte
	head  int // next write slot
	count int
	dev   *Device
}

func (b *loopbackBackend) writeData(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	b.mu.Lock()
	b.ring[b.head] = cp
	b.head = (b.head + 1) % loopbackQueueLen
	if b.count < loopbackQueueLen {
		b.count++
	}
	b.mu.Unlock()

	// A loopback write is also its own read: the frame is immediately
	// available on the device's input stream for the network thread to
	// classify and deliver.
	b.dev.Enqueue(cp)
	return nil
}

// NewLoopback registers a loopback device: LINK up and
// PROMISCUOUS/AUTOCRC/AUTOSTRIP set, host 127.0.0.1/8 (§4.g Loopback).
func (r *Registry) NewLoopback() *Device {
	backend := &loopbackBackend{}

	d := r.Register(MAC{0, 0, 0, 0, 0, 0}, Ops{
		SetFlags: func(promiscuous, autocrc, autostrip bool) error { return nil },
	})
	backend.dev = d

	d.Ops.WriteData = backend.writeData
	d.Loopback = true
	d.LinkUp = true
	d.Promiscuous = true
	d.HostIP = [4]byte{127, 0, 0, 1}
	d.NetMask = [4]byte{255, 0, 0, 0}

	return d
}
