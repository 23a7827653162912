// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gdt implements the descriptor/IDT manager of §4.a: GDT entry
// allocation, descriptor packing, and IDT interrupt/task gate installation.
package gdt

import "fmt"

// Selector identifies an 8-byte GDT entry, always a multiple of 8.
type Selector uint16

// Reserved selectors (§4.a): privileged code/data/stack, user code/data/stack,
// the API call gate, and a null entry — eight fixed slots before the free
// list begins.
const (
	SelNull Selector = iota * 8
	SelPrivCode
	SelPrivData
	SelPrivStack
	SelUserCode
	SelUserData
	SelUserStack
	SelCallGate
	firstFree
)

const maxSize = 1 << 20

// Descriptor is a decoded 8-byte GDT/LDT segment descriptor.
type Descriptor struct {
	Base        uint32
	Size        uint32 // limit, in granularity units
	Present     bool
	DPL         uint8 // 0..3
	System      bool  // true = code/data segment, false = system segment (TSS, gate)
	Type        uint8 // 4-bit type field
	Granularity bool  // true = 4KiB granularity, false = byte granularity
	BitSize     bool  // true = 32-bit segment, false = 16-bit
}

// Table owns one GDT and one IDT, following one CPU per the spec's
// single-CPU scope (§1 non-goals: SMP).
type Table struct {
	entries  [][8]byte
	idt      [][8]byte
	free     []Selector
	reserved int
}

// NewTable allocates a table with room for n GDT entries (n must be large
// enough to hold the 8 reserved selectors plus at least one free slot) and
// 256 IDT vectors.
func NewTable(n int) (*Table, error) {
	if n <= int(firstFree/8) {
		return nil, fmt.Errorf("gdt: table too small, need > %d entries", firstFree/8)
	}

	t := &Table{
		entries:  make([][8]byte, n),
		idt:      make([][8]byte, 256),
		reserved: int(firstFree / 8),
	}

	for i := t.reserved; i < n; i++ {
		t.free = append(t.free, Selector(i*8))
	}

	return t, nil
}

// Size returns the total number of GDT entries (§3 Process invariant: the
// process table size equals GDT size minus reserved descriptors).
func (t *Table) Size() int {
	return len(t.entries)
}

// ProcessSlots returns how many GDT entries remain available for per-process
// TSS descriptors (§3 Process invariant).
func (t *Table) ProcessSlots() int {
	return len(t.entries) - t.reserved
}

// Request hands out a free selector from the free list.
func (t *Table) Request() (Selector, error) {
	if len(t.free) == 0 {
		return 0, errNoFree
	}

	sel := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	return sel, nil
}

// Release returns a selector to the free list. It is the caller's
// responsibility to ensure the process/TSS owning it has already been torn
// down.
func (t *Table) Release(sel Selector) error {
	idx := int(sel) / 8
	if idx < t.reserved || idx >= len(t.entries) {
		return errRange
	}

	t.entries[idx] = [8]byte{}
	t.free = append(t.free, sel)

	return nil
}

// Set validates and packs a descriptor into the given selector's slot.
func (t *Table) Set(sel Selector, d Descriptor) error {
	if d.Size > maxSize {
		return fmt.Errorf("gdt: size %d exceeds %d", d.Size, maxSize)
	}
	if d.DPL > 3 {
		return fmt.Errorf("gdt: dpl %d out of range 0..3", d.DPL)
	}

	idx := int(sel) / 8
	if idx < 0 || idx >= len(t.entries) {
		return errRange
	}

	t.entries[idx] = pack(d)

	return nil
}

// SetUnformatted installs eight raw descriptor bytes verbatim, escaping the
// validation Set performs. Used to install the API call gate, whose type/
// attribute byte does not fit the Descriptor shape.
func (t *Table) SetUnformatted(sel Selector, raw [8]byte) error {
	idx := int(sel) / 8
	if idx < 0 || idx >= len(t.entries) {
		return errRange
	}

	t.entries[idx] = raw

	return nil
}

// Get reads back a decoded descriptor.
func (t *Table) Get(sel Selector) (Descriptor, error) {
	idx := int(sel) / 8
	if idx < 0 || idx >= len(t.entries) {
		return Descriptor{}, errRange
	}

	return unpack(t.entries[idx]), nil
}

func pack(d Descriptor) [8]byte {
	var raw [8]byte

	limit := d.Size
	raw[0] = byte(limit)
	raw[1] = byte(limit >> 8)
	raw[6] = byte(limit>>16) & 0x0f

	raw[2] = byte(d.Base)
	raw[3] = byte(d.Base >> 8)
	raw[4] = byte(d.Base >> 16)
	raw[7] = byte(d.Base >> 24)

	access := d.Type & 0x0f
	if d.System {
		access |= 1 << 4
	}
	access |= (d.DPL & 0x3) << 5
	if d.Present {
		access |= 1 << 7
	}
	raw[5] = access

	flags := raw[6]
	if d.BitSize {
		flags |= 1 << 6
	}
	if d.Granularity {
		flags |= 1 << 7
	}
	raw[6] = flags

	return raw
}

func unpack(raw [8]byte) Descriptor {
	limit := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[6]&0x0f)<<16
	base := uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[7])<<24

	access := raw[5]
	flags := raw[6]

	return Descriptor{
		Base:        base,
		Size:        limit,
		Present:     access&(1<<7) != 0,
		DPL:         (access >> 5) & 0x3,
		System:      access&(1<<4) != 0,
		Type:        access & 0x0f,
		Granularity: flags&(1<<7) != 0,
		BitSize:     flags&(1<<6) != 0,
	}
}

// Interrupt gate type/attribute byte for a 32-bit interrupt gate, present,
// ring 0: present(1) | dpl(00) | 0 | type(1110).
const idtInterruptGate32 = 0x8e

// taskGateAttr is the type/attribute byte for a present, ring-0 task gate.
const taskGateAttr = 0x85

// SetIDTInterruptGate installs a 32-bit interrupt gate at vector, targeting
// handler within the privileged code selector.
func (t *Table) SetIDTInterruptGate(vector int, handler uint32) error {
	if vector < 0 || vector >= len(t.idt) {
		return errRange
	}

	var raw [8]byte
	raw[0] = byte(handler)
	raw[1] = byte(handler >> 8)
	raw[2] = byte(SelPrivCode)
	raw[3] = byte(SelPrivCode >> 8)
	raw[4] = 0
	raw[5] = idtInterruptGate32
	raw[6] = byte(handler >> 16)
	raw[7] = byte(handler >> 24)

	t.idt[vector] = raw

	return nil
}

// SetIDTTaskGate installs a task gate at vector referencing a TSS descriptor
// selector — used for exception vectors so a faulty stack cannot prevent
// handler entry (§4.a).
func (t *Table) SetIDTTaskGate(vector int, tssSelector Selector) error {
	if vector < 0 || vector >= len(t.idt) {
		return errRange
	}

	var raw [8]byte
	raw[2] = byte(tssSelector)
	raw[3] = byte(tssSelector >> 8)
	raw[5] = taskGateAttr

	t.idt[vector] = raw

	return nil
}

var errNoFree = fmt.Errorf("gdt: no free descriptor")
var errRange = fmt.Errorf("gdt: selector out of range")
