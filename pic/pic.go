// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pic provides a uniform interface over legacy-PIC and I/O-APIC
// interrupt controllers (§4.b): mask, EOI, which IRQ is active, IRQ→vector
// mapping. Call sites never care which backend is installed at boot.
package pic

// Controller is implemented by each interrupt-controller backend. Matching
// DESIGN NOTES' "dynamic dispatch through function-pointer tables" guidance,
// pluggable backends are a bounded set of trait objects rather than a C-style
// table of function pointers.
type Controller interface {
	// Mask disables delivery of irq.
	Mask(irq int) error
	// Unmask enables delivery of irq.
	Unmask(irq int) error
	// EOI signals end-of-interrupt for irq.
	EOI(irq int) error
	// Active reports which IRQ line (if any) is currently asserted.
	Active() (irq int, ok bool)
	// Vector returns the IDT vector that irq is routed to.
	Vector(irq int) (vector int, err error)
}

// Legacy8259 models the two-chip cascaded 8259 PIC, IRQ lines 0..15 mapped
// 1:1 onto vectors starting at VectorBase.
type Legacy8259 struct {
	VectorBase int
	masked     [16]bool
	pending    []int
}

var _ Controller = (*Legacy8259)(nil)

func (p *Legacy8259) Mask(irq int) error {
	if irq < 0 || irq > 15 {
		return errRange
	}
	p.masked[irq] = true
	return nil
}

func (p *Legacy8259) Unmask(irq int) error {
	if irq < 0 || irq > 15 {
		return errRange
	}
	p.masked[irq] = false
	return nil
}

func (p *Legacy8259) EOI(irq int) error {
	if irq < 0 || irq > 15 {
		return errRange
	}
	for i, v := range p.pending {
		if v == irq {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Legacy8259) Active() (int, bool) {
	if len(p.pending) == 0 {
		return 0, false
	}
	return p.pending[0], true
}

func (p *Legacy8259) Vector(irq int) (int, error) {
	if irq < 0 || irq > 15 {
		return 0, errRange
	}
	return p.VectorBase + irq, nil
}

// Raise simulates an external device asserting irq — used by tests and by
// device drivers running against a simulated controller.
func (p *Legacy8259) Raise(irq int) error {
	if irq < 0 || irq > 15 {
		return errRange
	}
	if p.masked[irq] {
		return nil
	}
	p.pending = append(p.pending, irq)
	return nil
}

// IOAPIC models a generic I/O APIC: up to 24 redirection-table entries, each
// independently maskable and remappable to an arbitrary vector.
type IOAPIC struct {
	entries []ioapicEntry
	pending []int
}

type ioapicEntry struct {
	vector int
	masked bool
}

var _ Controller = (*IOAPIC)(nil)

// NewIOAPIC allocates an I/O APIC with n redirection entries, vectors
// defaulting to vectorBase+irq like the legacy PIC so drivers written
// against either backend see the same numbering.
func NewIOAPIC(n, vectorBase int) *IOAPIC {
	entries := make([]ioapicEntry, n)
	for i := range entries {
		entries[i].vector = vectorBase + i
	}
	return &IOAPIC{entries: entries}
}

func (a *IOAPIC) Mask(irq int) error {
	if irq < 0 || irq >= len(a.entries) {
		return errRange
	}
	a.entries[irq].masked = true
	return nil
}

func (a *IOAPIC) Unmask(irq int) error {
	if irq < 0 || irq >= len(a.entries) {
		return errRange
	}
	a.entries[irq].masked = false
	return nil
}

func (a *IOAPIC) EOI(irq int) error {
	if irq < 0 || irq >= len(a.entries) {
		return errRange
	}
	for i, v := range a.pending {
		if v == irq {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (a *IOAPIC) Active() (int, bool) {
	if len(a.pending) == 0 {
		return 0, false
	}
	return a.pending[0], true
}

func (a *IOAPIC) Vector(irq int) (int, error) {
	if irq < 0 || irq >= len(a.entries) {
		return 0, errRange
	}
	return a.entries[irq].vector, nil
}

// Remap changes the vector a redirection entry targets.
func (a *IOAPIC) Remap(irq, vector int) error {
	if irq < 0 || irq >= len(a.entries) {
		return errRange
	}
	a.entries[irq].vector = vector
	return nil
}

// Raise simulates an external device asserting irq.
func (a *IOAPIC) Raise(irq int) error {
	if irq < 0 || irq >= len(a.entries) {
		return errRange
	}
	if a.entries[irq].masked {
		return nil
	}
	a.pending = append(a.pending, irq)
	return nil
}

var errRange = errRangeType("pic: irq out of range")

type errRangeType string

func (e errRangeType) Error() string { return string(e) }
