// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uhci implements the UHCI USB host controller driver of §4.f:
// frame list, queue heads, transfer-descriptor-array transaction builder,
// interrupt re-arm, and root hub port polling.
package uhci

import (
	"fmt"
	"time"

	"github.com/kvisor/kernel/bits"
	"github.com/kvisor/kernel/internal/arena"
	"github.com/kvisor/kernel/usb"
)

// TD link-pointer flags (§3 Transfer descriptor).
const (
	linkTerminate = 1 << iota
	linkQueueHead
	linkDepthFirst
)

// TD control/status word bit positions (§3 Transfer descriptor: "active,
// IOC, isochronous, low-speed, 3-bit error count, 8-bit status, 11-bit
// actual-length").
const (
	csActualLen  = 0
	csStatus     = 16
	csErrorCount = 27
	csLowSpeed   = 26
	csISO        = 25
	csIOC        = 24
	csActive     = 23
)

// TD token word bit positions.
const (
	tokPID      = 0
	tokAddress  = 8
	tokEndpoint = 15
	tokToggle   = 19
	tokMaxLen   = 21
)

// PIDs as they appear in a TD token (§3).
const (
	pidOUT   = 0xE1
	pidIN    = 0x69
	pidSETUP = 0x2D
)

// td is the 16-byte-aligned hardware transfer descriptor (§3 Transfer
// descriptor), plus software-only shadow fields.
type td struct {
	Link    uint32
	Control uint32
	Token   uint32
	Buffer  uint32

	// shadow fields
	vbuf     []byte
	size     int
	isData   bool // false for SETUP/STATUS pseudo-buffers; excluded from actual-length accounting
	prev     arena.Handle
	next     arena.Handle
}

// qh is a queue head: element pointer (to the first TD) and the link to
// the next queue head (§4.f: "chain interrupt -> control -> bulk ->
// terminating").
type qh struct {
	Link    uint32
	Element uint32

	head arena.Handle // first td of the currently attached transaction, if any
}

// NumInterruptQueueHeads is the number of interrupt queue heads the frame
// list fans out to (§4.f Host controller layout: "8 interrupt
// queue-heads"). Frame i is wired to interrupt queue head i mod
// NumInterruptQueueHeads; the heads are not tied to polling intervals.
const NumInterruptQueueHeads = 8

// FrameListSize is the number of entries in the (4-KiB) frame list — one
// uint32 pointer per frame (§4.f: "allocate the 4-KiB frame list").
const FrameListSize = 1024

// Ports is the I/O port window a UHCI controller is accessed through
// (§4.f Host controller layout). A real kernel backs this with inb/outw
// port I/O; tests back it with an in-memory fake.
type Ports interface {
	ReadW(offset uint16) uint16
	WriteW(offset uint16, v uint16)
	ReadDW(offset uint16) uint32
	WriteDW(offset uint16, v uint32)
}

// Port register offsets (UHCI spec).
const (
	regCommand   = 0x00
	regStatus    = 0x02
	regIntr      = 0x04
	regFrameNum  = 0x06
	regFrameBase = 0x08
	regSOF       = 0x0C
	regPort1     = 0x10
	regPort2     = 0x12
)

// Command register bits.
const (
	cmdRun          = 1 << 0
	cmdGlobalReset  = 1 << 2
	cmdConfigureHC  = 1 << 6
)

// Interrupt-enable bits (§4.f: "set interrupt mask (IOC + TIMEOUTCRC)").
const (
	intrIOC        = 1 << 2
	intrTimeoutCRC = 1 << 0
)

// Port status/control bits.
const (
	portConnectStatus  = 1 << 0
	portConnectChanged = 1 << 1
	portReset          = 1 << 9
	portEnable         = 1 << 2
)

// Backend lets tests (and, eventually, a real interrupt handler) drive TD
// completion without a real controller: Poll is called once per td and
// reports whether the transfer is still active, advancing the fake
// hardware's state as needed.
type Backend interface {
	Poll(data []byte, pid int) (active bool, status uint8)
}

// Controller is a UHCI host controller instance.
type Controller struct {
	Ports   Ports
	Backend Backend

	frameList []uint32
	tds       *arena.Arena[td]
	qhs       [NumInterruptQueueHeads + 2]qh // interrupt[0..7], control, bulk

	interrupts map[*usb.Endpoint]*interruptReg

	now func() time.Time
}

type interruptReg struct {
	dev      *usb.Device
	iface    *usb.Interface
	ep       *usb.Endpoint
	callback func(data []byte, n int)
	tdHandle arena.Handle
	buffer   []byte
	cancel   bool
}

const (
	controlQH = NumInterruptQueueHeads
	bulkQH    = NumInterruptQueueHeads + 1
)

// NewController allocates a controller's software state (frame list,
// queue heads, TD arena) over ports; it does not yet touch hardware — call
// Start to bring the controller up.
func NewController(ports Ports, backend Backend) *Controller {
	c := &Controller{
		Ports:      ports,
		Backend:    backend,
		frameList:  make([]uint32, FrameListSize),
		tds:        arena.New[td](),
		interrupts: make(map[*usb.Endpoint]*interruptReg),
		now:        time.Now,
	}
	return c
}

// Start brings the controller up per §4.f Host controller layout: stop,
// global-reset, set the interrupt mask, wire the frame list to the
// interrupt/control/bulk/terminator chain, then start (set RUN).
func (c *Controller) Start() error {
	c.Ports.WriteW(regCommand, c.Ports.ReadW(regCommand)&^cmdRun)

	c.Ports.WriteW(regCommand, cmdGlobalReset)
	time.Sleep(100 * time.Millisecond)
	c.Ports.WriteW(regCommand, 0)

	c.Ports.WriteW(regIntr, intrIOC|intrTimeoutCRC)

	// chain interrupt -> control -> bulk -> terminating
	c.qhs[controlQH].Link = qhLinkOf(&c.qhs[bulkQH])
	c.qhs[bulkQH].Link = linkTerminate
	for i := 0; i < NumInterruptQueueHeads; i++ {
		c.qhs[i].Link = qhLinkOf(&c.qhs[controlQH])
	}

	for frame := 0; frame < FrameListSize; frame++ {
		qi := frame % NumInterruptQueueHeads
		c.frameList[frame] = qhLinkOf(&c.qhs[qi])
	}

	c.Ports.WriteDW(regFrameBase, 0) // the frame list lives in process memory here, not physical DMA
	c.Ports.WriteW(regFrameNum, 0)

	c.Ports.WriteW(regCommand, cmdRun)

	return nil
}

// qhLinkOf derives the link-pointer word a frame-list entry or adjoining
// queue head uses to reference qh — modeled as an opaque token here since
// the controller has no real physical address space; Ports implementations
// that need the true UHCI wire encoding resolve it themselves.
func qhLinkOf(q *qh) uint32 {
	return linkQueueHead
}

// countTDs returns how many TDs a transaction needs (§4.f Transfers step
// 1): "a control transfer needs SETUP + ceil(length/maxPacketSize) +
// STATUS; bulk/interrupt needs ceil(length/maxPacketSize); minimum
// per-transfer size is 8."
func countTDs(t usb.Transaction) int {
	max := t.Endpoint.MaxPacketLen
	if max <= 0 {
		max = 8
	}

	n := (len(t.Buffer) + max - 1) / max

	switch t.Type {
	case usb.Control:
		return n + 2
	default:
		if n == 0 {
			return 1
		}
		return n
	}
}

// Submit carries out a transaction synchronously, polling its TDs until
// none remain active or one reports an error, honoring t.TimeoutMS
// (default 2000ms per §4.f step 7).
func (c *Controller) Submit(t usb.Transaction) (int, error) {
	timeout := t.TimeoutMS
	if timeout <= 0 {
		timeout = usb.DefaultTimeoutMS
	}

	handles := c.buildTransaction(t)
	defer c.freeChain(handles)

	deadline := c.now().Add(time.Duration(timeout) * time.Millisecond)
	actual := 0
	dataTDs := 0

	for _, h := range handles {
		v, ok := c.tds.Get(h)
		if !ok {
			continue
		}

		for {
			active, status := c.Backend.Poll(v.vbuf, int(bits.Get(&v.Token, tokPID, 0xFF)))
			if !active {
				if status != 0 {
					return actual, usb.ErrStall
				}
				if v.isData {
					actual += len(v.vbuf)
					dataTDs++
				}
				break
			}

			if c.now().After(deadline) {
				return actual, usb.ErrTimeout
			}
		}
	}

	// data toggle advances once per successfully completed data TD (§4.f
	// step 4: "alternating data-toggle per successful TD").
	for i := 0; i < dataTDs; i++ {
		t.Endpoint.FlipToggle()
	}

	return actual, nil
}

// buildTransaction constructs and links the TD chain for t (§4.f Transfers
// steps 2-6), returning the handles in transfer order.
func (c *Controller) buildTransaction(t usb.Transaction) []arena.Handle {
	n := countTDs(t)
	handles := make([]arena.Handle, 0, n)

	max := t.Endpoint.MaxPacketLen
	if max <= 0 {
		max = 8
	}

	toggle := t.Endpoint.Toggle()

	if t.Type == usb.Control {
		setup := make([]byte, 8)
		if t.Request != nil {
			setup[0] = t.Request.RequestType
			setup[1] = t.Request.Request
			setup[2] = byte(t.Request.Value)
			setup[3] = byte(t.Request.Value >> 8)
			setup[4] = byte(t.Request.Index)
			setup[5] = byte(t.Request.Index >> 8)
			setup[6] = byte(t.Request.Length)
			setup[7] = byte(t.Request.Length >> 8)
		}
		handles = append(handles, c.newTD(t, pidSETUP, false, setup, false))
		toggle = true
	}

	dataPID := pidOUT
	if t.Endpoint.Direction == usb.In {
		dataPID = pidIN
	}

	for off := 0; off < len(t.Buffer); off += max {
		end := off + max
		if end > len(t.Buffer) {
			end = len(t.Buffer)
		}
		handles = append(handles, c.newTD(t, dataPID, toggle, t.Buffer[off:end], true))
		toggle = !toggle
	}
	if len(t.Buffer) == 0 && t.Type != usb.Control {
		handles = append(handles, c.newTD(t, dataPID, toggle, nil, true))
	}

	if t.Type == usb.Control {
		statusPID := pidOUT
		if t.Endpoint.Direction == usb.Out {
			statusPID = pidIN
		}
		handles = append(handles, c.newTD(t, statusPID, true, nil, false))
	}

	// Link TDs end-to-end, depth-first (§4.f step 6).
	for i := 0; i < len(handles); i++ {
		v, _ := c.tds.Get(handles[i])
		if i+1 < len(handles) {
			v.Link = linkDepthFirst
			v.next = handles[i+1]
		} else {
			v.Link = linkTerminate
		}
		if i > 0 {
			v.prev = handles[i-1]
		}
		c.tds.Set(handles[i], v)
	}

	qi := &c.qhs[controlQH]
	if t.Type == usb.Bulk {
		qi = &c.qhs[bulkQH]
	} else if t.Type == usb.Interrupt {
		qi = &c.qhs[0]
	}
	if len(handles) > 0 {
		qi.head = handles[0]
		qi.Element = linkQueueHead
	}

	return handles
}

func (c *Controller) newTD(t usb.Transaction, pid int, toggle bool, buf []byte, isData bool) arena.Handle {
	v := td{vbuf: buf, size: len(buf), isData: isData}

	bits.SetN(&v.Token, tokPID, 0xFF, uint32(pid))
	bits.SetN(&v.Token, tokAddress, 0x7F, uint32(t.Address))
	bits.SetN(&v.Token, tokEndpoint, 0x0F, uint32(t.Endpoint.Number))
	bits.SetN(&v.Token, tokMaxLen, 0x7FF, uint32(len(buf)))
	if toggle {
		bits.Set(&v.Token, tokToggle)
	}

	bits.Set(&v.Control, csActive)
	if t.Endpoint.Direction == usb.In || pid == pidSETUP {
		bits.Set(&v.Control, csIOC)
	}
	if t.Address >= 0 && t.Endpoint.MaxPacketLen > 0 && t.Endpoint.MaxPacketLen <= 8 {
		// low-speed devices always use 8-byte max packets in this model
		bits.Set(&v.Control, csLowSpeed)
	}

	return c.tds.Insert(v)
}

func (c *Controller) freeChain(handles []arena.Handle) {
	for _, h := range handles {
		c.tds.Remove(h)
	}
}

// ScheduleInterrupt registers a recurring interrupt-IN transfer: the TD is
// recycled — when it goes inactive the dispatcher copies its buffer,
// invokes callback, flips the toggle and re-arms the TD (§4.f Interrupt
// transfers). The TD is not linked into a queue head, so no queue head's
// element pointer is reset.
func (c *Controller) ScheduleInterrupt(dev *usb.Device, iface *usb.Interface, ep *usb.Endpoint, callback func(data []byte, n int)) error {
	if ep.MaxPacketLen <= 0 {
		return fmt.Errorf("uhci: interrupt endpoint has no max packet length")
	}

	buf := make([]byte, ep.MaxPacketLen)
	h := c.newTD(usb.Transaction{Type: usb.Interrupt, Address: dev.Address, Endpoint: ep}, pidIN, ep.Toggle(), buf, true)

	c.interrupts[ep] = &interruptReg{
		dev: dev, iface: iface, ep: ep, callback: callback,
		tdHandle: h, buffer: buf,
	}

	return nil
}

// CancelInterrupt stops polling ep's interrupt transfer and frees its TD
// (§4.f Hot-plug: "the class driver's hotplug(unregister) callback cancels
// scheduled interrupts").
func (c *Controller) CancelInterrupt(ep *usb.Endpoint) {
	reg, ok := c.interrupts[ep]
	if !ok {
		return
	}
	c.tds.Remove(reg.tdHandle)
	delete(c.interrupts, ep)
}

// PollInterrupts drives every scheduled interrupt transfer once,
// dispatching callbacks for any TD the backend has completed, and re-arms
// it for the next frame. A real kernel calls this from the IOC interrupt
// handler; it is exported so the shared USB thread can drive it
// cooperatively (§4.f Device detection: "polled cooperatively by a shared
// USB thread every iteration").
func (c *Controller) PollInterrupts() {
	for ep, reg := range c.interrupts {
		v, ok := c.tds.Get(reg.tdHandle)
		if !ok {
			continue
		}

		active, status := c.Backend.Poll(v.vbuf, pidIN)
		if active || status != 0 {
			continue
		}

		n := len(v.vbuf)
		data := make([]byte, n)
		copy(data, v.vbuf)

		reg.callback(data, n)

		ep.FlipToggle()
		v2, _ := c.tds.Get(reg.tdHandle)
		bits.SetN(&v2.Token, tokToggle, 1, boolToU32(ep.Toggle()))
		bits.Set(&v2.Control, csActive)
		c.tds.Set(reg.tdHandle, v2)

		_ = ep
	}
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// PortStatusChanged reports whether port's connect-changed bit is set,
// and clears it (§4.f Device detection: "a RWC connect changed bit
// indicates topology change").
func (c *Controller) PortStatusChanged(port int) (changed bool, connected bool) {
	reg := uint16(regPort1)
	if port == 1 {
		reg = regPort2
	}

	v := c.Ports.ReadW(reg)
	changed = v&portConnectChanged != 0
	connected = v&portConnectStatus != 0

	if changed {
		c.Ports.WriteW(reg, v&^uint16(0)|portConnectChanged)
	}

	return changed, connected
}

// ResetPort carries out the port reset sequence (§4.f Device detection:
// "set RESET, wait 50ms, clear RESET, wait 10ms, set ENABLED").
func (c *Controller) ResetPort(port int) {
	reg := uint16(regPort1)
	if port == 1 {
		reg = regPort2
	}

	v := c.Ports.ReadW(reg)
	c.Ports.WriteW(reg, v|portReset)
	time.Sleep(50 * time.Millisecond)

	v = c.Ports.ReadW(reg)
	c.Ports.WriteW(reg, v&^uint16(portReset))
	time.Sleep(10 * time.Millisecond)

	v = c.Ports.ReadW(reg)
	c.Ports.WriteW(reg, v|portEnable)
}

var _ usb.Controller = (*Controller)(nil)
