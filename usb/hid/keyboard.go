// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hid implements the boot-protocol USB keyboard class driver of
// §4.f: report diffing, key repeat, modifier tracking and LED sync.
package hid

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kvisor/kernel/usb"
)

// Modifier bit positions in byte 0 of a boot-protocol keyboard report
// (USB HID 1.11 Appendix B.1).
const (
	ModLeftCtrl = 1 << iota
	ModLeftShift
	ModLeftAlt
	ModLeftGUI
	ModRightCtrl
	ModRightShift
	ModRightAlt
	ModRightGUI
)

// Report is the 8-byte boot-protocol keyboard report (§4.f: "1 modifier, 1
// reserved, 6 keycodes").
type Report struct {
	Modifier byte
	Reserved byte
	Keys     [6]byte
}

func decodeReport(data []byte) Report {
	var r Report
	if len(data) > 0 {
		r.Modifier = data[0]
	}
	if len(data) > 1 {
		r.Reserved = data[1]
	}
	for i := 0; i < 6 && i+2 < len(data); i++ {
		r.Keys[i] = data[i+2]
	}
	return r
}

// EventKind distinguishes a key-down from a key-up event.
type EventKind int

const (
	KeyDown EventKind = iota
	KeyUp
)

// Event is one decoded key transition, handed to the Keyboard's Handler.
type Event struct {
	Kind     EventKind
	Scancode int
}

// Repeat timing (§4.f: "re-emitted every 32ms after an initial 500ms
// delay").
const (
	RepeatDelay    = 500 * time.Millisecond
	RepeatInterval = 32 * time.Millisecond
)

// scancodeTable maps USB HID usage IDs to the PS/2-compatible scancode set
// the kernel's keyboard input layer expects (§4.f: "a mapping table
// converts USB HID usage IDs to a scancode set identical to that used by
// PS/2 drivers"). Only the printable/alpha range plus a representative
// sample of control keys is populated; usage IDs outside the table map to
// 0 and are ignored.
var scancodeTable = map[byte]int{
	0x04: 0x1E, // a
	0x05: 0x30, // b
	0x06: 0x2E, // c
	0x07: 0x20, // d
	0x08: 0x12, // e
	0x09: 0x21, // f
	0x0A: 0x22, // g
	0x0B: 0x23, // h
	0x0C: 0x17, // i
	0x0D: 0x24, // j
	0x0E: 0x25, // k
	0x0F: 0x26, // l
	0x10: 0x32, // m
	0x11: 0x31, // n
	0x12: 0x18, // o
	0x13: 0x19, // p
	0x14: 0x10, // q
	0x15: 0x13, // r
	0x16: 0x1F, // s
	0x17: 0x14, // t
	0x18: 0x16, // u
	0x19: 0x2F, // v
	0x1A: 0x11, // w
	0x1B: 0x2D, // x
	0x1C: 0x15, // y
	0x1D: 0x2C, // z
	0x1E: 0x02, // 1
	0x1F: 0x03, // 2
	0x20: 0x04, // 3
	0x21: 0x05, // 4
	0x22: 0x06, // 5
	0x23: 0x07, // 6
	0x24: 0x08, // 7
	0x25: 0x09, // 8
	0x26: 0x0A, // 9
	0x27: 0x0B, // 0
	0x28: 0x1C, // enter
	0x29: 0x01, // escape
	0x2A: 0x0E, // backspace
	0x2B: 0x0F, // tab
	0x2C: 0x39, // space
	0x3A: 0x3B, // F1
	0x3B: 0x3C, // F2
	0x3C: 0x3D, // F3
	0x3D: 0x3E, // F4
	0x3E: 0x3F, // F5
	0x3F: 0x40, // F6
	0x40: 0x41, // F7
	0x41: 0x42, // F8
	0x42: 0x43, // F9
	0x43: 0x44, // F10
	0x44: 0x57, // F11
	0x45: 0x58, // F12
	0x4F: 0x4D, // right arrow
	0x50: 0x4B, // left arrow
	0x51: 0x50, // down arrow
	0x52: 0x48, // up arrow
}

// modifierScancodes maps a single modifier bit to its scancode (left and
// right variants distinct, per §4.f).
var modifierScancodes = map[byte]int{
	ModLeftCtrl:   0x1D,
	ModLeftShift:  0x2A,
	ModLeftAlt:    0x38,
	ModLeftGUI:    0x5B,
	ModRightCtrl:  0xE01D,
	ModRightShift: 0x36,
	ModRightAlt:   0xE038,
	ModRightGUI:   0xE05C,
}

// LEDs mirrors the keyboard's logical lock-key state (§4.f: "synchronises
// keyboard LEDs (ScrollLock / CapsLock / NumLock)").
type LEDs struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
}

// Byte packs LEDs into the single-byte SET_REPORT output report HID boot
// keyboards expect (USB HID 1.11 Appendix B.1).
func (l LEDs) Byte() byte {
	var b byte
	if l.NumLock {
		b |= 1 << 0
	}
	if l.CapsLock {
		b |= 1 << 1
	}
	if l.ScrollLock {
		b |= 1 << 2
	}
	return b
}

// SetReport issues the vendor-neutral SET_REPORT control transfer a boot
// keyboard needs for LED sync or protocol selection.
type SetReport func(report []byte) error

// Keyboard is the per-device boot-protocol keyboard handle stored in
// Interface.Data by Driver.Probe.
type Keyboard struct {
	Handler func(Event)

	ctrl     usb.Controller
	dev      *usb.Device
	iface    *usb.Interface
	ep       *usb.Endpoint
	setReport SetReport

	mu       sync.Mutex
	last     Report
	limiter  *rate.Limiter
	repeatKey int
	repeating bool
	stopRepeat chan struct{}

	leds LEDs

	now func() time.Time
}

// Driver is the usb.ClassDriver implementation that claims boot-protocol
// keyboard interfaces (HID class 0x03, boot subclass 0x01, keyboard
// protocol 0x01).
type Driver struct {
	// Handler receives every decoded key event from every claimed
	// keyboard; callers that need per-device routing can close over the
	// *Keyboard in their own Probe wrapper instead.
	Handler func(*Keyboard, Event)
}

const (
	classHID          = 0x03
	subClassBoot      = 0x01
	protocolKeyboard  = 0x01
)

var _ usb.ClassDriver = (*Driver)(nil)

// Probe claims iface if it is a boot-protocol keyboard, issuing
// SET_PROTOCOL(boot) and scheduling the interrupt-IN report transfer
// (§4.f Boot-protocol keyboard class driver).
func (d *Driver) Probe(ctrl usb.Controller, dev *usb.Device, iface *usb.Interface) (interface{}, bool) {
	if iface.Class != classHID || iface.SubClass != subClassBoot || iface.Protocol != protocolKeyboard {
		return nil, false
	}

	var ep *usb.Endpoint
	for _, e := range iface.Endpoints {
		if e.Direction == usb.In && e.Type == usb.Interrupt {
			ep = e
			break
		}
	}
	if ep == nil {
		return nil, false
	}

	kbd := &Keyboard{
		ctrl: ctrl, dev: dev, iface: iface, ep: ep,
		limiter: rate.NewLimiter(rate.Every(RepeatInterval), 1),
		now:     time.Now,
		stopRepeat: make(chan struct{}),
	}

	if d.Handler != nil {
		kbd.Handler = func(e Event) { d.Handler(kbd, e) }
	}

	ctrl.Submit(usb.Transaction{
		Type:     usb.Control,
		Address:  dev.Address,
		Endpoint: dev.Endpoint0(8),
		Request: &usb.DeviceRequest{
			RequestType: 0x21, // host-to-device, class, interface
			Request:     usb.ReqSetProtocol,
			Value:       0, // 0 = boot protocol
			Index:       uint16(iface.Number),
		},
	})

	ctrl.ScheduleInterrupt(dev, iface, ep, kbd.onReport)

	return kbd, true
}

// Unregister cancels the keyboard's scheduled interrupt and repeat timer
// (§4.f Hot-plug).
func (d *Driver) Unregister(handle interface{}) {
	kbd, ok := handle.(*Keyboard)
	if !ok {
		return
	}
	kbd.stopRepeating()
	kbd.ctrl.CancelInterrupt(kbd.ep)
}

// onReport diffs a newly delivered report against the last one, emitting
// key-down/key-up events for both modifier changes and keycode changes
// (§4.f: "modifier-bit changes emit key-down/key-up...; keycodes present
// in the new report but not the old are down events; vice versa for up").
func (k *Keyboard) onReport(data []byte, n int) {
	r := decodeReport(data)

	k.mu.Lock()
	prev := k.last
	k.last = r
	k.mu.Unlock()

	for bit, code := range modifierScancodes {
		wasDown := prev.Modifier&bit != 0
		isDown := r.Modifier&bit != 0
		if isDown && !wasDown {
			k.emit(Event{Kind: KeyDown, Scancode: code})
		} else if wasDown && !isDown {
			k.emit(Event{Kind: KeyUp, Scancode: code})
		}
	}

	prevSet := keySet(prev.Keys)
	newSet := keySet(r.Keys)

	var mostRecentDown byte
	for usage := range newSet {
		if _, already := prevSet[usage]; !already {
			k.emit(Event{Kind: KeyDown, Scancode: scancodeTable[usage]})
			mostRecentDown = usage
		}
	}
	for usage := range prevSet {
		if _, still := newSet[usage]; !still {
			k.emit(Event{Kind: KeyUp, Scancode: scancodeTable[usage]})
		}
	}

	if mostRecentDown != 0 {
		k.startRepeating(scancodeTable[mostRecentDown])
	} else if len(newSet) == 0 {
		k.stopRepeating()
	}
}

func keySet(keys [6]byte) map[byte]struct{} {
	s := make(map[byte]struct{}, 6)
	for _, b := range keys {
		if b != 0 {
			s[b] = struct{}{}
		}
	}
	return s
}

func (k *Keyboard) emit(e Event) {
	if k.Handler != nil {
		k.Handler(e)
	}
}

// startRepeating (re)starts the repeat timer for scancode, emitting a
// key-down every RepeatInterval after an initial RepeatDelay (§4.f: "the
// most-recent down key is re-emitted every 32ms after an initial 500ms
// delay").
func (k *Keyboard) startRepeating(scancode int) {
	k.mu.Lock()
	if k.repeating {
		k.mu.Unlock()
		k.stopRepeating()
		k.mu.Lock()
	}
	k.repeatKey = scancode
	k.repeating = true
	stop := make(chan struct{})
	k.stopRepeat = stop
	k.mu.Unlock()

	go func() {
		timer := time.NewTimer(RepeatDelay)
		defer timer.Stop()

		select {
		case <-stop:
			return
		case <-timer.C:
		}

		for {
			delay := k.limiter.Reserve().Delay()

			select {
			case <-stop:
				return
			case <-time.After(delay):
			}

			k.mu.Lock()
			code := k.repeatKey
			k.mu.Unlock()

			k.emit(Event{Kind: KeyDown, Scancode: code})
		}
	}()
}

func (k *Keyboard) stopRepeating() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.repeating {
		return
	}
	k.repeating = false
	close(k.stopRepeat)
}

// SyncLEDs sends the keyboard's current logical lock-key state via
// SET_REPORT (§4.f: "a background call synchronises keyboard LEDs...to the
// logical keyboard state by sending SET_REPORT").
func (k *Keyboard) SyncLEDs(leds LEDs) error {
	k.mu.Lock()
	k.leds = leds
	k.mu.Unlock()

	_, err := k.ctrl.Submit(usb.Transaction{
		Type:     usb.Control,
		Address:  k.dev.Address,
		Endpoint: k.dev.Endpoint0(8),
		Request: &usb.DeviceRequest{
			RequestType: 0x21,
			Request:     usb.ReqSetReport,
			Value:       0x0200, // output report, ID 0
			Index:       uint16(k.iface.Number),
			Length:      1,
		},
		Buffer: []byte{leds.Byte()},
	})
	return err
}
