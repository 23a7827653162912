// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usb implements the generic device/hub/transaction plumbing of
// §4.f, shared by any host controller driver (usb/uhci is the only one
// the kernel ships).
package usb

import "fmt"

// Transfer types (§4.f Transfers).
const (
	Control = iota
	Isochronous
	Bulk
	Interrupt
)

// Transfer directions, matching the PID a transaction carries.
const (
	Setup = iota
	In
	Out
)

// DeviceRequest is the 8-byte SETUP packet (§4.f step 3: "an 8-byte
// usbDeviceRequest (requestType, request, value, index, length)").
type DeviceRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Standard request codes (USB 2.0 §9.4).
const (
	ReqGetStatus        = 0
	ReqClearFeature     = 1
	ReqSetFeature       = 3
	ReqSetAddress       = 5
	ReqGetDescriptor    = 6
	ReqSetConfiguration = 9
	ReqSetInterface     = 11
	ReqSetProtocol      = 0x0B // HID class request
	ReqSetReport        = 0x09
	ReqGetReport        = 0x01
)

// Endpoint describes one endpoint of an attached device.
type Endpoint struct {
	Number       int
	Direction    int
	Type         int
	MaxPacketLen int
	Interval     int // polling interval in frames, for interrupt endpoints

	toggle bool
}

// Toggle returns the endpoint's current data-toggle bit.
func (e *Endpoint) Toggle() bool {
	return e.toggle
}

// FlipToggle flips the endpoint's data-toggle bit, called once per
// successfully completed data TD (§4.f step 4).
func (e *Endpoint) FlipToggle() {
	e.toggle = !e.toggle
}

// ResetToggle clears the data-toggle bit, as happens on SET_CONFIGURATION
// or SET_INTERFACE.
func (e *Endpoint) ResetToggle() {
	e.toggle = false
}

// Interface is one interface of an attached device's active configuration.
type Interface struct {
	Number    int
	Class     uint8
	SubClass  uint8
	Protocol  uint8
	Endpoints []*Endpoint

	// Data is the class driver's private per-interface handle, set by
	// whichever detector in the hotplug chain claims the interface
	// (§4.f Hot-plug).
	Data interface{}

	claimedBy ClassDriver
}

// Device is an attached USB device.
type Device struct {
	Address    int
	LowSpeed   bool
	Interfaces []*Interface
}

// Endpoint0 is the always-present default control endpoint.
func (d *Device) Endpoint0(maxPacketLen int) *Endpoint {
	return &Endpoint{Number: 0, Direction: Out, Type: Control, MaxPacketLen: maxPacketLen}
}

// Transaction describes one USB transfer to be carried out by a host
// controller driver (§4.f Transfers: "usbTransaction { type, address,
// endpoint, pid, buffer, length, timeout, ... }").
type Transaction struct {
	Type     int
	Address  int
	Endpoint *Endpoint
	Request  *DeviceRequest // non-nil only for Type == Control
	Buffer   []byte
	TimeoutMS int
}

// DefaultTimeoutMS is the default transfer timeout (§4.f step 7).
const DefaultTimeoutMS = 2000

// ErrTimeout and ErrStall are the transaction failure modes a host
// controller driver reports.
var (
	ErrTimeout = fmt.Errorf("usb: transfer timed out")
	ErrStall   = fmt.Errorf("usb: transfer stalled")
)

// ClassDriver is implemented by a hotplug detector (boot-protocol keyboard,
// mouse, mass-storage, hub, ...); Probe claims an interface by returning a
// non-nil handle it stores in Interface.Data, or nil if it does not
// recognize the device (§4.f Hot-plug).
type ClassDriver interface {
	Probe(ctrl Controller, dev *Device, iface *Interface) (handle interface{}, claimed bool)

	// Unregister cancels any scheduled interrupts and frees handle's
	// resources, called when the device disconnects.
	Unregister(handle interface{})
}

// Controller is the capability set a class driver needs from a host
// controller implementation, kept narrow so usb/hid does not import
// usb/uhci directly.
type Controller interface {
	Submit(t Transaction) (actual int, err error)
	ScheduleInterrupt(dev *Device, iface *Interface, ep *Endpoint, callback func(data []byte, n int)) error
	CancelInterrupt(ep *Endpoint)
}

// HotplugChain runs dev's interfaces through a list of class drivers in
// order, stopping at the first one that claims each interface.
type HotplugChain struct {
	Drivers []ClassDriver
}

// Connect runs the chain over every interface of dev.
func (c *HotplugChain) Connect(ctrl Controller, dev *Device) {
	for _, iface := range dev.Interfaces {
		for _, drv := range c.Drivers {
			if handle, ok := drv.Probe(ctrl, dev, iface); ok {
				iface.Data = handle
				iface.claimedBy = drv
				break
			}
		}
	}
}

// Disconnect unregisters every claimed interface's class driver.
func (c *HotplugChain) Disconnect(dev *Device) {
	for _, iface := range dev.Interfaces {
		if iface.claimedBy == nil {
			continue
		}
		iface.claimedBy.Unregister(iface.Data)
		iface.Data = nil
		iface.claimedBy = nil
	}
}
