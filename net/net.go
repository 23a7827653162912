// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package net implements the device registration, packet pool, and
// per-connection filter/delivery core of §4.g. The protocol-specific
// receive/transmit logic lives alongside it in ethernet.go, ipv4.go,
// udp.go, icmp.go, arp.go and dhcp.go; netthread.go wires them together
// into the background dispatch loop.
package net

import (
	"fmt"
	"sync"

	"github.com/kvisor/kernel/internal/arena"
)

// MAC is a 6-byte (or, for a broadcast/placeholder value, shorter) link
// address.
type MAC []byte

// Link protocols (§4.g Receive pipeline: "Classify by link protocol: LOOP
// strips nothing, ETHERNET reads a 14-byte header").
const (
	LinkLoop = iota
	LinkEthernet
)

// Net (layer-3) and transport (layer-4) protocol tags a packet and a
// connection filter are classified by.
const (
	NetNone = iota
	NetIPv4
	NetARP
)

const (
	TransNone = iota
	TransUDP
	TransICMP
	TransTCP // unimplemented: Open rejects TCP filters with ErrNotImplemented
)

// PacketsPerStream is the size of each device's preallocated packet pool
// (§4.g Device registration: "NETWORK_PACKETS_PER_STREAM ~= 256 packets").
const PacketsPerStream = 256

// MRUCacheSize bounds the ARP cache (§8 invariant: "holds at most 64
// entries").
const MRUCacheSize = 64

// Packet is one network packet moving through the stack. Ownership is a
// discriminated tag (§9 DESIGN NOTES Packet ownership): Pooled packets are
// returned to their device's pool on Release, Boxed ones are simply
// dropped.
type Packet struct {
	Data   []byte
	Length int

	LinkProto  int
	NetProto   int
	TransProto int
	ICMPType   uint8

	SrcMAC, DstMAC MAC
	SrcIP, DstIP   [4]byte
	SrcPort, DstPort uint16

	pool   *Device
	handle arena.Handle
	pooled bool
}

// Release returns a pooled packet to its device's free list, or is a
// no-op for a boxed (freshly allocated) packet.
func (p *Packet) Release() {
	if p == nil || !p.pooled {
		return
	}
	p.pool.releasePacket(p.handle)
	p.pooled = false
}

// Filter describes what a connection is interested in receiving (§4.g:
// "A connection matches when every filter bit set in its filter.flags is
// satisfied").
type Filter struct {
	LinkProto  int
	HasLink    bool
	NetProto   int
	HasNet     bool
	TransProto int
	HasTrans   bool
	ICMPType   uint8
	HasICMPType bool
	LocalPort  uint16
	HasLocalPort bool
	RemotePort uint16
	HasRemotePort bool
	SrcIP      [4]byte
	HasSrcIP   bool
}

// HeaderLevel selects how much of a matched packet a connection's input
// stream receives (§4.g: "headers included at the level the filter
// requested").
type HeaderLevel int

const (
	HeaderNone HeaderLevel = iota
	HeaderData
	HeaderTransport
	HeaderNet
	HeaderLink
	HeaderRaw
)

// Match reports whether p satisfies every constraint f sets (§8 invariant:
// "for every packet p delivered to c, match(c.filter, p) == true").
func (f Filter) Match(p *Packet) bool {
	if f.HasLink && f.LinkProto != p.LinkProto {
		return false
	}
	if f.HasNet && f.NetProto != p.NetProto {
		return false
	}
	if f.HasTrans && f.TransProto != p.TransProto {
		return false
	}
	if f.HasICMPType && f.ICMPType != p.ICMPType {
		return false
	}
	if f.HasLocalPort && f.LocalPort != p.DstPort {
		return false
	}
	if f.HasRemotePort && f.RemotePort != p.SrcPort {
		return false
	}
	if f.HasSrcIP && f.SrcIP != p.SrcIP {
		return false
	}
	return true
}

// Connection is an open network connection pinned to an owning process
// (§5 Shared resources: "Each network connection is pinned to its owner
// pid").
type Connection struct {
	OwnerPID int
	Device   *Device
	Filter   Filter
	Level    HeaderLevel

	LocalPort  uint16
	RemotePort uint16
	RemoteIP   [4]byte

	idCounter uint16

	mu   sync.Mutex
	data [][]byte
	wake chan struct{}
}

func newConnection(owner int, dev *Device, f Filter, level HeaderLevel) *Connection {
	return &Connection{OwnerPID: owner, Device: dev, Filter: f, Level: level, wake: make(chan struct{}, 1)}
}

// NextIPID returns the connection's next IPv4 identification value (§4.g
// Transmit pipeline: "filling id from the per-connection 16-bit counter").
func (c *Connection) NextIPID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idCounter++
	return c.idCounter
}

// Deliver appends a fully-formed payload (at the connection's requested
// header level) to the connection's input stream.
func (c *Connection) Deliver(payload []byte) {
	c.mu.Lock()
	c.data = append(c.data, payload)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Read pops the oldest delivered payload, blocking on the connection's
// wake channel until Deliver queues one if none is queued.
func (c *Connection) Read() []byte {
	for {
		c.mu.Lock()
		if len(c.data) > 0 {
			out := c.data[0]
			c.data = c.data[1:]
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		<-c.wake
	}
}

// Device is a registered network interface (§4.g Device registration).
type Device struct {
	Name string
	MAC  MAC

	HostIP      [4]byte
	NetMask     [4]byte
	GatewayIP   [4]byte
	DNSIP       [4]byte
	BroadcastIP [4]byte

	LinkUp      bool
	Loopback    bool
	Promiscuous bool
	AutoConf    bool
	running     bool

	LeaseExpiry int64 // Unix seconds on the DHCP client's clock; 0 if no lease
	lastLease   []byte // last DHCP ACK, kept as a renewal template

	// Ops are the driver hooks a NIC registers with (§4.g: "each NIC
	// driver calls a registrar with a kernelNetworkDevice carrying its
	// ops (interrupt, set-flags, read-data, write-data)").
	Ops Ops

	mu          sync.Mutex
	input       [][]byte
	output      [][]byte
	inputWake   chan struct{}
	connections []*Connection
	arp         *arpCache

	pool     *arena.Arena[[]byte]
	freeList []arena.Handle

	hookMu sync.Mutex
	hooks  []chan []byte
}

// Ops is the driver operation set a NIC registers (§4.g Device
// registration).
type Ops struct {
	SetFlags  func(promiscuous, autocrc, autostrip bool) error
	WriteData func(buf []byte) error
}

// NewDevice allocates a registered device's software state: name, packet
// pool, and ARP cache (§4.g Device registration: "allocate the packet
// pool").
func NewDevice(name string, mac MAC, ops Ops) *Device {
	d := &Device{
		Name:      name,
		MAC:       mac,
		Ops:       ops,
		inputWake: make(chan struct{}, 1),
		arp:       newARPCache(),
		pool:      arena.New[[]byte](),
	}

	for i := 0; i < PacketsPerStream; i++ {
		h := d.pool.Insert(make([]byte, 1514))
		d.freeList = append(d.freeList, h)
	}

	return d
}

// AllocPacket reserves a pooled buffer, or returns a boxed (freshly
// allocated) one if the pool is exhausted — interrupt context cannot
// block, so exhaustion never waits (§ GLOSSARY Packet pool).
func (d *Device) AllocPacket() *Packet {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freeList); n > 0 {
		h := d.freeList[n-1]
		d.freeList = d.freeList[:n-1]
		buf, _ := d.pool.Get(h)
		return &Packet{Data: buf, pool: d, handle: h, pooled: true}
	}

	return &Packet{Data: make([]byte, 1514)}
}

func (d *Device) releasePacket(h arena.Handle) {
	d.mu.Lock()
	d.freeList = append(d.freeList, h)
	d.mu.Unlock()
}

// Enqueue places a received buffer onto the device's input stream
// (§4.g Receive pipeline: driverInterruptHandler "places received packets
// onto the device's input stream").
func (d *Device) Enqueue(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	d.mu.Lock()
	d.input = append(d.input, cp)
	d.mu.Unlock()

	d.emitHook(cp)

	select {
	case d.inputWake <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest buffered input packet, or (nil, false) if the
// stream is empty.
func (d *Device) Dequeue() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.input) == 0 {
		return nil, false
	}
	buf := d.input[0]
	d.input = d.input[1:]
	return buf, true
}

// Wake is signaled by every Enqueue (at most one pending signal is kept),
// for the network thread to block on between polls.
func (d *Device) Wake() <-chan struct{} {
	return d.inputWake
}

// Send hands buf to the driver's WriteData (synchronously) and fans it out
// to any registered packet-sniffer hooks (§4.g: "Emit hook copies on
// receive and send").
func (d *Device) Send(buf []byte) error {
	d.emitHook(buf)

	if d.Ops.WriteData == nil {
		return fmt.Errorf("net: device %s has no WriteData op", d.Name)
	}
	return d.Ops.WriteData(buf)
}

// QueueOutput appends buf to the device's output stream for the network
// thread to send in round-robin (§4.g Transmit pipeline: "otherwise it is
// queued into the device output stream").
func (d *Device) QueueOutput(buf []byte) {
	d.mu.Lock()
	d.output = append(d.output, buf)
	d.mu.Unlock()
}

// DequeueOutput pops the oldest queued outbound buffer.
func (d *Device) DequeueOutput() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.output) == 0 {
		return nil, false
	}
	buf := d.output[0]
	d.output = d.output[1:]
	return buf, true
}

// Hook registers a packet-sniffer channel (§4.g: "any stream registered
// via deviceHook()").
func (d *Device) Hook() <-chan []byte {
	ch := make(chan []byte, 64)
	d.hookMu.Lock()
	d.hooks = append(d.hooks, ch)
	d.hookMu.Unlock()
	return ch
}

func (d *Device) emitHook(buf []byte) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	for _, ch := range d.hooks {
		select {
		case ch <- buf:
		default:
		}
	}
}

// Subnet reports whether ip falls inside the device's configured subnet.
func (d *Device) Subnet(ip [4]byte) bool {
	for i := 0; i < 4; i++ {
		if ip[i]&d.NetMask[i] != d.HostIP[i]&d.NetMask[i] {
			return false
		}
	}
	return true
}

// Start marks the device up, applies its driver flags, and (for a
// loopback device) is immediately ready — matching the convention that a
// fresh device has LINK up and PROMISCUOUS/AUTOCRC/AUTOSTRIP set for
// loopback (§4.g Loopback).
func (d *Device) Start() error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	if d.Ops.SetFlags != nil {
		return d.Ops.SetFlags(d.Promiscuous, true, true)
	}
	return nil
}

// Stop marks the device not-running (§4.g DHCP client: "stop the device so
// that the network thread will not steal replies").
func (d *Device) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Running reports whether the device is accepting normal dispatch (DHCP
// configuration stops it for the duration of the exchange).
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Connections returns a snapshot of the device's open connections.
func (d *Device) Connections() []*Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Connection, len(d.connections))
	copy(out, d.connections)
	return out
}

// ErrNotImplemented mirrors apigw.ErrNotImplemented for the narrow set of
// network operations this package itself rejects (TCP filters), without
// importing apigw and creating a cycle.
var ErrNotImplemented = fmt.Errorf("net: not implemented")

// ErrNoRouteToHost mirrors apigw.ErrNoRouteToHost.
var ErrNoRouteToHost = fmt.Errorf("net: no route to host")

// Registry holds every registered device, in registration order, and
// assigns the "net0", "net1", ... names (§4.g Device registration: "name
// assignment").
type Registry struct {
	mu      sync.Mutex
	devices []*Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns the next "netN" name to a device built from mac and
// ops, and adds it to the registry.
func (r *Registry) Register(mac MAC, ops Ops) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := fmt.Sprintf("net%d", len(r.devices))
	d := NewDevice(name, mac, ops)
	r.devices = append(r.devices, d)
	return d
}

// Devices returns every registered device, in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Open implements the connection-open policy of §4.g: pick a device whose
// subnet contains address, falling back to a running non-loopback device
// with a gateway configured; for non-ICMP filters with no local port,
// allocate a random free port above 1024 that doesn't collide with an
// existing connection on the chosen device (ICMP filters get no port);
// TCP filters are rejected.
func (r *Registry) Open(ownerPID int, address [4]byte, f Filter, level HeaderLevel, randPort func() uint16) (*Connection, error) {
	if f.HasTrans && f.TransProto == TransTCP {
		return nil, ErrNotImplemented
	}

	dev := r.pickDevice(address)
	if dev == nil {
		return nil, ErrNoRouteToHost
	}

	if !f.HasLocalPort && !(f.HasTrans && f.TransProto == TransICMP) {
		port, err := allocPort(dev, randPort)
		if err != nil {
			return nil, err
		}
		f.LocalPort = port
		f.HasLocalPort = true
	}

	c := newConnection(ownerPID, dev, f, level)
	c.LocalPort = f.LocalPort
	c.RemotePort = f.RemotePort
	c.RemoteIP = address

	dev.mu.Lock()
	dev.connections = append(dev.connections, c)
	dev.mu.Unlock()

	return c, nil
}

func (r *Registry) pickDevice(address [4]byte) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.Subnet(address) {
			return d
		}
	}
	for _, d := range r.devices {
		if d.Running() && !d.Loopback && d.GatewayIP != ([4]byte{}) {
			return d
		}
	}
	return nil
}

func allocPort(dev *Device, randPort func() uint16) (uint16, error) {
	for attempt := 0; attempt < 1000; attempt++ {
		p := randPort()
		if p <= 1024 {
			continue
		}

		collide := false
		dev.mu.Lock()
		for _, c := range dev.connections {
			if c.LocalPort == p {
				collide = true
				break
			}
		}
		dev.mu.Unlock()

		if !collide {
			return p, nil
		}
	}
	return 0, fmt.Errorf("net: no free port")
}

// Close removes c from its device's connection list (§5: "closeAll(pid) is
// called on process exit and closes every connection owned by that pid
// impolitely").
func (r *Registry) Close(c *Connection) {
	c.Device.mu.Lock()
	defer c.Device.mu.Unlock()

	for i, existing := range c.Device.connections {
		if existing == c {
			c.Device.connections = append(c.Device.connections[:i], c.Device.connections[i+1:]...)
			return
		}
	}
}

// CloseAll closes every connection owned by pid, across every device
// (§5: "closeAll(pid)... closes every connection owned by that pid
// impolitely").
func (r *Registry) CloseAll(pid int) {
	for _, d := range r.Devices() {
		for _, c := range d.Connections() {
			if c.OwnerPID == pid {
				r.Close(c)
			}
		}
	}
}

type arpEntry struct {
	ip  [4]byte
	mac MAC
}

// arpCache is the per-device MRU ARP cache (§ GLOSSARY ARP cache, §8
// invariant: "holds at most 64 entries, ordered most-recent-first").
type arpCache struct {
	mu      sync.Mutex
	entries []arpEntry
}

func newARPCache() *arpCache {
	return &arpCache{}
}

// Insert adds or promotes ip->mac to the front of the cache (§4.g ARP:
// "always (cache-on-sight) insert sender's MAC at the head of the 64-entry
// MRU ARP cache").
func (c *arpCache) Insert(ip [4]byte, mac MAC) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.ip == ip {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}

	entry := arpEntry{ip: ip, mac: mac}
	c.entries = append([]arpEntry{entry}, c.entries...)

	if len(c.entries) > MRUCacheSize {
		c.entries = c.entries[:MRUCacheSize]
	}
}

// Lookup returns the cached MAC for ip, if present.
func (c *arpCache) Lookup(ip [4]byte) (MAC, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.ip == ip {
			return e.mac, true
		}
	}
	return nil, false
}

// ARPCache exposes the device's ARP cache to the net/arp resolver without
// widening Device's exported surface further.
func (d *Device) ARPCache() interface {
	Insert(ip [4]byte, mac MAC)
	Lookup(ip [4]byte) (MAC, bool)
} {
	return d.arp
}
