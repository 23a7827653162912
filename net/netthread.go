// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "time"

// renewalWindow is how far ahead of lease expiry the network thread
// starts a DHCP renewal (§4.g DHCP client: "checks every tick whether
// lease_expiry - now <= 60 s").
const renewalWindow = 60 * time.Second

// Thread is the background dispatch loop draining every registered
// device's input stream, classifying each frame, matching it against open
// connections, and running the transmit round-robin — grounded on the
// same poll-and-dispatch shape as a NIC driver's receive thread.
type Thread struct {
	Registry *Registry

	Now      func() time.Time
	RandXID  func() uint32
	HostName string
	Domain   string

	stop chan struct{}
	done chan struct{}
}

// NewThread returns a network thread bound to the given registry.
func NewThread(r *Registry, now func() time.Time, randXID func() uint32) *Thread {
	return &Thread{
		Registry: r,
		Now:      now,
		RandXID:  randXID,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drains every device's input stream and output queue once. It is
// exported standalone (rather than only as a goroutine loop) so that
// tests can deterministically drive exactly one pass.
func (t *Thread) Run() {
	for _, dev := range t.Registry.Devices() {
		if !dev.Running() {
			continue
		}

		t.checkLeaseRenewal(dev)
		t.drainInput(dev)
		t.drainOutput(dev)
	}
}

func (t *Thread) checkLeaseRenewal(dev *Device) {
	if !dev.AutoConf || dev.LeaseExpiry == 0 {
		return
	}
	remaining := dev.LeaseExpiry - t.Now().Unix()
	if time.Duration(remaining)*time.Second > renewalWindow {
		return
	}
	_ = Configure(dev, t.HostName, t.Domain, 5*time.Second, t.Now, t.RandXID)
	dev.Start()
}

func (t *Thread) drainInput(dev *Device) {
	for {
		raw, ok := dev.Dequeue()
		if !ok {
			return
		}

		p, err := classify(dev, raw)
		if err != nil {
			continue
		}
		if p.NetProto == NetARP {
			continue
		}

		if p.NetProto == NetIPv4 && p.TransProto == TransICMP && p.ICMPType == icmpEchoRequest {
			t.replyToEcho(dev, p)
		}

		t.deliver(dev, p)
	}
}

func (t *Thread) replyToEcho(dev *Device, p *Packet) {
	filter := Filter{HasNet: true, NetProto: NetIPv4, HasTrans: true, TransProto: TransICMP}
	conn := newConnection(0, dev, filter, HeaderNone)
	conn.RemoteIP = p.SrcIP

	reply := craftEchoReply(p.Data)
	_ = SendData(conn, reply, false)
}

func (t *Thread) deliver(dev *Device, p *Packet) {
	for _, c := range dev.Connections() {
		if !c.Filter.Match(p) {
			continue
		}
		c.Deliver(headerLevelView(p, c.Level))
	}
}

// headerLevelView trims a delivered packet to the amount of header the
// connection's filter requested (§4.g Receive pipeline: "headers included
// at the level the filter requested (RAW / LINK / NET / TRANSPORT /
// none=data-only)"). This stack only retains the post-classification
// payload (UDP data, or the ICMP header plus data), so every level returns
// p.Data unchanged; link, network and transport headers are not
// re-attached at any level.
func headerLevelView(p *Packet, level HeaderLevel) []byte {
	return p.Data
}

func (t *Thread) drainOutput(dev *Device) {
	for {
		buf, ok := dev.DequeueOutput()
		if !ok {
			return
		}
		_ = dev.Send(buf)
	}
}

// Start launches the thread's poll loop at the given tick interval,
// stoppable via Stop.
func (t *Thread) Start(tick time.Duration) {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.Run()
			}
		}
	}()
}

// Stop signals the poll loop to exit and waits for it to finish.
func (t *Thread) Stop() {
	close(t.stop)
	<-t.done
}
