// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"bytes"
	"testing"
	"time"
)

func TestNetworkThreadEchoRoundTrip(t *testing.T) {
	reg := NewRegistry()
	dev := reg.NewLoopback()
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	filter := Filter{HasNet: true, NetProto: NetIPv4, HasTrans: true, TransProto: TransICMP}
	conn, err := reg.Open(42, dev.HostIP, filter, HeaderData, func() uint16 { return 5000 })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := []byte("abcdefghijklmnopqrstuvwxyz012345")
	icmp := buildEchoRequest(0x1234, 1, payload)
	packet := append(buildIPv4(dev.HostIP, dev.HostIP, protoICMP, 7, len(icmp)), icmp...)
	dev.Enqueue(packet)

	thread := NewThread(reg, time.Now, func() uint32 { return 1 })
	// One pass classifies the request and queues the auto-reply; a second
	// pass is needed because the loopback driver only hands the reply back
	// to the device's input stream once it is actually sent.
	thread.Run()
	thread.Run()

	if len(conn.data) == 0 {
		t.Fatal("expected at least one delivered packet")
	}

	last := conn.data[len(conn.data)-1]
	if last[0] != icmpEchoReply {
		t.Fatalf("last delivered ICMP type = %d, want echo reply %d", last[0], icmpEchoReply)
	}
	if !validateICMP(last) {
		t.Fatal("delivered echo reply has an invalid checksum")
	}
	if !bytes.Equal(last[icmpHeaderLen+4:], payload) {
		t.Fatalf("payload = %q, want %q", last[icmpHeaderLen+4:], payload)
	}
}

func TestNetworkThreadDoesNotDeliverARPToDataConnections(t *testing.T) {
	reg := NewRegistry()
	dev := reg.Register(MAC{1, 1, 1, 1, 1, 1}, Ops{WriteData: func([]byte) error { return nil }})
	dev.HostIP = [4]byte{192, 168, 1, 1}
	dev.NetMask = [4]byte{255, 255, 255, 0}
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	filter := Filter{HasNet: true, NetProto: NetIPv4}
	conn, err := reg.Open(1, dev.HostIP, filter, HeaderData, func() uint16 { return 6000 })
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	arp := encodeARP(arpOpRequest, MAC{2, 2, 2, 2, 2, 2}, [4]byte{192, 168, 1, 2}, MAC{0, 0, 0, 0, 0, 0}, dev.HostIP)
	frame := append(encodeEthernet(broadcastMAC, MAC{2, 2, 2, 2, 2, 2}, etherTypeARP), arp...)
	dev.Enqueue(frame)

	thread := NewThread(reg, time.Now, func() uint32 { return 1 })
	thread.Run()

	if len(conn.data) != 0 {
		t.Fatalf("ARP frame should never be delivered to a data connection, got %d deliveries", len(conn.data))
	}
}
