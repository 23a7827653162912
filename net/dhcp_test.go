// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"encoding/binary"
	"testing"
	"time"
)

// dhcpServerBackend is a synthetic NIC driver standing in for a DHCP
// server: it answers a DISCOVER with an OFFER and a matching REQUEST with
// an ACK, both framed as Ethernet+IPv4+UDP so they round-trip through
// classify() exactly like a real reply would (§8 scenario 2).
type dhcpServerBackend struct {
	dev       *Device
	offeredIP [4]byte
	subnet    [4]byte
	router    [4]byte
	dns       [4]byte
	broadcast [4]byte
	leaseSecs uint32
	serverMAC MAC
}

func (b *dhcpServerBackend) writeData(buf []byte) error {
	eth, err := decodeEthernet(buf)
	if err != nil {
		return err
	}
	if eth.Type != etherTypeIPv4 {
		return nil
	}
	ip, ipLen, err := decodeIPv4(buf[ethernetHeaderLen:])
	if err != nil {
		return nil
	}
	transOffset := ethernetHeaderLen + ipLen
	_, _, payload, ok := decodeUDP(ip.SrcIP, ip.DstIP, buf[transOffset:ethernetHeaderLen+int(ip.TotalLen)])
	if !ok {
		return nil
	}

	op, xid, _, opts, valid := parseDHCPPacket(payload)
	if !valid || op != dhcpOpBootRequest {
		return nil
	}
	mt := opts[dhcpOptMsgType]
	if len(mt) != 1 {
		return nil
	}

	var replyOpts []dhcpOption
	var msgType byte
	switch mt[0] {
	case dhcpMsgDiscover:
		msgType = dhcpMsgOffer
	case dhcpMsgRequest:
		msgType = dhcpMsgAck
	default:
		return nil
	}

	leaseBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(leaseBytes, b.leaseSecs)
	replyOpts = []dhcpOption{
		{dhcpOptMsgType, []byte{msgType}},
		{dhcpOptSubnet, append([]byte{}, b.subnet[:]...)},
		{dhcpOptRouter, append([]byte{}, b.router[:]...)},
		{dhcpOptDNS, append([]byte{}, b.dns[:]...)},
		{dhcpOptBroadcast, append([]byte{}, b.broadcast[:]...)},
		{dhcpOptLeaseTime, leaseBytes},
	}

	reply := buildDHCPPacket(dhcpOpBootReply, xid, b.offeredIP, b.serverMAC, replyOpts)
	udp := buildUDP(dhcpServerPort, dhcpClientPort, b.router, [4]byte{255, 255, 255, 255}, reply)
	ipPacket := append(buildIPv4(b.router, [4]byte{255, 255, 255, 255}, protoUDP, 1, len(udp)), udp...)
	frame := append(encodeEthernet(b.dev.MAC, b.serverMAC, etherTypeIPv4), ipPacket...)

	b.dev.Enqueue(frame)
	return nil
}

func TestConfigureAcquiresLeaseViaDiscoverOfferRequestAck(t *testing.T) {
	reg := NewRegistry()

	backend := &dhcpServerBackend{
		offeredIP: [4]byte{192, 168, 1, 42},
		subnet:    [4]byte{255, 255, 255, 0},
		router:    [4]byte{192, 168, 1, 1},
		dns:       [4]byte{8, 8, 8, 8},
		broadcast: [4]byte{192, 168, 1, 255},
		leaseSecs: 3600,
		serverMAC: MAC{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
	}
	dev := reg.Register(MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, Ops{
		SetFlags:  func(promiscuous, autocrc, autostrip bool) error { return nil },
		WriteData: backend.writeData,
	})
	backend.dev = dev

	now := time.Unix(1_000_000, 0)
	clock := func() time.Time { return now }
	xid := uint32(0xCAFEBABE)

	err := Configure(dev, "student", "example.com", 2*time.Second, clock, func() uint32 { return xid })
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if dev.HostIP != backend.offeredIP {
		t.Fatalf("HostIP = %v, want %v", dev.HostIP, backend.offeredIP)
	}
	if dev.NetMask != backend.subnet {
		t.Fatalf("NetMask = %v, want %v", dev.NetMask, backend.subnet)
	}
	if dev.GatewayIP != backend.router {
		t.Fatalf("GatewayIP = %v, want %v", dev.GatewayIP, backend.router)
	}
	if dev.DNSIP != backend.dns {
		t.Fatalf("DNSIP = %v, want %v", dev.DNSIP, backend.dns)
	}
	if dev.BroadcastIP != backend.broadcast {
		t.Fatalf("BroadcastIP = %v, want %v", dev.BroadcastIP, backend.broadcast)
	}
	if !dev.AutoConf {
		t.Fatal("expected AutoConf to be set after a successful lease")
	}
	wantExpiry := now.Unix() + int64(backend.leaseSecs)
	if dev.LeaseExpiry != wantExpiry {
		t.Fatalf("LeaseExpiry = %d, want %d", dev.LeaseExpiry, wantExpiry)
	}
}

func TestConfigureTimesOutWithNoServer(t *testing.T) {
	reg := NewRegistry()
	dev := reg.Register(MAC{0x02, 0, 0, 0, 0, 2}, Ops{
		SetFlags:  func(promiscuous, autocrc, autostrip bool) error { return nil },
		WriteData: func([]byte) error { return nil },
	})

	err := Configure(dev, "", "", 10*time.Millisecond, time.Now, func() uint32 { return 1 })
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
