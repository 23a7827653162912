// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"encoding/binary"
	"fmt"
	"time"
)

// dhcpFixedLen is the BOOTP fixed portion preceding the variable-length
// options: op, htype, hlen, hops, xid, secs, flags, ciaddr, yiaddr,
// siaddr, giaddr, chaddr[16], sname[64], file[128], cookie.
const dhcpFixedLen = 240

const (
	dhcpOpBootRequest = 1
	dhcpOpBootReply   = 2

	dhcpHardwareEthernet = 1

	// dhcpCookie is the magic cookie marking BOOTP options as DHCP
	// (§6 External interfaces: "DHCP magic-cookie = 0x63825363 htonl").
	dhcpCookie = 0x63825363

	dhcpMsgDiscover = 1
	dhcpMsgOffer    = 2
	dhcpMsgRequest  = 3
	dhcpMsgAck      = 5
	dhcpMsgNak      = 6
	dhcpMsgRelease  = 7

	dhcpOptSubnet     = 1
	dhcpOptRouter     = 3
	dhcpOptDNS        = 6
	dhcpOptHostname   = 12
	dhcpOptDomain     = 15
	dhcpOptBroadcast  = 28
	dhcpOptAddressReq = 50
	dhcpOptLeaseTime  = 51
	dhcpOptMsgType    = 53
	dhcpOptParamReq   = 55
	dhcpOptEnd        = 255
	dhcpOptPad        = 0

	dhcpClientPort = 68
	dhcpServerPort = 67
)

type dhcpOption struct {
	Code byte
	Data []byte
}

// buildDHCPPacket assembles a fixed-size BOOTP header plus the supplied
// options, terminated with the END option.
func buildDHCPPacket(op byte, xid uint32, yourIP [4]byte, clientMAC MAC, opts []dhcpOption) []byte {
	buf := make([]byte, dhcpFixedLen, dhcpFixedLen+32)
	buf[0] = op
	buf[1] = dhcpHardwareEthernet
	buf[2] = 6
	binary.BigEndian.PutUint32(buf[4:8], xid)
	copy(buf[16:20], yourIP[:])
	copy(buf[28:44], clientMAC)
	binary.BigEndian.PutUint32(buf[236:240], dhcpCookie)

	for _, o := range opts {
		buf = append(buf, o.Code, byte(len(o.Data)))
		buf = append(buf, o.Data...)
	}
	buf = append(buf, dhcpOptEnd)
	return buf
}

// parseDHCPPacket decodes the BOOTP fixed fields and walks the option
// list into a map keyed by option code.
func parseDHCPPacket(buf []byte) (op byte, xid uint32, yourIP [4]byte, opts map[byte][]byte, ok bool) {
	if len(buf) < dhcpFixedLen+1 {
		return
	}
	if binary.BigEndian.Uint32(buf[236:240]) != dhcpCookie {
		return
	}

	op = buf[0]
	xid = binary.BigEndian.Uint32(buf[4:8])
	copy(yourIP[:], buf[16:20])

	opts = make(map[byte][]byte)
	for i := dhcpFixedLen; i < len(buf); {
		code := buf[i]
		if code == dhcpOptEnd {
			break
		}
		if code == dhcpOptPad {
			i++
			continue
		}
		if i+1 >= len(buf) {
			break
		}
		length := int(buf[i+1])
		start := i + 2
		if start+length > len(buf) {
			break
		}
		opts[code] = buf[start : start+length]
		i = start + length
	}

	ok = true
	return
}

// ErrTimeout reports that a bounded network wait (DHCP, ARP) expired.
var ErrTimeout = fmt.Errorf("net: timed out")

// waitDHCPReply polls the device's raw input stream (bypassing connection
// dispatch, since the device is stopped for the duration of the DHCP
// exchange) for a BOOTP/DHCP reply addressed to the client port, up to
// perAttempt (§4.g DHCP client: "wait up to ~1.5 s for an OFFER... matching
// xid; retry on timeout").
func waitDHCPReply(dev *Device, now func() time.Time, perAttempt time.Duration) ([]byte, bool) {
	deadline := now().Add(perAttempt)
	for now().Before(deadline) {
		raw, ok := dev.Dequeue()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		p, err := classify(dev, raw)
		if err != nil || p.TransProto != TransUDP {
			continue
		}
		if p.SrcPort != dhcpServerPort || p.DstPort != dhcpClientPort {
			continue
		}
		if len(p.Data) < dhcpFixedLen+1 {
			continue
		}
		return p.Data, true
	}
	return nil, false
}

// sendDHCPFrame wraps a BOOTP/DHCP payload in a UDP+IPv4 (+ Ethernet,
// unless the device is loopback) frame addressed from 0.0.0.0:68 to the
// all-ones broadcast address on port 67, and hands it to the driver.
func sendDHCPFrame(dev *Device, payload []byte) error {
	unspecified := [4]byte{0, 0, 0, 0}
	broadcast := [4]byte{255, 255, 255, 255}

	udp := buildUDP(dhcpClientPort, dhcpServerPort, unspecified, broadcast, payload)
	ip := buildIPv4(unspecified, broadcast, protoUDP, 0, len(udp))
	packet := append(append([]byte{}, ip...), udp...)

	if dev.Loopback {
		return dev.Send(packet)
	}
	frame := append(encodeEthernet(broadcastMAC, dev.MAC, etherTypeIPv4), packet...)
	return dev.Send(frame)
}

// Configure implements dhcpConfigure (§4.g DHCP client): stops the device
// so the network thread doesn't steal replies, then drives the DISCOVER/
// OFFER/REQUEST/ACK exchange (or renews an existing AUTOCONF lease in
// place), populating the device's address fields on success.
func Configure(dev *Device, hostName, domainName string, timeout time.Duration, now func() time.Time, randXID func() uint32) error {
	dev.Stop()

	deadline := now().Add(timeout)

retry:
	for now().Before(deadline) {
		var offer []byte

		if dev.AutoConf && dev.lastLease != nil {
			offer = dev.lastLease
		} else {
			xid := randXID()
			discover := buildDHCPPacket(dhcpOpBootRequest, xid, [4]byte{}, dev.MAC, []dhcpOption{
				{dhcpOptMsgType, []byte{dhcpMsgDiscover}},
				{dhcpOptParamReq, []byte{dhcpOptSubnet, dhcpOptRouter, dhcpOptDNS, dhcpOptHostname, dhcpOptDomain, dhcpOptBroadcast, dhcpOptLeaseTime}},
			})
			if err := sendDHCPFrame(dev, discover); err != nil {
				return err
			}

			for now().Before(deadline) {
				buf, ok := waitDHCPReply(dev, now, 1500*time.Millisecond)
				if !ok {
					break
				}
				op, rxid, _, opts, valid := parseDHCPPacket(buf)
				if !valid || op != dhcpOpBootReply || rxid != xid {
					continue
				}
				if mt := opts[dhcpOptMsgType]; len(mt) == 1 && mt[0] == dhcpMsgOffer {
					offer = buf
					break
				}
			}
		}

		if offer == nil {
			continue
		}

		_, xid, offeredIP, _, _ := parseDHCPPacket(offer)

		reqOpts := []dhcpOption{
			{dhcpOptMsgType, []byte{dhcpMsgRequest}},
			{dhcpOptAddressReq, append([]byte{}, offeredIP[:]...)},
		}
		if hostName != "" {
			reqOpts = append(reqOpts, dhcpOption{dhcpOptHostname, []byte(hostName)})
		}
		if domainName != "" {
			reqOpts = append(reqOpts, dhcpOption{dhcpOptDomain, []byte(domainName)})
		}
		request := buildDHCPPacket(dhcpOpBootRequest, xid, [4]byte{}, dev.MAC, reqOpts)
		if err := sendDHCPFrame(dev, request); err != nil {
			return err
		}

		for now().Before(deadline) {
			buf, ok := waitDHCPReply(dev, now, 1500*time.Millisecond)
			if !ok {
				break
			}
			op, rxid, yourIP, opts, valid := parseDHCPPacket(buf)
			if !valid || op != dhcpOpBootReply || rxid != xid {
				continue
			}
			mt := opts[dhcpOptMsgType]
			if len(mt) != 1 {
				continue
			}
			switch mt[0] {
			case dhcpMsgAck:
				applyDHCPAck(dev, yourIP, opts, now)
				dev.lastLease = buf
				return nil
			case dhcpMsgNak:
				continue retry
			}
		}
	}

	return ErrTimeout
}

// applyDHCPAck walks the ACK's options into the device's address fields
// and marks AUTOCONF (§4.g DHCP client step 5).
func applyDHCPAck(dev *Device, yourIP [4]byte, opts map[byte][]byte, now func() time.Time) {
	dev.HostIP = yourIP

	if v := opts[dhcpOptSubnet]; len(v) == 4 {
		copy(dev.NetMask[:], v)
	}
	if v := opts[dhcpOptRouter]; len(v) >= 4 {
		copy(dev.GatewayIP[:], v[:4])
	}
	if v := opts[dhcpOptDNS]; len(v) >= 4 {
		copy(dev.DNSIP[:], v[:4])
	}
	if v := opts[dhcpOptBroadcast]; len(v) == 4 {
		copy(dev.BroadcastIP[:], v)
	}
	if v := opts[dhcpOptLeaseTime]; len(v) == 4 {
		lease := int64(binary.BigEndian.Uint32(v))
		dev.LeaseExpiry = now().Unix() + lease
	}

	dev.AutoConf = true
}

// Release sends a DHCP RELEASE for the device's current lease and clears
// its assigned addresses (§4.g DHCP client: "Stopping a device sends a
// RELEASE... and clears the assigned addresses").
func Release(dev *Device) error {
	if dev.lastLease == nil {
		return nil
	}

	_, xid, _, _, _ := parseDHCPPacket(dev.lastLease)
	release := buildDHCPPacket(dhcpOpBootRequest, xid, [4]byte{}, dev.MAC, []dhcpOption{
		{dhcpOptMsgType, []byte{dhcpMsgRelease}},
	})
	err := sendDHCPFrame(dev, release)

	dev.AutoConf = false
	dev.lastLease = nil
	dev.HostIP = [4]byte{}
	dev.NetMask = [4]byte{}
	dev.GatewayIP = [4]byte{}
	dev.DNSIP = [4]byte{}
	dev.BroadcastIP = [4]byte{}
	dev.LeaseExpiry = 0

	return err
}
