// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "fmt"

// classify turns a raw received frame into a Packet with its link/net/
// trans fields filled in, applying each layer's validation along the way
// (§4.g Receive pipeline). ARP frames are handled as a side effect
// (cache-on-sight insert, reply-if-targeted-at-us) and returned with
// NetProto == NetARP and no payload of further interest.
func classify(dev *Device, raw []byte) (*Packet, error) {
	p := &Packet{Data: raw, Length: len(raw)}

	netOffset := 0
	if dev.Loopback {
		p.LinkProto = LinkLoop
	} else {
		p.LinkProto = LinkEthernet
		eth, err := decodeEthernet(raw)
		if err != nil {
			return nil, err
		}
		netOffset = ethernetHeaderLen

		switch eth.Type {
		case etherTypeARP:
			if err := handleARP(dev, raw[netOffset:]); err != nil {
				return nil, err
			}
			p.NetProto = NetARP
			return p, nil
		case etherTypeIPv4:
			// fall through below
		default:
			return nil, fmt.Errorf("net: unhandled ethertype %#x", eth.Type)
		}
	}

	ip, ipHeaderLen, err := decodeIPv4(raw[netOffset:])
	if err != nil {
		return nil, err
	}

	p.NetProto = NetIPv4
	p.SrcIP = ip.SrcIP
	p.DstIP = ip.DstIP
	p.Length = netOffset + int(ip.TotalLen)

	transOffset := netOffset + ipHeaderLen
	if transOffset > len(raw) || p.Length > len(raw) || p.Length < transOffset {
		return nil, fmt.Errorf("net: ipv4 payload truncated")
	}

	switch ip.Protocol {
	case protoUDP:
		srcPort, dstPort, payload, ok := decodeUDP(ip.SrcIP, ip.DstIP, raw[transOffset:p.Length])
		if !ok {
			return nil, fmt.Errorf("net: udp checksum mismatch")
		}
		p.TransProto = TransUDP
		p.SrcPort = srcPort
		p.DstPort = dstPort
		p.Data = payload

	case protoICMP:
		segment := raw[transOffset:p.Length]
		if !validateICMP(segment) {
			return nil, fmt.Errorf("net: icmp checksum mismatch")
		}
		p.TransProto = TransICMP
		p.ICMPType = segment[0]
		p.Data = segment

	case protoTCP:
		p.TransProto = TransTCP
		p.Data = raw[transOffset:p.Length]

	default:
		p.TransProto = TransNone
		p.Data = raw[transOffset:p.Length]
	}

	return p, nil
}
