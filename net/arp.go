// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"
)

// arpHeaderLen is the fixed Ethernet-over-IPv4 ARP header length: hardware
// and protocol address space, address lengths, opcode, and four addresses
// (6+4+6+4 bytes) (§6 External interfaces: IETF byte layout).
const arpHeaderLen = 28

const (
	arpHardwareEthernet = 1

	arpOpRequest = 1
	arpOpReply   = 2
)

type arpPacket struct {
	Op     uint16
	SrcMAC MAC
	SrcIP  [4]byte
	DstMAC MAC
	DstIP  [4]byte
}

func decodeARP(buf []byte) (arpPacket, error) {
	if len(buf) < arpHeaderLen {
		return arpPacket{}, fmt.Errorf("net: arp packet truncated")
	}
	if buf[4] != 6 || buf[5] != 4 {
		return arpPacket{}, fmt.Errorf("net: arp invalid address length")
	}

	p := arpPacket{
		Op:     binary.BigEndian.Uint16(buf[6:8]),
		SrcMAC: append(MAC(nil), buf[8:14]...),
		DstMAC: append(MAC(nil), buf[18:24]...),
	}
	copy(p.SrcIP[:], buf[14:18])
	copy(p.DstIP[:], buf[24:28])
	return p, nil
}

func encodeARP(op uint16, srcMAC MAC, srcIP [4]byte, dstMAC MAC, dstIP [4]byte) []byte {
	buf := make([]byte, arpHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(buf[2:4], etherTypeIPv4)
	buf[4] = 6
	buf[5] = 4
	binary.BigEndian.PutUint16(buf[6:8], op)
	copy(buf[8:14], srcMAC)
	copy(buf[14:18], srcIP[:])
	copy(buf[18:24], dstMAC)
	copy(buf[24:28], dstIP[:])
	return buf
}

// handleARP decodes an inbound ARP frame, cache-on-sight inserts the
// sender into the device's MRU ARP cache, and replies if the request
// targets us (§4.g Receive pipeline: "ARP: decode; if an IPv4 request
// targets us, reply; always (cache-on-sight) insert sender's MAC").
func handleARP(dev *Device, buf []byte) error {
	p, err := decodeARP(buf)
	if err != nil {
		return err
	}

	dev.arp.Insert(p.SrcIP, p.SrcMAC)

	if p.DstIP != dev.HostIP {
		return nil
	}
	if p.Op != arpOpRequest {
		return nil
	}

	reply := encodeARP(arpOpReply, dev.MAC, dev.HostIP, p.SrcMAC, p.SrcIP)
	frame := append(encodeEthernet(p.SrcMAC, dev.MAC, etherTypeARP), reply...)
	dev.QueueOutput(frame)
	return nil
}

// Resolve implements getAddress (§4.g ARP resolution): the device's own IP
// resolves to its own MAC (so loopback delivery never has to wait), an
// address outside the device's subnet is substituted with the gateway,
// and up to six probes check the cache before broadcasting a request —
// the first probe yields the scheduler once, later ones sleep 500 ms.
func Resolve(dev *Device, ip [4]byte) (MAC, error) {
	if ip == dev.HostIP {
		return dev.MAC, nil
	}

	target := ip
	if !dev.Subnet(ip) {
		target = dev.GatewayIP
	}

	for attempt := 0; attempt < 6; attempt++ {
		if mac, ok := dev.arp.Lookup(target); ok {
			return mac, nil
		}

		req := encodeARP(arpOpRequest, dev.MAC, dev.HostIP, MAC{0, 0, 0, 0, 0, 0}, target)
		frame := append(encodeEthernet(broadcastMAC, dev.MAC, etherTypeARP), req...)
		if err := dev.Send(frame); err != nil {
			return nil, err
		}

		if attempt == 0 {
			runtime.Gosched()
		} else {
			time.Sleep(500 * time.Millisecond)
		}
	}

	return nil, fmt.Errorf("net: no such entry")
}
