// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "encoding/binary"

// udpHeaderLen is the fixed UDP header length: source port, dest port,
// length, checksum.
const udpHeaderLen = 8

// udpChecksum computes the pseudo-header checksum (§4.g Receive pipeline:
// "validate pseudo-header checksum over (src IP, dst IP, 0, protocol,
// udpLength, the UDP header+data)"). segment must have its checksum field
// zeroed; the returned value is the on-wire checksum.
func udpChecksum(src, dst [4]byte, segment []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[9] = protoUDP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))

	sum := checksum16(pseudo, 0)
	sum = checksum16(segment, sum)
	return ^sum
}

// buildUDP constructs a UDP header+payload segment with a finalized
// checksum.
func buildUDP(srcPort, dstPort uint16, src, dst [4]byte, payload []byte) []byte {
	segment := make([]byte, udpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(segment[0:2], srcPort)
	binary.BigEndian.PutUint16(segment[2:4], dstPort)
	binary.BigEndian.PutUint16(segment[4:6], uint16(len(segment)))
	copy(segment[udpHeaderLen:], payload)

	binary.BigEndian.PutUint16(segment[6:8], udpChecksum(src, dst, segment))
	return segment
}

// decodeUDP validates the checksum and returns the header fields and
// payload slice.
func decodeUDP(src, dst [4]byte, segment []byte) (srcPort, dstPort uint16, payload []byte, ok bool) {
	if len(segment) < udpHeaderLen {
		return 0, 0, nil, false
	}

	cp := make([]byte, len(segment))
	copy(cp, segment)
	want := binary.BigEndian.Uint16(cp[6:8])
	binary.BigEndian.PutUint16(cp[6:8], 0)
	if udpChecksum(src, dst, cp) != want {
		return 0, 0, nil, false
	}

	srcPort = binary.BigEndian.Uint16(segment[0:2])
	dstPort = binary.BigEndian.Uint16(segment[2:4])
	return srcPort, dstPort, segment[udpHeaderLen:], true
}
