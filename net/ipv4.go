// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"encoding/binary"
	"fmt"
)

// ipv4HeaderLen is the fixed header length this stack produces and
// expects; it never emits options (§4.g Transmit pipeline: "options of
// none").
const ipv4HeaderLen = 20

type ipv4Header struct {
	VersionIHL byte
	TOS        byte
	TotalLen   uint16
	ID         uint16
	FlagsFrag  uint16
	TTL        byte
	Protocol   byte
	Checksum   uint16
	SrcIP      [4]byte
	DstIP      [4]byte
}

// decodeIPv4 parses the header at the front of buf and validates it per
// §4.g Receive pipeline: "header-length field × 4 must be ≥ 20 and within
// the packet; one's-complement checksum of header 16-bit words (skip the
// checksum field) must match". It returns the header and its length in
// bytes (header-length field × 4, which may exceed 20 once options are in
// play even though this stack never emits them).
func decodeIPv4(buf []byte) (ipv4Header, int, error) {
	if len(buf) < ipv4HeaderLen {
		return ipv4Header{}, 0, fmt.Errorf("net: ipv4 header truncated")
	}

	headerLen := int(buf[0]&0x0F) * 4
	if headerLen < ipv4HeaderLen || headerLen > len(buf) {
		return ipv4Header{}, 0, fmt.Errorf("net: ipv4 header invalid length")
	}

	cp := make([]byte, headerLen)
	copy(cp, buf[:headerLen])
	wantChecksum := binary.BigEndian.Uint16(cp[10:12])
	binary.BigEndian.PutUint16(cp[10:12], 0)
	if got := ^checksum16(cp, 0); got != wantChecksum {
		return ipv4Header{}, 0, fmt.Errorf("net: ipv4 header checksum mismatch")
	}

	h := ipv4Header{
		VersionIHL: buf[0],
		TOS:        buf[1],
		TotalLen:   binary.BigEndian.Uint16(buf[2:4]),
		ID:         binary.BigEndian.Uint16(buf[4:6]),
		FlagsFrag:  binary.BigEndian.Uint16(buf[6:8]),
		TTL:        buf[8],
		Protocol:   buf[9],
		Checksum:   wantChecksum,
	}
	copy(h.SrcIP[:], buf[12:16])
	copy(h.DstIP[:], buf[16:20])

	return h, headerLen, nil
}

// buildIPv4 constructs a fixed 20-byte header with TTL=64, the supplied id
// (filled from the per-connection 16-bit counter) and a checksum computed
// last over the finished header (§4.g Transmit pipeline).
func buildIPv4(src, dst [4]byte, protocol byte, id uint16, payloadLen int) []byte {
	buf := make([]byte, ipv4HeaderLen)
	buf[0] = 0x45 // version 4, header length 5 dwords
	buf[1] = 0    // type of service
	binary.BigEndian.PutUint16(buf[2:4], uint16(ipv4HeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], 0) // no fragmentation
	buf[8] = 64
	buf[9] = protocol
	binary.BigEndian.PutUint16(buf[10:12], 0)
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])

	binary.BigEndian.PutUint16(buf[10:12], ^checksum16(buf, 0))
	return buf
}
