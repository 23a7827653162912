// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "encoding/binary"

// icmpHeaderLen covers type, code and checksum; identifier and sequence
// (used by echo request/reply) follow immediately and are treated as part
// of the payload here, matching the original layout where the echo fields
// sit inside the same fixed struct as the header.
const icmpHeaderLen = 4

const (
	icmpEchoReply   = 0
	icmpEchoRequest = 8
)

func icmpChecksum(buf []byte) uint16 {
	return ^checksum16(buf, 0)
}

// validateICMP checks the 16-bit checksum of header+data (§4.g Receive
// pipeline: "validate 16-bit checksum of header+data").
func validateICMP(buf []byte) bool {
	if len(buf) < icmpHeaderLen {
		return false
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	want := binary.BigEndian.Uint16(cp[2:4])
	binary.BigEndian.PutUint16(cp[2:4], 0)
	return icmpChecksum(cp) == want
}

// craftEchoReply builds an echo reply carrying the same identifier,
// sequence number and payload as the given echo request, per §4.g Receive
// pipeline: "Echo-request triggers an immediate crafted echo-reply using
// the same payload."
func craftEchoReply(request []byte) []byte {
	reply := make([]byte, len(request))
	copy(reply, request)
	reply[0] = icmpEchoReply
	reply[1] = 0
	binary.BigEndian.PutUint16(reply[2:4], 0)
	binary.BigEndian.PutUint16(reply[2:4], icmpChecksum(reply))
	return reply
}

// buildEchoRequest constructs a ping packet (§8 scenario 1: "32-byte ping
// with sequence 1").
func buildEchoRequest(id, seq uint16, payload []byte) []byte {
	buf := make([]byte, icmpHeaderLen+4+len(payload))
	buf[0] = icmpEchoRequest
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], seq)
	copy(buf[8:], payload)
	binary.BigEndian.PutUint16(buf[2:4], icmpChecksum(buf))
	return buf
}
