// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "gvisor.dev/gvisor/pkg/tcpip/header"

// Layer-4 protocol numbers, as carried in an IPv4 header's protocol field
// (§6 External interfaces: "the IETF standards at the byte level").
const (
	protoICMP = 1
	protoTCP  = 6
	protoUDP  = 17
)

// checksum16 folds buf into a running one's-complement sum seeded with
// initial. The result is still in "accumulator" form; callers invert it
// with ^sum once every contributing segment (pseudo-header, header, data)
// has been folded in, matching the skip-the-checksum-word arithmetic of
// the original IP/UDP/ICMP checksum routines (§4.g Receive pipeline).
func checksum16(buf []byte, initial uint16) uint16 {
	return header.Checksum(buf, initial)
}
