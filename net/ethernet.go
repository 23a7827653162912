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

// ethernetHeaderLen is the fixed 14-byte Ethernet II header length (§4.g
// Receive pipeline: "ETHERNET reads a 14-byte header {dst-MAC, src-MAC,
// type}").
const ethernetHeaderLen = 14

// EtherType values this stack recognizes.
const (
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
)

// broadcastMAC is the Ethernet broadcast address.
var broadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

type ethernetHeader struct {
	Dst, Src MAC
	Type     uint16
}

func decodeEthernet(buf []byte) (ethernetHeader, error) {
	if len(buf) < ethernetHeaderLen {
		return ethernetHeader{}, fmt.Errorf("net: ethernet header truncated")
	}
	h := ethernetHeader{
		Dst:  append(MAC(nil), buf[0:6]...),
		Src:  append(MAC(nil), buf[6:12]...),
		Type: binary.BigEndian.Uint16(buf[12:14]),
	}
	return h, nil
}

func encodeEthernet(dst, src MAC, etherType uint16) []byte {
	buf := make([]byte, ethernetHeaderLen)
	copy(buf[0:6], dst)
	copy(buf[6:12], src)
	binary.BigEndian.PutUint16(buf[12:14], etherType)
	return buf
}
