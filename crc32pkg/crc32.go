// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package crc32pkg implements the streaming IEEE CRC-32 of §4.h, used to
// checksum filesystem blocks and configuration payloads. It wraps the
// standard library's hash/crc32 rather than hand-rolling a table: the
// polynomial, table generation and carry-in update are exactly what
// hash/crc32 already provides, and no third-party library in the example
// pack implements CRC-32 at all, so there is nothing idiomatic to defer
// to instead.
package crc32pkg

import "hash/crc32"

// Checksum returns the IEEE CRC-32 of buf. If lastCrc is non-nil, its
// value is used as the running checksum to continue rather than
// restart the computation, the way a multi-block file checksum chains
// across blocks.
func Checksum(buf []byte, lastCrc *uint32) uint32 {
	var seed uint32
	if lastCrc != nil {
		seed = *lastCrc
	}
	return crc32.Update(seed, crc32.IEEETable, buf)
}
