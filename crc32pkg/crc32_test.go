// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crc32pkg

import "testing"

func TestChecksumMatchesIEEETestVector(t *testing.T) {
	if got := Checksum([]byte("123456789"), nil); got != 0xCBF43926 {
		t.Fatalf("Checksum(\"123456789\") = %#x, want 0xcbf43926", got)
	}
}

func TestChecksumChainsAcrossBlocksViaLastCrc(t *testing.T) {
	whole := Checksum([]byte("123456789"), nil)

	first := Checksum([]byte("12345"), nil)
	chained := Checksum([]byte("6789"), &first)

	if chained != whole {
		t.Fatalf("chained checksum = %#x, want %#x", chained, whole)
	}
}

func TestChecksumDiffersOnCorruption(t *testing.T) {
	a := Checksum([]byte("123456789"), nil)
	b := Checksum([]byte("123456780"), nil)
	if a == b {
		t.Fatal("expected corrupted input to change the checksum")
	}
}
