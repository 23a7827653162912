// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"bytes"
	"testing"
)

func TestCraftEchoReplyPreservesIdentifierSequenceAndPayload(t *testing.T) {
	payload := []byte("abcdefghijklmnopqrstuvwxyz012345")
	req := buildEchoRequest(0xBEEF, 1, payload)

	if !validateICMP(req) {
		t.Fatal("self-built echo request failed its own checksum validation")
	}

	reply := craftEchoReply(req)
	if !validateICMP(reply) {
		t.Fatal("crafted echo reply has an invalid checksum")
	}
	if reply[0] != icmpEchoReply {
		t.Fatalf("reply type = %d, want %d", reply[0], icmpEchoReply)
	}
	if !bytes.Equal(reply[4:8], req[4:8]) {
		t.Fatal("reply identifier/sequence must match the request")
	}
	if !bytes.Equal(reply[8:], payload) {
		t.Fatalf("reply payload = %q, want %q", reply[8:], payload)
	}
}

func TestValidateICMPRejectsCorruptedChecksum(t *testing.T) {
	req := buildEchoRequest(1, 1, []byte("ping"))
	req[8] ^= 0xFF // corrupt a payload byte without touching the checksum
	if validateICMP(req) {
		t.Fatal("expected corrupted payload to fail checksum validation")
	}
}
