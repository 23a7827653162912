// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package guid implements the RFC 4122 version-4 GUID generator briefly
// named in §4's module table ("GUID generator"). It draws its randomness
// from prng rather than crypto/rand: a kernel-internal identifier
// generator has no need for a cryptographically secure source, and the
// system already specifies one PRNG for this purpose.
package guid

import (
	"fmt"

	"github.com/kvisor/kernel/prng"
)

// GUID is a 16-byte RFC 4122 identifier.
type GUID [16]byte

// Generator produces GUIDs drawing randomness from a prng.Generator.
type Generator struct {
	rng *prng.Generator
}

// New returns a Generator seeded from seed.
func New(seed uint64) *Generator {
	return &Generator{rng: prng.New(seed)}
}

// NewFromPRNG wraps an existing prng.Generator, letting callers share one
// generator across guid and other random-consuming subsystems.
func NewFromPRNG(rng *prng.Generator) *Generator {
	return &Generator{rng: rng}
}

// Next returns a new version-4 GUID.
func (g *Generator) Next() GUID {
	var id GUID
	g.rng.Bytes(id[:])

	id[6] = (id[6] & 0x0F) | 0x40 // version 4
	id[8] = (id[8] & 0x3F) | 0x80 // variant 10xx

	return id
}

// String formats id as the canonical 8-4-4-4-12 hex representation.
func (id GUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}
