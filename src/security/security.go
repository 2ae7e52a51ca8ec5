// Package security implements the tamper-evident process token and the
// background integrity monitor that periodically audits tokens,
// privilege levels and scheduler invariants.
package security

import (
	"hash/fnv"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
)

// TokenMagic is the well-known constant every valid token's Magic field
// must equal.
const TokenMagic uint64 = 0x53_45_43_55_52_45_00_00 // "SECURE\0\0"

// salt is a fixed per-build constant combined with the owning PID; it
// is not a secret by itself. The checksum guards against accidental
// corruption and unsophisticated tampering, not a co-resident attacker
// holding the binary.
const salt uint64 = 0x9E3779B97F4A7C15

// Token is the security token attached to every process control block.
type Token struct {
	Magic        uint64
	CreatorPid   defs.Pid_t
	Privilege    defs.PrivLevel
	Flags        uint32
	CreationTick uint64
	Checksum     uint64
}

func fnv1a64(parts ...uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range parts {
		for i := 0; i < 8; i++ {
			buf[i] = byte(p >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

// secureHash computes the FNV-like hash over the token's fixed-layout
// prefix (everything but the checksum itself).
func secureHash(t *Token) uint64 {
	return fnv1a64(t.Magic, uint64(t.CreatorPid), uint64(t.Privilege), uint64(t.Flags), t.CreationTick)
}

// calculateSecureChecksum XOR-combines the prefix hash with a
// salted hash of the owning pid.
func calculateSecureChecksum(t *Token, pid defs.Pid_t) uint64 {
	prefix := secureHash(t)
	pidHash := fnv1a64(uint64(pid), salt)
	return prefix ^ pidHash
}

// Issue creates a new, valid token for pid with the given creator,
// privilege and flags at the given tick.
func Issue(pid, creator defs.Pid_t, priv defs.PrivLevel, flags uint32, tick uint64) Token {
	t := Token{
		Magic:        TokenMagic,
		CreatorPid:   creator,
		Privilege:    priv,
		Flags:        flags,
		CreationTick: tick,
	}
	t.Checksum = calculateSecureChecksum(&t, pid)
	return t
}

// Validate reports whether t is a well-formed, uncorrupted token for pid.
// The comparison is constant-time in the sense that both the magic and
// checksum mismatches are folded into a single OR before branching, so a
// caller cannot distinguish "bad magic" from "bad checksum" by timing.
func Validate(t *Token, pid defs.Pid_t) bool {
	wantChecksum := calculateSecureChecksum(t, pid)
	checksumDiff := t.Checksum ^ wantChecksum
	magicDiff := t.Magic ^ TokenMagic
	return (checksumDiff | magicDiff) == 0
}

// HasFlag reports whether all bits of want are set in the token's flags.
func (t *Token) HasFlag(want uint32) bool {
	return t.Flags&want == want
}

// IsCore reports whether the token carries the full CORE flag set
// (IMMUNE | CRITICAL | SUPERVISOR).
func (t *Token) IsCore() bool {
	return t.HasFlag(defs.FLAG_CORE)
}
