// Package hashing provides the node's single 256-bit cryptographic hash
// primitive (HASH_ALG in the wire spec) and the small helpers built on it:
// block and transaction identities are always a Hash, never a raw byte slice.
package hashing

import (
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/sha3"
)

// Size is the width of HASH_ALG in bytes (HASH_SZ = 256 bits).
const Size = 32

// Hash is a fixed-width digest. The zero value represents "no hash" (e.g.
// the previous hash of a genesis block, or an unclaimed recall slot).
type Hash [Size]byte

// Sum hashes the concatenation of parts with SHA3-256.
func Sum(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns the hash as a byte slice (never nil, len == Size).
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// FromBytes copies b into a Hash. b longer than Size is truncated; shorter
// is zero-padded on the right, matching how a bare 0-length "no hash" field
// round-trips through the zero value.
func FromBytes(b []byte) Hash {
	var out Hash
	copy(out[:], b)
	return out
}

// ParseHex decodes a hex-encoded hash.
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != Size {
		return Hash{}, errors.New("hashing: wrong length for hex hash")
	}
	return FromBytes(b), nil
}

// LeadingZeroBits counts the number of leading zero bits in b, used by the
// PoW predicate to compare a hash against a bit-granular difficulty target.
func LeadingZeroBits(b []byte) int {
	count := 0
	for _, byt := range b {
		if byt == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if byt&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}
