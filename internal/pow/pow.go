// Package pow implements the mining predicate shared by the Miner and by
// block validation (§4.5, §4.6 item 5). The search loop that drives it is
// out of scope for this core (§1); this package only fixes the predicate's
// input/output contract so both sides of the wire agree on it.
package pow

import "github.com/weavenet/weave-node/internal/hashing"

// ComputeHash combines a previous block hash, a mining data segment, and a
// candidate nonce into the PoW hash.
func ComputeHash(prevHash, dataSegment, nonce []byte) hashing.Hash {
	return hashing.Sum(prevHash, dataSegment, nonce)
}

// Predicate reports whether hash satisfies a difficulty target expressed as
// a minimum number of leading zero bits.
func Predicate(hash hashing.Hash, diff uint64) bool {
	return uint64(hashing.LeadingZeroBits(hash[:])) >= diff
}

// Verify recomputes the PoW hash for (prevHash, dataSegment, nonce) and
// checks it against diff, returning the recomputed hash either way so
// callers can store it without hashing twice.
func Verify(prevHash, dataSegment, nonce []byte, diff uint64) (hashing.Hash, bool) {
	h := ComputeHash(prevHash, dataSegment, nonce)
	return h, Predicate(h, diff)
}
