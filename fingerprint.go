package hyperloglockless

import "math/bits"

// Precision bounds accepted by every constructor and by Deserialize.
const (
	MinPrecision = 4
	MaxPrecision = 18
)

func validPrecision(p uint8) bool {
	return p >= MinPrecision && p <= MaxPrecision
}

// maxRank returns the largest rank a register can hold at precision p.
// The bucket index consumes the top p bits of the hash, leaving 64-p bits
// for the rank pattern, so ranks live in [1, 64-p+1].
func maxRank(p uint8) uint8 {
	return 64 - p + 1
}

// fingerprint splits a 64-bit hash into a register index and a rank.
func fingerprint(h uint64, p uint8) (bucket uint64, rank uint8) {
	//
	// DESIGN
	// ------
	//
	// The bucket is the top p bits of the hash and the rank is derived only
	// from the remaining 64-p bits. Using disjoint bit ranges keeps the two
	// outputs uncorrelated: two hashes landing in the same bucket are no
	// more likely to share a rank than two hashes in different buckets.
	//
	// To count the rank we shift the hash left by p, which discards the
	// bucket bits and aligns the rest to the top of the word, then count
	// leading zeros. A hash whose remaining bits are all zero has no 1-bit
	// to find; we clamp that case to 64-p+1, the value "all 64-p bits were
	// zeros". This bounds the register domain to {0} U [1, 64-p+1], which
	// Deserialize relies on when validating payloads.
	//
	bucket = h >> (64 - p)

	w := h << p
	if w == 0 {
		return bucket, maxRank(p)
	}
	return bucket, uint8(bits.LeadingZeros64(w)) + 1
}
