package hyperloglockless

import (
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/murmur3"
)

// Hasher64 is the hash family a sketch consumes: a stateless mapping from
// (data, seed) to a 64-bit digest with uniform distribution and good
// leading-zero statistics. The seed parameterizes the family; two sketches
// only produce comparable registers when they share both the family and
// the seed, and Merge assumes the caller keeps them aligned.
type Hasher64 interface {
	Hash(data []byte, seed uint64) uint64
}

// XXHasher is the default hash family, backed by xxHash64. It is the
// fastest 64-bit hash in this package and the one every New* constructor
// installs unless told otherwise.
type XXHasher struct{}

func (XXHasher) Hash(data []byte, seed uint64) uint64 {
	// The seeded digest lives on the stack; xxhash only allocates when a
	// digest escapes.
	var d xxhash.Digest
	d.ResetWithSeed(seed)
	_, _ = d.Write(data)
	return d.Sum64()
}

// Murmur3Hasher is an alternate family backed by MurmurHash3's 128-bit
// variant, taking the first 64 bits of the digest. Useful when registers
// must match a system that already hashes with murmur3.
type Murmur3Hasher struct{}

func (Murmur3Hasher) Hash(data []byte, seed uint64) uint64 {
	return murmur3.SeedSum64(seed, data)
}

// randomSeed draws a default seed for sketches constructed without one.
// This is the package's only process-wide collaborator, read once per
// construction; nothing else touches global state.
func randomSeed() uint64 {
	return rand.Uint64()
}
