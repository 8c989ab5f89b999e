// Package hyperloglockless implements HyperLogLog cardinality sketches for
// the count-distinct problem, in two flavors: a single-writer Sketch and a
// lock-free AtomicSketch that accepts unsynchronized inserts from any number
// of goroutines through a shared handle.
//
// The HyperLogLog (HLL) algorithm is a probabilistic data structure used to
// estimate the number of distinct elements in a stream. It achieves this
// using a fixed amount of memory, regardless of the actual cardinality,
// which makes it invaluable for counting unique visitors, distinct IP
// addresses, or unique search queries in massive data streams.
//
// This implementation is based on the following ideas:
//
//   - The use of a 64-bit hash function as proposed in [2], enabling
//     cardinality estimation beyond 10^9 elements at the cost of one extra
//     bit of rank domain per register compared to 32-bit hashes.
//   - A configurable precision p in [4, 18], trading memory (2^p bytes) for
//     accuracy (standard error ~= 1.04 / sqrt(2^p)).
//   - 8-bit registers (one byte per register). The maximum rank always fits
//     in 6 bits, but byte-addressed registers avoid bit packing and
//     unpacking entirely, which keeps inserts and merges branch-light and
//     lets the concurrent variant update registers with plain word-sized
//     compare-and-swap operations.
//   - The estimator from [1] with the linear-counting correction for the
//     small range. On 64-bit hashes the classical 2^32 overflow correction
//     does not apply and is deliberately absent.
//
// [1] P. Flajolet, E. Fusy, O. Gandouet, F. Meunier. HyperLogLog: the
//
//	analysis of a near-optimal cardinality estimation algorithm.
//
// [2] Heule, Nunkesser, Hall: HyperLogLog in Practice: Algorithmic
//
//	Engineering of a State of The Art Cardinality Estimation Algorithm.
//
// The Algorithm
// =============
//
// Every inserted element is hashed to a 64-bit value h. The hash is split:
//
//  1. The top p bits select one of m = 2^p registers.
//  2. The remaining 64-p bits, aligned to the top of a 64-bit word, are
//     scanned for their first 1-bit. The "rank" is the number of leading
//     zeros plus one, clamped to 64-p+1 when no 1-bit exists.
//
// Each register stores the maximum rank ever observed for elements hashing
// to its bucket. Observing a high rank is statistically rare, so the
// register values jointly encode how many distinct elements have passed by.
// The estimate is a bias-corrected harmonic mean of 2^-register across all
// registers; see estimator.go.
//
// Because a register only ever moves upward, and max is commutative and
// associative, any interleaving of the same set of inserts produces the
// same final register array. That property is what makes the concurrent
// variant possible without locks: see atomic.go for the update discipline.
//
// Choosing a Flavor
// =================
//
// Sketch is the plain variant: a bare byte slice of registers mutated
// through an exclusive handle. It is the right choice for single-goroutine
// pipelines and for scratch accumulators during merges.
//
// AtomicSketch stores registers in 64-bit atomic words, eight registers per
// word. All operations, including Insert and Clear, are callable through a
// shared handle. Inserts are lock-free and linearizable per register;
// Count may observe any subset of concurrent inserts (the estimator is a
// symmetric function of independently monotonic registers, so every such
// observation corresponds to a legal linearization).
//
// A SparseSketch is also provided for workloads that keep many mostly-empty
// sketches around: it stores only the non-zero registers as sorted
// (index, rank) pairs and can be promoted to a dense Sketch at any time.
//
// Serialization
// =============
//
// Both dense flavors share one byte format:
//
//	+-----------+---------------+------------------------+
//	| Precision | Seed          | Registers              |
//	+-----------+---------------+------------------------+
//	  1 byte      8 bytes (LE)    2^p bytes, bucket order
//
// A plain sketch and a concurrent sketch with the same logical state
// serialize to identical bytes. The format carries no hash family
// identifier: payloads written under different hash families deserialize
// fine but merge into nonsense, and keeping them apart is the caller's
// responsibility.
package hyperloglockless
