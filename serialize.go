package hyperloglockless

import (
	"encoding/binary"
	"fmt"
)

// payloadHeaderSize covers the 1-byte precision and the 8-byte seed that
// precede the register array.
const payloadHeaderSize = 9

// Serialize encodes the sketch into its stable byte format:
//
//	+-----------+---------------+------------------------+
//	| Precision | Seed          | Registers              |
//	+-----------+---------------+------------------------+
//	  1 byte      8 bytes (LE)    2^p bytes, bucket order
//
// The output is deterministic given the register state and byte-identical
// to an AtomicSketch holding the same logical state.
func (s *Sketch) Serialize() []byte {
	return serializePayload(s.p, s.seed, s.regs)
}

// Serialize encodes the concurrent sketch into the same byte format as the
// plain variant. The register values are read per word, so a sketch
// serialized while writers are active captures some legal interleaving of
// their inserts.
func (s *AtomicSketch) Serialize() []byte {
	return serializePayload(s.p, s.seed, s.regs.snapshot())
}

func serializePayload(p uint8, seed uint64, regs registers) []byte {
	out := make([]byte, payloadHeaderSize+len(regs))
	out[0] = p
	binary.LittleEndian.PutUint64(out[1:payloadHeaderSize], seed)
	copy(out[payloadHeaderSize:], regs)
	return out
}

// parsePayload validates a serialized sketch and returns its fields. The
// returned register slice aliases data; callers copy it into their own
// bank.
func parsePayload(data []byte) (p uint8, seed uint64, regs []byte, err error) {
	//
	// DESIGN
	// ------
	//
	// Validation is strict so that corrupted or truncated bytes from a
	// store or the network fail loudly instead of producing a sketch that
	// silently estimates garbage. Three distinct failures are told apart:
	//
	//   - A payload too short to even hold the header is corrupt.
	//   - A declared precision outside [4, 18] is invalid; nothing else in
	//     the payload can be trusted, including its length.
	//   - A well-formed precision whose register array length disagrees
	//     with 2^p is an incompatibility, the same class of error as
	//     merging two sketches of different precisions.
	//
	// Finally every register must lie in {0} U [1, 64-p+1]. A value above
	// the rank ceiling can never be produced by the fingerprint function,
	// so its presence proves the payload was not written by a sketch of
	// this precision.
	//
	if len(data) < payloadHeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header",
			ErrCorruptPayload, len(data), payloadHeaderSize)
	}

	p = data[0]
	if !validPrecision(p) {
		return 0, 0, nil, fmt.Errorf("%w: payload declares precision %d", ErrInvalidPrecision, p)
	}

	m := 1 << p
	if len(data) != payloadHeaderSize+m {
		return 0, 0, nil, fmt.Errorf("%w: precision %d requires %d payload bytes, got %d",
			ErrIncompatiblePrecision, p, payloadHeaderSize+m, len(data))
	}

	regs = data[payloadHeaderSize:]
	limit := maxRank(p)
	for i, v := range regs {
		if v > limit {
			return 0, 0, nil, fmt.Errorf("%w: register %d holds %d, above the rank ceiling %d",
				ErrCorruptPayload, i, v, limit)
		}
	}

	seed = binary.LittleEndian.Uint64(data[1:payloadHeaderSize])
	return p, seed, regs, nil
}

// Deserialize reconstructs a single-writer sketch from its serialized
// bytes. The payload carries no hash family identifier, so the default
// family is installed with the stored seed; a payload written under a
// different family deserializes fine but must not be merged with sketches
// of this one.
func Deserialize(data []byte) (*Sketch, error) {
	p, seed, regs, err := parsePayload(data)
	if err != nil {
		return nil, err
	}

	s, err := NewWithSeed(p, seed)
	if err != nil {
		return nil, err
	}
	copy(s.regs, regs)
	return s, nil
}

// DeserializeAtomic reconstructs a concurrent sketch from its serialized
// bytes. The format is shared with the plain variant.
func DeserializeAtomic(data []byte) (*AtomicSketch, error) {
	p, seed, regs, err := parsePayload(data)
	if err != nil {
		return nil, err
	}

	s, err := NewAtomicWithSeed(p, seed)
	if err != nil {
		return nil, err
	}
	s.regs.setAll(regs)
	return s, nil
}
