package hyperloglockless

import "iter"

// registers is the plain, single-writer register bank: one byte per
// register, mutated through an exclusive handle. The caller is responsible
// for synchronization; AtomicSketch uses atomicRegisters instead.
type registers []uint8

func newRegisters(m int) registers {
	return make(registers, m)
}

// update applies the monotonic max: the register only ever moves upward.
// It reports whether the stored value changed.
func (r registers) update(bucket uint64, rank uint8) bool {
	if rank > r[bucket] {
		r[bucket] = rank
		return true
	}
	return false
}

func (r registers) load(bucket uint64) uint8 {
	return r[bucket]
}

// mergeFrom folds another bank of the same size into this one, registerwise
// max. The precision check happens at the Sketch layer; equal lengths are a
// precondition here.
func (r registers) mergeFrom(other registers) {
	// Process 8 registers at a time. The register count is always a power
	// of two >= 16, so the stride divides evenly. The unrolled byte
	// compares vectorize well and mirror the word layout of the atomic bank.
	a, b := r, other
	_ = a[len(b)-1]

	for i := 0; i < len(b); i += 8 {
		if b[i] > a[i] {
			a[i] = b[i]
		}
		if b[i+1] > a[i+1] {
			a[i+1] = b[i+1]
		}
		if b[i+2] > a[i+2] {
			a[i+2] = b[i+2]
		}
		if b[i+3] > a[i+3] {
			a[i+3] = b[i+3]
		}
		if b[i+4] > a[i+4] {
			a[i+4] = b[i+4]
		}
		if b[i+5] > a[i+5] {
			a[i+5] = b[i+5]
		}
		if b[i+6] > a[i+6] {
			a[i+6] = b[i+6]
		}
		if b[i+7] > a[i+7] {
			a[i+7] = b[i+7]
		}
	}
}

// zeroCount returns the number of registers still at zero, the V input of
// the linear-counting correction.
func (r registers) zeroCount() int {
	zeros := 0
	for _, v := range r {
		if v == 0 {
			zeros++
		}
	}
	return zeros
}

// harmonicSum returns the sum of 2^-register over all registers, the Z
// input of the raw estimator. Contributions come from the precomputed
// weight table; nothing here calls exp2.
func (r registers) harmonicSum() float64 {
	sum := 0.0
	for _, v := range r {
		sum += weights[v]
	}
	return sum
}

func (r registers) clear() {
	clear(r)
}

// all yields the current register values in bucket order.
func (r registers) all() iter.Seq[uint8] {
	return func(yield func(uint8) bool) {
		for _, v := range r {
			if !yield(v) {
				return
			}
		}
	}
}
