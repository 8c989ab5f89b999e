package hyperloglockless

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"testing"
)

// u64Bytes is the little-endian encoding used for integer test elements.
func u64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

// intSeq yields the little-endian encodings of [lo, hi).
func intSeq(lo, hi uint64) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for v := lo; v < hi; v++ {
			if !yield(u64Bytes(v)) {
				return
			}
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("valid precisions construct", func(t *testing.T) {
		for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
			s, err := New(p)
			if err != nil {
				t.Fatalf("New(%d): %v", p, err)
			}
			if s.Precision() != p {
				t.Errorf("Precision(): expected %d, got %d", p, s.Precision())
			}
			if s.Len() != 1<<p {
				t.Errorf("Len(): expected %d, got %d", 1<<p, s.Len())
			}
		}
	})

	t.Run("invalid precisions fail", func(t *testing.T) {
		for _, p := range []uint8{0, 1, 3, 19, 64, 255} {
			if _, err := New(p); !errors.Is(err, ErrInvalidPrecision) {
				t.Errorf("New(%d): expected ErrInvalidPrecision, got %v", p, err)
			}
			if _, err := NewWithSeed(p, 42); !errors.Is(err, ErrInvalidPrecision) {
				t.Errorf("NewWithSeed(%d): expected ErrInvalidPrecision, got %v", p, err)
			}
			if _, err := NewWithHasher(p, 42, Murmur3Hasher{}); !errors.Is(err, ErrInvalidPrecision) {
				t.Errorf("NewWithHasher(%d): expected ErrInvalidPrecision, got %v", p, err)
			}
		}
	})

	t.Run("default seeds differ between sketches", func(t *testing.T) {
		a, _ := New(10)
		b, _ := New(10)
		if a.Seed() == b.Seed() {
			t.Error("two default-constructed sketches drew the same seed")
		}
	})
}

func TestSketchInsert(t *testing.T) {
	t.Run("registers stay in domain", func(t *testing.T) {
		for _, p := range []uint8{MinPrecision, 10, MaxPrecision} {
			s, _ := NewWithSeed(p, 1)
			for i := uint64(0); i < 5000; i++ {
				s.Insert(u64Bytes(i))
			}

			limit := maxRank(p)
			i := 0
			for v := range s.Registers() {
				if v > limit {
					t.Errorf("p=%d register %d: value %d above ceiling %d", p, i, v, limit)
				}
				i++
			}
			if i != 1<<p {
				t.Errorf("p=%d: iterated %d registers, expected %d", p, i, 1<<p)
			}
		}
	})

	t.Run("registers are monotonic across a stream", func(t *testing.T) {
		s, _ := NewWithSeed(10, 7)
		prev := make([]uint8, s.Len())

		for i := uint64(0); i < 2000; i++ {
			s.Insert(u64Bytes(i))
			if i%500 != 0 {
				continue
			}
			j := 0
			for v := range s.Registers() {
				if v < prev[j] {
					t.Fatalf("register %d decreased from %d to %d", j, prev[j], v)
				}
				prev[j] = v
				j++
			}
		}
	})

	t.Run("duplicate inserts report no change", func(t *testing.T) {
		s, _ := NewWithSeed(12, 3)
		s.Insert([]byte("pelican"))
		if s.Insert([]byte("pelican")) {
			t.Error("second insert of the same element changed a register")
		}
	})

	t.Run("InsertString matches Insert", func(t *testing.T) {
		a, _ := NewWithSeed(10, 9)
		b, _ := NewWithSeed(10, 9)
		a.Insert([]byte("heron"))
		b.InsertString("heron")
		if a.Count() != b.Count() {
			t.Error("InsertString diverged from Insert")
		}
	})

	t.Run("InsertAll consumes a sequence once", func(t *testing.T) {
		a, _ := NewWithSeed(12, 5)
		b, _ := NewWithSeed(12, 5)

		a.InsertAll(intSeq(0, 1000))
		for i := uint64(0); i < 1000; i++ {
			b.Insert(u64Bytes(i))
		}

		if a.Count() != b.Count() {
			t.Errorf("InsertAll count %d differs from per-element count %d", a.Count(), b.Count())
		}
	})
}

func TestSketchCount(t *testing.T) {
	t.Run("empty sketch counts zero", func(t *testing.T) {
		for _, p := range []uint8{MinPrecision, 14, MaxPrecision} {
			s, _ := New(p)
			if got := s.Count(); got != 0 {
				t.Errorf("p=%d: expected 0, got %d", p, got)
			}
		}
	})

	t.Run("count after clear is zero", func(t *testing.T) {
		s, _ := NewWithSeed(12, 11)
		s.InsertAll(intSeq(0, 10000))
		if s.Count() == 0 {
			t.Fatal("sketch should be non-empty before clear")
		}

		s.Clear()
		if got := s.Count(); got != 0 {
			t.Errorf("expected 0 after clear, got %d", got)
		}
		if s.Len() != 1<<12 {
			t.Error("clear must not change the register count")
		}
	})

	t.Run("duplicates do not inflate the count", func(t *testing.T) {
		s, _ := NewWithSeed(12, 13)
		for round := 0; round < 5; round++ {
			s.InsertAll(intSeq(0, 1000))
		}
		got := s.Count()
		if math.Abs(float64(got)-1000) > 1000*0.05 {
			t.Errorf("5x duplicated stream of 1000: got %d", got)
		}
	})
}

func TestSketchMerge(t *testing.T) {
	t.Run("merge of disjoint streams approximates the union", func(t *testing.T) {
		a, _ := NewWithSeed(12, 21)
		b, _ := NewWithSeed(12, 21)
		a.InsertAll(intSeq(0, 20000))
		b.InsertAll(intSeq(20000, 40000))

		if err := a.Merge(b); err != nil {
			t.Fatalf("merge failed: %v", err)
		}

		got := float64(a.Count())
		if math.Abs(got-40000)/40000 > 0.05 {
			t.Errorf("union estimate %v too far from 40000", got)
		}
	})

	t.Run("merge is commutative", func(t *testing.T) {
		build := func(lo, hi uint64) *Sketch {
			s, _ := NewWithSeed(10, 33)
			s.InsertAll(intSeq(lo, hi))
			return s
		}

		ab := build(0, 5000)
		other := build(3000, 8000)
		if err := ab.Merge(other); err != nil {
			t.Fatal(err)
		}

		ba := build(3000, 8000)
		other = build(0, 5000)
		if err := ba.Merge(other); err != nil {
			t.Fatal(err)
		}

		abBytes := ab.Serialize()
		baBytes := ba.Serialize()
		if string(abBytes) != string(baBytes) {
			t.Error("merge(A,B) and merge(B,A) produced different register arrays")
		}
	})

	t.Run("merge is associative", func(t *testing.T) {
		build := func(lo, hi uint64) *Sketch {
			s, _ := NewWithSeed(10, 35)
			s.InsertAll(intSeq(lo, hi))
			return s
		}

		// (A + B) + C
		left := build(0, 3000)
		if err := left.Merge(build(2000, 6000)); err != nil {
			t.Fatal(err)
		}
		if err := left.Merge(build(5000, 9000)); err != nil {
			t.Fatal(err)
		}

		// A + (B + C)
		bc := build(2000, 6000)
		if err := bc.Merge(build(5000, 9000)); err != nil {
			t.Fatal(err)
		}
		right := build(0, 3000)
		if err := right.Merge(bc); err != nil {
			t.Fatal(err)
		}

		if string(left.Serialize()) != string(right.Serialize()) {
			t.Error("merge is not associative on the register arrays")
		}
	})

	t.Run("merge is idempotent", func(t *testing.T) {
		a, _ := NewWithSeed(10, 37)
		a.InsertAll(intSeq(0, 5000))
		before := a.Count()

		clone, err := Deserialize(a.Serialize())
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Merge(clone); err != nil {
			t.Fatal(err)
		}

		if a.Count() != before {
			t.Errorf("self-merge changed the count: %d -> %d", before, a.Count())
		}
	})

	t.Run("different precisions refuse to merge", func(t *testing.T) {
		a, _ := NewWithSeed(10, 1)
		b, _ := NewWithSeed(12, 1)
		if err := a.Merge(b); !errors.Is(err, ErrIncompatiblePrecision) {
			t.Errorf("expected ErrIncompatiblePrecision, got %v", err)
		}
	})
}

func TestHashFamilies(t *testing.T) {
	t.Run("families disagree on registers", func(t *testing.T) {
		// Same elements, same seed, different family: the register arrays
		// must diverge, which is why cross-family merges are meaningless.
		x, _ := NewWithSeed(12, 99)
		m, _ := NewWithHasher(12, 99, Murmur3Hasher{})
		for i := uint64(0); i < 1000; i++ {
			x.Insert(u64Bytes(i))
			m.Insert(u64Bytes(i))
		}

		if string(x.Serialize()) == string(m.Serialize()) {
			t.Error("xxhash and murmur3 produced identical register arrays")
		}
	})

	t.Run("murmur3 family estimates accurately", func(t *testing.T) {
		s, _ := NewWithHasher(12, 7, Murmur3Hasher{})
		s.InsertAll(intSeq(0, 50000))

		got := float64(s.Count())
		if math.Abs(got-50000)/50000 > 0.05 {
			t.Errorf("murmur3-backed estimate %v too far from 50000", got)
		}
	})

	t.Run("seed changes the register placement", func(t *testing.T) {
		a, _ := NewWithSeed(12, 1)
		b, _ := NewWithSeed(12, 2)
		for i := uint64(0); i < 1000; i++ {
			a.Insert(u64Bytes(i))
			b.Insert(u64Bytes(i))
		}
		// Identical payloads differ only in the seed byte region if the
		// registers collided entirely, which is astronomically unlikely.
		if string(a.Serialize()[payloadHeaderSize:]) == string(b.Serialize()[payloadHeaderSize:]) {
			t.Error("different seeds produced identical register arrays")
		}
	})
}

func TestSketchAccuracySmall(t *testing.T) {
	// Alphabet plus one multi-byte rune: 27 distinct elements land in the
	// linear-counting regime at p=14 and should estimate almost exactly.
	s, err := NewWithSeed(14, 42)
	if err != nil {
		t.Fatal(err)
	}

	for c := 'a'; c <= 'z'; c++ {
		s.InsertString(string(c))
	}
	s.InsertString("🦀")

	got := s.Count()
	t.Logf("27 distinct elements estimated as %d", got)
	if got < 25 || got > 29 {
		t.Errorf("expected count in [25, 29], got %d", got)
	}
	if s.Len() != 16384 {
		t.Errorf("expected 16384 registers at p=14, got %d", s.Len())
	}
}

func TestSketchAccuracyByPrecision(t *testing.T) {
	// Mean relative error across seeds should sit near the theoretical
	// 1.04/sqrt(m); we assert twice that to keep the test robust.
	cases := []struct {
		p     uint8
		n     uint64
		seeds []uint64
	}{
		{8, 50000, []uint64{1, 2, 3, 4, 5}},
		{12, 50000, []uint64{1, 2, 3, 4, 5}},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("p=%d", c.p), func(t *testing.T) {
			var totalErr float64
			for _, seed := range c.seeds {
				s, err := NewWithSeed(c.p, seed)
				if err != nil {
					t.Fatal(err)
				}
				s.InsertAll(intSeq(seed<<32, seed<<32+c.n))

				relErr := math.Abs(float64(s.Count())-float64(c.n)) / float64(c.n)
				totalErr += relErr
				t.Logf("seed %d: estimated %d of %d (%.2f%% error)", seed, s.Count(), c.n, relErr*100)
			}

			mean := totalErr / float64(len(c.seeds))
			bound := 2 * 1.04 / math.Sqrt(float64(uint64(1)<<c.p))
			if mean > bound {
				t.Errorf("mean error %.4f exceeds %.4f", mean, bound)
			}
		})
	}
}
