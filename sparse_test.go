package hyperloglockless

import (
	"errors"
	"math"
	"sort"
	"testing"
)

func TestSparseSketch(t *testing.T) {
	t.Run("invalid precisions fail", func(t *testing.T) {
		for _, p := range []uint8{0, 3, 19} {
			if _, err := NewSparse(p); !errors.Is(err, ErrInvalidPrecision) {
				t.Errorf("NewSparse(%d): expected ErrInvalidPrecision, got %v", p, err)
			}
		}
	})

	t.Run("empty sketch counts zero", func(t *testing.T) {
		s, _ := NewSparse(14)
		if got := s.Count(); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
		if s.NonZero() != 0 {
			t.Errorf("expected no tracked registers, got %d", s.NonZero())
		}
	})

	t.Run("pair list stays sorted and unique", func(t *testing.T) {
		s, _ := NewSparseWithSeed(14, 3)
		for i := uint64(0); i < 2000; i++ {
			s.Insert(u64Bytes(i))
		}

		if !sort.SliceIsSorted(s.pairs, func(i, j int) bool {
			return s.pairs[i].index < s.pairs[j].index
		}) {
			t.Error("pair list lost its sort order")
		}
		for i := 1; i < len(s.pairs); i++ {
			if s.pairs[i].index == s.pairs[i-1].index {
				t.Errorf("duplicate index %d in pair list", s.pairs[i].index)
			}
		}
	})

	t.Run("agrees with the dense flavor", func(t *testing.T) {
		sparse, _ := NewSparseWithSeed(12, 17)
		dense, _ := NewWithSeed(12, 17)
		for i := uint64(0); i < 3000; i++ {
			sparse.Insert(u64Bytes(i))
			dense.Insert(u64Bytes(i))
		}

		if sparse.Count() != dense.Count() {
			t.Errorf("sparse count %d differs from dense %d", sparse.Count(), dense.Count())
		}

		// Promotion must reproduce the dense register array byte for byte.
		if string(sparse.Dense().Serialize()) != string(dense.Serialize()) {
			t.Error("promoted sketch differs from a dense sketch fed the same stream")
		}
	})

	t.Run("registers iterator includes implicit zeros", func(t *testing.T) {
		s, _ := NewSparseWithSeed(10, 5)
		for i := uint64(0); i < 50; i++ {
			s.Insert(u64Bytes(i))
		}

		dense := s.Dense()
		want := make([]uint8, 0, dense.Len())
		for v := range dense.Registers() {
			want = append(want, v)
		}

		i := 0
		for v := range s.Registers() {
			if v != want[i] {
				t.Fatalf("register %d: sparse yields %d, dense holds %d", i, v, want[i])
			}
			i++
		}
		if i != 1<<10 {
			t.Errorf("iterated %d registers, expected %d", i, 1<<10)
		}
	})

	t.Run("merge approximates the union and refuses other precisions", func(t *testing.T) {
		a, _ := NewSparseWithSeed(12, 29)
		b, _ := NewSparseWithSeed(12, 29)
		for i := uint64(0); i < 2000; i++ {
			a.Insert(u64Bytes(i))
			b.Insert(u64Bytes(i + 1500)) // overlap on [1500, 2000)
		}

		if err := a.Merge(b); err != nil {
			t.Fatal(err)
		}

		got := float64(a.Count())
		if math.Abs(got-3500)/3500 > 0.05 {
			t.Errorf("merged estimate %v too far from 3500", got)
		}

		mismatch, _ := NewSparseWithSeed(10, 29)
		if err := a.Merge(mismatch); !errors.Is(err, ErrIncompatiblePrecision) {
			t.Errorf("expected ErrIncompatiblePrecision, got %v", err)
		}
	})

	t.Run("clear drops every register", func(t *testing.T) {
		s, _ := NewSparseWithSeed(12, 31)
		for i := uint64(0); i < 500; i++ {
			s.Insert(u64Bytes(i))
		}
		s.Clear()
		if s.Count() != 0 || s.NonZero() != 0 {
			t.Error("clear left registers behind")
		}
	})

	t.Run("memory stays proportional to cardinality", func(t *testing.T) {
		s, _ := NewSparseWithSeed(18, 37)
		for i := uint64(0); i < 100; i++ {
			s.Insert(u64Bytes(i))
		}
		if s.NonZero() > 100 {
			t.Errorf("tracking %d registers for 100 elements", s.NonZero())
		}
		if s.Len() != 1<<18 {
			t.Errorf("logical size should stay 2^18, got %d", s.Len())
		}
	})
}
