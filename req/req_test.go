// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package req

import (
	"math"
	"testing"

	"github.com/streamsketch/sketches/rng"
)

func TestNewRejectsSmallK(t *testing.T) {
	if _, err := New(1, false); err == nil {
		t.Fatal("expected Domain error for k < minK")
	}
}

func TestUpdateTracksMinMax(t *testing.T) {
	s := MustNew(8, false)
	s.SetRNG(rng.New(1))
	for _, x := range []float64{5, 1, 9, -3, 42} {
		if err := s.Update(x); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if s.GetMinValue() != -3 {
		t.Fatalf("GetMinValue() = %v, want -3", s.GetMinValue())
	}
	if s.GetMaxValue() != 42 {
		t.Fatalf("GetMaxValue() = %v, want 42", s.GetMaxValue())
	}
	if s.GetN() != 5 {
		t.Fatalf("GetN() = %d, want 5", s.GetN())
	}
}

func TestCompactionGrowsStackUnderLoad(t *testing.T) {
	s := MustNew(8, false)
	s.SetRNG(rng.New(2))
	for i := 0; i < 5000; i++ {
		if err := s.Update(float64(i)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if s.NumCompactors() < 2 {
		t.Fatalf("expected multiple compactors after 5000 updates, got %d", s.NumCompactors())
	}
}

func TestAuxiliaryNormRanksMonotonicAndBounded(t *testing.T) {
	s := MustNew(8, true)
	s.SetRNG(rng.New(3))
	for i := 0; i < 2000; i++ {
		if err := s.Update(float64(i)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	aux := s.buildAuxiliary()
	prevItem := math.Inf(-1)
	prevRank := -1.0
	for i := range aux.items {
		if aux.items[i] < prevItem {
			t.Fatalf("items not non-decreasing at %d: %v < %v", i, aux.items[i], prevItem)
		}
		if aux.normRanks[i] < prevRank {
			t.Fatalf("normRanks not non-decreasing at %d: %v < %v", i, aux.normRanks[i], prevRank)
		}
		if aux.normRanks[i] < 0 || aux.normRanks[i] > 1 {
			t.Fatalf("normRanks[%d] = %v out of [0,1]", i, aux.normRanks[i])
		}
		prevItem = aux.items[i]
		prevRank = aux.normRanks[i]
	}
	if len(aux.normRanks) > 0 && math.Abs(aux.normRanks[len(aux.normRanks)-1]-1.0) > 1e-9 {
		t.Fatalf("final normRank = %v, want ~1.0", aux.normRanks[len(aux.normRanks)-1])
	}
}

func TestGetQuantileOutOfRangeIsNaN(t *testing.T) {
	s := MustNew(8, false)
	_ = s.Update(1)
	if !math.IsNaN(s.GetQuantile(-0.1, InclusiveLE)) {
		t.Fatal("expected NaN for rank < 0")
	}
	if !math.IsNaN(s.GetQuantile(1.1, InclusiveLE)) {
		t.Fatal("expected NaN for rank > 1")
	}
}

func TestGetQuantileEmptySketchIsNaN(t *testing.T) {
	s := MustNew(8, false)
	if !math.IsNaN(s.GetQuantile(0.5, InclusiveLE)) {
		t.Fatal("expected NaN for empty sketch")
	}
}

func TestMergeCombinesN(t *testing.T) {
	s1 := MustNew(8, false)
	s1.SetRNG(rng.New(4))
	s2 := MustNew(8, false)
	s2.SetRNG(rng.New(5))
	for i := 0; i < 1000; i++ {
		_ = s1.Update(float64(i))
	}
	for i := 1000; i < 2000; i++ {
		_ = s2.Update(float64(i))
	}
	if err := s1.Merge(s2); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if s1.GetN() != 2000 {
		t.Fatalf("GetN() = %d, want 2000", s1.GetN())
	}
	if s1.GetMinValue() != 0 || s1.GetMaxValue() != 1999 {
		t.Fatalf("extrema = [%v,%v], want [0,1999]", s1.GetMinValue(), s1.GetMaxValue())
	}
}

func TestMergeWithAsymmetricSizesProducesEvenCompaction(t *testing.T) {
	// k=4 gives height-0 nominal capacity 2*k=8. 7 + 6 = 13, an odd
	// combined height-0 buffer that compact() must handle by leaving
	// one item behind rather than failing on an odd length.
	s1 := MustNew(4, false)
	s1.SetRNG(rng.New(1))
	s2 := MustNew(4, false)
	s2.SetRNG(rng.New(2))
	for i := 1; i <= 7; i++ {
		_ = s1.Update(float64(i))
	}
	for i := 8; i <= 13; i++ {
		_ = s2.Update(float64(i))
	}
	if err := s1.Merge(s2); err != nil {
		t.Fatalf("Merge with odd combined buffer: %v", err)
	}
	if s1.GetN() != 13 {
		t.Fatalf("GetN() = %d, want 13", s1.GetN())
	}
	if s1.GetMinValue() != 1 || s1.GetMaxValue() != 13 {
		t.Fatalf("extrema = [%v,%v], want [1,13]", s1.GetMinValue(), s1.GetMaxValue())
	}
}

func TestMergeRejectsMismatchedHRA(t *testing.T) {
	s1 := MustNew(8, true)
	s2 := MustNew(8, false)
	_ = s2.Update(1)
	if err := s1.Merge(s2); err == nil {
		t.Fatal("expected Domain error merging sketches with different HRA settings")
	}
}

func TestRoundTripSerialization(t *testing.T) {
	s := MustNew(8, true)
	s.SetRNG(rng.New(6))
	for i := 0; i < 3000; i++ {
		_ = s.Update(float64(i))
	}
	buf := s.ToBytes()
	got, err := FromBytes(buf, 8)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.GetN() != s.GetN() {
		t.Fatalf("GetN() = %d, want %d", got.GetN(), s.GetN())
	}
	if got.GetMinValue() != s.GetMinValue() || got.GetMaxValue() != s.GetMaxValue() {
		t.Fatalf("extrema mismatch: got [%v,%v], want [%v,%v]",
			got.GetMinValue(), got.GetMaxValue(), s.GetMinValue(), s.GetMaxValue())
	}
	if got.NumCompactors() != s.NumCompactors() {
		t.Fatalf("NumCompactors() = %d, want %d", got.NumCompactors(), s.NumCompactors())
	}
	if !got.IsHRA() {
		t.Fatal("expected HRA flag to round-trip as true")
	}
}

func TestToBytesEmptySketch(t *testing.T) {
	s := MustNew(8, false)
	buf := s.ToBytes()
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	if buf[0] != 1 {
		t.Fatalf("buf[0] = %d, want 1", buf[0])
	}
}

func TestFromBytesRejectsBadFamily(t *testing.T) {
	s := MustNew(8, false)
	_ = s.Update(1)
	buf := s.ToBytes()
	buf[2] = 99
	if _, err := FromBytes(buf, 8); err == nil {
		t.Fatal("expected corruption error for bad family id")
	}
}
