// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package quantiles implements the compact-levels quantiles sketch
// (Greenwald-Khanna / MRL-style levels with carry propagation): a
// base buffer of up to 2k unsorted values that, once full, cascades
// into a stack of k-sized sorted levels exactly the way binary
// addition carries a bit, trading a coin-flip's worth of precision
// per level for logarithmic memory.
package quantiles

import (
	"math"
	"math/bits"
	"sort"

	"github.com/streamsketch/sketches/buffer"
	"github.com/streamsketch/sketches/errs"
	"github.com/streamsketch/sketches/logger"
	"github.com/streamsketch/sketches/metrics"
	"github.com/streamsketch/sketches/rng"
	"github.com/streamsketch/sketches/serial"
)

const (
	minK = 2
	maxK = 32768
)

// Sketch answers approximate rank/quantile/CDF/PMF queries over a
// float64 stream with accuracy controlled by k (error epsilon is
// approximately 1.65/k for rank queries).
type Sketch struct {
	k          int
	n          int64
	bitPattern uint64
	base       []float64   // up to 2k unsorted values
	levels     [][]float64 // level ℓ, when occupied, holds exactly k sorted values
	minValue   float64
	maxValue   float64

	rng rng.Source
	log logger.Logger
	mtr metrics.Collector
}

// New creates an empty Sketch with accuracy parameter k, a power of
// two in [2, 32768].
func New(k int) (*Sketch, error) {
	const op = "quantiles.New"
	if k < minK || k > maxK || bits.OnesCount(uint(k)) != 1 {
		return nil, errs.NewDomainf(op, "k must be a power of two in [%d, %d], got %d", minK, maxK, k)
	}
	return &Sketch{
		k:   k,
		rng: rng.New(0),
		log: logger.Nop(),
		mtr: metrics.Nop(),
	}, nil
}

// MustNew is New, panicking on error.
func MustNew(k int) *Sketch {
	s, err := New(k)
	if err != nil {
		panic(err)
	}
	return s
}

// SetLogger overrides the sketch's logger. The default is a no-op.
func (s *Sketch) SetLogger(l logger.Logger) { s.log = l }

// SetMetrics overrides the sketch's metrics collector.
func (s *Sketch) SetMetrics(m metrics.Collector) { s.mtr = m }

// SetRNG overrides the uniform-random source used to pick which half
// of a full 2k run survives a carry propagation.
func (s *Sketch) SetRNG(r rng.Source) { s.rng = r }

// GetK returns the sketch's accuracy parameter.
func (s *Sketch) GetK() int { return s.k }

// GetN returns the total number of values ever inserted.
func (s *Sketch) GetN() int64 { return s.n }

// IsEmpty reports whether the sketch has never observed an update.
func (s *Sketch) IsEmpty() bool { return s.n == 0 }

// GetMinValue returns the smallest value ever inserted. Only valid
// when !IsEmpty().
func (s *Sketch) GetMinValue() float64 { return s.minValue }

// GetMaxValue returns the largest value ever inserted. Only valid
// when !IsEmpty().
func (s *Sketch) GetMaxValue() float64 { return s.maxValue }

// BitPattern returns the current occupied-levels bitmask. It always
// equals n / (2k).
func (s *Sketch) BitPattern() uint64 { return s.bitPattern }

// Update inserts x into the stream.
func (s *Sketch) Update(x float64) {
	if s.n == 0 {
		s.minValue, s.maxValue = x, x
	} else {
		if x < s.minValue {
			s.minValue = x
		}
		if x > s.maxValue {
			s.maxValue = x
		}
	}
	s.base = append(s.base, x)
	s.n++
	if len(s.base) == 2*s.k {
		s.propagateFromBase()
	}
}

// propagateFromBase sorts the full base buffer, halves it into a
// carry, and cascades that carry up through occupied levels exactly
// as binary addition carries a bit, clearing the base buffer when
// done.
func (s *Sketch) propagateFromBase() {
	sorted := sortCopy(s.base)
	s.base = s.base[:0]
	carry := s.halve(sorted)
	s.propagateCarry(0, carry)
	s.log.Debugf("quantiles.Update: propagated base buffer, bitPattern=%#x", s.bitPattern)
	s.mtr.IncResize()
}

// propagateCarry merges carry (a sorted slice of length k) into the
// level stack starting at startLevel, cascading while the target
// level is already occupied.
func (s *Sketch) propagateCarry(startLevel int, carry []float64) {
	level := startLevel
	for {
		if s.bitPattern&(uint64(1)<<uint(level)) == 0 {
			s.setLevel(level, carry)
			s.bitPattern |= uint64(1) << uint(level)
			return
		}
		merged := mergeSorted(s.getLevel(level), carry)
		carry = s.halve(merged)
		s.bitPattern &^= uint64(1) << uint(level)
		level++
	}
}

func (s *Sketch) getLevel(l int) []float64 {
	if l >= len(s.levels) {
		return nil
	}
	return s.levels[l]
}

func (s *Sketch) setLevel(l int, data []float64) {
	for l >= len(s.levels) {
		s.levels = append(s.levels, nil)
	}
	s.levels[l] = data
}

// halve picks every other element of a sorted, even-length slice,
// choosing the even or odd half by coin flip, and returns the k
// survivors. This lossy compaction is the sketch's sole source of
// error.
func (s *Sketch) halve(data []float64) []float64 {
	half := len(data) / 2
	start := 0
	if s.rng.Bool() {
		start = 1
	}
	out := make([]float64, half)
	for i, j := start, 0; j < half; i, j = i+2, j+1 {
		out[j] = data[i]
	}
	return out
}

// sortCopy copies data into a buffer.SortedBuffer to reuse its sort
// discipline, then returns the sorted copy.
func sortCopy(data []float64) []float64 {
	b := buffer.New(len(data), 0, false)
	for _, x := range data {
		b.Append(x)
	}
	b.Sort()
	return b.Items()
}

// mergeSorted merges two already-sorted slices via
// buffer.SortedBuffer.MergeSortIn, the same merge discipline the
// relative-error compactors use.
func mergeSorted(a, b []float64) []float64 {
	ba := buffer.New(len(a), 0, false)
	for _, x := range a {
		ba.Append(x)
	}
	ba.Sort()
	bb := buffer.New(len(b), 0, false)
	for _, x := range b {
		bb.Append(x)
	}
	bb.Sort()
	merged, err := ba.MergeSortIn(bb)
	if err != nil {
		// Both inputs are always sorted by construction (sortCopy /
		// halve only ever hand us sorted slices); the only way
		// MergeSortIn fails is if that invariant breaks, which is a
		// programmer error, not a runtime condition callers recover
		// from.
		panic(err)
	}
	return merged.Items()
}

// Merge folds other into s, producing the union sketch. If the two
// sketches have different k, the larger-k sketch is down-sampled into
// the smaller-k target (the ratio between the two k values must be a
// power of two).
func (s *Sketch) Merge(other *Sketch) error {
	if other.IsEmpty() {
		return nil
	}
	if s.IsEmpty() {
		s.cloneFrom(other)
		return nil
	}
	if s.k == other.k {
		return s.mergeSameK(other)
	}
	if s.k < other.k {
		return s.downsampleMergeInto(other)
	}
	// self has the larger k: build a fresh sketch at other's k, copy
	// self down-sampled into it, then replace self's state in place.
	target, err := New(other.k)
	if err != nil {
		return err
	}
	if err := target.downsampleMergeInto(s); err != nil {
		return err
	}
	if err := target.mergeSameK(other); err != nil {
		return err
	}
	*s = *target
	return nil
}

func (s *Sketch) cloneFrom(other *Sketch) {
	s.k = other.k
	s.n = other.n
	s.bitPattern = other.bitPattern
	s.base = append([]float64(nil), other.base...)
	s.levels = make([][]float64, len(other.levels))
	for i, lv := range other.levels {
		if lv != nil {
			s.levels[i] = append([]float64(nil), lv...)
		}
	}
	s.minValue = other.minValue
	s.maxValue = other.maxValue
}

// mergeSameK implements mergeInto for two sketches sharing k: the
// source base buffer is copied in element-wise via Update, then each
// occupied source level is propagated into self as a carry, and
// finally n and the extrema are set from both operands' true totals.
func (s *Sketch) mergeSameK(other *Sketch) error {
	nBefore := s.n
	for _, x := range other.base {
		s.Update(x)
	}
	for level := 0; level < len(other.levels); level++ {
		if other.bitPattern&(uint64(1)<<uint(level)) == 0 {
			continue
		}
		carry := append([]float64(nil), other.levels[level]...)
		s.propagateCarry(level, carry)
	}
	s.n = nBefore + other.n
	if other.minValue < s.minValue {
		s.minValue = other.minValue
	}
	if other.maxValue > s.maxValue {
		s.maxValue = other.maxValue
	}
	return nil
}

// downsampleMergeInto folds big (whose k is a power-of-two multiple of
// s.k) into s, re-weighting each of big's levels by the ratio so the
// combined sketch's error bound still tracks s.k.
func (s *Sketch) downsampleMergeInto(big *Sketch) error {
	const op = "quantiles.downsampleMergeInto"
	if big.k%s.k != 0 {
		return errs.NewDomainf(op, "k ratio must be an integer, got %d/%d", big.k, s.k)
	}
	ratio := big.k / s.k
	if bits.OnesCount(uint(ratio)) != 1 {
		return errs.NewDomainf(op, "k ratio must be a power of two, got %d", ratio)
	}
	lgRatio := bits.TrailingZeros(uint(ratio))

	nBefore := s.n
	selfWasEmpty := s.n == 0

	// Base-buffer items each carry weight 1 in big as well, so they are
	// copied in one by one; only the levels are down-sampled.
	for _, x := range big.base {
		s.Update(x)
	}
	for level := 0; level < len(big.levels); level++ {
		if big.bitPattern&(uint64(1)<<uint(level)) == 0 {
			continue
		}
		lv := big.levels[level]
		downsized := make([]float64, 0, len(lv)/ratio)
		for i := 0; i < len(lv); i += ratio {
			downsized = append(downsized, lv[i])
		}
		if len(downsized) == 0 {
			continue
		}
		s.propagateCarry(level+lgRatio, downsized)
	}

	s.n = nBefore + big.n
	if selfWasEmpty {
		s.minValue, s.maxValue = big.minValue, big.maxValue
	} else {
		if big.minValue < s.minValue {
			s.minValue = big.minValue
		}
		if big.maxValue > s.maxValue {
			s.maxValue = big.maxValue
		}
	}
	return nil
}

// Reset returns the sketch to its empty state, preserving k.
func (s *Sketch) Reset() {
	s.n = 0
	s.bitPattern = 0
	s.base = nil
	s.levels = nil
	s.minValue = 0
	s.maxValue = 0
}

type weighted struct {
	value  float64
	weight int64
}

// weightedItems returns every retained value paired with its stream
// weight (1 for base-buffer items; level items have already been
// compacted once out of a 2k run before ever reaching level 0, so
// level ℓ carries weight 2^(ℓ+1)).
func (s *Sketch) weightedItems() []weighted {
	items := make([]weighted, 0, len(s.base)+len(s.levels)*s.k)
	for _, v := range s.base {
		items = append(items, weighted{v, 1})
	}
	for level, lv := range s.levels {
		if s.bitPattern&(uint64(1)<<uint(level)) == 0 {
			continue
		}
		w := int64(1) << uint(level+1)
		for _, v := range lv {
			items = append(items, weighted{v, w})
		}
	}
	return items
}

// GetRank returns the normalized fraction of the stream <= x.
func (s *Sketch) GetRank(x float64) float64 {
	if s.n == 0 {
		return math.NaN()
	}
	var count int64
	for _, v := range s.base {
		if v <= x {
			count++
		}
	}
	for level, lv := range s.levels {
		if s.bitPattern&(uint64(1)<<uint(level)) == 0 {
			continue
		}
		w := int64(1) << uint(level+1)
		c := sort.Search(len(lv), func(i int) bool { return lv[i] > x })
		count += int64(c) * w
	}
	return float64(count) / float64(s.n)
}

// GetQuantile returns the value at normalized rank in [0, 1]. An
// out-of-range rank, or a query against an empty sketch, yields NaN
// per the spec's explicit not-a-number sentinel.
func (s *Sketch) GetQuantile(rank float64) float64 {
	if s.n == 0 || rank < 0 || rank > 1 {
		return math.NaN()
	}
	items := s.weightedItems()
	sort.Slice(items, func(i, j int) bool { return items[i].value < items[j].value })
	target := rank * float64(s.n)
	var cum int64
	for _, it := range items {
		cum += it.weight
		if float64(cum) >= target {
			return it.value
		}
	}
	return items[len(items)-1].value
}

// GetPMF returns, for the splitPoints (which must be strictly
// increasing), the fraction of the stream falling in each of the
// len(splitPoints)+1 buckets they define.
func (s *Sketch) GetPMF(splitPoints []float64) ([]float64, error) {
	cdf, err := s.GetCDF(splitPoints)
	if err != nil {
		return nil, err
	}
	pmf := make([]float64, len(cdf))
	prev := 0.0
	for i, c := range cdf {
		pmf[i] = c - prev
		prev = c
	}
	return pmf, nil
}

// GetCDF returns, for the splitPoints (which must be strictly
// increasing), the cumulative fraction of the stream <= each split
// point, followed by 1.0 for the implicit +inf bucket.
func (s *Sketch) GetCDF(splitPoints []float64) ([]float64, error) {
	const op = "quantiles.GetCDF"
	for i := 1; i < len(splitPoints); i++ {
		if splitPoints[i] <= splitPoints[i-1] {
			return nil, errs.NewDomainf(op, "splitPoints must be strictly increasing, got %v", splitPoints)
		}
	}
	out := make([]float64, len(splitPoints)+1)
	for i, sp := range splitPoints {
		out[i] = s.GetRank(sp)
	}
	out[len(splitPoints)] = 1.0
	return out, nil
}

// ToBytes serializes the sketch: an 8-byte header when empty, or a
// 40-byte header (n, bitPattern, minValue, maxValue) followed by the
// base buffer and each occupied level's k sorted values, all
// little-endian.
func (s *Sketch) ToBytes() []byte {
	lgK := bits.TrailingZeros(uint(s.k))
	if s.n == 0 {
		buf := make([]byte, 8)
		buf[0] = 1
		buf[1] = serial.SerVer
		buf[2] = serial.FamilyQuantiles
		buf[3] = byte(lgK)
		buf[4] = 0x01 // EMPTY
		return buf
	}

	numOccupiedLevels := 0
	for level := 0; level < len(s.levels); level++ {
		if s.bitPattern&(uint64(1)<<uint(level)) != 0 {
			numOccupiedLevels++
		}
	}
	total := 40 + 8*(len(s.base)+numOccupiedLevels*s.k)
	buf := make([]byte, total)
	buf[0] = 5
	buf[1] = serial.SerVer
	buf[2] = serial.FamilyQuantiles
	buf[3] = byte(lgK)
	buf[4] = 0
	serial.PutInt64(buf, 8, s.n)
	serial.PutInt64(buf, 16, int64(s.bitPattern))
	serial.PutFloat64(buf, 24, s.minValue)
	serial.PutFloat64(buf, 32, s.maxValue)

	off := 40
	for _, v := range s.base {
		serial.PutFloat64(buf, off, v)
		off += 8
	}
	for level := 0; level < len(s.levels); level++ {
		if s.bitPattern&(uint64(1)<<uint(level)) == 0 {
			continue
		}
		for _, v := range s.levels[level] {
			serial.PutFloat64(buf, off, v)
			off += 8
		}
	}
	return buf
}

// FromBytes reconstructs a Sketch from the bytes produced by ToBytes.
func FromBytes(buf []byte) (*Sketch, error) {
	const op = "quantiles.FromBytes"
	if err := serial.NeedBytes(op, buf, 8); err != nil {
		return nil, err
	}
	preLongs := buf[0]
	if preLongs != 1 && preLongs != 5 {
		return nil, errs.NewCorruptionf(op, nil, "preambleLongs must be 1 or 5, got %d", preLongs)
	}
	if buf[1] != serial.SerVer {
		return nil, errs.NewCorruptionf(op, nil, "serialization version must be %d, got %d", serial.SerVer, buf[1])
	}
	if buf[2] != serial.FamilyQuantiles {
		return nil, errs.NewCorruptionf(op, nil, "family id must be %d, got %d", serial.FamilyQuantiles, buf[2])
	}
	lgK := int(buf[3])
	k := 1 << uint(lgK)
	empty := buf[4]&0x01 != 0
	if empty != (preLongs == 1) {
		return nil, errs.NewCorruptionf(op, nil, "EMPTY flag disagrees with preambleLongs=%d", preLongs)
	}
	s, err := New(k)
	if err != nil {
		return nil, err
	}
	if empty {
		return s, nil
	}

	if err := serial.NeedBytes(op, buf, 40); err != nil {
		return nil, err
	}
	n := serial.GetInt64(buf, 8)
	bitPattern := uint64(serial.GetInt64(buf, 16))
	minValue := serial.GetFloat64(buf, 24)
	maxValue := serial.GetFloat64(buf, 32)

	baseLen := int(n % int64(2*k))
	numOccupiedLevels := bits.OnesCount64(bitPattern)
	wantLen := 40 + 8*(baseLen+numOccupiedLevels*k)
	if err := serial.NeedBytes(op, buf, wantLen); err != nil {
		return nil, err
	}

	off := 40
	base := make([]float64, baseLen)
	for i := range base {
		base[i] = serial.GetFloat64(buf, off)
		off += 8
	}
	var levels [][]float64
	for level := 0; bitPattern>>uint(level) != 0; level++ {
		if bitPattern&(uint64(1)<<uint(level)) == 0 {
			levels = append(levels, nil)
			continue
		}
		lv := make([]float64, k)
		for i := range lv {
			lv[i] = serial.GetFloat64(buf, off)
			off += 8
		}
		levels = append(levels, lv)
	}

	s.n = n
	s.bitPattern = bitPattern
	s.minValue = minValue
	s.maxValue = maxValue
	s.base = base
	s.levels = levels
	return s, nil
}
