// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package req implements the relative-error quantiles sketch: a stack
// of compactors, each wrapping a buffer.SortedBuffer, that
// probabilistically halves sorted runs and pushes survivors one
// height up, plus an auxiliary rank table built by merging all
// compactor buffers for queries.
package req

import (
	"math"
	"sort"

	"github.com/streamsketch/sketches/buffer"
	"github.com/streamsketch/sketches/errs"
	"github.com/streamsketch/sketches/logger"
	"github.com/streamsketch/sketches/metrics"
	"github.com/streamsketch/sketches/rng"
	"github.com/streamsketch/sketches/serial"
)

const minK = 4

// Criteria selects the boundary semantics of GetQuantile: whether the
// comparison against the auxiliary table's normalized ranks is
// strict or inclusive.
type Criteria int

const (
	// ExclusiveLT selects the largest index i with normRanks[i] < r.
	ExclusiveLT Criteria = iota
	// InclusiveLE selects the largest index i with normRanks[i] <= r.
	InclusiveLE
)

// compactor holds the items assigned to one height of the stack. Every
// item it holds carries weight 2^lgWeight. When its buffer reaches
// its nominal capacity it compacts: half the sorted items (chosen by
// coin flip) are discarded and the survivors are pushed to height+1.
type compactor struct {
	buf         *buffer.SortedBuffer
	lgWeight    int
	sectionSize int
	hra         bool
}

func newCompactor(lgWeight, sectionSize int, hra bool) *compactor {
	return &compactor{
		buf:         buffer.New(0, 2*sectionSize, false),
		lgWeight:    lgWeight,
		sectionSize: sectionSize,
		hra:         hra,
	}
}

func (c *compactor) nominalCapacity() int { return 2 * c.sectionSize }

func (c *compactor) isFull() bool { return c.buf.Len() >= c.nominalCapacity() }

// compact sorts the buffer, keeps half of its largest even-sized
// prefix (chosen by coin flip), and returns the survivors for the
// caller to push up a height. HRA sketches favor retaining precision
// at the high-rank end by flipping the parity bias; this is the only
// effect HRA has on compaction in this simplified, whole-buffer
// compaction scheme (the reference algorithm additionally compacts
// only part of the buffer per pass to preserve low-weight resolution
// near the untouched end; see DESIGN.md). An odd-sized buffer (only
// reachable through an asymmetric Merge, since Update always grows
// the buffer to an even nominal capacity before compacting) leaves
// its single largest item behind uncompacted rather than failing.
func (c *compactor) compact(r rng.Source) (*buffer.SortedBuffer, error) {
	c.buf.Sort()
	n := c.buf.Len()
	evenN := n - n%2
	odds := r.Bool()
	if c.hra {
		odds = !odds
	}
	survivors, err := c.buf.GetEvensOrOdds(0, evenN, odds)
	if err != nil {
		return nil, err
	}
	leftover := buffer.New(0, 2*c.sectionSize, false)
	if evenN < n {
		leftover.Append(c.buf.At(evenN))
		leftover.Sort()
	}
	c.buf = leftover
	return survivors, nil
}

// Sketch answers approximate rank/quantile queries over a float64
// stream with relative (rather than absolute) error, tightened near
// rank 1 when hra is set and near rank 0 otherwise.
type Sketch struct {
	compactors []*compactor
	hra        bool
	k          int
	n          int64
	minValue   float64
	maxValue   float64

	rng rng.Source
	log logger.Logger
	mtr metrics.Collector
}

// New creates an empty Sketch. k controls the nominal section
// capacity of each compactor (and therefore accuracy/memory); hra
// selects whether relative error is tightened near rank 1 (true) or
// rank 0 (false).
func New(k int, hra bool) (*Sketch, error) {
	const op = "req.New"
	if k < minK {
		return nil, errs.NewDomainf(op, "k must be >= %d, got %d", minK, k)
	}
	s := &Sketch{
		hra: hra,
		k:   k,
		rng: rng.New(0),
		log: logger.Nop(),
		mtr: metrics.Nop(),
	}
	s.compactors = append(s.compactors, newCompactor(0, k, hra))
	return s, nil
}

// MustNew is New, panicking on error.
func MustNew(k int, hra bool) *Sketch {
	s, err := New(k, hra)
	if err != nil {
		panic(err)
	}
	return s
}

// SetLogger overrides the sketch's logger. The default is a no-op.
func (s *Sketch) SetLogger(l logger.Logger) { s.log = l }

// SetMetrics overrides the sketch's metrics collector.
func (s *Sketch) SetMetrics(m metrics.Collector) { s.mtr = m }

// SetRNG overrides the uniform-random source used for compactor
// coin-flip tie breaks.
func (s *Sketch) SetRNG(r rng.Source) { s.rng = r }

// GetN returns the total number of values ever inserted.
func (s *Sketch) GetN() int64 { return s.n }

// IsEmpty reports whether the sketch has never observed an update.
func (s *Sketch) IsEmpty() bool { return s.n == 0 }

// IsHRA reports whether the sketch tightens relative error near rank
// 1 (high-rank accuracy) rather than rank 0.
func (s *Sketch) IsHRA() bool { return s.hra }

// GetMinValue returns the smallest value ever inserted. Only valid
// when !IsEmpty().
func (s *Sketch) GetMinValue() float64 { return s.minValue }

// GetMaxValue returns the largest value ever inserted. Only valid
// when !IsEmpty().
func (s *Sketch) GetMaxValue() float64 { return s.maxValue }

// NumCompactors returns the current height of the compactor stack.
func (s *Sketch) NumCompactors() int { return len(s.compactors) }

// Update inserts x into the stream.
func (s *Sketch) Update(x float64) error {
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
	s.n++
	s.compactors[0].buf.Append(x)
	return s.maybeCompact(0)
}

// maybeCompact compacts the compactor at height h if it is full,
// pushing survivors up to h+1 (creating it if necessary) and
// cascading.
func (s *Sketch) maybeCompact(h int) error {
	c := s.compactors[h]
	if !c.isFull() {
		return nil
	}
	survivors, err := c.compact(s.rng)
	if err != nil {
		return err
	}
	s.log.Debugf("req.Update: compacted height %d, %d survivors", h, survivors.Len())
	s.mtr.IncCompaction()
	if h+1 == len(s.compactors) {
		s.compactors = append(s.compactors, newCompactor(h+1, s.k, s.hra))
	}
	next := s.compactors[h+1]
	for _, v := range survivors.Items() {
		next.buf.Append(v)
	}
	return s.maybeCompact(h + 1)
}

// Merge folds other's compactor buffers into s height-for-height, then
// re-checks every height for compaction, cascading as needed.
func (s *Sketch) Merge(other *Sketch) error {
	const op = "req.Merge"
	if other.IsEmpty() {
		return nil
	}
	if s.hra != other.hra {
		return errs.NewDomainf(op, "cannot merge sketches with different HRA settings")
	}
	selfWasEmpty := s.n == 0
	for h, oc := range other.compactors {
		for len(s.compactors) <= h {
			s.compactors = append(s.compactors, newCompactor(len(s.compactors), s.k, s.hra))
		}
		for _, v := range oc.buf.Items() {
			s.compactors[h].buf.Append(v)
		}
	}
	for h := 0; h < len(s.compactors); h++ {
		if err := s.maybeCompact(h); err != nil {
			return err
		}
	}
	s.n += other.n
	if selfWasEmpty {
		s.minValue, s.maxValue = other.minValue, other.maxValue
	} else {
		if other.minValue < s.minValue {
			s.minValue = other.minValue
		}
		if other.maxValue > s.maxValue {
			s.maxValue = other.maxValue
		}
	}
	return nil
}

// Reset returns the sketch to a single empty compactor at height 0.
func (s *Sketch) Reset() {
	s.compactors = []*compactor{newCompactor(0, s.k, s.hra)}
	s.n = 0
	s.minValue = 0
	s.maxValue = 0
}

// auxiliary holds the global sorted item array and parallel
// normalized-rank array built by merging every compactor's buffer, as
// described in the data model.
type auxiliary struct {
	items     []float64
	normRanks []float64
}

// buildAuxiliary concatenates every compactor's items (each carrying
// its height's weight), sorts by value, and computes the prefix sums
// of weight/N -- the normalized rank table queries walk.
func (s *Sketch) buildAuxiliary() *auxiliary {
	type entry struct {
		value  float64
		weight int64
	}
	var all []entry
	for _, c := range s.compactors {
		w := int64(1) << uint(c.lgWeight)
		for _, v := range c.buf.Items() {
			all = append(all, entry{v, w})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	aux := &auxiliary{
		items:     make([]float64, len(all)),
		normRanks: make([]float64, len(all)),
	}
	var cum int64
	for i, e := range all {
		cum += e.weight
		aux.items[i] = e.value
		aux.normRanks[i] = float64(cum) / float64(s.n)
	}
	return aux
}

// GetQuantile returns the item at the largest index i with
// normRanks[i] satisfying criteria against rank. Out-of-range ranks,
// or a query against an empty sketch, yield NaN.
func (s *Sketch) GetQuantile(rank float64, criteria Criteria) float64 {
	if s.n == 0 || rank < 0 || rank > 1 {
		return math.NaN()
	}
	aux := s.buildAuxiliary()
	idx := -1
	for i, nr := range aux.normRanks {
		ok := nr <= rank
		if criteria == ExclusiveLT {
			ok = nr < rank
		}
		if ok {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return math.NaN()
	}
	return aux.items[idx]
}

// GetRank returns the normalized fraction of the stream <= x.
func (s *Sketch) GetRank(x float64) float64 {
	if s.n == 0 {
		return math.NaN()
	}
	var count int64
	for _, c := range s.compactors {
		w := int64(1) << uint(c.lgWeight)
		items := c.buf.Items()
		sort.Float64s(items)
		idx := sort.Search(len(items), func(i int) bool { return items[i] > x })
		count += int64(idx) * w
	}
	return float64(count) / float64(s.n)
}

// ToBytes serializes the sketch: an 8-byte header when empty, or a
// 32-byte header (n, minValue, maxValue) followed by, per compactor from height 0
// upward, an int32 item count then that many little-endian sorted
// float64 items.
func (s *Sketch) ToBytes() []byte {
	if s.n == 0 {
		buf := make([]byte, 8)
		buf[0] = 1
		buf[1] = serial.SerVer
		buf[2] = serial.FamilyRelativeErrorQuantiles
		buf[3] = 0
		buf[4] = 0x01 // EMPTY
		if s.hra {
			buf[4] |= 0x02
		}
		buf[5] = 0
		return buf
	}

	itemCounts := make([]int, len(s.compactors))
	items := make([][]float64, len(s.compactors))
	total := 32
	for i, c := range s.compactors {
		c.buf.Sort()
		its := c.buf.Items()
		items[i] = its
		itemCounts[i] = len(its)
		total += 4 + 8*len(its)
	}

	buf := make([]byte, total)
	buf[0] = 4
	buf[1] = serial.SerVer
	buf[2] = serial.FamilyRelativeErrorQuantiles
	buf[3] = 0
	flags := byte(0)
	if s.hra {
		flags |= 0x02
	}
	buf[4] = flags
	buf[5] = byte(len(s.compactors))
	serial.PutInt64(buf, 8, s.n)
	serial.PutFloat64(buf, 16, s.minValue)
	serial.PutFloat64(buf, 24, s.maxValue)

	off := 32
	for i, its := range items {
		serial.PutUint32(buf, off, uint32(itemCounts[i]))
		off += 4
		for _, v := range its {
			serial.PutFloat64(buf, off, v)
			off += 8
		}
	}
	return buf
}

// FromBytes reconstructs a Sketch from the bytes produced by ToBytes.
func FromBytes(buf []byte, k int) (*Sketch, error) {
	const op = "req.FromBytes"
	if err := serial.NeedBytes(op, buf, 8); err != nil {
		return nil, err
	}
	preLongs := buf[0]
	if preLongs != 1 && preLongs != 4 {
		return nil, errs.NewCorruptionf(op, nil, "preambleLongs must be 1 or 4, got %d", preLongs)
	}
	if buf[1] != serial.SerVer {
		return nil, errs.NewCorruptionf(op, nil, "serialization version must be %d, got %d", serial.SerVer, buf[1])
	}
	if buf[2] != serial.FamilyRelativeErrorQuantiles {
		return nil, errs.NewCorruptionf(op, nil, "family id must be %d, got %d", serial.FamilyRelativeErrorQuantiles, buf[2])
	}
	flags := buf[4]
	empty := flags&0x01 != 0
	hra := flags&0x02 != 0
	if empty != (preLongs == 1) {
		return nil, errs.NewCorruptionf(op, nil, "EMPTY flag disagrees with preambleLongs=%d", preLongs)
	}

	s, err := New(k, hra)
	if err != nil {
		return nil, err
	}
	if empty {
		return s, nil
	}

	numCompactors := int(buf[5])
	if err := serial.NeedBytes(op, buf, 32); err != nil {
		return nil, err
	}
	n := serial.GetInt64(buf, 8)
	minValue := serial.GetFloat64(buf, 16)
	maxValue := serial.GetFloat64(buf, 24)

	off := 32
	compactors := make([]*compactor, numCompactors)
	for h := 0; h < numCompactors; h++ {
		if err := serial.NeedBytes(op, buf, off+4); err != nil {
			return nil, err
		}
		count := int(serial.GetUint32(buf, off))
		off += 4
		if err := serial.NeedBytes(op, buf, off+8*count); err != nil {
			return nil, err
		}
		c := newCompactor(h, k, hra)
		for i := 0; i < count; i++ {
			c.buf.Append(serial.GetFloat64(buf, off))
			off += 8
		}
		c.buf.Sort()
		compactors[h] = c
	}

	s.compactors = compactors
	s.n = n
	s.minValue = minValue
	s.maxValue = maxValue
	return s, nil
}
