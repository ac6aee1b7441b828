// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package frequent implements the frequent-items (Misra-Gries /
// SpaceSaving lineage) sketch: a bounded-memory stream summary that
// tracks approximate counts of heavy hitters, built on top of the
// hashmap package's reverse-purge map.
package frequent

import (
	"math/bits"
	"sort"

	"github.com/streamsketch/sketches/errs"
	"github.com/streamsketch/sketches/hashmap"
	"github.com/streamsketch/sketches/logger"
	"github.com/streamsketch/sketches/metrics"
	"github.com/streamsketch/sketches/rng"
	"github.com/streamsketch/sketches/serial"
)

// minLgMapSize is the smallest map length a sketch ever holds: 2^2 = 4
// slots, matching the reset-length invariant in the spec.
const minLgMapSize = 2

// defaultSampleSize is the number of active values sampled (without
// replacement) to approximate the purge median. The spec caps this at
// 256 regardless of the requested value.
const defaultSampleSize = 256

// ErrorType selects which direction of error GetFrequentItems avoids.
type ErrorType int

const (
	// NoFalsePositives keeps only items whose lower bound already
	// clears the threshold: every returned item is truly frequent, but
	// some frequent items may be missing.
	NoFalsePositives ErrorType = iota
	// NoFalseNegatives keeps every item whose upper bound could clear
	// the threshold: no frequent item is missed, but some returned
	// items may not truly be frequent.
	NoFalseNegatives
)

// Hasher maps an item of type T to the 64-bit hash the reverse-purge
// map uses to place it.
type Hasher[T comparable] func(T) uint64

// Serializer encodes and decodes items of type T for the wire format.
// Byte is the sketch-type tag written into the preamble and checked
// against the reader's own serializer on FromBytes.
type Serializer[T comparable] interface {
	Byte() byte
	Encode(items []T) []byte
	Decode(buf []byte, n int) ([]T, error)
}

// Row is one entry returned by GetFrequentItems: item, its point
// estimate, and the bounds that sandwich the true count.
type Row[T comparable] struct {
	Item       T
	Estimate   int64
	LowerBound int64
	UpperBound int64
}

// Sketch tracks approximate counts of heavy hitters over a stream of
// items of type T, using bounded memory capped by lgMaxMapSize.
type Sketch[T comparable] struct {
	lgMaxMapSize int
	curMapCap    int
	mergeError   int64
	offset       int64
	streamLength int64
	sampleSize   int

	m *hashmap.ReversePurgeMap[T]

	hasher Hasher[T]
	ser    Serializer[T]
	equal  func(T, T) bool

	rng rng.Source
	log logger.Logger
	mtr metrics.Collector
}

// New creates an empty Sketch whose backing map grows to at most
// 2^lgMaxMapSize slots, holding at most 0.75 of that many active items.
// hasher and ser are the pluggable item-hashing and serialization
// capability bundles described in the design notes.
func New[T comparable](lgMaxMapSize int, hasher Hasher[T], ser Serializer[T]) (*Sketch[T], error) {
	const op = "frequent.New"
	if lgMaxMapSize < minLgMapSize {
		return nil, errs.NewDomainf(op, "lgMaxMapSize must be >= %d, got %d", minLgMapSize, lgMaxMapSize)
	}
	equal := func(a, b T) bool { return a == b }
	m, err := hashmap.New[T](1<<minLgMapSize, hasher, equal)
	if err != nil {
		return nil, err
	}
	s := &Sketch[T]{
		lgMaxMapSize: lgMaxMapSize,
		sampleSize:   defaultSampleSize,
		m:            m,
		hasher:       hasher,
		ser:          ser,
		equal:        equal,
		rng:          rng.New(0),
		log:          logger.Nop(),
		mtr:          metrics.Nop(),
	}
	s.curMapCap = s.m.Capacity()
	return s, nil
}

// MustNew is New, panicking on error. Convenience for tests and
// fixtures constructing sketches from compile-time-constant
// parameters known to be valid.
func MustNew[T comparable](lgMaxMapSize int, hasher Hasher[T], ser Serializer[T]) *Sketch[T] {
	s, err := New(lgMaxMapSize, hasher, ser)
	if err != nil {
		panic(err)
	}
	return s
}

// NewWithCurSize is New, but pre-grows the backing map to
// 2^lgCurMapSize instead of starting at the minimum length. Callers
// that know roughly how many distinct items a stream carries (for
// instance config.SketchConfig.LgCurMapSize, loaded from a fixture)
// use this to skip the early resize-on-every-insert phase.
func NewWithCurSize[T comparable](lgMaxMapSize, lgCurMapSize int, hasher Hasher[T], ser Serializer[T]) (*Sketch[T], error) {
	const op = "frequent.NewWithCurSize"
	if lgCurMapSize < minLgMapSize || lgCurMapSize > lgMaxMapSize {
		return nil, errs.NewDomainf(op, "lgCurMapSize must be in [%d, lgMaxMapSize=%d], got %d", minLgMapSize, lgMaxMapSize, lgCurMapSize)
	}
	s, err := New(lgMaxMapSize, hasher, ser)
	if err != nil {
		return nil, err
	}
	if lgCurMapSize == minLgMapSize {
		return s, nil
	}
	if err := s.m.Resize(1 << uint(lgCurMapSize)); err != nil {
		return nil, err
	}
	s.curMapCap = s.m.Capacity()
	return s, nil
}

// SetLogger overrides the sketch's logger. The default is a no-op.
func (s *Sketch[T]) SetLogger(l logger.Logger) { s.log = l }

// SetMetrics overrides the sketch's metrics collector. The default is
// a no-op collector.
func (s *Sketch[T]) SetMetrics(m metrics.Collector) { s.mtr = m }

// SetRNG overrides the uniform-random source used for purge sampling.
// Tests inject a seeded source for reproducible medians.
func (s *Sketch[T]) SetRNG(r rng.Source) { s.rng = r }

// GetStreamLength returns the total of all update counts ever applied,
// including counts folded in via Merge.
func (s *Sketch[T]) GetStreamLength() int64 { return s.streamLength }

// IsEmpty reports whether the sketch has never observed an update.
func (s *Sketch[T]) IsEmpty() bool { return s.streamLength == 0 }

// NumActive returns the number of distinct items currently tracked.
func (s *Sketch[T]) NumActive() int { return s.m.NumActive() }

// CurMapCapacity returns the current backing map's capacity (the
// number of active items it can hold before a resize or purge
// decision), reflecting any pre-growth requested via
// NewWithCurSize.
func (s *Sketch[T]) CurMapCapacity() int { return s.curMapCap }

// MaximumError returns the maximum possible over/under-estimate any
// currently tracked or absent item could carry.
func (s *Sketch[T]) MaximumError() int64 { return s.offset + s.mergeError }

// Update folds count occurrences of item into the sketch. count == 0
// is defined as a no-op; count < 0 is a Domain error.
func (s *Sketch[T]) Update(item T, count int64) error {
	const op = "frequent.Update"
	if count == 0 {
		return nil
	}
	if count < 0 {
		return errs.NewDomainf(op, "count must be non-negative, got %d", count)
	}
	s.streamLength += count
	if err := s.m.Adjust(item, count); err != nil {
		return err
	}

	maxLen := 1 << uint(s.lgMaxMapSize)
	if s.m.Length() < maxLen && s.m.NumActive() >= s.curMapCap {
		if err := s.m.Resize(2 * s.m.Length()); err != nil {
			return err
		}
		s.curMapCap = s.m.Capacity()
		s.log.Debugf("%s: resized map to length %d", op, s.m.Length())
		s.mtr.IncResize()
	} else if s.m.NumActive()+1 > s.curMapCap {
		median := s.m.Purge(s.sampleSize, s.rng)
		s.offset += median
		s.log.Debugf("%s: purged, median=%d, offset=%d", op, median, s.offset)
		s.mtr.IncPurge()
		if s.m.NumActive() > s.curMapCap {
			return errs.NewState(op, "purge did not reduce active items below capacity")
		}
	}
	return nil
}

// Estimate returns the point estimate for item's true count: 0 if the
// item is not currently tracked.
func (s *Sketch[T]) Estimate(item T) int64 {
	v, ok := s.m.Get(item)
	if !ok || v <= 0 {
		return 0
	}
	return v + s.offset
}

// UpperBound returns the maximum possible true count for item.
func (s *Sketch[T]) UpperBound(item T) int64 {
	v, _ := s.m.Get(item)
	return v + s.offset + s.mergeError
}

// LowerBound returns the minimum possible true count for item.
func (s *Sketch[T]) LowerBound(item T) int64 {
	v, _ := s.m.Get(item)
	lb := v - s.mergeError
	if lb < 0 {
		return 0
	}
	return lb
}

// GetFrequentItems enumerates currently tracked items whose bound
// (selected by errorType) clears maximumError, sorted by estimate
// descending.
func (s *Sketch[T]) GetFrequentItems(errorType ErrorType, maximumError int64) []Row[T] {
	var rows []Row[T]
	s.m.Range(func(item T, value int64) bool {
		row := Row[T]{
			Item:       item,
			Estimate:   s.Estimate(item),
			LowerBound: s.LowerBound(item),
			UpperBound: s.UpperBound(item),
		}
		keep := false
		switch errorType {
		case NoFalseNegatives:
			keep = row.UpperBound >= maximumError
		case NoFalsePositives:
			keep = row.LowerBound >= maximumError
		}
		if keep {
			rows = append(rows, row)
		}
		return true
	})
	// The spec notes the source's Row.compareTo has a self-comparison
	// bug (`this.est < this.est`, always false); we compare against
	// the other row and sort descending.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Estimate > rows[j].Estimate })
	return rows
}

// Merge folds other's active items into s, treating counts it never
// observed directly as already reflected in other's mergeError.
func (s *Sketch[T]) Merge(other *Sketch[T]) error {
	const op = "frequent.Merge"
	if other.IsEmpty() {
		return nil
	}
	s.mergeError += other.MaximumError()
	selfStreamLength := s.streamLength
	var updateErr error
	other.m.Range(func(item T, value int64) bool {
		if err := s.Update(item, value); err != nil {
			updateErr = err
			return false
		}
		return true
	})
	if updateErr != nil {
		return errs.NewCorruption(op, "failed to fold in a merged item", updateErr)
	}
	// The per-item Update calls above already added other's observed
	// counts to streamLength; the authoritative total is the true sum
	// of both streams, so it is restored here rather than accumulated.
	s.streamLength = selfStreamLength + other.streamLength
	return nil
}

// Reset returns the sketch to its minimal empty state (map length 4,
// zeroed error accumulators).
func (s *Sketch[T]) Reset() error {
	m, err := hashmap.New[T](1<<minLgMapSize, s.hasher, s.equal)
	if err != nil {
		return err
	}
	s.m = m
	s.curMapCap = m.Capacity()
	s.mergeError = 0
	s.offset = 0
	s.streamLength = 0
	return nil
}

// ToBytes serializes the sketch per the FrequentItems preamble: an 8
// or 40-byte header followed by activeItems int64 counts and the
// serializer-encoded items.
func (s *Sketch[T]) ToBytes() []byte {
	type entry struct {
		item  T
		count int64
	}
	var entries []entry
	s.m.Range(func(item T, value int64) bool {
		entries = append(entries, entry{item, value})
		return true
	})
	n := len(entries)
	empty := n == 0

	preLongs := byte(1)
	headerLen := 8
	if !empty {
		preLongs = 5
		headerLen = 40
	}

	items := make([]T, n)
	counts := make([]int64, n)
	for i, e := range entries {
		items[i] = e.item
		counts[i] = e.count
	}
	var itemBytes []byte
	if !empty {
		itemBytes = s.ser.Encode(items)
	}

	total := headerLen
	if !empty {
		total += 8*n + len(itemBytes)
	}
	buf := make([]byte, total)
	buf[0] = preLongs
	buf[1] = serial.SerVer
	buf[2] = serial.FamilyFrequency
	buf[3] = byte(s.lgMaxMapSize)
	buf[4] = byte(s.m.LgLength())
	var flags byte
	if empty {
		flags |= 0x04
	}
	buf[5] = flags
	buf[6] = s.ser.Byte()
	if !empty {
		serial.PutUint32(buf, 8, uint32(n))
		serial.PutInt64(buf, 16, s.streamLength)
		serial.PutInt64(buf, 24, s.offset)
		serial.PutInt64(buf, 32, s.mergeError)
		for i, c := range counts {
			serial.PutInt64(buf, 40+8*i, c)
		}
		copy(buf[40+8*n:], itemBytes)
	}
	return buf
}

// FromBytes reconstructs a Sketch from the bytes produced by ToBytes,
// validating preamble structure per the spec's Corruption rules.
func FromBytes[T comparable](buf []byte, hasher Hasher[T], ser Serializer[T]) (*Sketch[T], error) {
	const op = "frequent.FromBytes"
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
	if buf[2] != serial.FamilyFrequency {
		return nil, errs.NewCorruptionf(op, nil, "family id must be %d, got %d", serial.FamilyFrequency, buf[2])
	}
	lgMaxMapSize := int(buf[3])
	lgCurMapSize := int(buf[4])
	flags := buf[5]
	empty := flags&0x04 != 0
	if empty != (preLongs == 1) {
		return nil, errs.NewCorruptionf(op, nil, "EMPTY flag disagrees with preambleLongs=%d", preLongs)
	}
	if buf[6] != ser.Byte() {
		return nil, errs.NewCorruptionf(op, nil, "sketch type byte %d does not match caller's serializer %d", buf[6], ser.Byte())
	}

	s, err := New(lgMaxMapSize, hasher, ser)
	if err != nil {
		return nil, err
	}
	if empty {
		return s, nil
	}

	if err := serial.NeedBytes(op, buf, 40); err != nil {
		return nil, err
	}
	n := int(serial.GetUint32(buf, 8))
	streamLength := serial.GetInt64(buf, 16)
	offset := serial.GetInt64(buf, 24)
	mergeError := serial.GetInt64(buf, 32)

	if err := serial.NeedBytes(op, buf, 40+8*n); err != nil {
		return nil, err
	}
	counts := make([]int64, n)
	for i := range counts {
		counts[i] = serial.GetInt64(buf, 40+8*i)
	}
	items, err := ser.Decode(buf[40+8*n:], n)
	if err != nil {
		return nil, errs.NewCorruption(op, "failed to decode items", err)
	}
	if len(items) != n {
		return nil, errs.NewCorruptionf(op, nil, "decoded %d items, expected %d", len(items), n)
	}

	if lgCurMapSize < minLgMapSize || bits.OnesCount(uint(1)<<uint(lgCurMapSize)) != 1 {
		return nil, errs.NewCorruptionf(op, nil, "invalid lgCurMapSize %d", lgCurMapSize)
	}
	m, err := hashmap.New[T](1<<uint(lgCurMapSize), hasher, s.equal)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		if err := m.Adjust(item, counts[i]); err != nil {
			return nil, errs.NewCorruption(op, "invalid stored count", err)
		}
	}

	s.m = m
	s.curMapCap = m.Capacity()
	s.streamLength = streamLength
	s.offset = offset
	s.mergeError = mergeError
	return s, nil
}
