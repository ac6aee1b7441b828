// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hashmap implements the reverse-purge hash map used by the
// frequent-items sketch: an open-addressed, linear-probing map whose
// deletions use Robin-Hood-style backward shifting (adapted from the
// teacher's Hashmap[K,V]) plus a rank-based purge operation
// that is unique to frequency estimation and has no analogue in a
// general-purpose map.
package hashmap

import (
	"math/bits"
	"sort"

	"github.com/streamsketch/sketches/errs"
	"github.com/streamsketch/sketches/rng"
)

const loadFactor = 0.75

// ReversePurgeMap is an open-addressed hash map from K to a positive
// int64 count, supporting Adjust (increment-or-insert), rank-based
// Purge, and Resize, per the frequent-items sketch's data model.
type ReversePurgeMap[K comparable] struct {
	keys      []K
	values    []int64
	states    []uint8 // 0 = empty, n = n-1 probes from ideal slot
	numActive int
	hash      func(K) uint64
	equal     func(K, K) bool
}

// New creates a ReversePurgeMap with the given initial length, which
// must be a power of two >= 4. hash and equal let the map index keys
// that are not natively hashable/comparable in the way the sketch
// needs (e.g. hashing the bytes of a struct rather than its identity).
func New[K comparable](length int, hash func(K) uint64, equal func(K, K) bool) (*ReversePurgeMap[K], error) {
	const op = "ReversePurgeMap.New"
	if length < 4 || bits.OnesCount(uint(length)) != 1 {
		return nil, errs.NewDomainf(op, "length must be a power of two >= 4, got %d", length)
	}
	return &ReversePurgeMap[K]{
		keys:   make([]K, length),
		values: make([]int64, length),
		states: make([]uint8, length),
		hash:   hash,
		equal:  equal,
	}, nil
}

// NumActive returns the number of non-empty slots.
func (m *ReversePurgeMap[K]) NumActive() int { return m.numActive }

// Length returns the physical number of slots.
func (m *ReversePurgeMap[K]) Length() int { return len(m.keys) }

// LgLength returns log2 of the physical number of slots.
func (m *ReversePurgeMap[K]) LgLength() int { return bits.TrailingZeros(uint(len(m.keys))) }

// Capacity returns floor(loadFactor * length), the number of active
// entries the map is allowed to hold before it must resize or purge.
func (m *ReversePurgeMap[K]) Capacity() int {
	return int(loadFactor * float64(len(m.keys)))
}

func (m *ReversePurgeMap[K]) idealSlot(h uint64) int {
	return int(h) & (len(m.keys) - 1)
}

// Get returns the value stored for key, and whether key is present.
func (m *ReversePurgeMap[K]) Get(key K) (int64, bool) {
	mask := len(m.keys) - 1
	probe := m.idealSlot(m.hash(key))
	for m.states[probe] != 0 {
		if m.equal(m.keys[probe], key) {
			return m.values[probe], true
		}
		probe = (probe + 1) & mask
	}
	return 0, false
}

// Adjust increments the value associated with key by delta, inserting
// key with value delta if absent. delta must be strictly positive.
func (m *ReversePurgeMap[K]) Adjust(key K, delta int64) error {
	const op = "ReversePurgeMap.Adjust"
	if delta <= 0 {
		return errs.NewDomainf(op, "delta must be positive, got %d", delta)
	}
	mask := len(m.keys) - 1
	probe := m.idealSlot(m.hash(key))
	drift := uint8(1)
	for m.states[probe] != 0 && !m.equal(m.keys[probe], key) {
		probe = (probe + 1) & mask
		drift++
	}
	if m.states[probe] == 0 {
		m.keys[probe] = key
		m.values[probe] = delta
		m.states[probe] = drift
		m.numActive++
		return nil
	}
	m.values[probe] += delta
	return nil
}

// Resize reallocates the map to newLength (a power of two not smaller
// than the current length) and reinserts every active entry at its
// new ideal slot. numActive and every stored value are preserved.
func (m *ReversePurgeMap[K]) Resize(newLength int) error {
	const op = "ReversePurgeMap.Resize"
	if newLength < len(m.keys) || bits.OnesCount(uint(newLength)) != 1 {
		return errs.NewDomainf(op, "newLength must be a power of two >= current length %d, got %d",
			len(m.keys), newLength)
	}
	oldKeys, oldValues, oldStates := m.keys, m.values, m.states
	m.keys = make([]K, newLength)
	m.values = make([]int64, newLength)
	m.states = make([]uint8, newLength)
	m.numActive = 0
	for i, st := range oldStates {
		if st != 0 {
			// Adjust cannot fail here: every stored value is
			// positive, and the new table is at least as large as
			// the old one.
			_ = m.Adjust(oldKeys[i], oldValues[i])
		}
	}
	return nil
}

// Purge samples up to sampleSize active values (without replacement,
// uniformly), computes their approximate median, subtracts it from
// every active value, deletes every entry whose value is now <= 0
// (using Robin-Hood backward-shift deletion to preserve probe-distance
// invariants for survivors), and returns the median so the caller can
// fold it into a running offset.
func (m *ReversePurgeMap[K]) Purge(sampleSize int, r rng.Source) int64 {
	limit := sampleSize
	if m.numActive < limit {
		limit = m.numActive
	}
	if limit == 0 {
		return 0
	}
	active := make([]int, 0, m.numActive)
	for i, st := range m.states {
		if st != 0 {
			active = append(active, i)
		}
	}
	// Fisher-Yates partial shuffle to draw `limit` indices without
	// replacement, uniformly.
	for i := 0; i < limit; i++ {
		j := i + r.Intn(len(active)-i)
		active[i], active[j] = active[j], active[i]
	}
	samples := make([]int64, limit)
	for i := 0; i < limit; i++ {
		samples[i] = m.values[active[i]]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	median := samples[limit/2]

	for i := range m.values {
		if m.states[i] != 0 {
			m.values[i] -= median
		}
	}
	m.keepOnlyPositive()
	return median
}

// keepOnlyPositive deletes every active entry whose value is <= 0,
// using the Robin-Hood backward-shift so that remaining entries'
// states[] probe distances stay correct.
func (m *ReversePurgeMap[K]) keepOnlyPositive() {
	for i := 0; i < len(m.states); {
		if m.states[i] != 0 && m.values[i] <= 0 {
			// hashDelete may shift a neighbour back into slot i, so
			// slot i is checked again before moving on.
			m.hashDelete(i)
		} else {
			i++
		}
	}
}

func (m *ReversePurgeMap[K]) hashDelete(deleteProbe int) {
	mask := len(m.keys) - 1
	m.states[deleteProbe] = 0
	m.numActive--
	drift := uint8(1)
	probe := (deleteProbe + 1) & mask
	for m.states[probe] != 0 {
		if m.states[probe] > drift {
			m.keys[deleteProbe] = m.keys[probe]
			m.values[deleteProbe] = m.values[probe]
			m.states[deleteProbe] = m.states[probe] - drift
			m.states[probe] = 0
			drift = 0
			deleteProbe = probe
		}
		probe = (probe + 1) & mask
		drift++
	}
}

// Range calls fn for every active (key, value) pair, in arbitrary
// order. fn must not mutate the map. Range stops early if fn returns
// false.
func (m *ReversePurgeMap[K]) Range(fn func(key K, value int64) bool) {
	for i, st := range m.states {
		if st != 0 {
			if !fn(m.keys[i], m.values[i]) {
				return
			}
		}
	}
}
