// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package buffer implements SortedBuffer, a growable array of
// float64 values with an optional "space at bottom" orientation, used
// as the backing storage for both the quantiles sketch's levels and
// the relative-error sketch's compactors.
package buffer

import (
	"sort"

	"github.com/streamsketch/sketches/errs"
)

// SortedBuffer is a growable array of float64 values occupying either
// the low end ([0, count)) or the high end ([capacity-count,
// capacity)) of its backing array, depending on spaceAtBottom. Public
// offsets are always relative to the active region, so callers never
// need to know the orientation.
type SortedBuffer struct {
	data          []float64
	count         int
	delta         int
	sorted        bool
	spaceAtBottom bool
}

// New creates an empty SortedBuffer with the given initial capacity
// and growth step delta. spaceAtBottom selects which end of the
// backing array holds the active region.
func New(capacity, delta int, spaceAtBottom bool) *SortedBuffer {
	return &SortedBuffer{
		data:          make([]float64, capacity),
		delta:         delta,
		spaceAtBottom: spaceAtBottom,
		sorted:        true,
	}
}

// Len returns the number of active items.
func (b *SortedBuffer) Len() int { return b.count }

// Capacity returns the size of the backing array.
func (b *SortedBuffer) Capacity() int { return len(b.data) }

// IsSorted reports whether the active region is known to be sorted.
func (b *SortedBuffer) IsSorted() bool { return b.sorted }

// activeStart returns the index of the first active slot.
func (b *SortedBuffer) activeStart() int {
	if b.spaceAtBottom {
		return len(b.data) - b.count
	}
	return 0
}

// At returns the i'th active item (0-indexed into the active region).
func (b *SortedBuffer) At(i int) float64 {
	return b.data[b.activeStart()+i]
}

// Items returns a copy of the active region, in active order.
func (b *SortedBuffer) Items() []float64 {
	out := make([]float64, b.count)
	copy(out, b.data[b.activeStart():b.activeStart()+b.count])
	return out
}

// Append adds x to the active region in amortized constant time. It
// clears the sorted flag unless the buffer was empty (a single-item
// buffer is trivially sorted), and grows the backing array by delta
// when full.
func (b *SortedBuffer) Append(x float64) {
	if b.count == len(b.data) {
		b.grow(b.delta)
	}
	wasEmpty := b.count == 0
	if b.spaceAtBottom {
		b.data[len(b.data)-b.count-1] = x
	} else {
		b.data[b.count] = x
	}
	b.count++
	if !wasEmpty {
		b.sorted = false
	}
}

func (b *SortedBuffer) grow(by int) {
	if by <= 0 {
		by = 1
	}
	newData := make([]float64, len(b.data)+by)
	if b.spaceAtBottom {
		copy(newData[len(newData)-b.count:], b.data[len(b.data)-b.count:])
	} else {
		copy(newData, b.data[:b.count])
	}
	b.data = newData
}

// Sort sorts the active region in place and sets the sorted flag. It
// is a no-op if the buffer is already known to be sorted.
func (b *SortedBuffer) Sort() {
	if b.sorted {
		return
	}
	start := b.activeStart()
	sort.Float64s(b.data[start : start+b.count])
	b.sorted = true
}

// MergeSortIn merges other into b, producing a new SortedBuffer whose
// active region is the sorted union (as a multiset) of b's and
// other's active regions. Both buffers must already be sorted.
func (b *SortedBuffer) MergeSortIn(other *SortedBuffer) (*SortedBuffer, error) {
	const op = "SortedBuffer.MergeSortIn"
	if !b.sorted || !other.sorted {
		return nil, errs.NewStatef(op, "both buffers must be sorted before merging")
	}
	total := b.count + other.count
	out := New(total, 0, b.spaceAtBottom)
	out.count = total
	out.sorted = true

	ai, bi := b.Items(), other.Items()
	i, j := 0, 0
	dst := make([]float64, 0, total)
	for i < len(ai) && j < len(bi) {
		// Stable with respect to equal keys: prefer b's element on
		// ties so a caller merging "other into self" sees self's
		// items retain their relative order.
		if ai[i] <= bi[j] {
			dst = append(dst, ai[i])
			i++
		} else {
			dst = append(dst, bi[j])
			j++
		}
	}
	dst = append(dst, ai[i:]...)
	dst = append(dst, bi[j:]...)

	start := out.activeStart()
	copy(out.data[start:start+total], dst)
	return out, nil
}

// GetCountLtOrEq sorts lazily, then returns the count of active
// elements strictly less than value (lteq == false) or less than or
// equal to value (lteq == true).
func (b *SortedBuffer) GetCountLtOrEq(value float64, lteq bool) int {
	b.Sort()
	start := b.activeStart()
	region := b.data[start : start+b.count]
	if lteq {
		return sort.Search(len(region), func(i int) bool { return region[i] > value })
	}
	return sort.Search(len(region), func(i int) bool { return region[i] >= value })
}

// GetEvensOrOdds sorts the active sub-range [start, end) and returns
// a new sorted buffer containing every other element: the elements at
// even offsets within the range when odds is false, at odd offsets
// when odds is true. end-start must be even.
func (b *SortedBuffer) GetEvensOrOdds(start, end int, odds bool) (*SortedBuffer, error) {
	const op = "SortedBuffer.GetEvensOrOdds"
	if (end-start)%2 != 0 {
		return nil, errs.NewDomainf(op, "range [%d, %d) must have even length, got %d", start, end, end-start)
	}
	b.Sort()
	base := b.activeStart()
	region := b.data[base+start : base+end]
	sort.Float64s(region)

	out := New((end-start)/2, 0, b.spaceAtBottom)
	offset := 0
	if odds {
		offset = 1
	}
	for i := offset; i < len(region); i += 2 {
		out.Append(region[i])
	}
	out.sorted = true
	return out, nil
}

// TrimCapacity shrinks the backing array to exactly fit the active
// region. It never grows the backing array.
func (b *SortedBuffer) TrimCapacity() {
	if len(b.data) == b.count {
		return
	}
	newData := make([]float64, b.count)
	start := b.activeStart()
	copy(newData, b.data[start:start+b.count])
	b.data = newData
}

// TrimLength shrinks the logical length to n, discarding items beyond
// the active region's first n entries. It never grows the length.
func (b *SortedBuffer) TrimLength(n int) error {
	const op = "SortedBuffer.TrimLength"
	if n > b.count {
		return errs.NewDomainf(op, "cannot trim length to %d, buffer only holds %d active items", n, b.count)
	}
	if b.spaceAtBottom {
		start := b.activeStart()
		copy(b.data[len(b.data)-n:], b.data[start:start+n])
	}
	b.count = n
	return nil
}
