// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package rng supplies the pluggable uniform-random capability used by
// the hash-map purge sampler and the relative-error compactors' coin
// flips. It wraps golang.org/x/exp/rand, the generator the teacher
// repo already pulls in for its own randomized hash-map operations,
// so that callers who need reproducible sketches under a fixed seed
// can get them.
package rng

import "golang.org/x/exp/rand"

// Source is the uniform-random capability every sketch takes an
// optional dependency on. Seeding a Source makes purge sampling and
// compactor coin flips reproducible, which is required for property
// tests that assert exact offsets/medians.
type Source interface {
	// Intn returns a pseudo-random int in [0, n). Panics if n <= 0.
	Intn(n int) int
	// Float64 returns a pseudo-random float64 in [0.0, 1.0).
	Float64() float64
	// Bool returns a pseudo-random boolean, used for compactor
	// coin-flip tie breaks.
	Bool() bool
}

type source struct {
	r *rand.Rand
}

// New returns a Source seeded deterministically from seed. The same
// seed always produces the same sequence of draws.
func New(seed uint64) Source {
	return &source{r: rand.New(rand.NewSource(seed))}
}

func (s *source) Intn(n int) int {
	return s.r.Intn(n)
}

func (s *source) Float64() float64 {
	return s.r.Float64()
}

func (s *source) Bool() bool {
	return s.r.Intn(2) == 0
}
