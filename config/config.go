// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package config loads sketch construction parameters from YAML,
// using gopkg.in/yaml.v2 the same way the teacher repo's own
// cmd/ocprometheus config loader does, so benchmark and fixture code
// (or callers who prefer config-file-driven construction) don't have
// to hardcode parameters. It has no bearing on wire format or error
// bounds: it is a convenience layer over the plain constructors in
// the frequent, quantiles and req packages.
package config

import (
	"math/bits"

	"gopkg.in/yaml.v2"

	"github.com/streamsketch/sketches/errs"
)

// Kind names which sketch family a SketchConfig configures.
type Kind string

const (
	KindFrequent  Kind = "frequent"
	KindQuantiles Kind = "quantiles"
	KindReq       Kind = "req"
)

// SketchConfig is the YAML representation of one sketch's
// construction parameters. Unused fields for a given Kind are simply
// ignored by Validate.
type SketchConfig struct {
	Kind Kind `yaml:"kind"`
	K    int  `yaml:"k,omitempty"`
	// LgMaxMapSize and LgCurMapSize are KindFrequent-only: the cap on
	// map growth and, optionally, the initial map size a caller who
	// knows roughly how many distinct items to expect can pre-grow to
	// via frequent.NewWithCurSize. Zero means "start at the minimum".
	LgMaxMapSize int    `yaml:"lgMaxMapSize,omitempty"`
	LgCurMapSize int    `yaml:"lgCurMapSize,omitempty"`
	HRA          bool   `yaml:"hra,omitempty"`
	Seed         uint64 `yaml:"seed,omitempty"`
}

// Load parses YAML bytes into a SketchConfig and validates it against
// its Kind's domain constraints. The loader never silently clamps an
// out-of-range value; it reports a Domain error instead.
func Load(data []byte) (*SketchConfig, error) {
	const op = "config.Load"
	var c SketchConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errs.NewCorruption(op, "invalid YAML", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that c's fields satisfy the domain constraints of
// its Kind.
func (c *SketchConfig) Validate() error {
	const op = "config.Validate"
	switch c.Kind {
	case KindFrequent:
		if c.LgMaxMapSize < 2 {
			return errs.NewDomainf(op, "lgMaxMapSize must be >= 2, got %d", c.LgMaxMapSize)
		}
		if c.LgCurMapSize != 0 && (c.LgCurMapSize < 2 || c.LgCurMapSize > c.LgMaxMapSize) {
			return errs.NewDomainf(op, "lgCurMapSize must be 0 or in [2, lgMaxMapSize=%d], got %d", c.LgMaxMapSize, c.LgCurMapSize)
		}
	case KindQuantiles:
		if !isPowerOfTwoInRange(c.K, 2, 32768) {
			return errs.NewDomainf(op, "k must be a power of two in [2, 32768], got %d", c.K)
		}
	case KindReq:
		if c.K < 4 {
			return errs.NewDomainf(op, "k must be >= 4, got %d", c.K)
		}
	default:
		return errs.NewDomainf(op, "unknown sketch kind %q", c.Kind)
	}
	return nil
}

func isPowerOfTwoInRange(n, lo, hi int) bool {
	return n >= lo && n <= hi && bits.OnesCount(uint(n)) == 1
}
