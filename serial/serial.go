// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package serial provides the low-level little-endian encode/decode
// helpers shared by every sketch's bit-exact preamble codec. Each
// sketch package owns its own preamble layout (the byte meanings
// differ per family) but leans on these helpers for the mechanical
// parts: reading/writing fixed-width fields and turning a short read
// into a classified Corruption error.
package serial

import (
	"encoding/binary"
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/streamsketch/sketches/errs"
)

// Family identifiers, stable across serialization versions. RELATIVE
// is a value chosen for this library (see the design notes' open
// question about FrequentItems' family id, resolved the same way:
// pick one value and keep it stable everywhere it is checked).
const (
	FamilyFrequency             = 10
	FamilyQuantiles             = 11
	FamilyRelativeErrorQuantiles = 20
)

// SerVer is the single serialization version this library reads and
// writes; format-version negotiation beyond this is out of scope.
const SerVer = 1

// NeedBytes returns a Corruption error if buf is shorter than n
// bytes, naming op and the byte count involved.
func NeedBytes(op string, buf []byte, n int) error {
	if len(buf) < n {
		return errs.NewCorruptionf(op, pkgerrors.Errorf("need %d bytes, have %d", n, len(buf)),
			"truncated input")
	}
	return nil
}

// PutUint64 writes v little-endian at buf[off:off+8].
func PutUint64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}

// GetUint64 reads a little-endian uint64 from buf[off:off+8].
func GetUint64(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off : off+8])
}

// PutInt64 writes v little-endian at buf[off:off+8].
func PutInt64(buf []byte, off int, v int64) {
	PutUint64(buf, off, uint64(v))
}

// GetInt64 reads a little-endian int64 from buf[off:off+8].
func GetInt64(buf []byte, off int) int64 {
	return int64(GetUint64(buf, off))
}

// PutUint32 writes v little-endian at buf[off:off+4].
func PutUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// GetUint32 reads a little-endian uint32 from buf[off:off+4].
func GetUint32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// PutFloat64 writes v little-endian (via its IEEE-754 bit pattern) at
// buf[off:off+8].
func PutFloat64(buf []byte, off int, v float64) {
	PutUint64(buf, off, math.Float64bits(v))
}

// GetFloat64 reads a little-endian float64 from buf[off:off+8].
func GetFloat64(buf []byte, off int) float64 {
	return math.Float64frombits(GetUint64(buf, off))
}

// CorruptIf returns a Corruption error built from format/args when
// cond is true, else nil. A small helper to keep preamble validation
// blocks terse and consistently worded.
func CorruptIf(op string, cond bool, format string, args ...interface{}) error {
	if !cond {
		return nil
	}
	return errs.NewCorruptionf(op, pkgerrors.Errorf(format, args...), format, args...)
}
