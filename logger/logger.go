// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package logger defines a generic logging interface so the sketch
// packages don't have to depend directly on aristanetworks/glog.
package logger

// Logger is an interface to pass a generic logger without depending on
// aristanetworks/glog directly. Every sketch constructor defaults to
// the no-op implementation returned by Nop, so instrumentation is
// opt-in.
type Logger interface {
	// Debug logs at the debug level. Sketches use this for
	// state-machine transitions (resize, purge, carry propagation,
	// compaction) that are useful when diagnosing accuracy issues but
	// too noisy for routine operation.
	Debug(args ...interface{})
	// Debugf logs at the debug level, with format.
	Debugf(format string, args ...interface{})
	// Info logs at the info level.
	Info(args ...interface{})
	// Infof logs at the info level, with format.
	Infof(format string, args ...interface{})
	// Error logs at the error level.
	Error(args ...interface{})
	// Errorf logs at the error level, with format.
	Errorf(format string, args ...interface{})
	// Fatal logs at the fatal level.
	Fatal(args ...interface{})
	// Fatalf logs at the fatal level, with format.
	Fatalf(format string, args ...interface{})
}

type nop struct{}

func (nop) Debug(args ...interface{})                 {}
func (nop) Debugf(format string, args ...interface{}) {}
func (nop) Info(args ...interface{})                  {}
func (nop) Infof(format string, args ...interface{})  {}
func (nop) Error(args ...interface{})                 {}
func (nop) Errorf(format string, args ...interface{}) {}
func (nop) Fatal(args ...interface{})                 {}
func (nop) Fatalf(format string, args ...interface{}) {}

// Nop returns a Logger that discards everything. It is the default
// logger for every sketch constructor.
func Nop() Logger { return nop{} }
