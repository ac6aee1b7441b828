// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package glog adapts github.com/aristanetworks/glog to the
// logger.Logger interface so sketch packages can be handed a Glog
// value wherever a logger.Logger is expected.
package glog

import "github.com/aristanetworks/glog"

// Glog implements logger.Logger on top of aristanetworks/glog.
// DebugLevel and InfoLevel are glog verbosity levels (default 0, which
// glog always emits); sketches log state-machine transitions at
// DebugLevel, so they stay silent only when DebugLevel is set above
// the process's -v verbosity.
type Glog struct {
	DebugLevel glog.Level
	InfoLevel  glog.Level
}

// Debug logs at the debug verbosity level.
func (g *Glog) Debug(args ...interface{}) {
	glog.V(g.DebugLevel).Info(args...)
}

// Debugf logs at the debug verbosity level, with format.
func (g *Glog) Debugf(format string, args ...interface{}) {
	glog.V(g.DebugLevel).Infof(format, args...)
}

// Info logs at the info level.
func (g *Glog) Info(args ...interface{}) {
	glog.V(g.InfoLevel).Info(args...)
}

// Infof logs at the info level, with format.
func (g *Glog) Infof(format string, args ...interface{}) {
	glog.V(g.InfoLevel).Infof(format, args...)
}

// Error logs at the error level.
func (g *Glog) Error(args ...interface{}) {
	glog.Error(args...)
}

// Errorf logs at the error level, with format.
func (g *Glog) Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Fatal logs at the fatal level.
func (g *Glog) Fatal(args ...interface{}) {
	glog.Fatal(args...)
}

// Fatalf logs at the fatal level, with format.
func (g *Glog) Fatalf(format string, args ...interface{}) {
	glog.Fatalf(format, args...)
}
