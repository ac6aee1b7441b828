// Copyright (c) 2026 Streamsketch Authors.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package metrics bundles the optional prometheus.Collector wiring
// every sketch can register: counters for state-machine transitions
// (resize, purge, compaction) and a gauge for retained item counts,
// mirroring the teacher repo's own use of
// github.com/prometheus/client_golang for operational counters. A nil
// registry, or the default Nop collector, is always legal: no sketch
// depends on metrics being registered.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector records the operational events a sketch's state machine
// emits. Implementations must be safe to call from the single writer
// goroutine that owns the sketch; no concurrency guarantees beyond
// that are required.
type Collector interface {
	// IncResize records a hash-map or compactor growth.
	IncResize()
	// IncPurge records a reverse-purge-hash-map purge.
	IncPurge()
	// IncCompaction records a relative-error compactor compaction.
	IncCompaction()
	// SetActive records the current number of retained/active items
	// for the named sketch kind (e.g. "frequent", "quantiles", "req").
	SetActive(kind string, n float64)
}

type nopCollector struct{}

func (nopCollector) IncResize()                {}
func (nopCollector) IncPurge()                 {}
func (nopCollector) IncCompaction()            {}
func (nopCollector) SetActive(string, float64) {}

// Nop returns a Collector that discards every observation. It is the
// default for every sketch constructor.
func Nop() Collector { return nopCollector{} }

// Prom implements Collector on top of
// github.com/prometheus/client_golang/prometheus.
type Prom struct {
	resizes     prometheus.Counter
	purges      prometheus.Counter
	compactions prometheus.Counter
	active      *prometheus.GaugeVec
}

// New builds a Prom collector. If reg is non-nil, the underlying
// metrics are registered against it; passing nil builds the metrics
// without registering them, which is useful in tests that want the
// Collector behavior without a live registry.
func New(reg prometheus.Registerer) *Prom {
	p := &Prom{
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamsketch_resizes_total",
			Help: "Number of hash-map or compactor growth events.",
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamsketch_purges_total",
			Help: "Number of reverse-purge-hash-map purges.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamsketch_compactions_total",
			Help: "Number of relative-error compactor compactions.",
		}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamsketch_active_items",
			Help: "Number of currently retained/active items, by sketch kind.",
		}, []string{"sketch"}),
	}
	if reg != nil {
		reg.MustRegister(p.resizes, p.purges, p.compactions, p.active)
	}
	return p
}

// IncResize increments the resize counter.
func (p *Prom) IncResize() { p.resizes.Inc() }

// IncPurge increments the purge counter.
func (p *Prom) IncPurge() { p.purges.Inc() }

// IncCompaction increments the compaction counter.
func (p *Prom) IncCompaction() { p.compactions.Inc() }

// SetActive sets the active-item gauge for the given sketch kind.
func (p *Prom) SetActive(kind string, n float64) { p.active.WithLabelValues(kind).Set(n) }
