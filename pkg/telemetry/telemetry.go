// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry exposes the runtime error counters of spec.md §7 as
// Prometheus metrics, grounded on
// comp/core/telemetry/telemetryimpl/simple_prom_counter.go's raw
// prometheus.Counter wrapper in the teacher. Runtime errors never abort
// the engine (spec.md §7: "absorbed by the affected metric"); this package
// is how they stay observable instead of silently disappearing.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/report"
	"github.com/DataDog/statsd-engine/pkg/uidmap"
)

// Kind is one of spec.md §7's runtime error kinds.
type Kind string

// Runtime error kinds, spec.md §7 "Runtime kinds".
const (
	LateEvent         Kind = "LATE_EVENT"
	OverDimensionLimit Kind = "OVER_DIMENSION_LIMIT"
	MapMemoryExceeded Kind = "MAP_MEMORY_EXCEEDED"
	PullTimeout       Kind = "PULL_TIMEOUT"
	PullFailed        Kind = "PULL_FAILED"
)

var allKinds = []Kind{LateEvent, OverDimensionLimit, MapMemoryExceeded, PullTimeout, PullFailed}

// Recorder counts runtime errors by kind, one CounterVec label per spec.md
// §7 kind. The counter is aggregated across every metric/config: spec.md
// says only that "each increments an observable counter", not that the
// counter is itself partitioned by metric ID, so a single label keeps
// cardinality flat regardless of configuration size.
type Recorder struct {
	counters *prometheus.CounterVec
}

// NewRecorder builds a Recorder and pre-registers every known kind at zero,
// so a report taken before any error occurs still lists every kind.
func NewRecorder() *Recorder {
	r := &Recorder{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statsd_engine",
			Name:      "runtime_errors_total",
			Help:      "Count of runtime errors absorbed per spec.md §7 kind.",
		}, []string{"kind"}),
	}
	for _, k := range allKinds {
		r.counters.WithLabelValues(string(k))
	}
	return r
}

// Register adds the Recorder's metrics to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	return reg.Register(r.counters)
}

// Inc increments kind's counter by one.
func (r *Recorder) Inc(kind Kind) {
	r.counters.WithLabelValues(string(kind)).Inc()
}

// Snapshot reads every kind's current count, for embedding in a
// report.ConfigReport (spec.md §7: "Runtime counters are reported alongside
// the next report dump").
func (r *Recorder) Snapshot() report.RuntimeCounters {
	out := make(report.RuntimeCounters, len(allKinds))
	metric := &dto.Metric{}
	for _, k := range allKinds {
		c := r.counters.WithLabelValues(string(k))
		if err := c.Write(metric); err != nil {
			continue
		}
		out[string(k)] = int64(metric.GetCounter().GetValue())
	}
	return out
}

// WireCompiler hooks r into c's runtime-error callbacks (pkg/config.Compiler
// OnLateEvent/OnDimensionOverflow), the metric ID itself is dropped per the
// aggregated-counter decision above.
func (r *Recorder) WireCompiler(c *config.Compiler) {
	c.OnLateEvent = func(metricID int64) { r.Inc(LateEvent) }
	c.OnDimensionOverflow = func(metricID int64) { r.Inc(OverDimensionLimit) }
}

// WireUidMap hooks r into m's change-log eviction callback
// (spec.md §7 "MAP_MEMORY_EXCEEDED").
func (r *Recorder) WireUidMap(m *uidmap.Map) {
	m.OnMemoryExceeded = func() { r.Inc(MapMemoryExceeded) }
}

// IncPullTimeout and IncPullFailed are called by the puller integration
// (spec.md §6: pullers are external collaborators this package doesn't
// implement) to surface PULL_TIMEOUT/PULL_FAILED alongside the counters
// this package drives internally.
func (r *Recorder) IncPullTimeout() { r.Inc(PullTimeout) }
func (r *Recorder) IncPullFailed()  { r.Inc(PullFailed) }
