// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package report assembles the in-memory dump structures returned by
// flush/flush_and_clear (spec.md §6: "a proto stream containing, per
// metric: ordered closed buckets... plus the UidMap snapshot and change
// log"). Output-proto encoding is explicitly out of scope (spec.md §1), so
// this package stops at plain data structs and a thin Writer for
// debug/operator consumption, the same split pkg/aggregator/sketch_series.go
// draws between a serializable struct and the marshaling done elsewhere.
package report

import (
	"encoding/json"
	"io"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/uidmap"
)

// Bucket is one closed bucket rendered for report output: dimkey.Tuple and
// the variant-specific value are flattened into JSON-friendly shapes so
// callers never need to know about metrics.ClosedBucket's "any" value.
type Bucket struct {
	StartNs    int64          `json:"start_ns"`
	EndNs      int64          `json:"end_ns"`
	Dimensions dimkey.Tuple   `json:"dimensions,omitempty"`
	Value      map[string]any `json:"value"`
}

// renderValue flattens a metrics.ClosedBucket.Value into a plain map,
// variant by variant, so every value ends up JSON-serializable regardless
// of internal fields (SketchValue.Sketch, notably, is not).
func renderValue(v any) map[string]any {
	switch t := v.(type) {
	case metrics.CountValue:
		return map[string]any{"count": t.Count}
	case metrics.DurationValue:
		return map[string]any{"duration_ns": t.DurationNs}
	case metrics.GaugeValue:
		return map[string]any{"samples": t.Samples}
	case metrics.ValueValue:
		return map[string]any{"value": t.Value}
	case []metrics.EventValue:
		events := make([]map[string]any, len(t))
		for i, ev := range t {
			events[i] = map[string]any{"timestamp_ns": ev.TimestampNs, "fields": ev.Fields}
		}
		return map[string]any{"events": events}
	case metrics.SketchValue:
		out := map[string]any{"count": t.Count}
		if t.Sketch != nil {
			if p50, err := t.Sketch.GetValueAtQuantile(0.5); err == nil {
				out["p50"] = p50
			}
			if p90, err := t.Sketch.GetValueAtQuantile(0.9); err == nil {
				out["p90"] = p90
			}
			if p99, err := t.Sketch.GetValueAtQuantile(0.99); err == nil {
				out["p99"] = p99
			}
		}
		return out
	default:
		return nil
	}
}

func renderBuckets(closed []metrics.ClosedBucket) []Bucket {
	out := make([]Bucket, len(closed))
	for i, cb := range closed {
		out[i] = Bucket{StartNs: cb.StartNs, EndNs: cb.EndNs, Dimensions: cb.DimKey, Value: renderValue(cb.Value)}
	}
	return out
}

// RuntimeCounters is the kind->count snapshot of spec.md §7's runtime error
// taxonomy ("Runtime counters are reported alongside the next report
// dump"), populated from pkg/telemetry.
type RuntimeCounters map[string]int64

// ConfigReport is the full response to one flush/flush_and_clear call
// against one configuration key (spec.md §6).
type ConfigReport struct {
	ConfigUID     int32              `json:"config_uid"`
	ConfigID      int64              `json:"config_id"`
	GeneratedAtNs int64              `json:"generated_at_ns"`
	Cleared       bool               `json:"cleared"`
	Metrics       map[int64][]Bucket `json:"metrics"`
	UidMap        *uidmap.Report     `json:"uid_map,omitempty"`
	RuntimeErrors RuntimeCounters    `json:"runtime_errors,omitempty"`
}

// Build assembles a ConfigReport from one Engine.Flush/FlushAndClear call's
// output plus the UidMap report and telemetry snapshot taken for the same
// dump (spec.md §6's three report components travel together).
func Build(key config.Key, nowNs int64, cleared bool, closed map[int64][]metrics.ClosedBucket, uidReport *uidmap.Report, counters RuntimeCounters) ConfigReport {
	metricsOut := make(map[int64][]Bucket, len(closed))
	for id, buckets := range closed {
		metricsOut[id] = renderBuckets(buckets)
	}
	return ConfigReport{
		ConfigUID:     key.UID,
		ConfigID:      key.ID,
		GeneratedAtNs: nowNs,
		Cleared:       cleared,
		Metrics:       metricsOut,
		UidMap:        uidReport,
		RuntimeErrors: counters,
	}
}

// Writer emits a ConfigReport to its destination. JSONWriter is the only
// implementation this package carries; operators wanting a different
// transport (HTTP response, gRPC stream) wrap a Writer around it rather
// than this package growing transport-specific code.
type Writer interface {
	WriteReport(ConfigReport) error
}

// JSONWriter writes reports as newline-delimited JSON, the same shape the
// teacher's own debug/expvar dumps use (plain struct, json tags, no custom
// wire format) since the actual report proto encoding is out of scope.
type JSONWriter struct {
	w io.Writer
}

// NewJSONWriter wraps w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// WriteReport marshals r as one JSON object followed by a newline.
func (j *JSONWriter) WriteReport(r ConfigReport) error {
	enc := json.NewEncoder(j.w)
	return enc.Encode(r)
}
