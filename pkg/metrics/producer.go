// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"strconv"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// NoCondition is the sentinel condition index meaning a metric has no
// `condition` configured; its effective condition is always True.
const NoCondition = -1

// DimLink binds a what-matcher dimension field to the corresponding field
// in a sliced condition's own dimension space (spec.md §3
// "metric_condition_links").
type DimLink struct {
	WhatField      int32
	ConditionField int32
}

// EffectiveCondition implements spec.md §4.4 step 2: an unsliced
// condition contributes its single current value; a sliced condition is
// queried by the key obtained from projecting the event's what-dimensions
// through links into the condition's own dimension space.
func EffectiveCondition(cw *condition.Wizard, condIdx int, conditionSliced bool, links []DimLink, whatKey dimkey.Tuple, builder *dimkey.Builder) condition.TriState {
	if condIdx == NoCondition {
		return condition.True
	}
	if !conditionSliced {
		return cw.Value(condIdx)
	}
	t := make(dimkey.Tuple, 0, len(links))
	for _, link := range links {
		for _, v := range whatKey {
			if v.Field == link.WhatField {
				t = append(t, dimkey.Value{Field: link.ConditionField, Str: v.Str})
			}
		}
	}
	return cw.SlicedValue(condIdx, builder.Key(t))
}

// stateFieldBase offsets synthetic dimkey fields used to fold state-tuple
// values into a producer's combined key, keeping them out of the range of
// real protobuf field numbers.
const stateFieldBase int32 = -1_000_000

// CombinedKey folds a metric's what-dimension tuple together with the
// pre-event state values from sliced_by_state (spec.md §4.4.1: "Slicing by
// state causes the counter to be keyed by (dim-key, state-tuple)") into a
// single dimkey.Key.
func CombinedKey(b *dimkey.Builder, whatKey dimkey.Tuple, stateValues []int64) dimkey.Key {
	if len(stateValues) == 0 {
		return b.Key(whatKey)
	}
	t := make(dimkey.Tuple, 0, len(whatKey)+len(stateValues))
	t = append(t, whatKey...)
	for i, v := range stateValues {
		t = append(t, dimkey.Value{Field: stateFieldBase - int32(i), Str: strconv.FormatInt(v, 10)})
	}
	return b.Key(t)
}

// ClosedBucket is the common envelope every producer variant emits when a
// bucket closes; Value carries the variant-specific payload (spec.md §9:
// "a sum type with six cases plus a shared BucketContext").
type ClosedBucket struct {
	StartNs int64
	EndNs   int64
	DimKey  dimkey.Tuple
	Value   any
}

// SumValue extracts the scalar an alert tracker sums over from a closed
// bucket's variant-specific Value, for the variants spec.md §4.7 alerts
// are meaningful against (Count, Duration, Numeric Value). Gauge, Sketch
// and Event carry no single summable scalar and report ok=false.
func SumValue(v any) (sum int64, ok bool) {
	switch t := v.(type) {
	case CountValue:
		return t.Count, true
	case DurationValue:
		return t.DurationNs, true
	case ValueValue:
		return t.Value, true
	default:
		return 0, false
	}
}

// Producer is the common surface every metric variant (count, duration,
// gauge, value, sketch, event) exposes to the compiler/dispatcher, so
// config.Installed can hold them uniformly instead of a tagged union.
type Producer interface {
	Flush(nowNs int64) []ClosedBucket
	FlushAndClear(nowNs int64) []ClosedBucket
	// DrainClosed returns and clears every bucket closed so far by the
	// ordinary flow of events crossing a bucket boundary, without forcing
	// the currently open bucket closed (spec.md §4.4 step 5: "crossing a
	// bucket boundary... emits an onBucketClosed to alerts"). The
	// dispatcher calls this after every event to feed pkg/alert without
	// disturbing in-progress aggregation.
	DrainClosed() []ClosedBucket
}
