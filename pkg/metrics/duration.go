// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// DurationAggregation selects how a Duration metric reduces the intervals
// observed per dim-key per bucket (spec.md §4.4.2).
type DurationAggregation int

// Duration aggregation modes.
const (
	DurationSum DurationAggregation = iota
	DurationMaxSparse
)

// DurationValue is the payload of a closed Duration bucket. Per spec.md
// §9's open-question resolution, MAX_SPARSE emits nothing for a bucket in
// which no interval time was recorded (neither a closed interval nor an
// in-progress one running through the bucket) -- there is no zero-value
// DurationValue.
type DurationValue struct {
	DurationNs int64
}

const (
	durStopped = iota
	durStarted
)

type durEntry struct {
	state     int
	nestCount int
	t0        int64
	accNs     int64
	maxNs     int64
	tuple     dimkey.Tuple
}

// DurationProducer tracks, per dim-key, the kStopped<->kStarted state
// machine of spec.md §4.4.2. It is driven by condition transitions rather
// than by individual matched events, because a condition can flip without
// a "what" event occurring at the same instant (this is the one variant
// whose trigger is condition.Wizard's listener cascade rather than the
// dispatcher's per-event "what" fan-out -- see pkg/config/compiler.go's
// Subscribe wiring). The per-bucket accumulation shape otherwise follows
// pkg/aggregator/counter.go's "accumulate across the bucket, flush resets"
// idiom in the teacher.
type DurationProducer struct {
	id      int64
	agg     DurationAggregation
	keeper  *BucketKeeper
	builder *dimkey.Builder

	entries map[dimkey.Key]*durEntry
	closed  []ClosedBucket
}

// NewDurationProducer builds a Duration producer for metric id.
func NewDurationProducer(id int64, agg DurationAggregation, originNs, bucketSizeNs int64, maxDims int, onLate, onOverflow func()) *DurationProducer {
	p := &DurationProducer{
		id:      id,
		agg:     agg,
		builder: dimkey.NewBuilder(),
		entries: make(map[dimkey.Key]*durEntry),
	}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, maxDims, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *DurationProducer) ID() int64 { return p.id }

// SetLimit applies a new max_dimensions_per_bucket.
func (p *DurationProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// OnConditionChange applies a start (condition False->True) or stop
// (condition True->False) transition for whatKey's dim-key. Nesting
// applies symmetrically: a nested start increments a per-key reference
// count, a nested stop decrements it, and the interval only actually
// closes on the 1->0 transition (spec.md §4.4.2 "Nesting applies to
// start/stop symmetrically").
func (p *DurationProducer) OnConditionChange(tNs int64, whatKey dimkey.Tuple, oldVal, newVal condition.TriState) {
	if oldVal == newVal {
		return
	}
	combined := CombinedKey(p.builder, whatKey, nil)
	eff, admitted := p.keeper.Admit(tNs, combined)
	if !admitted {
		return
	}
	e, ok := p.entries[eff]
	if !ok {
		e = &durEntry{tuple: whatKey}
		p.entries[eff] = e
	}

	switch newVal {
	case condition.True:
		e.nestCount++
		if e.state != durStarted {
			e.state = durStarted
			e.t0 = tNs
		}
	case condition.False:
		if e.nestCount > 0 {
			e.nestCount--
		}
		if e.nestCount == 0 && e.state == durStarted {
			p.accumulate(e, tNs-e.t0)
			e.state = durStopped
		}
	}
}

func (p *DurationProducer) accumulate(e *durEntry, interval int64) {
	if interval <= 0 {
		return
	}
	switch p.agg {
	case DurationSum:
		e.accNs += interval
	case DurationMaxSparse:
		if interval > e.maxNs {
			e.maxNs = interval
		}
	}
}

func (p *DurationProducer) flushInto(startNs, endNs int64) {
	for key, e := range p.entries {
		if e.state == durStarted {
			segStart := e.t0
			if segStart < startNs {
				segStart = startNs
			}
			p.accumulate(e, endNs-segStart)
			e.t0 = endNs
		}

		var val int64
		if p.agg == DurationSum {
			val = e.accNs
		} else {
			val = e.maxNs
		}
		if val > 0 {
			p.closed = append(p.closed, ClosedBucket{
				StartNs: startNs, EndNs: endNs, DimKey: e.tuple, Value: DurationValue{DurationNs: val},
			})
		}
		e.accNs, e.maxNs = 0, 0

		if e.state == durStopped && e.nestCount == 0 {
			delete(p.entries, key)
		}
	}
}

// Flush closes the open bucket and drains closed buckets produced so far.
func (p *DurationProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *DurationProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush and additionally drops every tracked
// key that is not mid-interval, matching Count's "nothing persists beyond
// the bucket" contract for finished keys while still honoring in-progress
// intervals across the reset (spec.md §6 "flush_and_clear").
func (p *DurationProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	out := p.Flush(nowNs)
	for key, e := range p.entries {
		if e.state == durStopped {
			delete(p.entries, key)
		}
	}
	return out
}
