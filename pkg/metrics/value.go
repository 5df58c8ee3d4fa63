// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import "github.com/DataDog/statsd-engine/pkg/dimkey"

// ValueAggregation selects how a Value metric reduces the samples observed
// per dim-key per bucket (spec.md §4.4.4).
type ValueAggregation int

// Value aggregation modes.
const (
	ValueSum ValueAggregation = iota
	ValueMin
	ValueMax
	ValueAvg
)

// ValueMode selects whether a Value metric reports the raw field value or
// the delta against the previous sample for the same dim-key.
type ValueMode int

// Value reporting modes.
const (
	ValueAbsolute ValueMode = iota
	ValueDiff
)

// ValueValue is the payload of a closed Value bucket.
type ValueValue struct {
	Value int64
}

type valueEntry struct {
	tuple     dimkey.Tuple
	hasBase   bool
	base      int64
	hasSample bool
	sum       int64
	count     int64
	min       int64
	max       int64
}

// ValueProducer implements the numeric Value variant: absolute or
// diff-against-previous-sample per dim-key, reduced across the bucket by
// sum/min/max/avg, grounded on pkg/aggregator/metric.go's Gauge/Rate
// accumulators in the teacher generalized to four reductions instead of
// DogStatsD's fixed last-value-wins gauge semantics.
type ValueProducer struct {
	id            int64
	agg           ValueAggregation
	mode          ValueMode
	skipZeroDiff  bool
	keeper        *BucketKeeper
	builder       *dimkey.Builder

	entries map[dimkey.Key]*valueEntry
	closed  []ClosedBucket
}

// NewValueProducer builds a Value producer for metric id.
func NewValueProducer(id int64, agg ValueAggregation, mode ValueMode, skipZeroDiff bool, originNs, bucketSizeNs int64, maxDims int, onLate, onOverflow func()) *ValueProducer {
	p := &ValueProducer{
		id:           id,
		agg:          agg,
		mode:         mode,
		skipZeroDiff: skipZeroDiff,
		builder:      dimkey.NewBuilder(),
		entries:      make(map[dimkey.Key]*valueEntry),
	}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, maxDims, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *ValueProducer) ID() int64 { return p.id }

// SetLimit applies a new max_dimensions_per_bucket.
func (p *ValueProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// Record applies one matched event carrying the value field's raw reading.
func (p *ValueProducer) Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, raw int64) {
	key := CombinedKey(p.builder, whatKey, stateValues)
	eff, admitted := p.keeper.Admit(tNs, key)
	if !admitted {
		return
	}
	e, ok := p.entries[eff]
	if !ok {
		e = &valueEntry{tuple: whatKey}
		p.entries[eff] = e
	}

	var v int64
	if p.mode == ValueDiff {
		if !e.hasBase {
			e.hasBase = true
			e.base = raw
			return
		}
		v = raw - e.base
		e.base = raw
	} else {
		v = raw
	}

	if !e.hasSample {
		e.hasSample = true
		e.min, e.max = v, v
	} else {
		if v < e.min {
			e.min = v
		}
		if v > e.max {
			e.max = v
		}
	}
	e.sum += v
	e.count++
}

func (p *ValueProducer) flushInto(startNs, endNs int64) {
	for key, e := range p.entries {
		if e.hasSample {
			var out int64
			switch p.agg {
			case ValueSum:
				out = e.sum
			case ValueMin:
				out = e.min
			case ValueMax:
				out = e.max
			case ValueAvg:
				out = e.sum / e.count
			}
			if !(p.mode == ValueDiff && p.skipZeroDiff && out == 0) {
				p.closed = append(p.closed, ClosedBucket{
					StartNs: startNs, EndNs: endNs, DimKey: e.tuple, Value: ValueValue{Value: out},
				})
			}
		}
		e.hasSample = false
		e.sum, e.count, e.min, e.max = 0, 0, 0, 0
		if p.mode != ValueDiff {
			delete(p.entries, key)
		}
	}
}

// Flush closes the open bucket and drains closed buckets produced so far.
func (p *ValueProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *ValueProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush and additionally forgets every
// diff-mode baseline, so the next sample after the reset establishes a
// fresh baseline instead of reporting a delta across the gap.
func (p *ValueProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	out := p.Flush(nowNs)
	p.entries = make(map[dimkey.Key]*valueEntry)
	return out
}
