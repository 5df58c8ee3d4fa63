// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import "github.com/DataDog/statsd-engine/pkg/dimkey"

// CountValue is the payload of a closed Count bucket (spec.md §4.4.1).
type CountValue struct {
	Count int64
}

// CountProducer increments a per dim-key counter by one for every matched
// event, the way pkg/aggregator.Counter accumulates DogStatsD counter
// samples per bucket in the teacher, generalized here to the engine's own
// dim-key/state-tuple keying instead of a tag-string context key.
type CountProducer struct {
	id      int64
	keeper  *BucketKeeper
	builder *dimkey.Builder

	counts map[dimkey.Key]int64
	tuples map[dimkey.Key]dimkey.Tuple
	closed []ClosedBucket
}

// NewCountProducer builds a Count producer for metric id.
func NewCountProducer(id int64, originNs, bucketSizeNs int64, maxDims int, onLate, onOverflow func()) *CountProducer {
	p := &CountProducer{
		id:      id,
		builder: dimkey.NewBuilder(),
		counts:  make(map[dimkey.Key]int64),
		tuples:  make(map[dimkey.Key]dimkey.Tuple),
	}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, maxDims, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *CountProducer) ID() int64 { return p.id }

// SetLimit applies a new max_dimensions_per_bucket (spec.md §4.4
// "Dimension limit").
func (p *CountProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// Record applies one matched event to the dim-key's counter.
func (p *CountProducer) Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64) {
	key := CombinedKey(p.builder, whatKey, stateValues)
	eff, admitted := p.keeper.Admit(tNs, key)
	if !admitted {
		return
	}
	p.counts[eff]++
	if eff == dimkey.OverLimit {
		p.tuples[eff] = dimkey.Tuple{{Field: -1, Str: "OVER_LIMIT"}}
	} else {
		p.tuples[eff] = whatKey
	}
}

func (p *CountProducer) flushInto(startNs, endNs int64) {
	for k, c := range p.counts {
		p.closed = append(p.closed, ClosedBucket{
			StartNs: startNs, EndNs: endNs, DimKey: p.tuples[k], Value: CountValue{Count: c},
		})
	}
	p.counts = make(map[dimkey.Key]int64)
	p.tuples = make(map[dimkey.Key]dimkey.Tuple)
}

// Flush closes the currently open bucket and drains every closed bucket
// produced so far, including ones closed earlier by bucket-boundary
// crossings (spec.md §6 "flush").
func (p *CountProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *CountProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush; Count carries no state beyond the
// open bucket, so there is nothing additional to clear (spec.md §6
// "flush_and_clear").
func (p *CountProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	return p.Flush(nowNs)
}
