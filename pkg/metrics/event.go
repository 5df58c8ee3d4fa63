// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import "github.com/DataDog/statsd-engine/pkg/dimkey"

// EventValue is one retained event, not reduced to any aggregate: the
// field tuple its caller passes to Record (the dispatcher passes the
// metric's dimensions_in_what tuple) plus the timestamp it was observed
// at. A closed Event bucket's Value is a []EventValue.
type EventValue struct {
	TimestampNs int64
	Fields      dimkey.Tuple
}

// EventProducer is the append-only variant: it performs no aggregation at
// all, just a capped log of every matched event's fields per bucket. The
// BucketKeeper's dimension-limit machinery is reused here keyed by a
// monotonic per-event sequence number rather than by dim-key, which turns
// "distinct dim-keys admitted this bucket" into "events admitted this
// bucket" for free and gives the variant the same late-event/overflow
// telemetry as every other producer.
type EventProducer struct {
	id     int64
	keeper *BucketKeeper
	seq    int64

	events []EventValue
	closed []ClosedBucket
}

// NewEventProducer builds an Event producer for metric id, retaining at
// most cap events per bucket.
func NewEventProducer(id int64, originNs, bucketSizeNs int64, cap int, onLate, onOverflow func()) *EventProducer {
	p := &EventProducer{id: id}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, cap, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *EventProducer) ID() int64 { return p.id }

// SetLimit applies a new max events retained per bucket.
func (p *EventProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// Record appends one matched event's fields to the open bucket's log,
// unless the per-bucket cap has already been reached.
func (p *EventProducer) Record(tNs int64, fields dimkey.Tuple) {
	key := dimkey.Key(p.seq)
	p.seq++
	eff, admitted := p.keeper.Admit(tNs, key)
	if !admitted || eff == dimkey.OverLimit {
		return
	}
	p.events = append(p.events, EventValue{TimestampNs: tNs, Fields: fields})
}

func (p *EventProducer) flushInto(startNs, endNs int64) {
	if len(p.events) > 0 {
		p.closed = append(p.closed, ClosedBucket{
			StartNs: startNs, EndNs: endNs, Value: p.events,
		})
	}
	p.events = nil
}

// Flush closes the open bucket and drains closed buckets produced so far.
func (p *EventProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *EventProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush; Event carries no state beyond the
// open bucket's log.
func (p *EventProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	return p.Flush(nowNs)
}
