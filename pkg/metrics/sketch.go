// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// SketchRelativeAccuracy is the relative-error bound requested of every
// DDSketch backing a quantile-sketch metric (mirrors the teacher's
// pkg/network/protocols/http.RelativeAccuracy).
const SketchRelativeAccuracy = 0.01

// SketchValue is the payload of a closed quantile-sketch bucket: the raw
// sketch plus the sample count observed for it, since the sketch itself
// may discard individual samples while remaining accurate in aggregate
// (the same caveat the teacher notes on http.RequestStats.Latencies).
type SketchValue struct {
	Sketch *ddsketch.DDSketch
	Count  int64
}

type sketchEntry struct {
	tuple  dimkey.Tuple
	sketch *ddsketch.DDSketch
	count  int64
}

// SketchProducer accumulates a per dim-key, per-bucket quantile sketch
// instead of a single scalar, for metrics that need latency/size
// distributions rather than sums or counts. It is grounded on
// pkg/network/protocols/http.RequestStats's DDSketch-per-context shape in
// the teacher, generalized from HTTP latency to an arbitrary numeric
// field.
type SketchProducer struct {
	id      int64
	keeper  *BucketKeeper
	builder *dimkey.Builder

	entries map[dimkey.Key]*sketchEntry
	closed  []ClosedBucket
}

// NewSketchProducer builds a Sketch producer for metric id.
func NewSketchProducer(id int64, originNs, bucketSizeNs int64, maxDims int, onLate, onOverflow func()) *SketchProducer {
	p := &SketchProducer{
		id:      id,
		builder: dimkey.NewBuilder(),
		entries: make(map[dimkey.Key]*sketchEntry),
	}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, maxDims, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *SketchProducer) ID() int64 { return p.id }

// SetLimit applies a new max_dimensions_per_bucket.
func (p *SketchProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// Record applies one matched event carrying the sketched field's value.
// An Add error only ever indicates the value falls outside the sketch's
// supported range and the sample is dropped, matching the teacher's
// treatment of ddsketch.Add errors as non-fatal.
func (p *SketchProducer) Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, value float64) {
	key := CombinedKey(p.builder, whatKey, stateValues)
	eff, admitted := p.keeper.Admit(tNs, key)
	if !admitted {
		return
	}
	e, ok := p.entries[eff]
	if !ok {
		sk, err := ddsketch.NewDefaultDDSketch(SketchRelativeAccuracy)
		if err != nil {
			return
		}
		e = &sketchEntry{tuple: whatKey, sketch: sk}
		p.entries[eff] = e
	}
	if e.sketch.Add(value) == nil {
		e.count++
	}
}

func (p *SketchProducer) flushInto(startNs, endNs int64) {
	for key, e := range p.entries {
		if e.count > 0 {
			p.closed = append(p.closed, ClosedBucket{
				StartNs: startNs, EndNs: endNs, DimKey: e.tuple, Value: SketchValue{Sketch: e.sketch, Count: e.count},
			})
		}
		delete(p.entries, key)
	}
}

// Flush closes the open bucket and drains closed buckets produced so far.
func (p *SketchProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *SketchProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush; Sketch carries no state beyond the
// open bucket.
func (p *SketchProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	return p.Flush(nowNs)
}
