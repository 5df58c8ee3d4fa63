// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"math/rand"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// GaugeStrategy selects how a Gauge metric picks which of the (possibly
// many) matched events per dim-key per bucket actually get sampled
// (spec.md §4.4.3).
type GaugeStrategy int

// Gauge sampling strategies.
const (
	// GaugeRandomOneSample keeps a single uniformly-random sample per
	// dim-key per bucket, reservoir-style, over every matched event.
	GaugeRandomOneSample GaugeStrategy = iota
	// GaugeFirstNSamples keeps the first N trigger-matched samples per
	// dim-key per bucket and drops the rest.
	GaugeFirstNSamples
)

// GaugeValue is the payload of a closed Gauge bucket.
type GaugeValue struct {
	Samples []int64
}

type gaugeEntry struct {
	tuple   dimkey.Tuple
	samples []int64
	seen    int64
}

// GaugeProducer implements both Gauge sampling strategies over the shared
// bucket/dimension-limit substrate, grounded the same way Count and
// Duration are on pkg/aggregator's per-context accumulators in the
// teacher, with the reservoir algorithm itself grounded on the classic
// Vitter single-slot case (k=1) used for RANDOM_ONE_SAMPLE.
type GaugeProducer struct {
	id       int64
	strategy GaugeStrategy
	n        int
	rng      *rand.Rand
	keeper   *BucketKeeper
	builder  *dimkey.Builder

	entries map[dimkey.Key]*gaugeEntry
	closed  []ClosedBucket
}

// NewGaugeProducer builds a Gauge producer for metric id. n is the sample
// cap for GaugeFirstNSamples and is ignored for GaugeRandomOneSample.
func NewGaugeProducer(id int64, strategy GaugeStrategy, n int, seed int64, originNs, bucketSizeNs int64, maxDims int, onLate, onOverflow func()) *GaugeProducer {
	p := &GaugeProducer{
		id:       id,
		strategy: strategy,
		n:        n,
		rng:      rand.New(rand.NewSource(seed)),
		builder:  dimkey.NewBuilder(),
		entries:  make(map[dimkey.Key]*gaugeEntry),
	}
	p.keeper = NewBucketKeeper(originNs, bucketSizeNs, maxDims, p.flushInto, onLate, onOverflow)
	return p
}

// ID returns the metric id this producer was built for.
func (p *GaugeProducer) ID() int64 { return p.id }

// SetLimit applies a new max_dimensions_per_bucket.
func (p *GaugeProducer) SetLimit(newLimit int) { p.keeper.SetLimit(newLimit) }

// Record applies one matched (and, for FIRST_N_SAMPLES, trigger-matched)
// event carrying the gauge field value.
func (p *GaugeProducer) Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, value int64, isTrigger bool) {
	key := CombinedKey(p.builder, whatKey, stateValues)
	eff, admitted := p.keeper.Admit(tNs, key)
	if !admitted {
		return
	}
	e, ok := p.entries[eff]
	if !ok {
		e = &gaugeEntry{tuple: whatKey}
		p.entries[eff] = e
	}

	switch p.strategy {
	case GaugeFirstNSamples:
		if isTrigger && len(e.samples) < p.n {
			e.samples = append(e.samples, value)
		}
	case GaugeRandomOneSample:
		e.seen++
		if len(e.samples) == 0 {
			e.samples = []int64{value}
			return
		}
		if p.rng.Int63n(e.seen) == 0 {
			e.samples[0] = value
		}
	}
}

func (p *GaugeProducer) flushInto(startNs, endNs int64) {
	for key, e := range p.entries {
		if len(e.samples) > 0 {
			samples := make([]int64, len(e.samples))
			copy(samples, e.samples)
			p.closed = append(p.closed, ClosedBucket{
				StartNs: startNs, EndNs: endNs, DimKey: e.tuple, Value: GaugeValue{Samples: samples},
			})
		}
		delete(p.entries, key)
	}
}

// Flush closes the open bucket and drains closed buckets produced so far.
func (p *GaugeProducer) Flush(nowNs int64) []ClosedBucket {
	p.keeper.Flush(nowNs)
	out := p.closed
	p.closed = nil
	return out
}

// DrainClosed returns and clears buckets closed so far without forcing the
// open bucket closed.
func (p *GaugeProducer) DrainClosed() []ClosedBucket {
	out := p.closed
	p.closed = nil
	return out
}

// FlushAndClear behaves like Flush; Gauge carries no state beyond the
// open bucket.
func (p *GaugeProducer) FlushAndClear(nowNs int64) []ClosedBucket {
	return p.Flush(nowNs)
}
