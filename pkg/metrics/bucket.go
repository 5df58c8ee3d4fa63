// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics implements the six metric-producer variants (spec.md
// §4.4) sharing one bucket-and-dimension substrate, the way the teacher's
// pkg/aggregator.TimeSampler buckets every context by timestamp and the
// variant-specific accumulators (pkg/aggregator/counter.go,
// pkg/aggregator/metric.go) just decide what to do with a sample once it's
// in the right bucket.
package metrics

import (
	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// BucketCloseFunc is invoked once each time BucketKeeper closes a bucket
// (on crossing a bucket boundary or on Flush), before the observed set is
// reset for the new bucket.
type BucketCloseFunc func(startNs, endNs int64)

// BucketKeeper implements the common bucketing, late-event and
// dimension-limit algorithm of spec.md §4.4 steps 5 and "Dimension
// limit", shared by every producer variant. It keeps at most one open
// bucket (spec.md §1 non-goal: "at most one open and one overlapping
// closed bucket per metric").
type BucketKeeper struct {
	bucketSizeNs int64
	originNs     int64

	hasOpen      bool
	openIdx      int64
	openStartNs  int64
	limit        int
	nextLimit    int
	observed     map[dimkey.Key]struct{}

	onClose    BucketCloseFunc
	onLate     func()
	onOverflow func()
}

// NewBucketKeeper returns a keeper anchored at originNs (pkg/config's
// compiler passes 0 for every producer) with bucketSizeNs-wide buckets and an
// initial max_dimensions_per_bucket of limit.
func NewBucketKeeper(originNs, bucketSizeNs int64, limit int, onClose BucketCloseFunc, onLate, onOverflow func()) *BucketKeeper {
	return &BucketKeeper{
		bucketSizeNs: bucketSizeNs,
		originNs:     originNs,
		limit:        limit,
		nextLimit:    limit,
		observed:     make(map[dimkey.Key]struct{}, limit),
		onClose:      onClose,
		onLate:       onLate,
		onOverflow:   onOverflow,
	}
}

// BucketStart returns the start timestamp of the currently open bucket.
func (k *BucketKeeper) BucketStart() int64 { return k.openStartNs }

// SetLimit applies a new max_dimensions_per_bucket. A larger limit takes
// effect immediately. A smaller limit is clamped to the number of
// distinct keys already observed in the open bucket, and the requested
// (smaller) value applies strictly starting with the next bucket
// (spec.md §4.4 "Dimension limit", boundary scenario 5).
func (k *BucketKeeper) SetLimit(newLimit int) {
	if newLimit >= k.limit {
		k.limit = newLimit
		k.nextLimit = newLimit
		return
	}
	observed := len(k.observed)
	if newLimit < observed {
		k.limit = observed
	} else {
		k.limit = newLimit
	}
	k.nextLimit = newLimit
}

// Admit advances the bucket clock to tNs if necessary (closing the
// previous bucket via onClose), then resolves key against the dimension
// limit for the (possibly new) open bucket. admitted is false when the
// event is a late event for an already-closed bucket (spec.md §4.4 step 5
// "late event") -- callers must drop the event for this metric in that
// case.
func (k *BucketKeeper) Admit(tNs int64, key dimkey.Key) (effective dimkey.Key, admitted bool) {
	idx := floorDiv(tNs-k.originNs, k.bucketSizeNs)

	if !k.hasOpen {
		k.hasOpen = true
		k.openIdx = idx
		k.openStartNs = k.originNs + idx*k.bucketSizeNs
	} else if idx < k.openIdx {
		if k.onLate != nil {
			k.onLate()
		}
		return dimkey.Key(0), false
	} else if idx > k.openIdx {
		k.closeBucket()
		k.limit = k.nextLimit
		k.openIdx = idx
		k.openStartNs = k.originNs + idx*k.bucketSizeNs
	}

	if _, ok := k.observed[key]; ok {
		return key, true
	}
	if len(k.observed) >= k.limit {
		if k.onOverflow != nil {
			k.onOverflow()
		}
		return dimkey.OverLimit, true
	}
	k.observed[key] = struct{}{}
	return key, true
}

// Flush forces a close of the currently open bucket at its end boundary
// (tNs is not consulted) without admitting a new event -- used by external
// flush()/flush_and_clear() commands (spec.md §6).
func (k *BucketKeeper) Flush(tNs int64) {
	if !k.hasOpen {
		return
	}
	k.closeBucket()
	k.hasOpen = false
}

func (k *BucketKeeper) closeBucket() {
	if k.onClose != nil {
		k.onClose(k.openStartNs, k.openStartNs+k.bucketSizeNs)
	}
	k.observed = make(map[dimkey.Key]struct{}, k.limit)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
