// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package alert implements the Alert/Anomaly tracker of spec.md §4.7: a
// rolling num_buckets-length window of per-key sums with a refractory
// period, plus a monotonic alarm monitor so duration metrics can fire
// before their bucket closes.
package alert

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

// FireEvent describes one alert firing, passed to every subscriber.
type FireEvent struct {
	Key     dimkey.Key
	DimKey  dimkey.Tuple
	Sum     int64
	FiredAt time.Time
}

// Listener is notified every time an alert fires for a key.
type Listener func(FireEvent)

type keyWindow struct {
	tuple      dimkey.Tuple
	sums       []int64
	next       int
	filled     int
	lastFireAt time.Time
	hasFired   bool
}

// Tracker implements one alert definition: it watches a tracked metric's
// closed buckets, keeps a rolling sum of the last NumBuckets per key, and
// fires Listener when that sum exceeds TriggerIfSumGt outside of the
// refractory period. The per-key ring-buffer shape is grounded on
// pkg/util/moving_sum.go's MovingSum in the teacher, adapted from a
// single time-windowed counter to a per-dim-key fixed-length bucket
// window (the engine's buckets are already fixed-size, so there is no
// need for MovingSum's variable-width bucketing by wall-clock gaps).
type Tracker struct {
	mu sync.Mutex

	numBuckets        int
	triggerIfSumGt    int64
	refractoryPeriod  time.Duration
	clk               clock.Clock

	keys      map[dimkey.Key]*keyWindow
	listeners []Listener
}

// NewTracker builds a Tracker for one alert definition.
func NewTracker(numBuckets int, triggerIfSumGt int64, refractoryPeriod time.Duration, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		numBuckets:       numBuckets,
		triggerIfSumGt:   triggerIfSumGt,
		refractoryPeriod: refractoryPeriod,
		clk:              clk,
		keys:             make(map[dimkey.Key]*keyWindow),
	}
}

// Subscribe registers l to be called on every fire.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// OnBucketClosed pushes one closed bucket's sum for key into its rolling
// window and evaluates the fire condition.
func (t *Tracker) OnBucketClosed(key dimkey.Key, tuple dimkey.Tuple, bucketSum int64) {
	t.mu.Lock()
	w, ok := t.keys[key]
	if !ok {
		w = &keyWindow{tuple: tuple, sums: make([]int64, t.numBuckets)}
		t.keys[key] = w
	}
	w.tuple = tuple
	w.sums[w.next] = bucketSum
	w.next = (w.next + 1) % t.numBuckets
	if w.filled < t.numBuckets {
		w.filled++
	}

	var total int64
	for _, s := range w.sums[:w.filled] {
		total += s
	}

	ev, fires := t.evaluate(w, key, total, t.clk.Now())
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	if fires {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// evaluate must be called with t.mu held. It applies the refractory
// period and records the firing, returning the event to dispatch once the
// lock is released.
func (t *Tracker) evaluate(w *keyWindow, key dimkey.Key, total int64, now time.Time) (FireEvent, bool) {
	if total <= t.triggerIfSumGt {
		return FireEvent{}, false
	}
	if w.hasFired && now.Sub(w.lastFireAt) < t.refractoryPeriod {
		return FireEvent{}, false
	}
	w.hasFired = true
	w.lastFireAt = now
	return FireEvent{Key: key, DimKey: w.tuple, Sum: total, FiredAt: now}, true
}

// CurrentSum returns the current rolling-window sum for key, for testing
// and for anticipated-crossing computations by duration producers.
func (t *Tracker) CurrentSum(key dimkey.Key) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.keys[key]
	if !ok {
		return 0
	}
	var total int64
	for _, s := range w.sums[:w.filled] {
		total += s
	}
	return total
}

// AnticipateCrossing computes, for a duration interval that started at
// startedAt and is still growing, the earliest time the window sum would
// exceed the threshold if the interval kept accumulating uninterrupted,
// given the sum contributed by buckets already closed (excluding the
// still-open one). It returns ok=false only when the closed-bucket sum
// alone already exceeds the threshold (the alert will have already fired).
func (t *Tracker) AnticipateCrossing(closedWindowSum int64, startedAt time.Time) (crossAt time.Time, ok bool) {
	deficit := t.triggerIfSumGt - closedWindowSum
	if deficit < 0 {
		return time.Time{}, false
	}
	return startedAt.Add(time.Duration(deficit + 1)), true
}
