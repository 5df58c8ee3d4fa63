// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

const bucketNs = int64(60_000_000_000)

func noop() {}

func TestCountProducerAccumulatesPerKeyPerBucket(t *testing.T) {
	p := NewCountProducer(1, 0, bucketNs, 10, noop, noop)
	keyA := dimkey.Tuple{{Field: 1, Str: "a"}}
	keyB := dimkey.Tuple{{Field: 1, Str: "b"}}

	p.Record(0, keyA, nil)
	p.Record(10, keyA, nil)
	p.Record(20, keyB, nil)

	out := p.Flush(bucketNs)
	require.Len(t, out, 2)
	totals := map[string]int64{}
	for _, b := range out {
		totals[b.DimKey.String()] = b.Value.(CountValue).Count
	}
	assert.Equal(t, int64(2), totals[keyA.String()])
	assert.Equal(t, int64(1), totals[keyB.String()])
}

func TestCountProducerDropsLateEvents(t *testing.T) {
	var late int
	p := NewCountProducer(1, 0, bucketNs, 10, func() { late++ }, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.Record(bucketNs, key, nil)
	p.Record(0, key, nil)

	assert.Equal(t, 1, late)
	out := p.Flush(2 * bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Value.(CountValue).Count)
}

func TestDurationProducerAccumulatesSumAcrossStartStop(t *testing.T) {
	p := NewDurationProducer(2, DurationSum, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.OnConditionChange(0, key, condition.False, condition.True)
	p.OnConditionChange(1_000_000, key, condition.True, condition.False)

	out := p.Flush(bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1_000_000), out[0].Value.(DurationValue).DurationNs)
}

func TestDurationProducerNestingDefersStopUntilZero(t *testing.T) {
	p := NewDurationProducer(2, DurationSum, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.OnConditionChange(0, key, condition.False, condition.True)
	p.OnConditionChange(100, key, condition.False, condition.True)
	p.OnConditionChange(200, key, condition.True, condition.False)
	out := p.Flush(bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(bucketNs), out[0].Value.(DurationValue).DurationNs, "still nested, interval must run to the bucket end")

	p.OnConditionChange(bucketNs+300, key, condition.True, condition.False)
	out = p.Flush(2 * bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(300), out[0].Value.(DurationValue).DurationNs)
}

func TestDurationProducerSplitsIntervalAcrossBucketBoundary(t *testing.T) {
	p := NewDurationProducer(2, DurationSum, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.OnConditionChange(bucketNs-10, key, condition.False, condition.True)
	out := p.Flush(bucketNs + 10)
	require.Len(t, out, 1)
	assert.Equal(t, int64(10), out[0].Value.(DurationValue).DurationNs)
}

func TestValueProducerDiffModeSkipsFirstSampleAndZeroDiffs(t *testing.T) {
	p := NewValueProducer(3, ValueSum, ValueDiff, true, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.Record(0, key, nil, 100)
	p.Record(10, key, nil, 100)
	out := p.Flush(bucketNs)
	assert.Empty(t, out, "no change between samples and skip_zero_diff_output is set")

	p.Record(bucketNs+10, key, nil, 150)
	out = p.Flush(2 * bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(50), out[0].Value.(ValueValue).Value)
}

func TestValueProducerAbsoluteModeReducesByAggregation(t *testing.T) {
	p := NewValueProducer(3, ValueMax, ValueAbsolute, false, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.Record(0, key, nil, 5)
	p.Record(10, key, nil, 9)
	p.Record(20, key, nil, 3)

	out := p.Flush(bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, int64(9), out[0].Value.(ValueValue).Value)
}

func TestGaugeFirstNSamplesCapsAtN(t *testing.T) {
	p := NewGaugeProducer(4, GaugeFirstNSamples, 2, 1, 0, bucketNs, 10, noop, noop)
	key := dimkey.Tuple{{Field: 1, Str: "a"}}

	p.Record(0, key, nil, 1, true)
	p.Record(10, key, nil, 2, true)
	p.Record(20, key, nil, 3, true)

	out := p.Flush(bucketNs)
	require.Len(t, out, 1)
	assert.Equal(t, []int64{1, 2}, out[0].Value.(GaugeValue).Samples)
}

func TestEventProducerCapsRetainedEventsPerBucket(t *testing.T) {
	var overflow int
	p := NewEventProducer(5, 0, bucketNs, 2, noop, func() { overflow++ })

	p.Record(0, dimkey.Tuple{{Field: 1, Str: "a"}})
	p.Record(10, dimkey.Tuple{{Field: 1, Str: "b"}})
	p.Record(20, dimkey.Tuple{{Field: 1, Str: "c"}})

	assert.Equal(t, 1, overflow)
	out := p.Flush(bucketNs)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Value.([]EventValue), 2)
}
