// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package alert

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
)

func TestTrackerFiresWhenRollingSumExceedsThreshold(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(3, 100, time.Minute, mock)
	var fires []FireEvent
	tr.Subscribe(func(ev FireEvent) { fires = append(fires, ev) })

	key := dimkey.Key(1)
	tuple := dimkey.Tuple{{Field: 1, Str: "a"}}

	tr.OnBucketClosed(key, tuple, 40)
	assert.Empty(t, fires)
	tr.OnBucketClosed(key, tuple, 40)
	assert.Empty(t, fires)
	tr.OnBucketClosed(key, tuple, 40)
	require.Len(t, fires, 1)
	assert.Equal(t, int64(120), fires[0].Sum)
}

func TestTrackerRespectsRefractoryPeriod(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(1, 10, time.Minute, mock)
	var fireCount int
	tr.Subscribe(func(ev FireEvent) { fireCount++ })

	key := dimkey.Key(1)
	tuple := dimkey.Tuple{{Field: 1, Str: "a"}}

	tr.OnBucketClosed(key, tuple, 20)
	assert.Equal(t, 1, fireCount)

	mock.Add(30 * time.Second)
	tr.OnBucketClosed(key, tuple, 20)
	assert.Equal(t, 1, fireCount, "still inside refractory period")

	mock.Add(40 * time.Second)
	tr.OnBucketClosed(key, tuple, 20)
	assert.Equal(t, 2, fireCount, "refractory period has elapsed")
}

func TestTrackerWindowSlidesOutOldBuckets(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(2, 50, time.Minute, mock)
	key := dimkey.Key(1)
	tuple := dimkey.Tuple{{Field: 1, Str: "a"}}

	tr.OnBucketClosed(key, tuple, 40)
	tr.OnBucketClosed(key, tuple, 5)
	assert.Equal(t, int64(45), tr.CurrentSum(key))

	tr.OnBucketClosed(key, tuple, 5)
	assert.Equal(t, int64(10), tr.CurrentSum(key), "oldest bucket (40) should have rolled off")
}

func TestAlarmMonitorFiresOneShotAtDeadline(t *testing.T) {
	mock := clock.NewMock()
	mon := NewAlarmMonitor(mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	fired := make(chan time.Time, 1)
	mon.ScheduleOneShot(mock.Now().Add(5*time.Second), func(now time.Time) { fired <- now })

	mock.Add(10 * time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}
}

func TestAlarmMonitorCancelSuppressesFire(t *testing.T) {
	mock := clock.NewMock()
	mon := NewAlarmMonitor(mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	fired := make(chan struct{}, 1)
	id := mon.ScheduleOneShot(mock.Now().Add(5*time.Second), func(time.Time) { fired <- struct{}{} })
	mon.Cancel(id)

	mock.Add(10 * time.Second)

	select {
	case <-fired:
		t.Fatal("canceled alarm should not fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAnticipateCrossingComputesLinearProjection(t *testing.T) {
	tr := NewTracker(3, 100, time.Minute, clock.NewMock())
	start := time.Unix(0, 1_000)
	crossAt, ok := tr.AnticipateCrossing(40, start)
	require.True(t, ok)
	assert.Equal(t, start.Add(61*time.Nanosecond), crossAt)
}
