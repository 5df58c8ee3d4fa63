// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/models"
)

func countConfig() *config.Configuration {
	return &config.Configuration{
		Key: config.Key{UID: 0, ID: 1},
		Matchers: []matcher.AtomMatcher{
			{ID: 1, Simple: &matcher.SimpleMatcher{AtomID: 42}},
		},
		Metrics: []config.MetricConfig{
			{ID: 100, What: 1, Variant: config.MetricCount, BucketSize: time.Minute, MaxDimensionsPerBucket: 10},
		},
	}
}

func TestEngineDispatchFeedsInstalledProducer(t *testing.T) {
	e := New(nil, clock.NewMock())
	key := config.Key{UID: 0, ID: 1}
	require.NoError(t, e.SetConfig(key, countConfig()))

	e.Dispatch(&models.Event{AtomID: 42, WallNs: 0})
	e.Dispatch(&models.Event{AtomID: 42, WallNs: 10})
	e.Dispatch(&models.Event{AtomID: 99, WallNs: 20}) // unmatched atom, ignored

	out, ok := e.Flush(key, time.Minute.Nanoseconds())
	require.True(t, ok)
	require.Len(t, out[100], 1)
	assert.Equal(t, int64(2), out[100][0].Value.(metrics.CountValue).Count)
}

func TestEngineSetConfigLeavesPreviousInstallationOnError(t *testing.T) {
	e := New(nil, clock.NewMock())
	key := config.Key{UID: 0, ID: 1}
	require.NoError(t, e.SetConfig(key, countConfig()))

	bad := &config.Configuration{
		Key:     key,
		Metrics: []config.MetricConfig{{ID: 100, What: 999, Variant: config.MetricCount, BucketSize: time.Minute}},
	}
	err := e.SetConfig(key, bad)
	require.Error(t, err)

	e.Dispatch(&models.Event{AtomID: 42, WallNs: 0})
	out, ok := e.Flush(key, time.Minute.Nanoseconds())
	require.True(t, ok)
	require.Len(t, out[100], 1, "the previous configuration must still be running")
}

func TestEngineRemoveConfigStopsDispatch(t *testing.T) {
	e := New(nil, clock.NewMock())
	key := config.Key{UID: 0, ID: 1}
	require.NoError(t, e.SetConfig(key, countConfig()))
	e.RemoveConfig(key)

	e.Dispatch(&models.Event{AtomID: 42, WallNs: 0})
	_, ok := e.Flush(key, time.Minute.Nanoseconds())
	assert.False(t, ok)
}

func TestEngineConfigAlarmInjectsSyntheticTickEvent(t *testing.T) {
	mock := clock.NewMock()
	e := New(nil, mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	key := config.Key{UID: 0, ID: 1}
	cfg := &config.Configuration{
		Key: key,
		Matchers: []matcher.AtomMatcher{
			{ID: 1, Simple: &matcher.SimpleMatcher{AtomID: models.AlarmTickAtomID}},
		},
		Metrics: []config.MetricConfig{
			{ID: 100, What: 1, Variant: config.MetricCount, BucketSize: time.Minute, MaxDimensionsPerBucket: 10},
		},
		Alarms: []config.AlarmConfig{
			{ID: 1, Offset: 5 * time.Second},
		},
	}
	require.NoError(t, e.SetConfig(key, cfg))

	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		out, ok := e.Flush(key, time.Hour.Nanoseconds())
		return ok && len(out[100]) == 1
	}, 2*time.Second, 10*time.Millisecond, "config alarm should have injected a synthetic tick event")
}
