// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/uidmap"
)

func TestBuildRendersClosedBucketsByVariant(t *testing.T) {
	closed := map[int64][]metrics.ClosedBucket{
		100: {{StartNs: 0, EndNs: 60_000_000_000, DimKey: dimkey.Tuple{{Field: 1, Str: "x"}}, Value: metrics.CountValue{Count: 3}}},
		200: {{StartNs: 0, EndNs: 60_000_000_000, Value: metrics.DurationValue{DurationNs: 500}}},
	}
	r := Build(config.Key{UID: 1000, ID: 7}, 60_000_000_000, false, closed, nil, nil)

	require.Len(t, r.Metrics[100], 1)
	assert.Equal(t, int64(3), r.Metrics[100][0].Value["count"])
	assert.Equal(t, dimkey.Tuple{{Field: 1, Str: "x"}}, r.Metrics[100][0].Dimensions)

	require.Len(t, r.Metrics[200], 1)
	assert.Equal(t, int64(500), r.Metrics[200][0].Value["duration_ns"])

	assert.Equal(t, int32(1000), r.ConfigUID)
	assert.Equal(t, int64(7), r.ConfigID)
	assert.False(t, r.Cleared)
}

func TestBuildCarriesUidMapAndRuntimeCounters(t *testing.T) {
	um := &uidmap.Report{TimestampNs: 42, Snapshot: []uidmap.SnapshotEntry{{UID: 5, Package: "com.example"}}}
	counters := RuntimeCounters{"LATE_EVENT": 2}

	r := Build(config.Key{UID: 1, ID: 1}, 42, true, nil, um, counters)
	assert.Same(t, um, r.UidMap)
	assert.Equal(t, int64(2), r.RuntimeErrors["LATE_EVENT"])
	assert.True(t, r.Cleared)
}

func TestJSONWriterEncodesOneReportPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)

	r1 := Build(config.Key{UID: 1, ID: 1}, 10, false, nil, nil, nil)
	r2 := Build(config.Key{UID: 1, ID: 2}, 20, false, nil, nil, nil)
	require.NoError(t, w.WriteReport(r1))
	require.NoError(t, w.WriteReport(r2))

	dec := json.NewDecoder(&buf)
	var got1, got2 ConfigReport
	require.NoError(t, dec.Decode(&got1))
	require.NoError(t, dec.Decode(&got2))
	assert.Equal(t, int64(1), got1.ConfigID)
	assert.Equal(t, int64(2), got2.ConfigID)
}
