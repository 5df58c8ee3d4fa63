// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/uidmap"
)

func TestRecorderSnapshotStartsAtZeroForEveryKind(t *testing.T) {
	r := NewRecorder()
	snap := r.Snapshot()
	require.Len(t, snap, len(allKinds))
	for _, k := range allKinds {
		assert.Equal(t, int64(0), snap[string(k)])
	}
}

func TestWireCompilerIncrementsOnHookInvocation(t *testing.T) {
	r := NewRecorder()
	c := config.NewCompiler(nil, clock.NewMock())
	r.WireCompiler(c)

	c.OnLateEvent(100)
	c.OnLateEvent(100)
	c.OnDimensionOverflow(100)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap[string(LateEvent)])
	assert.Equal(t, int64(1), snap[string(OverDimensionLimit)])
}

func TestWireUidMapIncrementsOnChangeLogEviction(t *testing.T) {
	r := NewRecorder()
	m := uidmap.New(uidmap.BytesPerChangeRecord, uidmap.DefaultMaxDeletedApps)
	r.WireUidMap(m)

	m.Upsert(1, 10, "com.example.a", 1, "1.0", "market", nil)
	m.Upsert(2, 11, "com.example.b", 1, "1.0", "market", nil)

	assert.Equal(t, int64(1), r.Snapshot()[string(MapMemoryExceeded)])
}

func TestPullCounters(t *testing.T) {
	r := NewRecorder()
	r.IncPullTimeout()
	r.IncPullFailed()
	r.IncPullFailed()

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap[string(PullTimeout)])
	assert.Equal(t, int64(2), snap[string(PullFailed)])
}
