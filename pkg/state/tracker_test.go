// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/models"
)

func stateEvent(field int32, val int64) *models.Event {
	f := field
	return &models.Event{
		AtomID:      1,
		Values:      []models.FieldValue{{Field: field, IsLeaf: true, IntValue: val}},
		Annotations: models.Annotations{ExclusiveStateField: &f},
	}
}

func TestNestedBinaryStateCollapsesOnEqualOnOff(t *testing.T) {
	tr := NewTracker(1, nil, nil)
	var seen []int64

	tr.Subscribe(func(_ int64, _ int32, _ dimkey.Key, old, newV int64) {
		seen = append(seen, newV)
	})

	on := stateEvent(1, 1)
	on.Annotations.Nested = true
	off := stateEvent(1, 0)
	off.Annotations.Nested = true

	tr.OnEvent(on)
	tr.OnEvent(on)
	assert.Equal(t, int64(1), tr.Value(tr.PrimaryKey(on)))

	tr.OnEvent(off)
	assert.Equal(t, int64(1), tr.Value(tr.PrimaryKey(on)), "still ON after only one OFF")

	tr.OnEvent(off)
	assert.Equal(t, Unknown, tr.Value(tr.PrimaryKey(on)))
	assert.Equal(t, []int64{1, 0}, seen)
}

func TestMissingExclusiveStateFieldClears(t *testing.T) {
	tr := NewTracker(1, nil, nil)
	on := stateEvent(1, 1)
	tr.OnEvent(on)
	assert.Equal(t, int64(1), tr.Value(tr.PrimaryKey(on)))

	noState := &models.Event{AtomID: 1}
	tr.OnEvent(noState)
	assert.Equal(t, Unknown, tr.Value(tr.PrimaryKey(on)))
}

func TestResetStateAppliesToAllKeys(t *testing.T) {
	tr := NewTracker(1, []int32{2}, nil)
	a := &models.Event{AtomID: 1, Values: []models.FieldValue{
		{Field: 2, IsLeaf: true, IntValue: 10}, {Field: 1, IsLeaf: true, IntValue: 3},
	}, Annotations: models.Annotations{ExclusiveStateField: int32ptr(1)}}
	tr.OnEvent(a)
	key := tr.PrimaryKey(a)
	assert.Equal(t, int64(3), tr.Value(key))

	resetTo := int32(0)
	reset := &models.Event{AtomID: 1, Values: []models.FieldValue{
		{Field: 2, IsLeaf: true, IntValue: 10}, {Field: 1, IsLeaf: true, IntValue: 9},
	}, Annotations: models.Annotations{ExclusiveStateField: int32ptr(1), ResetState: &resetTo}}
	tr.OnEvent(reset)
	assert.Equal(t, int64(0), tr.Value(key))
}

func int32ptr(v int32) *int32 { return &v }
