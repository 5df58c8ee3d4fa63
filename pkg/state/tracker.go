// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package state implements the state tracker (spec.md §4.3): one tracker
// per atom id referenced by any metric's sliced_by_state, maintaining a
// per-primary-key exclusive integer state with optional nested counting.
//
// The transition algorithm below is grounded directly on
// _examples/original_source/statsd/src/state/StateTracker.cpp --
// StateTracker is the one module in this engine with no close analog in
// the teacher repo (datadog-agent has nothing resembling a per-key
// exclusive state machine over an atom), so the original C++ is the
// primary source of truth for its semantics.
package state

import (
	"strconv"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/models"
)

// Unknown is the sentinel exclusive-state value: absent from the state
// map, rather than a valid observed state (spec.md §4.3: "UNKNOWN erases
// the entry").
const Unknown int64 = -1

// Listener receives state transitions for one atom's tracker.
type Listener func(eventNs int64, atomID int32, key dimkey.Key, oldState, newState int64)

type entry struct {
	state int64
	count int64
}

// Tracker is one atom's state machine. Not safe for concurrent use; the
// dispatcher calls it only while holding the engine lock.
type Tracker struct {
	atomID        int32
	primaryFields []int32
	groupMap      map[int64]int64

	keys      map[dimkey.Key]*entry
	listeners []Listener
	builder   *dimkey.Builder
}

// NewTracker returns a tracker for atomID. primaryFields selects the event
// fields that make up this atom's primary (per-key) identity; groupMap, if
// non-nil, collapses raw exclusive-state values into state-group ids
// before they're recorded (spec.md §3: "State ... optional group_map").
func NewTracker(atomID int32, primaryFields []int32, groupMap map[int64]int64) *Tracker {
	return &Tracker{
		atomID:        atomID,
		primaryFields: primaryFields,
		groupMap:      groupMap,
		keys:          make(map[dimkey.Key]*entry),
		builder:       dimkey.NewBuilder(),
	}
}

// Subscribe registers a listener for every state transition this tracker
// produces.
func (t *Tracker) Subscribe(l Listener) {
	t.listeners = append(t.listeners, l)
}

// Value returns the current state for key, or Unknown if absent.
func (t *Tracker) Value(key dimkey.Key) int64 {
	e, ok := t.keys[key]
	if !ok {
		return Unknown
	}
	return e.state
}

// PrimaryKey computes the dimension key for event under this tracker's
// primary-field selection; callers snapshot this before OnEvent mutates
// the tracker so pre-event state can be captured for state-sliced metrics
// (spec.md §4.3, §5 ordering guarantee 2).
func (t *Tracker) PrimaryKey(event *models.Event) dimkey.Key {
	tuple := make(dimkey.Tuple, 0, len(t.primaryFields))
	for _, f := range t.primaryFields {
		if fv, ok := event.Field(f); ok {
			tuple = append(tuple, dimkey.Value{Field: f, Str: fieldString(fv)})
		}
	}
	return t.builder.Key(tuple)
}

// OnEvent applies one event for this tracker's atom, per spec.md §4.3:
// missing or non-integer exclusive-state field clears the key; a
// reset-state annotation resets every key; otherwise the (possibly
// group-mapped) value is applied through the nested or non-nested
// transition rule.
func (t *Tracker) OnEvent(event *models.Event) {
	if event.AtomID != t.atomID {
		return
	}
	key := t.PrimaryKey(event)

	raw, ok := event.ExclusiveState()
	if !ok {
		t.update(event.WallNs, key, Unknown, false)
		return
	}
	newVal := t.groupValue(raw)

	if event.Annotations.ResetState != nil {
		t.reset(event.WallNs, t.groupValue(int64(*event.Annotations.ResetState)))
		return
	}

	t.update(event.WallNs, key, newVal, event.Annotations.Nested)
}

func (t *Tracker) groupValue(raw int64) int64 {
	if t.groupMap == nil {
		return raw
	}
	if mapped, ok := t.groupMap[raw]; ok {
		return mapped
	}
	return raw
}

// reset applies newVal to every currently tracked key as a non-nested
// transition (spec.md §4.3 "reset-state annotation").
func (t *Tracker) reset(eventNs int64, newVal int64) {
	keys := make([]dimkey.Key, 0, len(t.keys))
	for k := range t.keys {
		keys = append(keys, k)
	}
	for _, k := range keys {
		t.update(eventNs, k, newVal, false)
	}
}

func (t *Tracker) update(eventNs int64, key dimkey.Key, newVal int64, nested bool) {
	e, ok := t.keys[key]
	if !ok {
		e = &entry{state: Unknown}
		t.keys[key] = e
	}
	old := e.state

	switch {
	case !nested:
		if newVal != old {
			e.state, e.count = newVal, 1
			t.notify(eventNs, key, old, newVal)
		}
	case newVal == Unknown:
		if old != Unknown {
			t.notify(eventNs, key, old, newVal)
		}
	case old == Unknown:
		e.state, e.count = newVal, 1
		t.notify(eventNs, key, old, newVal)
	case old == newVal:
		e.count++
	default:
		e.count--
		if e.count <= 0 {
			// Equal numbers of ON and OFF: the OFF transition is reported
			// and the key collapses back to Unknown.
			delete(t.keys, key)
			t.notify(eventNs, key, old, newVal)
		}
	}

	if newVal == Unknown {
		delete(t.keys, key)
	}
}

func (t *Tracker) notify(eventNs int64, key dimkey.Key, oldState, newState int64) {
	for _, l := range t.listeners {
		l(eventNs, t.atomID, key, oldState, newState)
	}
}

func fieldString(fv models.FieldValue) string {
	if fv.IsLeaf && fv.StringValue != "" {
		return fv.StringValue
	}
	if fv.IsLeaf {
		return strconv.FormatInt(fv.IntValue, 10)
	}
	return ""
}
