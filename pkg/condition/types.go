// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package condition implements the condition (predicate) layer: a
// tri-state boolean derived from matcher firings, optionally sliced by a
// dimension key (spec.md §4.2). It is the second of the three evaluation
// layers the dispatcher runs per event.
package condition

import (
	"strconv"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// TriState is UNKNOWN/FALSE/TRUE as a tagged enum rather than a nullable
// bool, because UNKNOWN has its own combination semantics (spec.md §9
// "Tri-state conditions").
type TriState int

// Tri-state values.
const (
	Unknown TriState = iota
	False
	True
)

// ID identifies one predicate within a configuration.
type ID int64

// SimplePredicate is a per-key start/stop state machine (spec.md §3).
type SimplePredicate struct {
	Start        matcher.ID
	Stop         matcher.ID
	StopAll      *matcher.ID
	Dimensions   []int32 // field numbers forming this predicate's own slice key; empty means unsliced
	InitialValue TriState
	CountNesting bool
}

// CombinationPredicate composes child predicates with the same operator
// set as matcher combinations (spec.md §4.2: "the same logic table as the
// matcher layer with the added tri-state rule").
type CombinationPredicate struct {
	Op       matcher.CombinationOp
	Children []ID
}

// Predicate is one node of the predicate DAG: exactly one of Simple or
// Combination is set.
type Predicate struct {
	ID          ID
	Simple      *SimplePredicate
	Combination *CombinationPredicate
}

// keyState is the per-dimension-key state a simple predicate tracks.
type keyState struct {
	value   TriState
	nesting int
	tuple   dimkey.Tuple
}

// Listener receives predicate value transitions in ascending metric-index
// order (spec.md §4.2). key/tuple are the zero key and an empty tuple for
// unsliced predicates. tNs is the triggering event's wall-clock time,
// which Duration producers need to compute interval lengths.
type Listener func(tNs int64, key dimkey.Key, tuple dimkey.Tuple, oldVal, newVal TriState)

type registeredListener struct {
	metricIndex int
	fn          Listener
}

// InvalidCombinationError is CONDITION_INVALID_COMBINATION (spec.md §4.2):
// a non-sliced combination child contains a sliced child, or more than one
// child of a combination is sliced.
type InvalidCombinationError struct {
	Offending ID
}

func (e *InvalidCombinationError) Error() string {
	return "condition_invalid_combination: predicate " + strconv.FormatInt(int64(e.Offending), 10)
}
