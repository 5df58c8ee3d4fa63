// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package models holds the plain data types that flow through the engine:
// atomic events and the field-value trees they carry. Nothing in this
// package has behavior beyond simple accessors; every layer in pkg/matcher,
// pkg/condition, pkg/state and pkg/metrics reads events through it.
package models

// FieldPosition selects which index of a repeated field a matcher inspects.
type FieldPosition int

// Repeated-field position selectors. ALL is accepted by the config compiler
// but never matched at runtime (spec: "ALL is unsupported").
const (
	PositionFirst FieldPosition = iota
	PositionLast
	PositionAny
	PositionAll
)

// FieldValue is one node of the recursive tree of (path, scalar|children)
// that makes up an atom's payload.
type FieldValue struct {
	Field    int32
	Repeated bool
	Position FieldPosition

	// Exactly one of these is set for a leaf node.
	IntValue    int64
	FloatValue  float64
	StringValue string
	BoolValue   bool
	IsLeaf      bool

	// Non-leaf nodes (a repeated message field, e.g. an attribution chain)
	// carry one Children slice per repeated index.
	Children [][]FieldValue
}

// Annotations carries the per-atom metadata the dispatcher and state
// tracker need that isn't itself a field value.
type Annotations struct {
	ExclusiveStateField *int32
	ResetState          *int32
	Nested              bool
	TruncateTimestamp   bool
	UidField            *int32
}

// AlarmTickAtomID is the synthetic atom id an AlarmMonitor fire injects
// into the dispatcher as an ordinary Event (spec.md §5 "register a
// synthetic 'alarm tick' event"). It is negative so it can never collide
// with a real Android atom id.
const AlarmTickAtomID int32 = -1

// AlarmIDField is the field number carrying the firing alarm's id on an
// AlarmTickAtomID event.
const AlarmIDField int32 = 1

// Event is one atomic log record handed to Dispatcher.Dispatch.
type Event struct {
	AtomID      int32
	UID         int32
	ElapsedNs   int64
	WallNs      int64
	Values      []FieldValue
	Annotations Annotations
}

// Field returns the first top-level FieldValue at the given field number,
// and whether it was present.
func (e *Event) Field(field int32) (FieldValue, bool) {
	for _, v := range e.Values {
		if v.Field == field {
			return v, true
		}
	}
	return FieldValue{}, false
}

// ExclusiveState extracts the integer value of the field annotated as the
// exclusive-state field, per spec.md §4.3. Returns false when the
// annotation is absent or the field isn't an integer leaf.
func (e *Event) ExclusiveState() (int64, bool) {
	if e.Annotations.ExclusiveStateField == nil {
		return 0, false
	}
	fv, ok := e.Field(*e.Annotations.ExclusiveStateField)
	if !ok || !fv.IsLeaf {
		return 0, false
	}
	return fv.IntValue, true
}
