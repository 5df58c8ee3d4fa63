// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package matcher implements the matcher layer: AtomMatcher evaluation
// against incoming events (spec.md §4.1). It is the first of the three
// evaluation layers the dispatcher runs per event, feeding both the
// condition layer and each metric's "what" matcher.
package matcher

import (
	"github.com/gobwas/glob"

	"github.com/DataDog/statsd-engine/pkg/models"
)

// ID identifies one AtomMatcher within a configuration.
type ID int64

// CombinationOp is the boolean operator of a Combination matcher.
type CombinationOp int

// Combination operators, spec.md §3 "AtomMatcher".
const (
	OpAnd CombinationOp = iota
	OpOr
	OpNot
	OpNand
	OpNor
)

// Comparator is the scalar test a leaf FieldValueMatcher applies.
type Comparator int

// Leaf comparators.
const (
	CmpEq Comparator = iota
	CmpNeq
	CmpLt
	CmpLte
	CmpGt
	CmpGte
	CmpGlob
	CmpUIDName
)

// FieldValueMatcher is one node of the recursive tree matched against an
// event's FieldValue tree (spec.md §4.1 "Simple matching semantics").
type FieldValueMatcher struct {
	Field    int32
	Repeated bool
	Position models.FieldPosition

	Comparator  Comparator
	IntValue    int64
	FloatValue  float64
	StringValue string
	BoolValue   bool
	glob        glob.Glob // compiled lazily from StringValue when Comparator == CmpGlob

	// Children, when non-empty, matches a repeated sub-message field: all
	// Children matchers must hold against the same child index (per
	// Position semantics) of Field's nested FieldValue list.
	Children []FieldValueMatcher
}

// SimpleMatcher matches a single atom with a conjunction of field-value
// matchers (spec.md: "Simple { atom_id, [field_value_matcher]* }").
type SimpleMatcher struct {
	AtomID  int32
	Filters []FieldValueMatcher
}

// CombinationMatcher composes other matchers by id (spec.md: "Combination
// { op, children : [matcher-id] }").
type CombinationMatcher struct {
	Op       CombinationOp
	Children []ID
}

// AtomMatcher is one node of the matcher DAG: exactly one of Simple or
// Combination is set.
type AtomMatcher struct {
	ID          ID
	Simple      *SimpleMatcher
	Combination *CombinationMatcher

	// initialized becomes true only once the compiler has verified this
	// matcher and every transitive child compiled without error (spec.md
	// §3: "A matcher's initialized flag becomes true only after all
	// ancestors initialize successfully").
	initialized bool
}

// UIDResolver is the subset of pkg/uidmap.Map the matcher layer needs to
// resolve CmpUIDName field matchers (spec.md §4.1).
type UIDResolver interface {
	// AIDName returns the built-in Android-ID account name for uid, if any.
	AIDName(uid int32) (string, bool)
	// PackageNames returns every package name currently owning uid.
	PackageNames(uid int32) []string
}
