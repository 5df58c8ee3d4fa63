// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/models"
)

func buildMatchers(t *testing.T) *matcher.Wizard {
	t.Helper()
	mw, err := matcher.NewWizard([]matcher.AtomMatcher{
		{ID: 1, Simple: &matcher.SimpleMatcher{AtomID: 10}}, // start
		{ID: 2, Simple: &matcher.SimpleMatcher{AtomID: 11}}, // stop
	}, nil)
	require.NoError(t, err)
	return mw
}

func TestSimplePredicateStartStop(t *testing.T) {
	mw := buildMatchers(t)
	cw, err := NewWizard([]Predicate{
		{ID: 1, Simple: &SimplePredicate{Start: 1, Stop: 2, InitialValue: False}},
	}, mw)
	require.NoError(t, err)

	changed, _ := cw.Evaluate(&models.Event{AtomID: 10}, mw.Evaluate(&models.Event{AtomID: 10}))
	assert.Contains(t, changed, 0)
	assert.Equal(t, True, cw.Value(0))

	changed, _ = cw.Evaluate(&models.Event{AtomID: 11}, mw.Evaluate(&models.Event{AtomID: 11}))
	assert.Contains(t, changed, 0)
	assert.Equal(t, False, cw.Value(0))
}

func TestCountNestingClampsAtZero(t *testing.T) {
	mw := buildMatchers(t)
	cw, err := NewWizard([]Predicate{
		{ID: 1, Simple: &SimplePredicate{Start: 1, Stop: 2, InitialValue: False, CountNesting: true}},
	}, mw)
	require.NoError(t, err)

	stopEvent := &models.Event{AtomID: 11}
	cw.Evaluate(stopEvent, mw.Evaluate(stopEvent))
	assert.Equal(t, False, cw.Value(0))

	startEvent := &models.Event{AtomID: 10}
	cw.Evaluate(startEvent, mw.Evaluate(startEvent))
	cw.Evaluate(startEvent, mw.Evaluate(startEvent))
	assert.Equal(t, True, cw.Value(0))
	cw.Evaluate(stopEvent, mw.Evaluate(stopEvent))
	assert.Equal(t, True, cw.Value(0))
	cw.Evaluate(stopEvent, mw.Evaluate(stopEvent))
	assert.Equal(t, False, cw.Value(0))
}

func TestCombinationTriState(t *testing.T) {
	assert.Equal(t, Unknown, combine(matcher.OpAnd, []TriState{True, Unknown}))
	assert.Equal(t, False, combine(matcher.OpAnd, []TriState{True, False, Unknown}))
	assert.Equal(t, True, combine(matcher.OpOr, []TriState{False, True, Unknown}))
	assert.Equal(t, Unknown, combine(matcher.OpOr, []TriState{False, Unknown}))
	assert.Equal(t, Unknown, combine(matcher.OpNot, []TriState{Unknown}))
}

func TestInvalidSlicedCombinationRejected(t *testing.T) {
	mw := buildMatchers(t)
	_, err := NewWizard([]Predicate{
		{ID: 1, Simple: &SimplePredicate{Start: 1, Stop: 2, Dimensions: []int32{7}}},
		{ID: 2, Simple: &SimplePredicate{Start: 1, Stop: 2, Dimensions: []int32{8}}},
		{ID: 3, Combination: &CombinationPredicate{Op: matcher.OpAnd, Children: []ID{1, 2}}},
	}, mw)
	require.Error(t, err)
	var invalid *InvalidCombinationError
	require.ErrorAs(t, err, &invalid)
}
