// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/models"
)

func simple(id ID, atom int32) AtomMatcher {
	return AtomMatcher{ID: id, Simple: &SimpleMatcher{AtomID: atom}}
}

func TestWizardEvaluateSimpleAndCombination(t *testing.T) {
	matchers := []AtomMatcher{
		simple(1, 10),
		simple(2, 11),
		{ID: 3, Combination: &CombinationMatcher{Op: OpOr, Children: []ID{1, 2}}},
	}
	w, err := NewWizard(matchers, nil)
	require.NoError(t, err)

	res := w.Evaluate(&models.Event{AtomID: 11})
	i3, _ := w.IndexOf(3)
	i1, _ := w.IndexOf(1)
	i2, _ := w.IndexOf(2)
	assert.False(t, res[i1])
	assert.True(t, res[i2])
	assert.True(t, res[i3])
}

func TestWizardRejectsCycle(t *testing.T) {
	matchers := []AtomMatcher{
		{ID: 1, Combination: &CombinationMatcher{Op: OpAnd, Children: []ID{2}}},
		{ID: 2, Combination: &CombinationMatcher{Op: OpAnd, Children: []ID{1}}},
	}
	_, err := NewWizard(matchers, nil)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestWizardRejectsDuplicateID(t *testing.T) {
	matchers := []AtomMatcher{simple(1, 10), simple(1, 11)}
	_, err := NewWizard(matchers, nil)
	require.Error(t, err)
}

func TestWizardNotRequiresSingleChild(t *testing.T) {
	matchers := []AtomMatcher{
		simple(1, 10),
		simple(2, 11),
		{ID: 3, Combination: &CombinationMatcher{Op: OpNot, Children: []ID{1, 2}}},
	}
	_, err := NewWizard(matchers, nil)
	require.Error(t, err)
}

func TestFieldValueMatcherGlob(t *testing.T) {
	m := AtomMatcher{ID: 1, Simple: &SimpleMatcher{
		AtomID: 5,
		Filters: []FieldValueMatcher{
			{Field: 1, Comparator: CmpGlob, StringValue: "com.example.*"},
		},
	}}
	w, err := NewWizard([]AtomMatcher{m}, nil)
	require.NoError(t, err)

	ev := &models.Event{AtomID: 5, Values: []models.FieldValue{
		{Field: 1, IsLeaf: true, StringValue: "com.example.app"},
	}}
	res := w.Evaluate(ev)
	i, _ := w.IndexOf(1)
	assert.True(t, res[i])
}
