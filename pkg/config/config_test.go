// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/models"
)

func simpleMatcher(id matcher.ID, atomID int32) matcher.AtomMatcher {
	return matcher.AtomMatcher{ID: id, Simple: &matcher.SimpleMatcher{AtomID: atomID}}
}

func baseConfig() *Configuration {
	return &Configuration{
		Key: Key{UID: 0, ID: 1},
		Matchers: []matcher.AtomMatcher{
			simpleMatcher(1, 10),
			simpleMatcher(2, 11),
		},
		Metrics: []MetricConfig{
			{ID: 100, What: 1, Variant: MetricCount, BucketSize: time.Minute, MaxDimensionsPerBucket: 100},
		},
	}
}

func TestDiffFreshInstallMarksEverythingNew(t *testing.T) {
	cfg := baseConfig()
	plan, err := Diff(nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, New, plan.Matchers[1])
	assert.Equal(t, New, plan.Matchers[2])
	assert.Equal(t, New, plan.Metrics[100])
}

func TestDiffUnchangedConfigPreservesEverything(t *testing.T) {
	old := baseConfig()
	plan, err := Diff(old, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, Preserve, plan.Matchers[1])
	assert.Equal(t, Preserve, plan.Matchers[2])
	assert.Equal(t, Preserve, plan.Metrics[100])
}

func TestDiffChangedMatcherPropagatesToDependentMetric(t *testing.T) {
	old := baseConfig()
	next := baseConfig()
	next.Matchers[0].Simple.AtomID = 99 // matcher 1's declared content changes

	plan, err := Diff(old, next)
	require.NoError(t, err)
	assert.Equal(t, Replace, plan.Matchers[1])
	assert.Equal(t, Preserve, plan.Matchers[2], "unrelated matcher is untouched")
	assert.Equal(t, Replace, plan.Metrics[100], "metric depends on matcher 1 via What")
}

func TestDiffCombinationChildReplacementPropagatesUpward(t *testing.T) {
	old := &Configuration{Matchers: []matcher.AtomMatcher{
		simpleMatcher(1, 10),
		{ID: 2, Combination: &matcher.CombinationMatcher{Op: matcher.OpAnd, Children: []matcher.ID{1}}},
	}}
	next := &Configuration{Matchers: []matcher.AtomMatcher{
		simpleMatcher(1, 77),
		{ID: 2, Combination: &matcher.CombinationMatcher{Op: matcher.OpAnd, Children: []matcher.ID{1}}},
	}}

	plan, err := Diff(old, next)
	require.NoError(t, err)
	assert.Equal(t, Replace, plan.Matchers[1])
	assert.Equal(t, Replace, plan.Matchers[2], "combination must replace when its child replaces")
}

func TestDiffDetectsMatcherCycle(t *testing.T) {
	cfg := &Configuration{Matchers: []matcher.AtomMatcher{
		{ID: 1, Combination: &matcher.CombinationMatcher{Op: matcher.OpAnd, Children: []matcher.ID{2}}},
		{ID: 2, Combination: &matcher.CombinationMatcher{Op: matcher.OpAnd, Children: []matcher.ID{1}}},
	}}
	_, err := Diff(nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCHER_CYCLE")
}

func TestDiffRejectsDuplicateMatcherID(t *testing.T) {
	cfg := &Configuration{Matchers: []matcher.AtomMatcher{
		simpleMatcher(1, 10),
		simpleMatcher(1, 11),
	}}
	_, err := Diff(nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATCHER_DUPLICATE")
}

func TestDiffMetricUnknownWhatIsAnError(t *testing.T) {
	cfg := &Configuration{
		Matchers: []matcher.AtomMatcher{simpleMatcher(1, 10)},
		Metrics:  []MetricConfig{{ID: 100, What: 999, Variant: MetricCount, BucketSize: time.Minute}},
	}
	_, err := Diff(nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRIC_UNKNOWN_WHAT")
}

func TestDiffPredicateReplaceWhenReferencedMatcherReplaces(t *testing.T) {
	old := &Configuration{
		Matchers: []matcher.AtomMatcher{simpleMatcher(1, 10), simpleMatcher(2, 11)},
		Predicates: []condition.Predicate{
			{ID: 1, Simple: &condition.SimplePredicate{Start: 1, Stop: 2}},
		},
	}
	next := &Configuration{
		Matchers: []matcher.AtomMatcher{simpleMatcher(1, 55), simpleMatcher(2, 11)},
		Predicates: []condition.Predicate{
			{ID: 1, Simple: &condition.SimplePredicate{Start: 1, Stop: 2}},
		},
	}
	plan, err := Diff(old, next)
	require.NoError(t, err)
	assert.Equal(t, Replace, plan.Predicates[1], "predicate depends on its start matcher's identity")
}

func TestCompilerCompileWiresMatchersToMetrics(t *testing.T) {
	cfg := baseConfig()
	c := NewCompiler(nil, clock.NewMock())
	installed, err := c.Compile(cfg)
	require.NoError(t, err)

	whatIdx, ok := installed.Matchers.IndexOf(1)
	require.True(t, ok)
	assert.Equal(t, whatIdx, installed.WhatIndex[100])
	assert.Contains(t, installed.MetricsByWhatIndex[whatIdx], int64(100))

	_, ok = installed.Producers[100].(interface{ Flush(int64) []metrics.ClosedBucket })
	assert.True(t, ok)
}

func TestCompilerApplyPreservesUnchangedProducerIdentity(t *testing.T) {
	cfg := baseConfig()
	c := NewCompiler(nil, clock.NewMock())
	first, err := c.Compile(cfg)
	require.NoError(t, err)

	second, err := c.Apply(first, baseConfig())
	require.NoError(t, err)

	assert.Same(t, first.Producers[100], second.Producers[100], "preserved metric keeps its live producer across an update")
}

func TestCompilerApplyRebuildsReplacedProducer(t *testing.T) {
	cfg := baseConfig()
	c := NewCompiler(nil, clock.NewMock())
	first, err := c.Compile(cfg)
	require.NoError(t, err)

	next := baseConfig()
	next.Matchers[0].Simple.AtomID = 42
	second, err := c.Apply(first, next)
	require.NoError(t, err)

	assert.NotSame(t, first.Producers[100], second.Producers[100], "replaced dependency forces a fresh producer")
}

func durationConfig() *Configuration {
	condID := condition.ID(1)
	return &Configuration{
		Key: Key{UID: 0, ID: 2},
		Matchers: []matcher.AtomMatcher{
			simpleMatcher(1, 20), // start
			simpleMatcher(2, 21), // stop
			simpleMatcher(3, 22), // unused "what" placeholder for the duration metric
		},
		Predicates: []condition.Predicate{
			{ID: 1, Simple: &condition.SimplePredicate{Start: 1, Stop: 2}},
		},
		Metrics: []MetricConfig{
			{
				ID: 200, What: 3, Condition: &condID, Variant: MetricDuration,
				DurationAgg: metrics.DurationSum, BucketSize: time.Minute, MaxDimensionsPerBucket: 10,
			},
		},
	}
}

func TestCompilerWiresDurationProducerToConditionTransitions(t *testing.T) {
	cfg := durationConfig()
	c := NewCompiler(nil, clock.NewMock())
	installed, err := c.Compile(cfg)
	require.NoError(t, err)

	startIdx, ok := installed.Matchers.IndexOf(1)
	require.True(t, ok)
	stopIdx, ok := installed.Matchers.IndexOf(2)
	require.True(t, ok)

	startResults := make(matcher.Results, 3)
	startResults[startIdx] = true
	installed.Conditions.Evaluate(&models.Event{AtomID: 20}, startResults)

	stopResults := make(matcher.Results, 3)
	stopResults[stopIdx] = true
	installed.Conditions.Evaluate(&models.Event{AtomID: 21, WallNs: 5_000_000}, stopResults)

	out := installed.Producers[200].Flush(time.Minute.Nanoseconds())
	require.Len(t, out, 1)
	assert.Equal(t, int64(5_000_000), out[0].Value.(metrics.DurationValue).DurationNs)
}

func TestCompilerApplyResubscribesPreservedDurationProducer(t *testing.T) {
	cfg := durationConfig()
	c := NewCompiler(nil, clock.NewMock())
	first, err := c.Compile(cfg)
	require.NoError(t, err)

	second, err := c.Apply(first, durationConfig())
	require.NoError(t, err)
	assert.Same(t, first.Producers[200], second.Producers[200], "unchanged duration metric keeps its live producer")

	startIdx, ok := second.Matchers.IndexOf(1)
	require.True(t, ok)
	stopIdx, ok := second.Matchers.IndexOf(2)
	require.True(t, ok)

	startResults := make(matcher.Results, 3)
	startResults[startIdx] = true
	second.Conditions.Evaluate(&models.Event{AtomID: 20}, startResults)

	stopResults := make(matcher.Results, 3)
	stopResults[stopIdx] = true
	second.Conditions.Evaluate(&models.Event{AtomID: 21, WallNs: 1_000_000}, stopResults)

	out := second.Producers[200].Flush(time.Minute.Nanoseconds())
	require.Len(t, out, 1, "preserved producer must observe transitions on the rebuilt condition.Wizard, not just the old one")
	assert.Equal(t, int64(1_000_000), out[0].Value.(metrics.DurationValue).DurationNs)
}
