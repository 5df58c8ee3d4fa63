// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"github.com/hashicorp/go-multierror"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// UpdateStatus is the three-valued classification spec.md §4.6 assigns to
// every node of a Configuration when diffing it against its predecessor.
type UpdateStatus int

// Update statuses, spec.md §4.6 "Live Update".
const (
	Preserve UpdateStatus = iota
	Replace
	New
)

// Plan is the pure output of Diff: a classification for every node in the
// new Configuration, ready for Compiler.Apply to execute. Diff never
// mutates either Configuration and never touches a clock, so it is safe to
// call repeatedly for dry-run validation (spec.md's "determineChanges"
// split, grounded on the original's config_update_utils dry-run tests).
type Plan struct {
	New *Configuration

	Matchers   map[matcher.ID]UpdateStatus
	Predicates map[condition.ID]UpdateStatus
	States     map[int64]UpdateStatus
	Metrics    map[int64]UpdateStatus
	Alerts     map[int64]UpdateStatus
	Alarms     map[int64]UpdateStatus
}

type color int

const (
	white color = iota
	gray
	black
)

// diffCtx carries the working state of one Diff call: indices into both
// configurations plus memoization tables, so every node is visited once
// regardless of how many parents reference it (spec.md §4.6 step 2: "a
// memoized depth-first walk").
type diffCtx struct {
	oldMatchers map[matcher.ID]matcher.AtomMatcher
	newMatchers map[matcher.ID]matcher.AtomMatcher
	matcherColor map[matcher.ID]color
	matcherStatus map[matcher.ID]UpdateStatus

	oldPredicates map[condition.ID]condition.Predicate
	newPredicates map[condition.ID]condition.Predicate
	predColor map[condition.ID]color
	predStatus map[condition.ID]UpdateStatus

	errs *multierror.Error
}

// Diff classifies every node of newCfg against oldCfg (spec.md §4.6 steps
// 1-6). oldCfg may be nil for a fresh install, in which case every node is
// New. Diff returns a non-nil error only when newCfg itself is structurally
// invalid (duplicate IDs, cycles, dangling references); it never errors
// because of what changed relative to oldCfg.
func Diff(oldCfg, newCfg *Configuration) (*Plan, error) {
	ctx := &diffCtx{
		oldMatchers:   map[matcher.ID]matcher.AtomMatcher{},
		newMatchers:   map[matcher.ID]matcher.AtomMatcher{},
		matcherColor:  map[matcher.ID]color{},
		matcherStatus: map[matcher.ID]UpdateStatus{},
		oldPredicates: map[condition.ID]condition.Predicate{},
		newPredicates: map[condition.ID]condition.Predicate{},
		predColor:     map[condition.ID]color{},
		predStatus:    map[condition.ID]UpdateStatus{},
	}

	if oldCfg != nil {
		for _, m := range oldCfg.Matchers {
			ctx.oldMatchers[m.ID] = m
		}
		for _, p := range oldCfg.Predicates {
			ctx.oldPredicates[p.ID] = p
		}
	}

	for _, m := range newCfg.Matchers {
		if _, dup := ctx.newMatchers[m.ID]; dup {
			ctx.errs = multierror.Append(ctx.errs, newErr(MatcherDuplicate, int64(m.ID)))
			continue
		}
		ctx.newMatchers[m.ID] = m
	}
	for _, p := range newCfg.Predicates {
		if _, dup := ctx.newPredicates[p.ID]; dup {
			ctx.errs = multierror.Append(ctx.errs, newErr(ConditionDuplicate, int64(p.ID)))
			continue
		}
		ctx.newPredicates[p.ID] = p
	}

	for id := range ctx.newMatchers {
		ctx.classifyMatcher(id)
	}
	for id := range ctx.newPredicates {
		ctx.classifyPredicate(id)
	}

	oldStates := map[int64]StateConfig{}
	if oldCfg != nil {
		for _, s := range oldCfg.States {
			oldStates[s.ID] = s
		}
	}
	stateStatus := map[int64]UpdateStatus{}
	newStateIDs := map[int64]StateConfig{}
	for _, s := range newCfg.States {
		newStateIDs[s.ID] = s
		if old, ok := oldStates[s.ID]; ok && stateContentEqual(old, s) {
			stateStatus[s.ID] = Preserve
		} else if ok {
			stateStatus[s.ID] = Replace
		} else {
			stateStatus[s.ID] = New
		}
	}

	oldMetrics := map[int64]MetricConfig{}
	if oldCfg != nil {
		for _, m := range oldCfg.Metrics {
			oldMetrics[m.ID] = m
		}
	}
	metricStatus := map[int64]UpdateStatus{}
	for _, m := range newCfg.Metrics {
		if _, ok := ctx.newMatchers[m.What]; !ok {
			ctx.errs = multierror.Append(ctx.errs, newErr(MetricUnknownWhat, m.ID))
		}
		if m.Condition != nil {
			if _, ok := ctx.newPredicates[*m.Condition]; !ok {
				ctx.errs = multierror.Append(ctx.errs, newErr(MetricUnknownCondition, m.ID))
			}
		}
		if len(m.Activations) > 1 {
			ctx.errs = multierror.Append(ctx.errs, newErr(MetricHasMultipleActivations, m.ID))
		}
		if m.BucketSize <= 0 {
			ctx.errs = multierror.Append(ctx.errs, newErr(BucketSizeInvalid, m.ID))
		}

		depsPreserved := ctx.matcherStatus[m.What] == Preserve
		if m.Condition != nil {
			depsPreserved = depsPreserved && ctx.predStatus[*m.Condition] == Preserve
		}
		for _, sid := range m.SlicedByState {
			if stateStatus[sid] != Preserve {
				depsPreserved = false
			}
		}
		for _, act := range m.Activations {
			if ctx.matcherStatus[act.ActivateMatcher] != Preserve {
				depsPreserved = false
			}
			if act.DeactivateMatcher != nil && ctx.matcherStatus[*act.DeactivateMatcher] != Preserve {
				depsPreserved = false
			}
		}

		old, existed := oldMetrics[m.ID]
		switch {
		case !existed:
			metricStatus[m.ID] = New
		case !depsPreserved || !metricContentEqual(old, m):
			metricStatus[m.ID] = Replace
		default:
			metricStatus[m.ID] = Preserve
		}
	}

	oldAlerts := map[int64]AlertConfig{}
	if oldCfg != nil {
		for _, a := range oldCfg.Alerts {
			oldAlerts[a.ID] = a
		}
	}
	alertStatus := map[int64]UpdateStatus{}
	for _, a := range newCfg.Alerts {
		if _, ok := metricStatus[a.MetricID]; !ok {
			ctx.errs = multierror.Append(ctx.errs, newErr(NoReportMetricNotFound, a.ID))
		}
		old, existed := oldAlerts[a.ID]
		switch {
		case !existed:
			alertStatus[a.ID] = New
		case metricStatus[a.MetricID] != Preserve || !alertContentEqual(old, a):
			alertStatus[a.ID] = Replace
		default:
			alertStatus[a.ID] = Preserve
		}
	}

	oldAlarms := map[int64]AlarmConfig{}
	if oldCfg != nil {
		for _, a := range oldCfg.Alarms {
			oldAlarms[a.ID] = a
		}
	}
	alarmStatus := map[int64]UpdateStatus{}
	for _, a := range newCfg.Alarms {
		old, existed := oldAlarms[a.ID]
		switch {
		case !existed:
			alarmStatus[a.ID] = New
		case !alarmContentEqual(old, a):
			alarmStatus[a.ID] = Replace
		default:
			alarmStatus[a.ID] = Preserve
		}
	}

	if err := ctx.errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	return &Plan{
		New:        newCfg,
		Matchers:   ctx.matcherStatus,
		Predicates: ctx.predStatus,
		States:     stateStatus,
		Metrics:    metricStatus,
		Alerts:     alertStatus,
		Alarms:     alarmStatus,
	}, nil
}

// classifyMatcher returns id's status, computing and memoizing it (and
// every transitive child's) on first visit. A gray node revisited mid-walk
// is a cycle (spec.md §7 "MATCHER_CYCLE").
func (c *diffCtx) classifyMatcher(id matcher.ID) UpdateStatus {
	if st, ok := c.matcherStatus[id]; ok {
		return st
	}
	switch c.matcherColor[id] {
	case gray:
		c.errs = multierror.Append(c.errs, newErr(MatcherCycle, int64(id)))
		c.matcherStatus[id] = Replace
		return Replace
	case black:
		return c.matcherStatus[id]
	}
	c.matcherColor[id] = gray

	m, ok := c.newMatchers[id]
	if !ok {
		c.matcherColor[id] = black
		c.matcherStatus[id] = New
		return New
	}
	if m.Simple == nil && m.Combination == nil {
		c.errs = multierror.Append(c.errs, newErr(MatcherMalformed, int64(id)))
	}

	childrenPreserved := true
	if m.Combination != nil {
		for _, childID := range m.Combination.Children {
			if c.classifyMatcher(childID) != Preserve {
				childrenPreserved = false
			}
		}
	}

	var status UpdateStatus
	old, existed := c.oldMatchers[id]
	switch {
	case !existed:
		status = New
	case !childrenPreserved || !matcherContentEqual(old, m):
		status = Replace
	default:
		status = Preserve
	}

	c.matcherColor[id] = black
	c.matcherStatus[id] = status
	return status
}

// classifyPredicate mirrors classifyMatcher, additionally depending on the
// matchers a SimplePredicate references (spec.md §4.2/§4.6: a predicate
// must REPLACE if its start/stop/stop_all matcher was replaced, even if
// the predicate's own declaration is unchanged).
func (c *diffCtx) classifyPredicate(id condition.ID) UpdateStatus {
	if st, ok := c.predStatus[id]; ok {
		return st
	}
	switch c.predColor[id] {
	case gray:
		c.errs = multierror.Append(c.errs, newErr(ConditionCycle, int64(id)))
		c.predStatus[id] = Replace
		return Replace
	case black:
		return c.predStatus[id]
	}
	c.predColor[id] = gray

	p, ok := c.newPredicates[id]
	if !ok {
		c.predColor[id] = black
		c.predStatus[id] = New
		return New
	}

	depsPreserved := true
	if p.Simple != nil {
		// Unresolved Start/Stop/StopAll references are left for
		// condition.NewWizard to reject at compile time (spec.md §7
		// CONDITION_DUPLICATE/CONDITION_CYCLE cover predicate-shaped
		// errors; a dangling matcher reference surfaces there, not here).
		if c.classifyMatcher(p.Simple.Start) != Preserve {
			depsPreserved = false
		}
		if c.classifyMatcher(p.Simple.Stop) != Preserve {
			depsPreserved = false
		}
		if p.Simple.StopAll != nil && c.classifyMatcher(*p.Simple.StopAll) != Preserve {
			depsPreserved = false
		}
	}
	if p.Combination != nil {
		if len(p.Combination.Children) > 1 {
			slicedCount := 0
			for _, childID := range p.Combination.Children {
				if child, ok := c.newPredicates[childID]; ok && child.Simple != nil && len(child.Simple.Dimensions) > 0 {
					slicedCount++
				}
			}
			if slicedCount > 1 {
				c.errs = multierror.Append(c.errs, &ValidationError{Kind: ConditionInvalidCombination, OffendingID: int64(id)})
			}
		}
		for _, childID := range p.Combination.Children {
			if c.classifyPredicate(childID) != Preserve {
				depsPreserved = false
			}
		}
	}

	var status UpdateStatus
	old, existed := c.oldPredicates[id]
	switch {
	case !existed:
		status = New
	case !depsPreserved || !predicateContentEqual(old, p):
		status = Replace
	default:
		status = Preserve
	}

	c.predColor[id] = black
	c.predStatus[id] = status
	return status
}
