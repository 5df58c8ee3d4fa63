// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// cloneMatchers deep-copies a matcher tree before it is handed to
// matcher.NewWizard. NewWizard only copies its top-level []AtomMatcher
// slice; each AtomMatcher.Simple is a pointer, so its Filters slice (and
// the glob cache compileGlobs lazily writes into it) would otherwise alias
// the caller's configuration. Diff keeps the previous Configuration around
// for the next live update, so that snapshot must stay pristine.
func cloneMatchers(in []matcher.AtomMatcher) []matcher.AtomMatcher {
	out := make([]matcher.AtomMatcher, len(in))
	for i, m := range in {
		out[i] = matcher.AtomMatcher{ID: m.ID}
		if m.Simple != nil {
			s := *m.Simple
			s.Filters = cloneFieldValueMatchers(m.Simple.Filters)
			out[i].Simple = &s
		}
		if m.Combination != nil {
			c := *m.Combination
			c.Children = append([]matcher.ID(nil), m.Combination.Children...)
			out[i].Combination = &c
		}
	}
	return out
}

func cloneFieldValueMatchers(in []matcher.FieldValueMatcher) []matcher.FieldValueMatcher {
	if in == nil {
		return nil
	}
	out := make([]matcher.FieldValueMatcher, len(in))
	for i, f := range in {
		out[i] = f
		out[i].Children = cloneFieldValueMatchers(f.Children)
	}
	return out
}

// clonePredicates deep-copies a predicate tree for the same reason
// cloneMatchers does: condition.NewWizard's own top-level copy still
// leaves Simple/Combination pointers aliased to the caller's slice.
func clonePredicates(in []condition.Predicate) []condition.Predicate {
	out := make([]condition.Predicate, len(in))
	for i, p := range in {
		out[i] = condition.Predicate{ID: p.ID}
		if p.Simple != nil {
			s := *p.Simple
			s.Dimensions = append([]int32(nil), p.Simple.Dimensions...)
			out[i].Simple = &s
		}
		if p.Combination != nil {
			c := *p.Combination
			c.Children = append([]condition.ID(nil), p.Combination.Children...)
			out[i].Combination = &c
		}
	}
	return out
}
