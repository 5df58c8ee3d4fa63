// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"reflect"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// matcherContentEqual reports whether two AtomMatchers declare the same
// configuration. It is used instead of reflect.DeepEqual because
// FieldValueMatcher carries a lazily-compiled gobwas/glob cache: two
// matchers compiled from the same pattern hold distinct, DeepEqual-unequal
// glob.Glob values, which would make every glob-bearing matcher compare as
// "changed" on every diff regardless of whether its declared fields moved.
func matcherContentEqual(a, b matcher.AtomMatcher) bool {
	if a.ID != b.ID {
		return false
	}
	if (a.Simple == nil) != (b.Simple == nil) {
		return false
	}
	if a.Simple != nil {
		if a.Simple.AtomID != b.Simple.AtomID {
			return false
		}
		if !fieldMatchersEqual(a.Simple.Filters, b.Simple.Filters) {
			return false
		}
	}
	if (a.Combination == nil) != (b.Combination == nil) {
		return false
	}
	if a.Combination != nil {
		if a.Combination.Op != b.Combination.Op {
			return false
		}
		if !reflect.DeepEqual(a.Combination.Children, b.Combination.Children) {
			return false
		}
	}
	return true
}

func fieldMatchersEqual(a, b []matcher.FieldValueMatcher) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Field != y.Field || x.Repeated != y.Repeated || x.Position != y.Position {
			return false
		}
		if x.Comparator != y.Comparator || x.IntValue != y.IntValue ||
			x.FloatValue != y.FloatValue || x.StringValue != y.StringValue ||
			x.BoolValue != y.BoolValue {
			return false
		}
		if !fieldMatchersEqual(x.Children, y.Children) {
			return false
		}
	}
	return true
}

// predicateContentEqual is matcherContentEqual's counterpart for
// condition.Predicate.
func predicateContentEqual(a, b condition.Predicate) bool {
	if a.ID != b.ID {
		return false
	}
	if (a.Simple == nil) != (b.Simple == nil) {
		return false
	}
	if a.Simple != nil {
		as, bs := a.Simple, b.Simple
		if as.Start != bs.Start || as.InitialValue != bs.InitialValue || as.CountNesting != bs.CountNesting {
			return false
		}
		if as.Stop != bs.Stop {
			return false
		}
		if (as.StopAll == nil) != (bs.StopAll == nil) {
			return false
		}
		if as.StopAll != nil && *as.StopAll != *bs.StopAll {
			return false
		}
		if !reflect.DeepEqual(as.Dimensions, bs.Dimensions) {
			return false
		}
	}
	if (a.Combination == nil) != (b.Combination == nil) {
		return false
	}
	if a.Combination != nil {
		if a.Combination.Op != b.Combination.Op {
			return false
		}
		if !reflect.DeepEqual(a.Combination.Children, b.Combination.Children) {
			return false
		}
	}
	return true
}

// stateContentEqual compares two StateConfigs.
func stateContentEqual(a, b StateConfig) bool {
	if a.ID != b.ID || a.AtomID != b.AtomID {
		return false
	}
	if !reflect.DeepEqual(a.PrimaryFields, b.PrimaryFields) {
		return false
	}
	return reflect.DeepEqual(a.GroupMap, b.GroupMap)
}

// metricContentEqual compares two MetricConfigs by declared value; it is
// safe to use reflect.DeepEqual directly here since MetricConfig holds no
// matcher/predicate structs, only their IDs.
func metricContentEqual(a, b MetricConfig) bool {
	return reflect.DeepEqual(a, b)
}

func alertContentEqual(a, b AlertConfig) bool {
	return a == b
}

func alarmContentEqual(a, b AlarmConfig) bool {
	return a == b
}
