// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package matcher

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/DataDog/statsd-engine/pkg/models"
)

// compileGlobs walks m and compiles every CmpGlob leaf's pattern, mirroring
// the teacher's habit of compiling gobwas/glob patterns once at config
// build time rather than per event.
func compileGlobs(m *FieldValueMatcher) {
	if m.Comparator == CmpGlob {
		m.glob = glob.MustCompile(m.StringValue)
	}
	for i := range m.Children {
		compileGlobs(&m.Children[i])
	}
}

// matchFields evaluates fvm against the top-level value tree of an event,
// resolving CmpUIDName leaves through resolver for the event's own uid.
func matchFields(filters []FieldValueMatcher, values []models.FieldValue, uid int32, resolver UIDResolver) bool {
	for _, f := range filters {
		if !matchOne(&f, values, uid, resolver) {
			return false
		}
	}
	return true
}

func matchOne(m *FieldValueMatcher, values []models.FieldValue, uid int32, resolver UIDResolver) bool {
	var fv models.FieldValue
	found := false
	for _, v := range values {
		if v.Field == m.Field {
			fv = v
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if len(m.Children) > 0 {
		return matchRepeated(m, fv.Children)
	}

	return matchLeaf(m, fv, uid, resolver)
}

// matchRepeated implements the FIRST/LAST/ANY position semantics over a
// repeated sub-message field (spec.md §4.1). ALL is not rejected at
// compile time; a PositionAll matcher falls to the default case and never
// matches.
func matchRepeated(m *FieldValueMatcher, indices [][]models.FieldValue) bool {
	if len(indices) == 0 {
		return false
	}
	switch m.Position {
	case models.PositionFirst:
		return matchFieldsAt(m.Children, indices[0])
	case models.PositionLast:
		return matchFieldsAt(m.Children, indices[len(indices)-1])
	case models.PositionAny:
		// Short-circuit at the first satisfying index, per
		// original_source's matcher_util.cpp lazy-evaluation behavior.
		for _, idx := range indices {
			if matchFieldsAt(m.Children, idx) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchFieldsAt(filters []FieldValueMatcher, values []models.FieldValue) bool {
	for _, f := range filters {
		if !matchOne(&f, values, 0, nil) {
			return false
		}
	}
	return true
}

func matchLeaf(m *FieldValueMatcher, fv models.FieldValue, uid int32, resolver UIDResolver) bool {
	switch m.Comparator {
	case CmpEq:
		return fv.IntValue == m.IntValue && fv.FloatValue == m.FloatValue && fv.StringValue == m.StringValue && fv.BoolValue == m.BoolValue
	case CmpNeq:
		return !(fv.IntValue == m.IntValue && fv.StringValue == m.StringValue)
	case CmpLt:
		return numeric(fv) < m.FloatValue
	case CmpLte:
		return numeric(fv) <= m.FloatValue
	case CmpGt:
		return numeric(fv) > m.FloatValue
	case CmpGte:
		return numeric(fv) >= m.FloatValue
	case CmpGlob:
		if m.glob == nil {
			return false
		}
		return m.glob.Match(fv.StringValue)
	case CmpUIDName:
		return matchUIDName(m.StringValue, uid, resolver)
	default:
		return false
	}
}

func numeric(fv models.FieldValue) float64 {
	if fv.FloatValue != 0 {
		return fv.FloatValue
	}
	return float64(fv.IntValue)
}

// matchUIDName implements spec.md §4.1's UID-name resolution: accept if the
// candidate equals the built-in AID name for the event's uid, or — after
// lower-casing — any package name currently owning that uid.
func matchUIDName(candidate string, uid int32, resolver UIDResolver) bool {
	if resolver == nil {
		return false
	}
	if name, ok := resolver.AIDName(uid); ok && name == candidate {
		return true
	}
	lc := strings.ToLower(candidate)
	for _, pkg := range resolver.PackageNames(uid) {
		if strings.ToLower(pkg) == lc {
			return true
		}
	}
	return false
}
