// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import "fmt"

// ErrorKind classifies a configuration validation failure (spec.md §7).
type ErrorKind int

// Error kinds, spec.md §7 "Error Handling Design".
const (
	MatcherDuplicate ErrorKind = iota
	MatcherCycle
	MatcherMalformed
	ConditionDuplicate
	ConditionCycle
	ConditionInvalidCombination
	MetricUnknownWhat
	MetricUnknownCondition
	MetricHasMultipleActivations
	NoReportMetricNotFound
	MetricSlicedStateAtomNotAllowedFromAnyUID
	RestrictedMetricNotSupported
	BucketSizeInvalid
)

var errorKindNames = map[ErrorKind]string{
	MatcherDuplicate:                           "MATCHER_DUPLICATE",
	MatcherCycle:                                "MATCHER_CYCLE",
	MatcherMalformed:                            "MATCHER_MALFORMED",
	ConditionDuplicate:                          "CONDITION_DUPLICATE",
	ConditionCycle:                              "CONDITION_CYCLE",
	ConditionInvalidCombination:                 "CONDITION_INVALID_COMBINATION",
	MetricUnknownWhat:                           "METRIC_UNKNOWN_WHAT",
	MetricUnknownCondition:                      "METRIC_UNKNOWN_CONDITION",
	MetricHasMultipleActivations:                "METRIC_HAS_MULTIPLE_ACTIVATIONS",
	NoReportMetricNotFound:                      "NO_REPORT_METRIC_NOT_FOUND",
	MetricSlicedStateAtomNotAllowedFromAnyUID:   "METRIC_SLICED_STATE_ATOM_ALLOWED_FROM_ANY_UID",
	RestrictedMetricNotSupported:                "RESTRICTED_METRIC_NOT_SUPPORTED",
	BucketSizeInvalid:                           "BUCKET_SIZE_INVALID",
}

func (k ErrorKind) String() string {
	if n, ok := errorKindNames[k]; ok {
		return n
	}
	return "UNKNOWN_ERROR_KIND"
}

// ValidationError is one configuration validation failure, carrying enough
// context for the caller to locate the offending node (spec.md §7: errors
// are structured, never bare strings).
type ValidationError struct {
	Kind        ErrorKind
	OffendingID int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: id %d", e.Kind, e.OffendingID)
}

func newErr(kind ErrorKind, offendingID int64) *ValidationError {
	return &ValidationError{Kind: kind, OffendingID: offendingID}
}
