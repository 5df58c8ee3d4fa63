// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package matcher

// builtinAID is the fixed table of OS account names resolved before falling
// back to UidMap package lookups (spec.md §4.1; grounded on
// _examples/original_source/statsd/src/matchers/matcher_util.cpp, which
// carries the same table for the same reason: these uids never appear in
// the package manager's install records).
var builtinAID = map[int32]string{
	0:    "root",
	1000: "system",
	1001: "radio",
	1002: "bluetooth",
	1003: "graphics",
	1004: "input",
	1005: "audio",
	1006: "camera",
	1007: "log",
	1010: "wifi",
	1013: "media",
	1021: "gps",
	1041: "nfc",
	2000: "shell",
}

// AIDName looks uid up in the built-in AID table only; pkg/uidmap.Map's
// AIDName method delegates to it.
func AIDName(uid int32) (string, bool) {
	name, ok := builtinAID[uid]
	return name, ok
}
