// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config implements the Configuration Compiler & Live Update of
// spec.md §4.6: it turns a declarative Configuration into wired matcher,
// condition, state, metric and alert layers, and diffs a running
// configuration against a replacement one so that unaffected nodes keep
// their identity and in-flight aggregation state across the swap.
package config

import (
	"time"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
)

// Key identifies one configuration, spec.md §3 "ConfigKey = (uid, id)".
type Key struct {
	UID int32
	ID  int64
}

// MetricVariant tags which of the six metrics.*Producer variants a
// MetricConfig compiles to.
type MetricVariant int

// Metric variants, spec.md §3 "Metric Producer".
const (
	MetricEvent MetricVariant = iota
	MetricCount
	MetricDuration
	MetricGauge
	MetricValue
	MetricSketch
)

// StateConfig is one state-tracker definition (spec.md §3 "State").
type StateConfig struct {
	ID            int64
	AtomID        int32
	PrimaryFields []int32
	GroupMap      map[int64]int64
}

// MetricConfig is the common-plus-variant configuration of one metric
// producer (spec.md §3 "Metric Producer"). Exactly the fields relevant to
// Variant are read by the compiler; the rest are ignored.
type MetricConfig struct {
	ID   int64
	What matcher.ID

	Condition       *condition.ID
	ConditionSliced bool
	ConditionLinks  []metrics.DimLink

	DimensionsInWhat []int32
	SlicedByState    []int64 // StateConfig.ID values

	Variant      MetricVariant
	BucketSize   time.Duration
	Activations  []metrics.ActivationConfig
	MaxDimensionsPerBucket int

	// ValueField selects the single event field Gauge, Numeric Value and
	// Sketch read their sample from (spec.md §4.4.3-5). Unused by Event,
	// Count and Duration.
	ValueField int32

	// Duration
	DurationAgg metrics.DurationAggregation

	// Gauge
	GaugeStrategy       metrics.GaugeStrategy
	GaugeSampleCount    int
	GaugeTriggerMatcher *matcher.ID

	// Numeric Value
	ValueAgg          metrics.ValueAggregation
	ValueMode         metrics.ValueMode
	ValueSkipZeroDiff bool

	// Event
	EventLogCap int

	// NoReport marks a metric that is accumulated but never included in
	// report output (spec.md §7 "NO_REPORT_METRIC_NOT_FOUND" implies a
	// no-report set exists).
	NoReport bool
}

// AlertConfig is one alert/anomaly-tracker definition (spec.md §3
// "Alert").
type AlertConfig struct {
	ID               int64
	MetricID         int64
	NumBuckets       int
	TriggerIfSumGt   int64
	RefractoryPeriod time.Duration
}

// AlarmConfig is one monotonic periodic/one-shot alarm definition
// (spec.md §4.6 step 6).
type AlarmConfig struct {
	ID     int64
	Offset time.Duration
	Period time.Duration // zero means one-shot
}

// Configuration is the full declarative input to the compiler: a DAG of
// matchers, predicates, states, metrics, alerts and alarms (spec.md §3
// "Configuration"). It is immutable once installed.
type Configuration struct {
	Key Key

	Matchers   []matcher.AtomMatcher
	Predicates []condition.Predicate
	States     []StateConfig
	Metrics    []MetricConfig
	Alerts     []AlertConfig
	Alarms     []AlarmConfig
}

// MetricByID returns cfg's metric declaration for id, or nil.
func (cfg *Configuration) MetricByID(id int64) *MetricConfig {
	for i := range cfg.Metrics {
		if cfg.Metrics[i].ID == id {
			return &cfg.Metrics[i]
		}
	}
	return nil
}
