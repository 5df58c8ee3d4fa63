// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package engine implements the dispatcher: the single coordinating type
// every event, pull completion and alarm tick feeds into (spec.md §5), and
// which runs the full matcher -> condition -> state -> metrics -> alerts
// pipeline for one installed configuration (spec.md §5 "Ordering
// guarantees").
package engine

import (
	"strconv"

	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/models"
)

// dispatchOne runs the full pipeline for event against inst, following the
// ordering guarantees of spec.md §5 step by step. The caller (Engine) holds
// the single dispatcher lock for the duration of this call.
func dispatchOne(inst *config.Installed, builder *dimkey.Builder, event *models.Event) {
	results := inst.Matchers.Evaluate(event)

	for _, g := range inst.Gates {
		g.OnMatcherResults(results, inst.Matchers.IndexOf)
	}

	inst.Conditions.Evaluate(event, results)

	preState := snapshotPreEventState(inst, event)

	for _, tr := range inst.StateByAtom[event.AtomID] {
		tr.OnEvent(event)
	}

	dispatchToMetrics(inst, builder, event, results, preState)
	drainClosedBucketsToAlerts(inst, builder)
}

// snapshotPreEventState captures every tracked state's value at the key the
// current event projects onto it, before any tracker.OnEvent call for this
// event can mutate it (spec.md §5 ordering guarantee 2).
func snapshotPreEventState(inst *config.Installed, event *models.Event) map[int64]int64 {
	pre := make(map[int64]int64, len(inst.States))
	for id, tr := range inst.States {
		pre[id] = tr.Value(tr.PrimaryKey(event))
	}
	return pre
}

// dispatchToMetrics fans a single event's matcher results out to every
// metric whose "what" matcher fired, in ascending metric-index order
// (spec.md §5 ordering guarantee 1: "Metric receipt within step 4 is in
// ascending metric-index order").
func dispatchToMetrics(inst *config.Installed, builder *dimkey.Builder, event *models.Event, results matcher.Results, preState map[int64]int64) {
	for _, id := range inst.MetricOrder {
		whatIdx := inst.WhatIndex[id]
		if whatIdx >= len(results) || !results[whatIdx] {
			continue
		}
		mc := inst.Cfg.MetricByID(id)
		if mc == nil || mc.Variant == config.MetricDuration {
			continue
		}
		dispatchMetric(inst, builder, event, mc, results, preState)
	}
}

func dispatchMetric(inst *config.Installed, builder *dimkey.Builder, event *models.Event, mc *config.MetricConfig, results matcher.Results, preState map[int64]int64) {
	if gate, ok := inst.Gates[mc.ID]; ok && !gate.IsActive() {
		return
	}

	whatKey := dimTuple(event, mc.DimensionsInWhat)
	condVal := condition.True
	if mc.Condition != nil {
		condIdx := inst.ConditionIndex[mc.ID]
		condVal = metrics.EffectiveCondition(inst.Conditions, condIdx, mc.ConditionSliced, mc.ConditionLinks, whatKey, builder)
	}
	if condVal != condition.True {
		return
	}

	stateValues := make([]int64, len(mc.SlicedByState))
	for i, sid := range mc.SlicedByState {
		stateValues[i] = preState[sid]
	}

	tNs := event.WallNs
	p := inst.Producers[mc.ID]
	switch mc.Variant {
	case config.MetricCount:
		p.(interface {
			Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64)
		}).Record(tNs, whatKey, stateValues)
	case config.MetricValue:
		raw := intFieldValue(event, mc.ValueField)
		p.(interface {
			Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, raw int64)
		}).Record(tNs, whatKey, stateValues, raw)
	case config.MetricSketch:
		raw := float64(intFieldValue(event, mc.ValueField))
		p.(interface {
			Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, value float64)
		}).Record(tNs, whatKey, stateValues, raw)
	case config.MetricGauge:
		raw := intFieldValue(event, mc.ValueField)
		isTrigger := mc.GaugeTriggerMatcher == nil
		if mc.GaugeTriggerMatcher != nil {
			if idx, ok := inst.Matchers.IndexOf(*mc.GaugeTriggerMatcher); ok && idx < len(results) {
				isTrigger = results[idx]
			}
		}
		p.(interface {
			Record(tNs int64, whatKey dimkey.Tuple, stateValues []int64, value int64, isTrigger bool)
		}).Record(tNs, whatKey, stateValues, raw, isTrigger)
	case config.MetricEvent:
		p.(interface {
			Record(tNs int64, fields dimkey.Tuple)
		}).Record(tNs, whatKey)
	}
}

// drainClosedBucketsToAlerts feeds every bucket a producer closed during
// this event's dispatch to the alert trackers watching that metric
// (spec.md §5 ordering guarantee 1 step 5, §4.7).
func drainClosedBucketsToAlerts(inst *config.Installed, builder *dimkey.Builder) {
	for metricID, trackers := range inst.AlertsByMetric {
		p, ok := inst.Producers[metricID]
		if !ok {
			continue
		}
		for _, closed := range p.DrainClosed() {
			sum, ok := metrics.SumValue(closed.Value)
			if !ok {
				continue
			}
			key := builder.Key(closed.DimKey)
			for _, tr := range trackers {
				tr.OnBucketClosed(key, closed.DimKey, sum)
			}
		}
	}
}

// dimTuple extracts fields (in declared order) from event into a
// dimkey.Tuple, the way state.Tracker.PrimaryKey and
// condition.Wizard.eventSliceKey do for their own dimension selections.
func dimTuple(event *models.Event, fields []int32) dimkey.Tuple {
	t := make(dimkey.Tuple, 0, len(fields))
	for _, f := range fields {
		if fv, ok := event.Field(f); ok {
			t = append(t, dimkey.Value{Field: f, Str: fieldValueString(fv)})
		}
	}
	return t
}

func fieldValueString(fv models.FieldValue) string {
	if fv.IsLeaf && fv.StringValue != "" {
		return fv.StringValue
	}
	if fv.IsLeaf {
		if fv.FloatValue != 0 {
			return strconv.FormatFloat(fv.FloatValue, 'g', -1, 64)
		}
		return strconv.FormatInt(fv.IntValue, 10)
	}
	return ""
}

func intFieldValue(event *models.Event, field int32) int64 {
	fv, ok := event.Field(field)
	if !ok || !fv.IsLeaf {
		return 0
	}
	if fv.FloatValue != 0 {
		return int64(fv.FloatValue)
	}
	return fv.IntValue
}
