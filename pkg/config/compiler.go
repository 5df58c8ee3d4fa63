// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"github.com/benbjohnson/clock"

	"github.com/DataDog/statsd-engine/pkg/alert"
	"github.com/DataDog/statsd-engine/pkg/condition"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/state"
)

// Installed is everything Compile/Apply wires up from a Configuration: the
// compiled matcher/condition layers, one state.Tracker per StateConfig, one
// metrics.Producer per MetricConfig, one alert.Tracker per AlertConfig, and
// the wiring tables the dispatcher uses to route an event through them in
// the order spec.md §5 requires (matcher -> condition -> state -> metrics
// -> alerts).
type Installed struct {
	Cfg *Configuration

	Matchers   *matcher.Wizard
	Conditions *condition.Wizard

	States    map[int64]*state.Tracker
	Producers map[int64]metrics.Producer
	Gates     map[int64]*metrics.ActivationGate
	Alerts    map[int64]*alert.Tracker
	Alarms    map[int64]AlarmConfig

	// AlertsByMetric maps a metric ID to every alert tracker watching it,
	// so the dispatcher can feed pkg/alert straight from a producer's
	// DrainClosed() without scanning the whole configuration per event.
	AlertsByMetric map[int64][]*alert.Tracker

	// WhatIndex maps a metric ID to its "what" matcher's arena index.
	WhatIndex map[int64]int
	// ConditionIndex maps a metric ID to its condition predicate's arena
	// index; absent when the metric has no condition (metrics.NoCondition).
	ConditionIndex map[int64]int
	// StateByAtom maps an atom id to every state.Tracker that tracks it,
	// so the dispatcher can fan an event into every interested tracker
	// without scanning the whole configuration per event.
	StateByAtom map[int32][]*state.Tracker
	// MetricsByWhatIndex maps a matcher arena index to every metric that
	// uses it as its "what" matcher.
	MetricsByWhatIndex map[int][]int64
	// MetricOrder is every metric ID in declared (ascending metric-index)
	// order, for the dispatcher's ordering guarantee (spec.md §5.1:
	// "Metric receipt within step 4 is in ascending metric-index order").
	MetricOrder []int64
}

// Compiler holds the dependencies Compile/Apply need beyond the
// Configuration itself: a UID resolver for the matcher layer and a clock
// for alert trackers, both injected so tests can use a mock (spec.md §5
// "testable time").
type Compiler struct {
	Resolver matcher.UIDResolver
	Clock    clock.Clock

	// OnLateEvent and OnDimensionOverflow are invoked per metric ID when a
	// producer drops a late event or collapses a new dimension key into
	// dimkey.OverLimit because its dimension limit is reached (spec.md
	// §4.4 boundary scenarios 4-5); nil hooks are ignored. pkg/telemetry
	// wires these to its prometheus counters.
	OnLateEvent         func(metricID int64)
	OnDimensionOverflow func(metricID int64)
}

// NewCompiler constructs a Compiler. clk defaults to the real wall clock
// when nil.
func NewCompiler(resolver matcher.UIDResolver, clk clock.Clock) *Compiler {
	if clk == nil {
		clk = clock.New()
	}
	return &Compiler{Resolver: resolver, Clock: clk}
}

// Compile performs a fresh install of cfg with no predecessor: every node
// is new (spec.md §4.6's Diff with a nil old Configuration).
func (c *Compiler) Compile(cfg *Configuration) (*Installed, error) {
	plan, err := Diff(nil, cfg)
	if err != nil {
		return nil, err
	}
	return c.build(plan, nil)
}

// Apply diffs cfg against prev.Cfg and rebuilds only the REPLACE/NEW nodes,
// reusing prev's live objects (with their accumulated in-flight bucket
// state) for every node Diff classifies PRESERVE (spec.md §4.6 "Live
// Update": "a node's identity, and the aggregation state keyed to it,
// survives a config update unless the node itself or one of its
// transitive dependencies changed").
func (c *Compiler) Apply(prev *Installed, cfg *Configuration) (*Installed, error) {
	plan, err := Diff(prev.Cfg, cfg)
	if err != nil {
		return nil, err
	}
	return c.build(plan, prev)
}

func (c *Compiler) build(plan *Plan, prev *Installed) (*Installed, error) {
	cfg := plan.New

	mw, err := matcher.NewWizard(cloneMatchers(cfg.Matchers), c.Resolver)
	if err != nil {
		return nil, err
	}
	cw, err := condition.NewWizard(clonePredicates(cfg.Predicates), mw)
	if err != nil {
		return nil, err
	}

	installed := &Installed{
		Cfg:                cfg,
		Matchers:           mw,
		Conditions:         cw,
		States:             map[int64]*state.Tracker{},
		Producers:          map[int64]metrics.Producer{},
		Gates:              map[int64]*metrics.ActivationGate{},
		Alerts:             map[int64]*alert.Tracker{},
		Alarms:             map[int64]AlarmConfig{},
		WhatIndex:          map[int64]int{},
		ConditionIndex:     map[int64]int{},
		StateByAtom:        map[int32][]*state.Tracker{},
		MetricsByWhatIndex: map[int][]int64{},
		AlertsByMetric:     map[int64][]*alert.Tracker{},
	}

	for _, sc := range cfg.States {
		if plan.States[sc.ID] == Preserve && prev != nil {
			if t, ok := prev.States[sc.ID]; ok {
				installed.States[sc.ID] = t
				installed.StateByAtom[sc.AtomID] = append(installed.StateByAtom[sc.AtomID], t)
				continue
			}
		}
		t := state.NewTracker(sc.AtomID, sc.PrimaryFields, sc.GroupMap)
		installed.States[sc.ID] = t
		installed.StateByAtom[sc.AtomID] = append(installed.StateByAtom[sc.AtomID], t)
	}

	for _, mc := range cfg.Metrics {
		whatIdx, ok := mw.IndexOf(mc.What)
		if !ok {
			return nil, newErr(MetricUnknownWhat, mc.ID)
		}
		installed.WhatIndex[mc.ID] = whatIdx
		installed.MetricsByWhatIndex[whatIdx] = append(installed.MetricsByWhatIndex[whatIdx], mc.ID)
		installed.MetricOrder = append(installed.MetricOrder, mc.ID)

		if mc.Condition != nil {
			condIdx, ok := cw.IndexOf(*mc.Condition)
			if !ok {
				return nil, newErr(MetricUnknownCondition, mc.ID)
			}
			installed.ConditionIndex[mc.ID] = condIdx
		}

		var p metrics.Producer
		reused := false
		if plan.Metrics[mc.ID] == Preserve && prev != nil {
			if prevP, ok := prev.Producers[mc.ID]; ok {
				p, reused = prevP, true
				installed.Producers[mc.ID] = p
				if g, ok := prev.Gates[mc.ID]; ok {
					installed.Gates[mc.ID] = g
				}
			}
		}
		if !reused {
			onLate := func() {
				if c.OnLateEvent != nil {
					c.OnLateEvent(mc.ID)
				}
			}
			onOverflow := func() {
				if c.OnDimensionOverflow != nil {
					c.OnDimensionOverflow(mc.ID)
				}
			}
			p = newProducer(mc, onLate, onOverflow)
			installed.Producers[mc.ID] = p
			if len(mc.Activations) > 0 {
				installed.Gates[mc.ID] = metrics.NewActivationGate(mc.Activations)
			}
		}

		// Duration producers are driven by the condition layer's listener
		// cascade, not by the "what" matcher's per-event fan-out (spec.md
		// §4.4.2: intervals open/close on condition transitions, which can
		// happen without a "what" event occurring at the same instant).
		// Every build constructs a fresh condition.Wizard, so even a
		// preserved duration producer must be re-subscribed to it (spec.md
		// §5: "producers that survive an update observe the new wizards
		// via an explicit rewire step").
		if mc.Variant == MetricDuration && mc.Condition != nil {
			dp := p.(*metrics.DurationProducer)
			condIdx := installed.ConditionIndex[mc.ID]
			metricIdx := len(installed.MetricOrder) - 1
			cw.Subscribe(condIdx, metricIdx, func(tNs int64, _ dimkey.Key, tuple dimkey.Tuple, oldVal, newVal condition.TriState) {
				dp.OnConditionChange(tNs, tuple, oldVal, newVal)
			})
		}
	}

	for _, ac := range cfg.Alerts {
		if plan.Alerts[ac.ID] == Preserve && prev != nil {
			if tr, ok := prev.Alerts[ac.ID]; ok {
				installed.Alerts[ac.ID] = tr
				continue
			}
		}
		installed.Alerts[ac.ID] = alert.NewTracker(ac.NumBuckets, ac.TriggerIfSumGt, ac.RefractoryPeriod, c.Clock)
	}
	for _, ac := range cfg.Alerts {
		installed.AlertsByMetric[ac.MetricID] = append(installed.AlertsByMetric[ac.MetricID], installed.Alerts[ac.ID])
	}

	for _, al := range cfg.Alarms {
		installed.Alarms[al.ID] = al
	}

	return installed, nil
}

// newProducer instantiates the metrics.Producer variant mc.Variant names,
// using mc.BucketSize as the producer's bucket width and time 0 as its
// bucket origin.
func newProducer(mc MetricConfig, onLate, onOverflow func()) metrics.Producer {
	bucketNs := mc.BucketSize.Nanoseconds()
	switch mc.Variant {
	case MetricCount:
		return metrics.NewCountProducer(mc.ID, 0, bucketNs, mc.MaxDimensionsPerBucket, onLate, onOverflow)
	case MetricDuration:
		return metrics.NewDurationProducer(mc.ID, mc.DurationAgg, 0, bucketNs, mc.MaxDimensionsPerBucket, onLate, onOverflow)
	case MetricGauge:
		return metrics.NewGaugeProducer(mc.ID, mc.GaugeStrategy, mc.GaugeSampleCount, mc.ID, 0, bucketNs, mc.MaxDimensionsPerBucket, onLate, onOverflow)
	case MetricValue:
		return metrics.NewValueProducer(mc.ID, mc.ValueAgg, mc.ValueMode, mc.ValueSkipZeroDiff, 0, bucketNs, mc.MaxDimensionsPerBucket, onLate, onOverflow)
	case MetricSketch:
		return metrics.NewSketchProducer(mc.ID, 0, bucketNs, mc.MaxDimensionsPerBucket, onLate, onOverflow)
	default:
		return metrics.NewEventProducer(mc.ID, 0, bucketNs, mc.EventLogCap, onLate, onOverflow)
	}
}
