// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/statsd-engine/pkg/alert"
	"github.com/DataDog/statsd-engine/pkg/config"
	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/metrics"
	"github.com/DataDog/statsd-engine/pkg/models"
)

// Engine is the single coordinating type every event, pull completion and
// alarm tick feeds into (spec.md §5): it owns one mutex guarding every
// installed configuration's matcher/condition/state/metric/alert layers,
// the way pkg/aggregator/demultiplexer_senders.go's Demultiplexer is the
// one type every sender channel funnels into in the teacher.
type Engine struct {
	mu sync.Mutex

	compiler *config.Compiler
	builder  *dimkey.Builder

	installed map[config.Key]*config.Installed
	alarmIDs  map[config.Key][]alert.AlarmID
	alarmMon  *alert.AlarmMonitor
	startedAt time.Time
}

// New builds an Engine. resolver backs the matcher layer's UID-name
// lookups (pkg/uidmap.Map satisfies it); clk drives every alert tracker
// and the alarm monitor, defaulting to the real wall clock when nil.
func New(resolver matcher.UIDResolver, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		compiler:  config.NewCompiler(resolver, clk),
		builder:   dimkey.NewBuilder(),
		installed: map[config.Key]*config.Installed{},
		alarmIDs:  map[config.Key][]alert.AlarmID{},
		alarmMon:  alert.NewAlarmMonitor(clk),
		startedAt: clk.Now(),
	}
}

// Compiler exposes the engine's config.Compiler so callers can wire its
// OnLateEvent/OnDimensionOverflow runtime-error hooks (e.g.
// pkg/telemetry.Recorder.WireCompiler) before installing any configuration.
func (e *Engine) Compiler() *config.Compiler {
	return e.compiler
}

// Run services alarm ticks until ctx is canceled, the way
// pkg/tagger/local/tagger.go's own goroutine runs until its context is
// done. Callers launch this once, in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.alarmMon.Run(ctx)
}

// SetConfig installs or live-updates the configuration at key. On a
// configuration error the previous installation (if any) is left running
// unchanged (spec.md §7: "the engine either switches cleanly to the new
// configuration or leaves the old one running unchanged").
func (e *Engine) SetConfig(key config.Key, cfg *config.Configuration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, exists := e.installed[key]

	var inst *config.Installed
	var err error
	if exists {
		inst, err = e.compiler.Apply(prev, cfg)
	} else {
		inst, err = e.compiler.Compile(cfg)
	}
	if err != nil {
		// Diff collects every validation failure; the caller gets the
		// first one as a structured *config.ValidationError.
		var merr *multierror.Error
		if errors.As(err, &merr) && len(merr.Errors) > 0 {
			return merr.Errors[0]
		}
		return err
	}

	for _, id := range e.alarmIDs[key] {
		e.alarmMon.Cancel(id)
	}
	e.installed[key] = inst
	e.alarmIDs[key] = e.scheduleAlarms(key, inst)
	return nil
}

// RemoveConfig uninstalls key, canceling its scheduled alarms and
// discarding its aggregation state (spec.md §6 "remove_config").
func (e *Engine) RemoveConfig(key config.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.alarmIDs[key] {
		e.alarmMon.Cancel(id)
	}
	delete(e.alarmIDs, key)
	delete(e.installed, key)
}

// Dispatch runs event through every installed configuration, in the order
// spec.md §5 requires for each (matchers -> conditions -> states -> metrics
// -> alerts). It is the only entry point the hot event-ingestion path
// calls, and it is also how pull completions and alarm ticks re-enter the
// engine: both are represented as a synthetic Event injected here (spec.md
// §5 "a pull produces a synthetic event that is injected the same way").
func (e *Engine) Dispatch(event *models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, inst := range e.installed {
		dispatchOne(inst, e.builder, event)
	}
}

// Flush closes the open bucket of every producer under key and returns
// every buffered closed bucket per metric ID, without clearing any
// accumulated diff-mode/gauge baseline (spec.md §6 "flush").
func (e *Engine) Flush(key config.Key, nowNs int64) (map[int64][]metrics.ClosedBucket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.installed[key]
	if !ok {
		return nil, false
	}
	out := make(map[int64][]metrics.ClosedBucket, len(inst.Producers))
	for id, p := range inst.Producers {
		out[id] = p.Flush(nowNs)
	}
	return out, true
}

// FlushAndClear behaves like Flush and additionally resets every
// producer's accumulated state (spec.md §6 "flush_and_clear").
func (e *Engine) FlushAndClear(key config.Key, nowNs int64) (map[int64][]metrics.ClosedBucket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.installed[key]
	if !ok {
		return nil, false
	}
	out := make(map[int64][]metrics.ClosedBucket, len(inst.Producers))
	for id, p := range inst.Producers {
		out[id] = p.FlushAndClear(nowNs)
	}
	return out, true
}

// scheduleAlarms registers inst's alarms with the alarm monitor. Each fire
// re-enters Dispatch the same way an external alarm tick always does: by
// acquiring the engine lock itself, so the callback here must not be
// called with e.mu already held.
//
// Every alarm is anchored at e.startedAt, not at the instant of this call
// (spec.md §4.6 step 6: "periodic alarms fire every period seconds past the
// configured offset from statsd start"), so a live update recomputes each
// alarm's next fire from its original phase instead of resetting it.
func (e *Engine) scheduleAlarms(key config.Key, inst *config.Installed) []alert.AlarmID {
	ids := make([]alert.AlarmID, 0, len(inst.Alarms))
	now := e.compiler.Clock.Now()
	for id, al := range inst.Alarms {
		metricID := id
		base := e.startedAt.Add(al.Offset)
		fire := func(firedAt time.Time) {
			e.onAlarm(key, metricID, firedAt)
		}
		if al.Period > 0 {
			next := nextPeriodicFire(base, al.Period, now)
			ids = append(ids, e.alarmMon.SchedulePeriodic(next, al.Period, fire))
		} else {
			next := base
			if !next.After(now) {
				next = now
			}
			ids = append(ids, e.alarmMon.ScheduleOneShot(next, fire))
		}
	}
	return ids
}

// nextPeriodicFire returns the earliest instant of the form base + k*period
// (k >= 0) that is strictly greater than now (spec.md §4.6 step 6: "if the
// offset has already elapsed, the next fire is offset + k·period for the
// smallest k making the instant strictly greater than now").
func nextPeriodicFire(base time.Time, period time.Duration, now time.Time) time.Time {
	if base.After(now) {
		return base
	}
	k := now.Sub(base)/period + 1
	return base.Add(k * period)
}

// onAlarm is the alarm monitor's callback, invoked from its own goroutine
// (spec.md §5: "Alert alarm monitor: independent thread posting onto the
// dispatcher"). A config's declared alarm has no effect of its own; it
// injects a synthetic alarm-tick Event the same way a pull completion
// does (spec.md §5 "register a synthetic 'alarm tick' event"), which
// configs observe by matching models.AlarmTickAtomID like any other atom.
// Dispatch takes its own lock, so onAlarm must not be called with e.mu
// already held.
func (e *Engine) onAlarm(key config.Key, alarmID int64, firedAt time.Time) {
	log.Tracef("statsd-engine: alarm %d fired for config %+v at %s", alarmID, key, firedAt)
	e.Dispatch(&models.Event{
		AtomID: models.AlarmTickAtomID,
		WallNs: firedAt.UnixNano(),
		Values: []models.FieldValue{
			{Field: models.AlarmIDField, IntValue: alarmID, IsLeaf: true},
		},
	})
}
