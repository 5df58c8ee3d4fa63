// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/DataDog/statsd-engine/pkg/matcher"
)

// ActivationConfig is one of a metric's activations (spec.md §3, §4.4 step
// 3). A metric with no activations configured is always active.
type ActivationConfig struct {
	ActivateMatcher   matcher.ID
	DeactivateMatcher *matcher.ID
	TTL               time.Duration
	ActivateOnBoot    bool
}

// ActivationGate tracks whether a metric is currently "kActive": the union
// of every configured activation's TTL window. A go-cache instance keyed
// by activation index gives each activation its own independent expiry
// without the producer having to track deadlines itself.
type ActivationGate struct {
	configs []ActivationConfig
	active  *cache.Cache
}

// NewActivationGate builds a gate for configs. An empty configs means the
// metric is unconditionally active.
func NewActivationGate(configs []ActivationConfig) *ActivationGate {
	return &ActivationGate{
		configs: configs,
		active:  cache.New(cache.NoExpiration, time.Minute),
	}
}

// OnBoot marks every ACTIVATE_ON_BOOT activation active (spec.md §4.4:
// "ACTIVATE_ON_BOOT activations become kActive at the next boot"). Boot
// activations do not expire on their own; only an explicit deactivation
// matcher cancels them.
func (g *ActivationGate) OnBoot() {
	for i, cfg := range g.configs {
		if cfg.ActivateOnBoot {
			g.active.Set(strconv.Itoa(i), true, cache.NoExpiration)
		}
	}
}

// OnMatcherResults applies one event's matcher bit-vector: a fired
// activation matcher (re)starts that activation's TTL window; a fired
// deactivation matcher cancels it immediately.
func (g *ActivationGate) OnMatcherResults(m matcher.Results, indexOf func(matcher.ID) (int, bool)) {
	for i, cfg := range g.configs {
		if idx, ok := indexOf(cfg.ActivateMatcher); ok && idx < len(m) && m[idx] {
			g.active.Set(strconv.Itoa(i), true, cfg.TTL)
		}
		if cfg.DeactivateMatcher != nil {
			if idx, ok := indexOf(*cfg.DeactivateMatcher); ok && idx < len(m) && m[idx] {
				g.active.Delete(strconv.Itoa(i))
			}
		}
	}
}

// IsActive reports whether any activation window is currently open.
func (g *ActivationGate) IsActive() bool {
	if len(g.configs) == 0 {
		return true
	}
	for i := range g.configs {
		if _, found := g.active.Get(strconv.Itoa(i)); found {
			return true
		}
	}
	return false
}
