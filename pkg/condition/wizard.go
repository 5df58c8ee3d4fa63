// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package condition

import (
	"fmt"
	"sort"

	"github.com/DataDog/statsd-engine/pkg/dimkey"
	"github.com/DataDog/statsd-engine/pkg/matcher"
	"github.com/DataDog/statsd-engine/pkg/models"
)

// CycleError is CONDITION_CYCLE (spec.md §4.2).
type CycleError struct{ Offending ID }

func (e *CycleError) Error() string {
	return fmt.Sprintf("condition cycle detected at predicate %d", e.Offending)
}

type color int

const (
	white color = iota
	gray
	black
)

// node is the compiled, index-based form of one Predicate (spec.md §9
// design note: index-based arenas rather than pointer graphs).
type node struct {
	pred     Predicate
	children []int
	sliced   bool
	// store resolves matcher IDs referenced by a Simple predicate into
	// indices within the matcher.Wizard it was compiled against.
	startIdx, stopIdx int
	stopAllIdx        int
	hasStopAll        bool

	keys map[dimkey.Key]*keyState
}

// Wizard is the ConditionWizard of spec.md §4.2: a shared, read-only
// handle giving metric producers cached access to condition values.
type Wizard struct {
	nodes     []node
	order     []int
	builder   *dimkey.Builder
	listeners map[int][]registeredListener
}

// NewWizard validates and compiles predicates against mw (the already
// compiled matcher layer). It rejects duplicate ids, unresolved matcher
// references, predicate cycles and invalid sliced combinations.
func NewWizard(predicates []Predicate, mw *matcher.Wizard) (*Wizard, error) {
	idx := make(map[ID]int, len(predicates))
	for i, p := range predicates {
		if _, dup := idx[p.ID]; dup {
			return nil, fmt.Errorf("condition_duplicate: id %d", p.ID)
		}
		idx[p.ID] = i
	}

	w := &Wizard{
		nodes:     make([]node, len(predicates)),
		builder:   dimkey.NewBuilder(),
		listeners: make(map[int][]registeredListener),
	}

	childrenByIdx := make([][]int, len(predicates))
	for i, p := range predicates {
		n := node{pred: p, keys: make(map[dimkey.Key]*keyState)}

		if p.Simple != nil {
			si, ok := mw.IndexOf(p.Simple.Start)
			if !ok {
				return nil, fmt.Errorf("predicate_missing_matcher: predicate %d start %d", p.ID, p.Simple.Start)
			}
			ei, ok := mw.IndexOf(p.Simple.Stop)
			if !ok {
				return nil, fmt.Errorf("predicate_missing_matcher: predicate %d stop %d", p.ID, p.Simple.Stop)
			}
			n.startIdx, n.stopIdx = si, ei
			if p.Simple.StopAll != nil {
				ai, ok := mw.IndexOf(*p.Simple.StopAll)
				if !ok {
					return nil, fmt.Errorf("predicate_missing_matcher: predicate %d stop_all %d", p.ID, *p.Simple.StopAll)
				}
				n.stopAllIdx, n.hasStopAll = ai, true
			}
			n.sliced = len(p.Simple.Dimensions) > 0
			w.nodes[i] = n
			continue
		}

		if p.Combination == nil {
			return nil, fmt.Errorf("predicate_malformed: id %d has neither simple nor combination", p.ID)
		}
		children := make([]int, 0, len(p.Combination.Children))
		for _, cid := range p.Combination.Children {
			ci, ok := idx[cid]
			if !ok {
				return nil, fmt.Errorf("predicate_malformed: predicate %d references unknown child %d", p.ID, cid)
			}
			children = append(children, ci)
		}
		childrenByIdx[i] = children
		w.nodes[i] = n
	}

	ids := make([]ID, len(predicates))
	for i, p := range predicates {
		ids[i] = p.ID
	}
	order, err := topoSort(childrenByIdx, ids)
	if err != nil {
		return nil, err
	}
	w.order = order

	// Second pass: now that every simple predicate's sliced-ness is known,
	// compute combination sliced-ness and validate it (spec.md §4.2:
	// "sliced-ness of a combination is the union of its children's
	// sliced-ness"; "a non-sliced combination child that contains a
	// sliced child is forbidden" -- equivalently, at most one sliced
	// child is permitted for any combination).
	for _, i := range order {
		n := &w.nodes[i]
		if n.pred.Combination == nil {
			continue
		}
		children := childrenByIdx[i]
		slicedCount := 0
		for _, ci := range children {
			if w.nodes[ci].sliced {
				slicedCount++
			}
		}
		if slicedCount > 1 {
			return nil, &InvalidCombinationError{Offending: n.pred.ID}
		}
		n.sliced = slicedCount == 1
		w.nodes[i].children = children
	}

	for i := range w.nodes {
		n := &w.nodes[i]
		if n.pred.Simple != nil {
			z := w.nodes[i].keys[dimkey.Key(0)]
			if z == nil && !n.sliced {
				w.nodes[i].keys[dimkey.Key(0)] = &keyState{value: n.pred.Simple.InitialValue}
			}
		}
	}

	return w, nil
}

// ids is parallel to children, mapping each arena index back to the
// predicate id it came from (spec.md §7: errors carry the offending id,
// not its position in the compiled arena).
func topoSort(children [][]int, ids []ID) ([]int, error) {
	colors := make([]color, len(children))
	order := make([]int, 0, len(children))

	var visit func(i int) error
	visit = func(i int) error {
		switch colors[i] {
		case black:
			return nil
		case gray:
			return &CycleError{Offending: ids[i]}
		}
		colors[i] = gray
		for _, c := range children[i] {
			if err := visit(c); err != nil {
				return err
			}
		}
		colors[i] = black
		order = append(order, i)
		return nil
	}
	for i := range children {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// IndexOf returns the arena index for a predicate id.
func (w *Wizard) IndexOf(id ID) (int, bool) {
	for i, n := range w.nodes {
		if n.pred.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Subscribe registers fn to be notified of every value change on predicate
// predIdx, invoked in ascending metricIndex order relative to other
// subscribers of the same predicate (spec.md §4.2).
func (w *Wizard) Subscribe(predIdx, metricIndex int, fn Listener) {
	w.listeners[predIdx] = append(w.listeners[predIdx], registeredListener{metricIndex, fn})
	sort.Slice(w.listeners[predIdx], func(a, b int) bool {
		return w.listeners[predIdx][a].metricIndex < w.listeners[predIdx][b].metricIndex
	})
}

// Value returns the current unsliced value of predicate predIdx.
func (w *Wizard) Value(predIdx int) TriState {
	return w.keyValue(predIdx, dimkey.Key(0))
}

// SlicedValue returns the current value of sliced predicate predIdx for
// key, or Unknown if the key has never been observed.
func (w *Wizard) SlicedValue(predIdx int, key dimkey.Key) TriState {
	return w.keyValue(predIdx, key)
}

func (w *Wizard) keyValue(idx int, key dimkey.Key) TriState {
	n := &w.nodes[idx]
	if n.pred.Simple != nil {
		ks, ok := n.keys[key]
		if !ok {
			return n.pred.Simple.InitialValue
		}
		return ks.value
	}
	return w.combinationValue(idx, key)
}

func (w *Wizard) combinationValue(idx int, key dimkey.Key) TriState {
	n := &w.nodes[idx]
	vals := make([]TriState, len(n.children))
	for i, ci := range n.children {
		if w.nodes[ci].sliced {
			vals[i] = w.keyValue(ci, key)
		} else {
			vals[i] = w.keyValue(ci, dimkey.Key(0))
		}
	}
	return combine(n.pred.Combination.Op, vals)
}

func combine(op matcher.CombinationOp, vals []TriState) TriState {
	switch op {
	case matcher.OpNot:
		return negate(vals[0])
	case matcher.OpAnd:
		return andAll(vals)
	case matcher.OpNand:
		return negate(andAll(vals))
	case matcher.OpOr:
		return orAll(vals)
	case matcher.OpNor:
		return negate(orAll(vals))
	default:
		return Unknown
	}
}

func negate(v TriState) TriState {
	switch v {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func andAll(vals []TriState) TriState {
	sawUnknown := false
	for _, v := range vals {
		if v == False {
			return False
		}
		if v == Unknown {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return True
}

func orAll(vals []TriState) TriState {
	sawUnknown := false
	for _, v := range vals {
		if v == True {
			return True
		}
		if v == Unknown {
			sawUnknown = true
		}
	}
	if sawUnknown {
		return Unknown
	}
	return False
}

// Evaluate applies a dispatched event's matcher results to the condition
// layer, returning which predicate indices changed value and, for sliced
// predicates, the set of keys whose value changed (spec.md §4.2:
// "evaluate(event, M) -> (C, Cchanged, by_slice)").
func (w *Wizard) Evaluate(event *models.Event, m matcher.Results) (changed []int, bySlice map[int]map[dimkey.Key]TriState) {
	bySlice = make(map[int]map[dimkey.Key]TriState)
	changedSet := make(map[int]bool)
	touched := make(map[int]map[dimkey.Key]bool)

	for _, i := range w.order {
		n := &w.nodes[i]
		if n.pred.Simple == nil {
			w.evaluateCombination(i, event.WallNs, touched, changedSet, bySlice)
			continue
		}
		started := m[n.startIdx]
		stopped := m[n.stopIdx]
		stopAll := n.hasStopAll && m[n.stopAllIdx]
		if !started && !stopped && !stopAll {
			continue
		}

		key := dimkey.Key(0)
		var tuple dimkey.Tuple
		if n.sliced {
			key, tuple = w.eventSliceKey(n.pred.Simple.Dimensions, event)
		}

		if stopAll {
			for k, ks := range n.keys {
				old := ks.value
				ks.value, ks.nesting = False, 0
				if old != False {
					w.notify(event.WallNs, i, k, ks.tuple, old, False)
					changedSet[i] = true
					markTouched(touched, i, k)
					if n.sliced {
						recordSlice(bySlice, i, k, False)
					}
				}
			}
			continue
		}

		ks, ok := n.keys[key]
		if !ok {
			ks = &keyState{value: n.pred.Simple.InitialValue, tuple: tuple}
			n.keys[key] = ks
		}
		old := ks.value

		if n.pred.Simple.CountNesting {
			if started {
				ks.nesting++
			}
			if stopped && ks.nesting > 0 {
				ks.nesting--
			}
			switch {
			case ks.nesting > 0:
				ks.value = True
			default:
				ks.value = False
			}
		} else {
			if started {
				ks.value = True
			} else if stopped {
				ks.value = False
			}
		}

		if ks.value != old {
			w.notify(event.WallNs, i, key, tuple, old, ks.value)
			changedSet[i] = true
			markTouched(touched, i, key)
			if n.sliced {
				recordSlice(bySlice, i, key, ks.value)
			}
		}
	}

	for i := range changedSet {
		changed = append(changed, i)
	}
	sort.Ints(changed)
	return changed, bySlice
}

// evaluateCombination recomputes node i's value for every key one of its
// children touched this round and notifies its own subscribers on change,
// so a Duration metric conditioned on a Combination predicate observes
// OnConditionChange the same way one conditioned on a Simple predicate
// does (spec.md §4.2). w.order visits children before parents, so every
// child's touched set is final by the time i is processed.
func (w *Wizard) evaluateCombination(i int, tNs int64, touched map[int]map[dimkey.Key]bool, changedSet map[int]bool, bySlice map[int]map[dimkey.Key]TriState) {
	n := &w.nodes[i]

	var keys map[dimkey.Key]bool
	for _, ci := range n.children {
		for k := range touched[ci] {
			if keys == nil {
				keys = make(map[dimkey.Key]bool)
			}
			keys[k] = true
		}
	}

	for k := range keys {
		newVal := w.combinationValue(i, k)
		ks, ok := n.keys[k]
		if !ok {
			ks = &keyState{value: Unknown}
			n.keys[k] = ks
		}
		old := ks.value
		if newVal == old {
			continue
		}
		ks.value = newVal
		w.notify(tNs, i, k, nil, old, newVal)
		changedSet[i] = true
		markTouched(touched, i, k)
		if n.sliced {
			recordSlice(bySlice, i, k, newVal)
		}
	}
}

func markTouched(touched map[int]map[dimkey.Key]bool, idx int, key dimkey.Key) {
	if touched[idx] == nil {
		touched[idx] = make(map[dimkey.Key]bool)
	}
	touched[idx][key] = true
}

func recordSlice(bySlice map[int]map[dimkey.Key]TriState, idx int, key dimkey.Key, val TriState) {
	m, ok := bySlice[idx]
	if !ok {
		m = make(map[dimkey.Key]TriState)
		bySlice[idx] = m
	}
	m[key] = val
}

func (w *Wizard) eventSliceKey(dims []int32, event *models.Event) (dimkey.Key, dimkey.Tuple) {
	t := make(dimkey.Tuple, 0, len(dims))
	for _, f := range dims {
		if fv, ok := event.Field(f); ok {
			t = append(t, dimkey.Value{Field: f, Str: fieldString(fv)})
		}
	}
	return w.builder.Key(t), t
}

func fieldString(fv models.FieldValue) string {
	if fv.StringValue != "" {
		return fv.StringValue
	}
	if fv.IntValue != 0 {
		return fmt.Sprintf("%d", fv.IntValue)
	}
	return fmt.Sprintf("%v", fv.FloatValue)
}

func (w *Wizard) notify(tNs int64, predIdx int, key dimkey.Key, tuple dimkey.Tuple, oldVal, newVal TriState) {
	for _, l := range w.listeners[predIdx] {
		l.fn(tNs, key, tuple, oldVal, newVal)
	}
}
