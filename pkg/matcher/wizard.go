// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package matcher

import (
	"fmt"

	"github.com/DataDog/statsd-engine/pkg/models"
)

// CycleError is returned by NewWizard when the matcher DAG contains a
// cycle (spec.md §4.1: "MATCHER_CYCLE").
type CycleError struct {
	Offending ID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("matcher cycle detected at matcher %d", e.Offending)
}

type color int

const (
	white color = iota
	gray
	black
)

// Wizard is the EventMatcherWizard of spec.md §4.1: a shared, read-only
// handle giving metric producers and the condition layer cached access to
// matcher results for the event currently being dispatched. Evaluate is
// called once per event by the dispatcher; every other caller within the
// same event reads the cached bit-vector it returns.
//
// Matchers are stored index-based (arena-style, spec.md §9 design note)
// rather than as a graph of pointers: Children references are resolved to
// slice indices once at construction, so evaluation never does an id
// lookup on the hot path.
type Wizard struct {
	matchers  []AtomMatcher
	children  [][]int // resolved child indices, parallel to matchers
	byAtomID  map[int32][]int
	resolver  UIDResolver
	order     []int // topological order (children before parents)
}

// NewWizard validates and compiles matchers into a Wizard. It rejects
// duplicate ids, unresolved children and cycles.
func NewWizard(matchers []AtomMatcher, resolver UIDResolver) (*Wizard, error) {
	idx := make(map[ID]int, len(matchers))
	for i, m := range matchers {
		if _, dup := idx[m.ID]; dup {
			return nil, fmt.Errorf("matcher_duplicate: id %d", m.ID)
		}
		idx[m.ID] = i
	}

	w := &Wizard{
		matchers: make([]AtomMatcher, len(matchers)),
		children: make([][]int, len(matchers)),
		byAtomID: make(map[int32][]int),
		resolver: resolver,
	}
	copy(w.matchers, matchers)

	for i := range w.matchers {
		m := &w.matchers[i]
		if m.Simple != nil {
			for fi := range m.Simple.Filters {
				compileGlobs(&m.Simple.Filters[fi])
			}
			w.byAtomID[m.Simple.AtomID] = append(w.byAtomID[m.Simple.AtomID], i)
			continue
		}
		if m.Combination == nil {
			return nil, fmt.Errorf("matcher_malformed: id %d has neither simple nor combination", m.ID)
		}
		if m.Combination.Op == OpNot && len(m.Combination.Children) != 1 {
			return nil, fmt.Errorf("matcher_malformed: NOT matcher %d must have exactly one child", m.ID)
		}
		children := make([]int, 0, len(m.Combination.Children))
		for _, cid := range m.Combination.Children {
			ci, ok := idx[cid]
			if !ok {
				return nil, fmt.Errorf("matcher_malformed: matcher %d references unknown child %d", m.ID, cid)
			}
			children = append(children, ci)
		}
		w.children[i] = children
	}

	ids := make([]ID, len(w.matchers))
	for i, m := range w.matchers {
		ids[i] = m.ID
	}
	order, err := topoSort(w.children, ids)
	if err != nil {
		return nil, err
	}
	w.order = order

	for i := range w.matchers {
		w.matchers[i].initialized = true
	}

	return w, nil
}

// topoSort runs a white/gray/black DFS over the matcher DAG, returning a
// post-order (children-before-parents) traversal order, or a CycleError
// naming a matcher on the cycle. ids is parallel to children, mapping each
// arena index back to the matcher id it came from.
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

// Results is the per-event cache Evaluate produces: Results[i] is whether
// matcher i (by arena index) matched the dispatched event.
type Results []bool

// AtomIDs returns the set of atom ids any simple matcher in this wizard
// cares about (spec.md §4.1 "tag_set()"). The dispatcher does not consult
// it; it evaluates every installed wizard for every event.
func (w *Wizard) AtomIDs() []int32 {
	ids := make([]int32, 0, len(w.byAtomID))
	for id := range w.byAtomID {
		ids = append(ids, id)
	}
	return ids
}

// IndexOf returns the arena index for a matcher id.
func (w *Wizard) IndexOf(id ID) (int, bool) {
	for i, m := range w.matchers {
		if m.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Evaluate computes the bit-vector M of spec.md §4.1 for event: M[i] is
// whether matcher i matched. Evaluation follows the matchers' topological
// order, so every child is resolved before its parent is visited -- this
// also gives NOT "evaluate the unevaluated child first" for free, since a
// NOT's single child always precedes it in order.
func (w *Wizard) Evaluate(event *models.Event) Results {
	res := make(Results, len(w.matchers))
	for _, i := range w.order {
		m := &w.matchers[i]
		if m.Simple != nil {
			res[i] = m.Simple.AtomID == event.AtomID && matchFields(m.Simple.Filters, event.Values, event.UID, w.resolver)
			continue
		}
		res[i] = evalCombination(m.Combination, w.children[i], res)
	}
	return res
}

func evalCombination(c *CombinationMatcher, children []int, res Results) bool {
	switch c.Op {
	case OpNot:
		return !res[children[0]]
	case OpAnd:
		for _, ci := range children {
			if !res[ci] {
				return false
			}
		}
		return true
	case OpNand:
		for _, ci := range children {
			if !res[ci] {
				return true
			}
		}
		return false
	case OpOr:
		for _, ci := range children {
			if res[ci] {
				return true
			}
		}
		return false
	case OpNor:
		for _, ci := range children {
			if res[ci] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
