// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package dimkey hashes a metric's dimension-key tuple into a fixed-size,
// map-friendly key the way pkg/aggregator/ckey hashes a (name, hostname,
// tags) context in the teacher: a single xor-folded murmur3 hash, chosen
// for the same reason the teacher chose it over fnv1a/xxhash — fast
// int64-keyed map access with no benchmark-visible win from the
// alternatives.
package dimkey

import (
	"fmt"
	"strconv"

	"github.com/twmb/murmur3"
)

// Key identifies one dimension-key tuple. pkg/condition uses the zero Key
// for unsliced predicates; Builder.Key of the empty tuple is the hash seed,
// not zero.
type Key uint64

// OverLimit is the sentinel key every producer collapses excess distinct
// dimension-keys into once max_dimensions_per_bucket is reached (spec.md
// §4.4 "Dimension limit").
const OverLimit Key = ^Key(0)

// Value is one extracted dimension field, already rendered to its scalar
// form for hashing and for later report materialization.
type Value struct {
	Field int32
	Str   string
}

// Tuple is the ordered list of dimension values that make up one dim-key.
// Ordering is significant: it is the order the metric's dimensions_in_what
// declares, and report output preserves it.
type Tuple []Value

// Builder generates Keys for Tuples. Not safe for concurrent use, mirroring
// ckey.KeyGenerator: callers own one Builder per goroutine (the dispatcher
// only ever calls from the thread holding the engine lock).
type Builder struct {
	buf [64]byte
}

// NewBuilder returns a ready-to-use Builder.
func NewBuilder() *Builder { return &Builder{} }

// Key hashes tuple into a Key. Equal tuples always hash to the same Key.
// The per-value hashes are xor-folded, so the Key does not depend on the
// order of the values; each value's hash covers its field number, so the
// same string in two different fields hashes differently.
func (b *Builder) Key(t Tuple) Key {
	h := uint64(0xc6a4a7935bd1e995)
	for _, v := range t {
		n := copy(b.buf[:], strconv.Itoa(int(v.Field)))
		b.buf[n] = ':'
		m := copy(b.buf[n+1:], v.Str)
		h ^= murmur3.Sum64(b.buf[:n+1+m])
	}
	return Key(h)
}

// String renders a tuple for debug logging and the event/report dump.
func (t Tuple) String() string {
	s := ""
	for i, v := range t {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d=%s", v.Field, v.Str)
	}
	return s
}
