// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package alert

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// AlarmID identifies a scheduled alarm for cancellation.
type AlarmID int64

type alarmItem struct {
	deadline time.Time
	interval time.Duration // zero for a one-shot alarm
	id       AlarmID
	seq      int64
	fn       func(time.Time)
	canceled bool
	index    int
}

type alarmHeap []*alarmItem

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}
func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *alarmHeap) Push(x any) {
	it := x.(*alarmItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// AlarmMonitor is the monotonic one-shot/periodic alarm scheduler of
// spec.md §4.7/§4.6.6: a min-heap of deadlines serviced by one goroutine
// that sleeps until the next deadline and posts alarm ticks back into the
// engine. Its ctx.Done()-driven run loop mirrors the teacher's
// pkg/tagger/local/tagger.go lifecycle pattern; the min-heap-of-deadlines
// shape is stdlib container/heap because no pack dependency supplies a
// monotonic priority timer queue and the teacher never reaches for one
// either (see DESIGN.md).
type AlarmMonitor struct {
	clk clock.Clock

	mu    sync.Mutex
	items alarmHeap
	seq   int64
	wake  chan struct{}
}

// NewAlarmMonitor builds a monitor driven by clk (use clock.New() in
// production, a clock.Mock in tests).
func NewAlarmMonitor(clk clock.Clock) *AlarmMonitor {
	if clk == nil {
		clk = clock.New()
	}
	return &AlarmMonitor{
		clk:  clk,
		wake: make(chan struct{}, 1),
	}
}

// ScheduleOneShot registers fn to run once at deadline.
func (m *AlarmMonitor) ScheduleOneShot(deadline time.Time, fn func(time.Time)) AlarmID {
	return m.schedule(deadline, 0, fn)
}

// SchedulePeriodic registers fn to run at first and then every interval
// thereafter, until canceled.
func (m *AlarmMonitor) SchedulePeriodic(first time.Time, interval time.Duration, fn func(time.Time)) AlarmID {
	return m.schedule(first, interval, fn)
}

func (m *AlarmMonitor) schedule(deadline time.Time, interval time.Duration, fn func(time.Time)) AlarmID {
	m.mu.Lock()
	m.seq++
	item := &alarmItem{deadline: deadline, interval: interval, id: AlarmID(m.seq), seq: m.seq, fn: fn}
	heap.Push(&m.items, item)
	m.mu.Unlock()
	m.nudge()
	return item.id
}

// Cancel prevents id's alarm from firing again. Canceling an id that
// already fired (or never existed) is a no-op.
func (m *AlarmMonitor) Cancel(id AlarmID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.id == id {
			it.canceled = true
		}
	}
}

func (m *AlarmMonitor) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run services alarms until ctx is canceled.
func (m *AlarmMonitor) Run(ctx context.Context) {
	timer := m.clk.Timer(time.Hour)
	defer timer.Stop()

	for {
		d := m.nextDelay()
		if d <= 0 {
			// Already due: fire now instead of waiting on a zero-length
			// timer, which a mock clock only delivers on its next move.
			m.fireDue(m.clk.Now())
			continue
		}
		timer.Reset(d)

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			if !timer.Stop() {
				<-timer.C
			}
			continue
		case now := <-timer.C:
			m.fireDue(now)
		}
	}
}

func (m *AlarmMonitor) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return time.Hour
	}
	d := m.items[0].deadline.Sub(m.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (m *AlarmMonitor) fireDue(now time.Time) {
	m.mu.Lock()
	var due []*alarmItem
	for len(m.items) > 0 && !m.items[0].deadline.After(now) {
		it := heap.Pop(&m.items).(*alarmItem)
		if it.canceled {
			continue
		}
		due = append(due, it)
		if it.interval > 0 {
			it.deadline = it.deadline.Add(it.interval)
			it.seq = m.nextSeq()
			heap.Push(&m.items, it)
		}
	}
	m.mu.Unlock()

	for _, it := range due {
		it.fn(now)
	}
}

func (m *AlarmMonitor) nextSeq() int64 {
	m.seq++
	return m.seq
}
