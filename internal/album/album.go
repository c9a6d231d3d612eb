// Package album merges bursts of grouped content items into single logical
// units. The transport never signals that a group is complete, so each group
// is closed by a debounce timer that is rescheduled on every new item.
package album

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/logging"
)

// DefaultDebounce is the quiet period after which a group is considered complete.
const DefaultDebounce = time.Second

// Timer is a handle to a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clock struct{}

func (clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules callbacks with time.AfterFunc.
var RealScheduler Scheduler = clock{}

// Completion receives the collected items of a group in message order.
type Completion func(groupID string, items []content.Item)

type entry struct {
	mu         sync.Mutex
	items      []content.Item
	timer      Timer
	generation uint64
	onComplete Completion
	done       bool
}

// Aggregator collects grouped items per group id.
//
// The map lock guards only which entries exist. Each entry has its own lock,
// so collects for different groups never contend. Only the timer callback of
// the latest generation pops an entry.
type Aggregator struct {
	delay  time.Duration
	sched  Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	groups map[string]*entry
	closed bool
}

// New creates an aggregator. A nil scheduler uses RealScheduler; a
// non-positive delay uses DefaultDebounce.
func New(delay time.Duration, sched Scheduler, logger *slog.Logger) *Aggregator {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if sched == nil {
		sched = RealScheduler
	}
	return &Aggregator{
		delay:  delay,
		sched:  sched,
		logger: logging.OrDiscard(logger),
		groups: make(map[string]*entry),
	}
}

// Collect appends item to the group and restarts its debounce timer.
// onComplete replaces any continuation registered by earlier items of the
// same group. It returns false once the aggregator is closed.
func (a *Aggregator) Collect(groupID string, item content.Item, onComplete Completion) bool {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return false
		}
		e, ok := a.groups[groupID]
		if !ok {
			e = &entry{}
			a.groups[groupID] = e
		}
		a.mu.Unlock()

		e.mu.Lock()
		if e.done {
			// popped between lookup and lock; the map no longer holds it
			e.mu.Unlock()
			continue
		}
		e.items = append(e.items, item)
		e.onComplete = onComplete
		if e.timer != nil {
			e.timer.Stop()
		}
		e.generation++
		gen := e.generation
		e.timer = a.sched.AfterFunc(a.delay, func() { a.fire(groupID, e, gen) })
		n := len(e.items)
		e.mu.Unlock()

		a.logger.Debug("album item collected", "group_id", groupID, "items", n)
		return true
	}
}

// fire pops the entry if gen is still its latest generation. A timer that
// was stopped too late to prevent the call sees a newer generation and returns.
func (a *Aggregator) fire(groupID string, e *entry, gen uint64) {
	e.mu.Lock()
	if e.done || e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.done = true
	items := e.items
	onComplete := e.onComplete
	e.items = nil

	a.mu.Lock()
	if a.groups[groupID] == e {
		delete(a.groups, groupID)
	}
	a.mu.Unlock()
	e.mu.Unlock()

	// concurrent deliveries can collect out of order; message ids are sequential per chat
	slices.SortStableFunc(items, func(x, y content.Item) int {
		return cmp.Compare(x.SourceMessageID, y.SourceMessageID)
	})
	a.logger.Debug("album complete", "group_id", groupID, "items", len(items))
	if onComplete != nil && len(items) > 0 {
		onComplete(groupID, items)
	}
}

// Pending reports whether a group is still collecting.
func (a *Aggregator) Pending(groupID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.groups[groupID]
	return ok
}

// Len returns the number of groups still collecting.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Close stops every pending timer and drops the collected items. It returns
// the number of groups dropped.
func (a *Aggregator) Close() int {
	a.mu.Lock()
	a.closed = true
	entries := make([]*entry, 0, len(a.groups))
	for id, e := range a.groups {
		entries = append(entries, e)
		delete(a.groups, id)
	}
	a.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.done = true
		e.items = nil
		e.mu.Unlock()
	}
	if len(entries) > 0 {
		a.logger.Info("album aggregator closed", "dropped_groups", len(entries))
	}
	return len(entries)
}
