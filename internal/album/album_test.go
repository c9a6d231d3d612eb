package album

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/modrelay/internal/content"
)

// manualClock is a Scheduler driven by Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu          sync.Mutex
	completions [][]content.Item
}

func (r *recorder) complete(_ string, items []content.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, items)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

func photo(id int) content.Item {
	return content.Item{SourceChatID: 1, SourceMessageID: id, Kind: content.KindPhoto, MediaRef: fmt.Sprintf("file-%d", id), GroupID: "g1"}
}

func TestCollect_BurstYieldsOneCompletion(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)
	rec := &recorder{}

	for i := 1; i <= 3; i++ {
		require.True(t, agg.Collect("g1", photo(i), rec.complete))
		clk.Advance(400 * time.Millisecond)
	}
	require.Equal(t, 0, rec.count(), "no completion while items keep arriving")
	require.True(t, agg.Pending("g1"))

	clk.Advance(time.Second)
	require.Equal(t, 1, rec.count())
	require.Len(t, rec.completions[0], 3)
	for i, it := range rec.completions[0] {
		require.Equal(t, i+1, it.SourceMessageID, "items must keep message order")
	}
	require.False(t, agg.Pending("g1"))
}

func TestCollect_OutOfOrderDeliveryIsSorted(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)
	rec := &recorder{}

	for _, id := range []int{13, 11, 14, 12} {
		agg.Collect("g1", photo(id), rec.complete)
	}
	clk.Advance(time.Second)

	require.Equal(t, 1, rec.count())
	var ids []int
	for _, it := range rec.completions[0] {
		ids = append(ids, it.SourceMessageID)
	}
	require.Equal(t, []int{11, 12, 13, 14}, ids)
}

func TestCollect_SlowArrivalSplits(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)
	rec := &recorder{}

	agg.Collect("g1", photo(1), rec.complete)
	clk.Advance(1500 * time.Millisecond)
	agg.Collect("g1", photo(2), rec.complete)
	clk.Advance(1500 * time.Millisecond)

	require.Equal(t, 2, rec.count())
	require.Len(t, rec.completions[0], 1)
	require.Len(t, rec.completions[1], 1)
}

func TestCollect_StaleTimerNeverFires(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)
	rec := &recorder{}

	agg.Collect("g1", photo(1), rec.complete)
	first := clk.timers[0]
	agg.Collect("g1", photo(2), rec.complete)

	// the first timer lost the race with Stop: its callback runs anyway
	first.f()
	require.Equal(t, 0, rec.count(), "a rescheduled timer must not complete the group")
	require.True(t, agg.Pending("g1"))

	clk.Advance(time.Second)
	require.Equal(t, 1, rec.count())
	require.Len(t, rec.completions[0], 2)
}

func TestCollect_GroupsAreIndependent(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)

	var mu sync.Mutex
	got := map[string]int{}
	done := func(id string, items []content.Item) {
		mu.Lock()
		got[id] = len(items)
		mu.Unlock()
	}

	agg.Collect("a", photo(1), done)
	agg.Collect("b", photo(2), done)
	agg.Collect("a", photo(3), done)
	require.Equal(t, 2, agg.Len())

	clk.Advance(time.Second)
	require.Equal(t, map[string]int{"a": 2, "b": 1}, got)
	require.Equal(t, 0, agg.Len())
}

func TestCollect_LatestContinuationWins(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)

	var which string
	agg.Collect("g1", photo(1), func(string, []content.Item) { which = "first" })
	agg.Collect("g1", photo(2), func(string, []content.Item) { which = "second" })
	clk.Advance(time.Second)

	require.Equal(t, "second", which)
}

func TestClose_DropsPendingGroups(t *testing.T) {
	clk := &manualClock{}
	agg := New(time.Second, clk, nil)
	rec := &recorder{}

	agg.Collect("g1", photo(1), rec.complete)
	agg.Collect("g2", photo(2), rec.complete)
	require.Equal(t, 2, agg.Close())

	clk.Advance(time.Minute)
	require.Equal(t, 0, rec.count())
	require.False(t, agg.Collect("g3", photo(3), rec.complete), "closed aggregator rejects items")
}

func TestCollect_RealSchedulerConcurrent(t *testing.T) {
	agg := New(50*time.Millisecond, nil, nil)
	defer agg.Close()

	done := make(chan []content.Item, 4)
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Collect("g1", photo(i), func(_ string, items []content.Item) { done <- items })
		}(i)
	}
	wg.Wait()

	select {
	case items := <-done:
		require.Len(t, items, 10)
		for i, it := range items {
			require.Equal(t, i+1, it.SourceMessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("album never completed")
	}

	select {
	case extra := <-done:
		t.Fatalf("unexpected second completion with %d items", len(extra))
	case <-time.After(150 * time.Millisecond):
	}
}
