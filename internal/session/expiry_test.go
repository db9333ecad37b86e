package session

import (
	"sync"
	"testing"
	"time"
)

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{owner: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fireDue runs every timer that is neither stopped nor already fired.
func (c *fakeTimers) fireDue() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (c *fakeTimers) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func newTestExpiry(t *testing.T, store *MemoryStore) (*Expiry, *fakeTimers) {
	t.Helper()
	clock := &fakeTimers{}
	return NewExpiry(store.Delete, nil, WithTimerFunc(clock.AfterFunc)), clock
}

func TestExpiryFiringDeletesOnlyThatSession(t *testing.T) {
	store := NewMemoryStore("sys", 10)
	store.GetOrCreate("k1")
	store.GetOrCreate("k2")
	expiry, clock := newTestExpiry(t, store)

	expiry.Arm("k1", 300*time.Second)
	if got := clock.last().d; got != 300*time.Second {
		t.Fatalf("expected 300s timer, got %s", got)
	}
	if fired := clock.fireDue(); fired != 1 {
		t.Fatalf("expected one timer to fire, got %d", fired)
	}

	if store.Exists("k1") {
		t.Fatalf("expected k1 to be evicted")
	}
	if !store.Exists("k2") {
		t.Fatalf("expected k2 to survive")
	}
	if expiry.Pending("k1") {
		t.Fatalf("expected expiry bookkeeping for k1 to be cleared")
	}
}

func TestExpiryRearmSupersedesPreviousTimer(t *testing.T) {
	store := NewMemoryStore("sys", 10)
	store.GetOrCreate("k1")
	expiry, clock := newTestExpiry(t, store)

	expiry.Arm("k1", time.Minute)
	first := clock.last()
	expiry.Arm("k1", time.Minute)

	if !first.stopped {
		t.Fatalf("expected re-arm to stop the previous timer")
	}
	if expiry.Len() != 1 {
		t.Fatalf("expected exactly one pending timer, got %d", expiry.Len())
	}

	// A superseded timer that fires anyway (Stop lost the race) must not evict.
	first.f()
	if !store.Exists("k1") {
		t.Fatalf("expected stale timer to leave the session alone")
	}
	if !expiry.Pending("k1") {
		t.Fatalf("expected current timer to remain pending")
	}

	if fired := clock.fireDue(); fired != 1 {
		t.Fatalf("expected only the latest timer to fire, got %d", fired)
	}
	if store.Exists("k1") {
		t.Fatalf("expected latest timer to evict the session")
	}
}

func TestExpiryFiresExactlyOncePerArm(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	clock := &fakeTimers{}
	expiry := NewExpiry(func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil, WithTimerFunc(clock.AfterFunc))

	expiry.Arm("k1", time.Second)
	timer := clock.last()
	timer.f()
	timer.f()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one eviction, got %d", calls)
	}
}

func TestExpiryCancel(t *testing.T) {
	store := NewMemoryStore("sys", 10)
	store.GetOrCreate("k1")
	expiry, clock := newTestExpiry(t, store)

	expiry.Arm("k1", time.Minute)
	expiry.Cancel("k1")
	expiry.Cancel("k1")
	expiry.Cancel("unknown")

	if expiry.Pending("k1") {
		t.Fatalf("expected no pending timer after cancel")
	}
	if fired := clock.fireDue(); fired != 0 {
		t.Fatalf("expected cancelled timer not to fire, got %d", fired)
	}
	if !store.Exists("k1") {
		t.Fatalf("expected cancel to leave the session alone")
	}
}

func TestExpiryStopCancelsEverything(t *testing.T) {
	store := NewMemoryStore("sys", 10)
	store.GetOrCreate("k1")
	store.GetOrCreate("k2")
	expiry, clock := newTestExpiry(t, store)

	expiry.Arm("k1", time.Minute)
	expiry.Arm("k2", time.Minute)
	expiry.Stop()
	expiry.Arm("k1", time.Minute)

	if expiry.Len() != 0 {
		t.Fatalf("expected no pending timers after stop, got %d", expiry.Len())
	}
	if fired := clock.fireDue(); fired != 0 {
		t.Fatalf("expected no timers to fire after stop, got %d", fired)
	}
}

func TestExpiryWithRealTimers(t *testing.T) {
	store := NewMemoryStore("sys", 10)
	store.GetOrCreate("k1")
	store.GetOrCreate("k2")
	expiry := NewExpiry(store.Delete, nil)
	defer expiry.Stop()

	expiry.Arm("k1", 20*time.Millisecond)
	expiry.Arm("k2", time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for store.Exists("k1") {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for k1 to expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !store.Exists("k2") {
		t.Fatalf("expected k2 to survive")
	}
}
