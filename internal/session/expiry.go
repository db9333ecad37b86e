package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/logging"
)

const DefaultSessionTTL = 5 * time.Minute

type Timer interface {
	Stop() bool
}

// TimerFunc schedules f to run once after d. time.AfterFunc is the default.
type TimerFunc func(d time.Duration, f func()) Timer

type ExpiryOption func(*Expiry)

func WithTimerFunc(fn TimerFunc) ExpiryOption {
	return func(e *Expiry) {
		if fn != nil {
			e.afterFunc = fn
		}
	}
}

// Expiry holds at most one inactivity timer per session key. Every Arm gets a
// fresh generation so a superseded timer that still fires is a no-op.
type Expiry struct {
	logger    *logrus.Logger
	onExpire  func(key string)
	afterFunc TimerFunc

	mu      sync.Mutex
	timers  map[string]expiryEntry
	nextGen uint64
	stopped bool
}

type expiryEntry struct {
	gen   uint64
	timer Timer
}

// NewExpiry returns a scheduler that calls onExpire when a key's timer fires.
// onExpire runs while the scheduler lock is held and must not call back into
// the Expiry.
func NewExpiry(onExpire func(key string), logger *logrus.Logger, opts ...ExpiryOption) *Expiry {
	if onExpire == nil {
		panic("session: expiry callback is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Expiry{
		logger:   logger,
		onExpire: onExpire,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		timers: make(map[string]expiryEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Expiry) Arm(key string, d time.Duration) {
	if d <= 0 {
		d = DefaultSessionTTL
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if existing, ok := e.timers[key]; ok {
		existing.timer.Stop()
	}

	e.nextGen++
	gen := e.nextGen
	e.timers[key] = expiryEntry{
		gen:   gen,
		timer: e.afterFunc(d, func() { e.fire(key, gen) }),
	}
}

func (e *Expiry) Cancel(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.timers[key]; ok {
		existing.timer.Stop()
		delete(e.timers, key)
	}
}

func (e *Expiry) Pending(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[key]
	return ok
}

func (e *Expiry) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Stop cancels every outstanding timer. Later Arm calls are ignored.
func (e *Expiry) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, entry := range e.timers {
		entry.timer.Stop()
		delete(e.timers, key)
	}
	e.stopped = true
}

func (e *Expiry) fire(key string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.timers[key]
	if !ok || entry.gen != gen {
		return
	}
	delete(e.timers, key)
	e.onExpire(key)
	e.logger.WithField("session_key", key).Info("session expired")
}
