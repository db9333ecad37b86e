package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/logging"
)

var (
	ErrSessionQueueFull = errors.New("session queue full")
	ErrSchedulerClosed  = errors.New("scheduler closed")
)

const (
	DefaultQueueSize  = 64
	DefaultWorkerIdle = time.Minute
	minimumWorkerIdle = 10 * time.Millisecond
)

type Handler[T any] func(context.Context, T)

// Scheduler runs one worker goroutine per session key. Items enqueued for the
// same key are handled one at a time in the order they were enqueued; items
// for different keys are handled concurrently.
type Scheduler[T any] struct {
	logger    *logrus.Logger
	handler   Handler[T]
	queueSize int
	idle      time.Duration

	mu      sync.Mutex
	workers map[string]*worker[T]
	closed  bool
	wg      sync.WaitGroup
}

type worker[T any] struct {
	ch chan T
}

func NewScheduler[T any](logger *logrus.Logger, queueSize int, idle time.Duration, handler Handler[T]) *Scheduler[T] {
	if handler == nil {
		panic("session: scheduler handler is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if idle <= 0 {
		idle = DefaultWorkerIdle
	}
	if idle < minimumWorkerIdle {
		idle = minimumWorkerIdle
	}
	return &Scheduler[T]{
		logger:    logger,
		handler:   handler,
		queueSize: queueSize,
		idle:      idle,
		workers:   make(map[string]*worker[T]),
	}
}

func (s *Scheduler[T]) Enqueue(ctx context.Context, key string, item T) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	w := s.workerForLocked(key)
	select {
	case w.ch <- item:
		return nil
	default:
		s.logger.Printf("session queue full key=%s", key)
		return ErrSessionQueueFull
	}
}

// Workers reports how many keys currently own a worker goroutine.
func (s *Scheduler[T]) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting items, lets workers drain what is already queued and
// waits for them until ctx is done.
func (s *Scheduler[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, w := range s.workers {
			close(w.ch)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler[T]) workerForLocked(key string) *worker[T] {
	if w, ok := s.workers[key]; ok {
		return w
	}

	w := &worker[T]{ch: make(chan T, s.queueSize)}
	s.workers[key] = w
	s.wg.Add(1)
	go s.run(key, w)
	return w
}

func (s *Scheduler[T]) run(key string, w *worker[T]) {
	defer s.wg.Done()

	idle := time.NewTimer(s.idle)
	defer idle.Stop()

	for {
		select {
		case item, ok := <-w.ch:
			if !ok {
				return
			}
			s.handler(context.Background(), item)
			resetTimer(idle, s.idle)
		case <-idle.C:
			if s.retire(key, w) {
				return
			}
			idle.Reset(s.idle)
		}
	}
}

// retire removes an idle worker. Enqueue sends while holding s.mu, so an empty
// queue observed under the same lock stays empty once the worker is unmapped.
func (s *Scheduler[T]) retire(key string, w *worker[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(w.ch) > 0 {
		return false
	}
	if current, ok := s.workers[key]; ok && current == w {
		delete(s.workers, key)
	}
	return true
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
