// Package executor provides a serial executor: a single worker goroutine
// running submitted tasks strictly in submission order. It is the execution
// context used to serialize all partition-group state mutation.
package executor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned when submitting work to a closed executor.
var ErrClosed = errors.New("executor is closed")

// Serial runs tasks one at a time on a dedicated goroutine. The task queue is
// unbounded so tasks may safely submit further tasks without deadlocking.
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

func New() *Serial {
	s := &Serial{
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.tasks) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		fn := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()
		fn()
	}
}

// Execute submits fn to run on the executor goroutine.
func (s *Serial) Execute(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tasks = append(s.tasks, fn)
	s.cond.Signal()
	return nil
}

// Schedule arranges for fn to run on the executor goroutine after d has
// elapsed. A timer that fires after Close is a no-op.
func (s *Serial) Schedule(d time.Duration, fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		// a timer firing concurrently with Close is dropped by Execute
		_ = s.Execute(fn)
	})
	s.timers[t] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Close stops the worker goroutine. Queued tasks that have not yet started
// are discarded, as are pending timers. Close does not wait for an in-flight
// task and is safe to call from one.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
	s.tasks = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Done is closed once the worker goroutine has exited.
func (s *Serial) Done() <-chan struct{} { return s.done }
