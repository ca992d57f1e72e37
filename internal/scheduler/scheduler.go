// Package scheduler provides the serial background executor the cache
// engine uses for the two maintenance tasks it defers off the hot path:
// journal rebuilds and size trims.
//
// [Serial] is the production implementation: a single goroutine draining a
// channel, so tasks never run concurrently with each other. [Fake] is the
// deterministic test double: tasks queue up and only run when explicitly
// stepped, so tests can assert on state before and after a scheduled
// maintenance task executes.
package scheduler

import "sync"

// Task is a deferred unit of work submitted to a [Scheduler].
type Task func()

// Scheduler runs submitted tasks serially, in submission order.
//
// Implementations may coalesce by name: submitting a task under a name
// that's already queued (not yet started) is a no-op. The cache engine
// relies on this to collapse repeated trim/rebuild requests into one.
type Scheduler interface {
	// Submit enqueues task to run serially under the given name. An empty
	// name opts out of coalescing. Submit must not block on task running.
	Submit(name string, task Task)

	// Close stops accepting new submissions and waits for any queued or
	// in-flight task to finish.
	Close()
}

// Serial is a [Scheduler] backed by one background goroutine, guaranteeing
// tasks run one at a time in submission order. Safe for concurrent use.
type Serial struct {
	mu     sync.Mutex
	queued map[string]bool
	closed bool

	tasks chan namedTask
	done  chan struct{}
}

type namedTask struct {
	name string
	task Task
}

// NewSerial starts a Serial scheduler's background goroutine.
func NewSerial() *Serial {
	s := &Serial{
		queued: make(map[string]bool),
		tasks:  make(chan namedTask, 64),
		done:   make(chan struct{}),
	}

	go s.loop()

	return s
}

func (s *Serial) loop() {
	defer close(s.done)

	for nt := range s.tasks {
		if nt.name != "" {
			s.mu.Lock()
			delete(s.queued, nt.name)
			s.mu.Unlock()
		}

		nt.task()
	}
}

// Submit enqueues task under name. If name is non-empty and already queued,
// Submit is a no-op (the task already in the queue will pick up whatever
// state exists when it runs).
func (s *Serial) Submit(name string, task Task) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	if name != "" {
		if s.queued[name] {
			s.mu.Unlock()

			return
		}

		s.queued[name] = true
	}

	s.mu.Unlock()

	s.tasks <- namedTask{name: name, task: task}
}

// Close stops accepting submissions and blocks until the background
// goroutine has drained every already-queued task.
func (s *Serial) Close() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true

	s.mu.Unlock()

	close(s.tasks)
	<-s.done
}

var _ Scheduler = (*Serial)(nil)
