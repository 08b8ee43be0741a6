// Package eventq provides the event queues that feed a component's worker
// goroutine: a plain FIFO and a scheduler that multiplexes several FIFOs
// behind one wake signal, draining them in fixed priority order.
package eventq

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("eventq: queue closed")

// Queue is a FIFO of events. The zero value is ready to use. Queue is not
// safe for concurrent use on its own; Scheduler serializes access.
type Queue[T any] struct {
	items []T
	head  int
}

// Push appends ev to the tail.
func (q *Queue[T]) Push(ev T) {
	q.items = append(q.items, ev)
}

// Pop removes and returns the head, or reports false if the queue is
// empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	ev := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return ev, true
}

// Len returns the number of queued events.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Class selects one of the scheduler's queues. Lower values drain first.
type Class int

// Queue classes in drain order: commands preempt completed output, which
// preempts input, so output resources free up before more input is
// accepted.
const (
	ClassCommand Class = iota
	ClassOutput
	ClassInput
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassCommand:
		return "command"
	case ClassOutput:
		return "output"
	case ClassInput:
		return "input"
	default:
		return "unknown"
	}
}

// Scheduler holds one queue per Class behind a single mutex and a wake
// signal. Any number of goroutines may Push; one consumer goroutine calls
// Pop until it reports empty and then waits on Ready.
type Scheduler[T any] struct {
	mu     sync.Mutex
	queues [numClasses]Queue[T]
	closed bool
	ready  chan struct{}
}

// NewScheduler creates an empty scheduler.
func NewScheduler[T any]() *Scheduler[T] {
	return &Scheduler[T]{ready: make(chan struct{}, 1)}
}

// Push appends ev to the queue of class c and wakes the consumer.
func (s *Scheduler[T]) Push(c Class, ev T) error {
	if c < 0 || c >= numClasses {
		return errors.New("eventq: unknown class")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queues[c].Push(ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the head of the highest-priority non-empty queue.
func (s *Scheduler[T]) Pop() (T, Class, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range numClasses {
		if ev, ok := s.queues[c].Pop(); ok {
			return ev, c, true
		}
	}
	var zero T
	return zero, 0, false
}

// Ready returns a channel that receives after at least one Push since the
// last receive. A consumer drains with Pop after every receive; a stale
// wake-up simply finds the queues empty.
func (s *Scheduler[T]) Ready() <-chan struct{} {
	return s.ready
}

// Len returns the number of events queued in class c.
func (s *Scheduler[T]) Len(c Class) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c < 0 || c >= numClasses {
		return 0
	}
	return s.queues[c].Len()
}

// Close rejects further pushes. Events already queued can still be
// popped.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
