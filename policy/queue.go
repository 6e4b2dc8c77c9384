package policy

import (
	"sync"
	"sync/atomic"

	"deedles.dev/xsync/cq"
)

// Batch is the set of events collected between two drains.
type Batch struct {
	events []Event
}

// Events returns the batched events in posting order.
func (b *Batch) Events() []Event { return b.events }

// Queue hands events from any goroutine to the prepare pass. Posting never
// waits for the pass; events are batched until the next Drain.
type Queue struct {
	q    *cq.BulkQueue[Event, *Batch]
	done chan struct{}
	stop sync.Once

	posted  atomic.Int64
	drained int64 // owned by the draining goroutine
}

// NewQueue starts a queue. Call Stop to release its goroutine.
func NewQueue() *Queue {
	return &Queue{
		q: cq.New(func(v []Event) *Batch {
			return &Batch{events: v}
		}),
		done: make(chan struct{}),
	}
}

// Post queues e. It reports false once the queue is stopped. Post is safe
// for concurrent use.
func (q *Queue) Post(e Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.q.Add() <- e:
		q.posted.Add(1)
		return true
	case <-q.done:
		return false
	}
}

// Drain returns every event whose Post returned before Drain was called,
// oldest first. It must be called from a single goroutine.
func (q *Queue) Drain() []Event {
	var out []Event
	for q.drained < q.posted.Load() {
		select {
		case b := <-q.q.Get():
			out = append(out, b.events...)
			q.drained += int64(len(b.events))
		case <-q.done:
			return out
		}
	}
	return out
}

// Stop shuts the queue down. Pending events are dropped.
func (q *Queue) Stop() {
	q.stop.Do(func() {
		close(q.done)
		q.q.Stop()
	})
}
