package bus

import "sync"

// envelopeQueue is an unbounded FIFO queue of envelopes.
// Publish must never block and must never silently drop an event while a
// matching subscriber is registered, so subscriber backlog is absorbed here
// rather than in a fixed-size channel buffer.
type envelopeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Envelope
	closed bool
}

func newEnvelopeQueue() *envelopeQueue {
	q := &envelopeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an envelope to the queue. Returns false if the queue is closed.
func (q *envelopeQueue) Push(env Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, env)
	q.cond.Signal()
	return true
}

// Pop blocks until an envelope is available or the queue is closed.
// Returns false once the queue is closed and drained.
func (q *envelopeQueue) Pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Envelope{}, false
	}

	env := q.items[0]
	q.items = q.items[1:]
	return env, true
}

// Close marks the queue closed and wakes the consumer. Queued envelopes are
// still delivered before Pop reports closure.
func (q *envelopeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current backlog size.
func (q *envelopeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
