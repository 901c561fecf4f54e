package engine

import "sync"

// messageQueue is a thread-safe unbounded FIFO of messages for one partner.
//
// The signal channel (buffered, size 1) coalesces wake-ups so a worker can
// wait with select alongside ctx.Done(). Close closes the channel, waking the
// worker for good; messages already queued are still handed out.
type messageQueue struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
	signal chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		msgs:   make([]Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds msg to the back of the queue.
// Returns false if the queue is closed.
func (q *messageQueue) Enqueue(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.msgs = append(q.msgs, msg)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (q *messageQueue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return Message{}, false
	}
	msg := q.msgs[0]
	// Clear the slot so the update can be collected.
	q.msgs[0] = Message{}
	if len(q.msgs) == 1 {
		q.msgs = q.msgs[:0]
	} else {
		q.msgs = q.msgs[1:]
	}
	return msg, true
}

// Wait returns a channel that signals when messages may be available.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Drained reports whether the queue is closed and empty.
func (q *messageQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.msgs) == 0
}

// Close stops further enqueues and wakes the waiting worker.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
