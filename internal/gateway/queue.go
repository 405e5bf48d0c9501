package gateway

import "sync"

// DefaultQueueSize bounds how many events may wait for a slow connection.
const DefaultQueueSize = 256

type Outbound struct {
	Event   string
	Payload any
}

// Queue is a bounded, ordered per-connection outbox drained by a single writer
// goroutine. Push never blocks.
type Queue struct {
	mu     sync.Mutex
	ch     chan Outbound
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Outbound, size)}
}

// Push enqueues an event. It reports false when the queue is full or closed.
func (q *Queue) Push(event string, payload any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- Outbound{Event: event, Payload: payload}:
		return true
	default:
		return false
	}
}

// C is drained by the connection's writer; it is closed by Close.
func (q *Queue) C() <-chan Outbound { return q.ch }

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
