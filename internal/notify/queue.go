package notify

import (
	"context"
	"log"
	"sync"
)

// Queue delivers events to next on a background goroutine so callers never
// wait on a slow sink. When the buffer is full the event is dropped and
// logged.
type Queue struct {
	next Notifier
	ch   chan Event
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewQueue(next Notifier, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{next: next, ch: make(chan Event, size)}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for e := range q.ch {
		q.next.Notify(context.Background(), e)
	}
}

func (q *Queue) Notify(_ context.Context, e Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- e:
	default:
		log.Printf("[notify] queue full, dropped %s for attempt %s", e.Kind, e.AttemptID)
	}
}

// Close stops accepting events and waits until queued ones are delivered
// or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { q.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
