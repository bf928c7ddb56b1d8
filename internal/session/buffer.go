package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
)

// WriteFunc persists one answer. It is called with at most one write in
// flight per question.
type WriteFunc func(ctx context.Context, questionID, answer string) error

type slot struct {
	value    string
	dirty    bool // value not yet written
	armed    bool // debounce timer pending
	inflight bool
	gen      int
	timer    clock.Timer
}

// Buffer holds the answers of one attempt and writes each one behind a
// debounce. Writes for the same question collapse to the last value; writes
// for different questions proceed independently. Write failures are logged
// and reported through OnError, never returned from Record.
type Buffer struct {
	clk   clock.Clock
	delay time.Duration
	write WriteFunc
	base  context.Context

	// OnError is called after a failed write, outside the buffer lock.
	OnError func(questionID string, err error)

	mu      sync.Mutex
	slots   map[string]*slot
	changed chan struct{}
	sealed  bool
}

func NewBuffer(ctx context.Context, clk clock.Clock, delay time.Duration, write WriteFunc) *Buffer {
	return &Buffer{
		clk:     clk,
		delay:   delay,
		write:   write,
		base:    ctx,
		slots:   map[string]*slot{},
		changed: make(chan struct{}),
	}
}

// Record updates the answer immediately and re-arms its debounce timer.
func (b *Buffer) Record(questionID, answer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return exam.ErrAlreadyFinalized
	}
	s := b.slotLocked(questionID)
	s.value = answer
	s.dirty = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.armed = true
	s.timer = b.clk.AfterFunc(b.delay, func() { b.fire(questionID, gen) })
	return nil
}

func (b *Buffer) slotLocked(questionID string) *slot {
	s, ok := b.slots[questionID]
	if !ok {
		s = &slot{}
		b.slots[questionID] = s
	}
	return s
}

func (b *Buffer) fire(questionID string, gen int) {
	b.mu.Lock()
	s := b.slots[questionID]
	if s == nil || s.gen != gen || !s.armed {
		b.mu.Unlock()
		return
	}
	s.armed = false
	s.timer = nil
	b.mu.Unlock()
	_ = b.drain(b.base, questionID)
}

// drain writes the slot until it is clean. If another goroutine is already
// writing it, that goroutine picks up the newer value when it finishes.
func (b *Buffer) drain(ctx context.Context, questionID string) error {
	b.mu.Lock()
	s := b.slots[questionID]
	if s == nil || s.inflight {
		b.mu.Unlock()
		return nil
	}
	var err error
	for s.dirty && !s.armed {
		s.inflight = true
		s.dirty = false
		v, gen := s.value, s.gen
		b.mu.Unlock()

		err = b.write(ctx, questionID, v)

		b.mu.Lock()
		s.inflight = false
		if err != nil {
			if s.gen == gen {
				s.dirty = true
			}
			break
		}
	}
	b.broadcastLocked()
	b.mu.Unlock()

	if err != nil {
		log.Printf("[buffer] write %s: %v", questionID, err)
		if b.OnError != nil {
			b.OnError(questionID, err)
		}
	}
	return err
}

func (b *Buffer) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Flush writes every pending answer now, cancelling the debounce.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	var keys []string
	for k, s := range b.slots {
		if s.armed {
			s.timer.Stop()
			s.timer = nil
			s.armed = false
		}
		if s.dirty {
			keys = append(keys, k)
		}
	}
	b.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, k := range keys {
		g.Go(func() error { return b.drain(ctx, k) })
	}
	err := g.Wait()
	if werr := b.WaitIdle(ctx); werr != nil {
		return werr
	}
	if err != nil {
		return exam.GatewayError("flush", err)
	}
	if n := len(b.Pending()); n > 0 {
		return exam.GatewayError("flush", fmt.Errorf("%d answers not persisted", n))
	}
	return nil
}

// WaitIdle blocks until no debounce is armed and no write is in flight.
func (b *Buffer) WaitIdle(ctx context.Context) error {
	for {
		b.mu.Lock()
		idle := true
		for _, s := range b.slots {
			if s.armed || s.inflight {
				idle = false
				break
			}
		}
		ch := b.changed
		b.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Snapshot copies the current answers.
func (b *Buffer) Snapshot() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.slots))
	for k, s := range b.slots {
		out[k] = s.value
	}
	return out
}

// Pending lists questions whose latest value has not been written.
func (b *Buffer) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k, s := range b.slots {
		if s.dirty || s.inflight {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Restore seeds the buffer from stored responses. Restored values are
// considered persisted.
func (b *Buffer) Restore(rs []exam.Response) map[string]string {
	b.mu.Lock()
	for _, r := range rs {
		s := b.slotLocked(r.QuestionID)
		if s.dirty || s.armed || s.inflight {
			continue
		}
		s.value = r.Answer
	}
	b.mu.Unlock()
	return b.Snapshot()
}

// Seal rejects further Records and cancels pending debounces.
func (b *Buffer) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
	for _, s := range b.slots {
		if s.armed {
			s.timer.Stop()
			s.timer = nil
			s.armed = false
		}
	}
	b.broadcastLocked()
}
