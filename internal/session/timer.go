package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
)

// CountdownHooks are called outside the countdown lock, on the goroutine
// calling Tick.
type CountdownHooks struct {
	OnTick     func(remaining int)
	Checkpoint func(ctx context.Context, remaining int) error
	// OnNotice receives the low-time warnings and checkpoint failures.
	OnNotice func(ctx context.Context, kind notify.Kind, msg string)
	OnExpire func(ctx context.Context)
}

// Countdown decrements a remaining-seconds counter once per tick. It
// checkpoints every N ticks and calls OnExpire exactly once when the
// counter reaches zero.
type Countdown struct {
	clk        clock.Clock
	every      int
	warnAt     int
	criticalAt int
	hooks      CountdownHooks

	mu        sync.Mutex
	remaining int
	ticks     int
	expired   bool
	stopped   bool

	done     chan struct{}
	stopOnce sync.Once
}

func NewCountdown(clk clock.Clock, remaining int, cfg Config, hooks CountdownHooks) *Countdown {
	cfg = cfg.withDefaults()
	if remaining < 0 {
		remaining = 0
	}
	return &Countdown{
		clk:        clk,
		every:      cfg.CheckpointEvery,
		warnAt:     cfg.WarnAt,
		criticalAt: cfg.CriticalAt,
		hooks:      hooks,
		remaining:  remaining,
		done:       make(chan struct{}),
	}
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Tick advances the countdown by one second. Ticks after expiry or Stop are
// ignored.
func (c *Countdown) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.expired || c.stopped {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	c.ticks++
	rem := c.remaining
	checkpoint := c.every > 0 && c.ticks%c.every == 0
	expiredNow := rem == 0
	if expiredNow {
		c.expired = true
	}
	c.mu.Unlock()

	h := c.hooks
	if h.OnTick != nil {
		h.OnTick(rem)
	}
	switch {
	case rem == c.warnAt && h.OnNotice != nil:
		h.OnNotice(ctx, notify.KindWarning, lowTime(rem))
	case rem == c.criticalAt && h.OnNotice != nil:
		h.OnNotice(ctx, notify.KindCritical, lowTime(rem))
	}
	if checkpoint && !expiredNow && h.Checkpoint != nil {
		if err := h.Checkpoint(ctx, rem); err != nil {
			log.Printf("[timer] checkpoint at %ds: %v", rem, err)
			if h.OnNotice != nil {
				h.OnNotice(ctx, notify.KindWarning, "could not save remaining time")
			}
		}
	}
	if expiredNow {
		c.Stop()
		if h.OnExpire != nil {
			h.OnExpire(ctx)
		}
	}
}

func lowTime(rem int) string {
	return (time.Duration(rem) * time.Second).String() + " remaining"
}

// Run ticks once per second until ctx is done, the countdown expires, or
// Stop is called.
func (c *Countdown) Run(ctx context.Context) {
	t := c.clk.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C():
			c.Tick(ctx)
		}
	}
}

// Stop halts the countdown. It is safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once the countdown stops.
func (c *Countdown) Done() <-chan struct{} { return c.done }
