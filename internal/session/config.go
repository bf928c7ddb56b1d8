// Package session runs live exam attempts: start or resume, answer capture
// with debounced write-behind, the countdown, and idempotent finalization.
package session

import (
	"time"

	"github.com/frankdogbe328/signals-sub000/internal/grading"
)

type Config struct {
	// DebounceDelay is how long an answer must sit unchanged before it is
	// written through.
	DebounceDelay time.Duration
	// CheckpointEvery is the number of ticks between remaining-time
	// checkpoints.
	CheckpointEvery int
	WarnAt          int // seconds remaining for the low-time warning
	CriticalAt      int // seconds remaining for the critical warning

	// ReconcileWallClock subtracts the time elapsed since the last
	// checkpoint when an attempt is resumed. Off by default.
	ReconcileWallClock bool

	// AutoStartTimers runs each session's countdown on its own goroutine.
	// Tests leave it off and call Tick directly.
	AutoStartTimers bool

	Thresholds grading.Thresholds

	// OnTick, when set, receives the display value after each tick.
	OnTick func(attemptID string, remaining int)
}

func DefaultConfig() Config {
	return Config{
		DebounceDelay:   800 * time.Millisecond,
		CheckpointEvery: 30,
		WarnAt:          300,
		CriticalAt:      60,
		AutoStartTimers: true,
		Thresholds:      grading.DefaultThresholds(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = d.DebounceDelay
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = d.CheckpointEvery
	}
	if c.WarnAt <= 0 {
		c.WarnAt = d.WarnAt
	}
	if c.CriticalAt <= 0 {
		c.CriticalAt = d.CriticalAt
	}
	if len(c.Thresholds.Steps) == 0 {
		c.Thresholds = d.Thresholds
	}
	return c
}
