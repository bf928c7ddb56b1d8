// Package notify carries session notices (low-time and persistence warnings,
// result-ready) to whatever sinks the service wires up.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindWarning     Kind = "warning"
	KindCritical    Kind = "critical_warning"
	KindResultReady Kind = "result_ready"
)

// Event is one notice about an attempt. Result fields are set only for
// KindResultReady.
type Event struct {
	Kind      Kind      `json:"kind"`
	AttemptID string    `json:"attempt_id"`
	StudentID string    `json:"student_id,omitempty"`
	ExamID    string    `json:"exam_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`

	Status     string  `json:"status,omitempty"`
	Score      int     `json:"score,omitempty"`
	TotalMarks int     `json:"total_marks,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	Letter     string  `json:"letter,omitempty"`
}

// Notifier must not block for long; slow sinks belong behind a Queue.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type Func func(ctx context.Context, e Event)

func (f Func) Notify(ctx context.Context, e Event) { f(ctx, e) }

type nop struct{}

func (nop) Notify(context.Context, Event) {}

// Nop discards every event.
var Nop Notifier = nop{}

// Multi fans an event out to each notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}
