package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
	"github.com/frankdogbe328/signals-sub000/internal/semester"
)

// Result is what a finalized attempt reports back.
type Result struct {
	AttemptID   string               `json:"attempt_id"`
	Status      exam.AttemptStatus   `json:"status"`
	Score       int                  `json:"score"`
	TotalMarks  int                  `json:"total_marks"`
	Percentage  float64              `json:"percentage"`
	Letter      string               `json:"letter"`
	Items       []grading.ItemResult `json:"items"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
}

// closing holds a graded result whose attempt row is already terminal but
// whose grade row may still need writing.
type closing struct {
	res    Result
	graded grading.Result
	at     time.Time
}

// Session is one live attempt. It is created by Manager and owned by the
// caller until finalized or closed.
type Session struct {
	m         *Manager
	exam      exam.Exam
	questions []exam.Question
	byID      map[string]exam.Question

	mu      sync.Mutex
	attempt exam.Attempt
	order   []string
	cursor  int

	buf   *Buffer
	timer *Countdown

	finalizeMu sync.Mutex
	final      *Result
	closing    *closing
	pending    exam.AttemptStatus // reason of a finalize that has not completed
	submitting atomic.Bool
	done       atomic.Bool
}

func (s *Session) ID() string { return s.attempt.ID }

// Attempt returns the attempt with the live remaining time and cursor.
func (s *Session) Attempt() exam.Attempt {
	s.mu.Lock()
	a := s.attempt
	a.Cursor = s.cursor
	a.PresentedOrder = append([]string(nil), s.order...)
	s.mu.Unlock()
	if !s.done.Load() {
		a.TimeRemainingSeconds = s.timer.Remaining()
	}
	return a
}

func (s *Session) Exam() exam.Exam { return s.exam }

func (s *Session) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// CurrentQuestion returns the question at the cursor with the answer key
// removed.
func (s *Session) CurrentQuestion() (exam.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 || s.cursor >= len(s.order) {
		return exam.Question{}, exam.ErrInvalid
	}
	return s.byID[s.order[s.cursor]].Public(), nil
}

// Advance moves the cursor forward. Moving back is rejected.
func (s *Session) Advance(index int) error {
	if s.locked() {
		return exam.ErrAlreadyFinalized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case index < s.cursor:
		return exam.ErrCursorBackwards
	case index >= len(s.order):
		return fmt.Errorf("cursor %d of %d: %w", index, len(s.order), exam.ErrInvalid)
	}
	s.cursor = index
	return nil
}

// Record captures an answer for the current question.
func (s *Session) Record(_ context.Context, questionID, answer string) error {
	if s.locked() {
		return exam.ErrAlreadyFinalized
	}
	s.mu.Lock()
	current := s.order[s.cursor]
	s.mu.Unlock()
	if questionID != current {
		return exam.ErrNotCurrentQuestion
	}
	return s.buf.Record(questionID, answer)
}

// Answers is the in-memory answer map.
func (s *Session) Answers() map[string]string { return s.buf.Snapshot() }

func (s *Session) Buffer() *Buffer { return s.buf }

func (s *Session) Timer() *Countdown { return s.timer }

// Result returns the finalized result, if any.
func (s *Session) Result() (Result, bool) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	if s.final == nil {
		return Result{}, false
	}
	return *s.final, true
}

func (s *Session) finalized() bool { return s.done.Load() }

// locked reports whether answers are frozen. That starts with the first
// Finalize call or when the countdown reaches zero.
func (s *Session) locked() bool {
	return s.done.Load() || s.submitting.Load() || s.timer.Expired()
}

// Pending returns the reason of a finalize that failed part way.
func (s *Session) Pending() (exam.AttemptStatus, bool) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	return s.pending, s.pending != "" && s.final == nil
}

func (s *Session) sequenceOf(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.order {
		if id == questionID {
			return i + 1
		}
	}
	return 0
}

// writeAnswer is the buffer's write-through.
func (s *Session) writeAnswer(ctx context.Context, questionID, answer string) error {
	return s.m.store.UpsertResponse(ctx, exam.Response{
		AttemptID:     s.attempt.ID,
		QuestionID:    questionID,
		Answer:        answer,
		SequenceOrder: s.sequenceOf(questionID),
		UpdatedAt:     s.m.clk.Now(),
	})
}

func (s *Session) checkpoint(ctx context.Context, remaining int) error {
	now := s.m.clk.Now()
	if err := s.m.store.CheckpointAttempt(ctx, s.attempt.ID, remaining, s.Cursor(), now); err != nil {
		return err
	}
	s.mu.Lock()
	s.attempt.TimeRemainingSeconds = remaining
	s.attempt.CheckpointedAt = now
	s.mu.Unlock()
	return nil
}

func (s *Session) notify(ctx context.Context, kind notify.Kind, msg string) {
	s.m.notifier.Notify(ctx, notify.Event{
		Kind:      kind,
		AttemptID: s.attempt.ID,
		StudentID: s.attempt.StudentID,
		ExamID:    s.attempt.ExamID,
		Message:   msg,
		At:        s.m.clk.Now(),
	})
}

func (s *Session) onExpire(ctx context.Context) {
	if _, err := s.Finalize(ctx, exam.StatusTimeExpired); err != nil {
		log.Printf("[session] %s: finalize on expiry: %v", s.attempt.ID, err)
	}
}

// responses builds one response per presented question from the answer
// map; unanswered questions carry an empty answer.
func (s *Session) responses(answers map[string]string, at time.Time) []exam.Response {
	order := s.Order()
	out := make([]exam.Response, 0, len(order))
	for i, qid := range order {
		out = append(out, exam.Response{
			AttemptID:     s.attempt.ID,
			QuestionID:    qid,
			Answer:        answers[qid],
			SequenceOrder: i + 1,
			UpdatedAt:     at,
		})
	}
	return out
}

// Finalize grades and closes the attempt. It runs one grading pass no
// matter how many callers race; later calls return the first result
// without writing. On a persistence failure the computed result is
// returned with the error and the session stays open so a retry can
// complete the writes. The countdown keeps running until the attempt row
// is terminal, so a failed submission still expires on time.
func (s *Session) Finalize(ctx context.Context, reason exam.AttemptStatus) (Result, error) {
	if !reason.Terminal() {
		return Result{}, fmt.Errorf("finalize reason %q: %w", reason, exam.ErrInvalid)
	}
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	if s.final != nil {
		return *s.final, nil
	}

	s.submitting.Store(true)
	s.pending = reason
	if s.closing == nil {
		if err := s.buf.Flush(ctx); err != nil {
			log.Printf("[session] %s: flush before finalize: %v", s.attempt.ID, err)
		}
		cur, err := s.m.store.GetAttempt(ctx, s.attempt.ID)
		if err != nil {
			return Result{}, s.failLocked(ctx, err)
		}
		if cur.Status.Terminal() {
			// closed elsewhere; report what was stored
			return s.adoptLocked(ctx, cur)
		}

		now := s.m.clk.Now()
		rs := s.responses(s.buf.Snapshot(), now)
		graded := s.m.engine.Grade(s.questions, rs)
		res := Result{
			AttemptID:   s.attempt.ID,
			Status:      reason,
			Score:       graded.Score,
			TotalMarks:  graded.TotalMarks,
			Percentage:  graded.Percentage,
			Letter:      s.m.cfg.Thresholds.Letter(graded.Percentage),
			Items:       graded.Items,
			SubmittedAt: &now,
		}
		for _, r := range graded.Apply(rs) {
			if err := s.m.store.UpsertResponse(ctx, r); err != nil {
				return res, s.failLocked(ctx, err)
			}
		}
		ok, err := s.m.store.FinalizeAttempt(ctx, s.attempt.ID, exam.Finalization{
			Status:      reason,
			Score:       res.Score,
			TotalMarks:  res.TotalMarks,
			Percentage:  res.Percentage,
			SubmittedAt: now,
		})
		if err != nil {
			return res, s.failLocked(ctx, err)
		}
		if !ok {
			cur, err := s.m.store.GetAttempt(ctx, s.attempt.ID)
			if err != nil {
				return res, s.failLocked(ctx, err)
			}
			return s.adoptLocked(ctx, cur)
		}
		s.closing = &closing{res: res, graded: graded, at: now}
		s.timer.Stop()
		s.buf.Seal()
		s.mu.Lock()
		s.attempt.Status = reason
		s.attempt.Score, s.attempt.TotalMarks, s.attempt.Percentage = res.Score, res.TotalMarks, res.Percentage
		s.attempt.SubmittedAt = &now
		s.mu.Unlock()
	}

	c := s.closing
	a := s.Attempt()
	g := semester.NewGrade(a, s.exam, c.graded, s.m.cfg.Thresholds, c.at)
	if err := s.m.store.UpsertGrade(ctx, g); err != nil {
		return c.res, s.failLocked(ctx, err)
	}

	s.completeLocked(a, c.res)
	s.m.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindResultReady,
		AttemptID:  a.ID,
		StudentID:  a.StudentID,
		ExamID:     a.ExamID,
		At:         c.at,
		Status:     string(c.res.Status),
		Score:      c.res.Score,
		TotalMarks: c.res.TotalMarks,
		Percentage: c.res.Percentage,
		Letter:     c.res.Letter,
	})
	return c.res, nil
}

// adoptLocked takes over a terminal row written by someone else.
func (s *Session) adoptLocked(ctx context.Context, cur exam.Attempt) (Result, error) {
	res, err := s.m.derive(ctx, s.exam, cur)
	if err != nil {
		return Result{}, s.failLocked(ctx, err)
	}
	s.completeLocked(cur, res)
	return res, nil
}

func (s *Session) completeLocked(a exam.Attempt, res Result) {
	s.mu.Lock()
	s.attempt.Status = a.Status
	s.attempt.Score, s.attempt.TotalMarks, s.attempt.Percentage = a.Score, a.TotalMarks, a.Percentage
	s.attempt.SubmittedAt = a.SubmittedAt
	s.mu.Unlock()
	s.final = &res
	s.done.Store(true)
	s.timer.Stop()
	s.buf.Seal()
	s.m.release(s)
}

func (s *Session) failLocked(ctx context.Context, err error) error {
	err = exam.GatewayError("finalize", err)
	log.Printf("[session] %s: finalize: %v", s.attempt.ID, err)
	if errors.Is(err, exam.ErrGatewayFailure) {
		s.notify(ctx, notify.KindCritical, "your submission could not be saved; retrying")
	}
	return err
}

// Close stops the countdown and saves what can be saved without grading.
// The attempt stays in progress and can be resumed.
func (s *Session) Close(ctx context.Context) error {
	s.timer.Stop()
	if s.finalized() {
		return nil
	}
	err := s.buf.Flush(ctx)
	if cerr := s.checkpoint(ctx, s.timer.Remaining()); cerr != nil {
		log.Printf("[session] %s: checkpoint on close: %v", s.attempt.ID, cerr)
		if err == nil {
			err = cerr
		}
	}
	s.m.release(s)
	return err
}
