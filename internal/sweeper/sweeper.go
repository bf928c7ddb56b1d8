// Package sweeper closes attempts that nobody will finish: attempts whose
// countdown already hit zero, whose exam window has closed, or that sit idle
// on a deactivated exam. It also retries finalizations whose final write
// failed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/session"
)

// Finalizer is the slice of session.Manager the sweeper drives.
type Finalizer interface {
	Finalize(ctx context.Context, attemptID string, reason exam.AttemptStatus) (session.Result, error)
	RetryStuck(ctx context.Context) int
}

type Config struct {
	Schedule   string        // cron expression, e.g. "@every 1m"
	StaleAfter time.Duration // idle time before an attempt on an inactive exam is closed
	BatchSize  int
}

type Sweeper struct {
	store exam.Store
	fin   Finalizer
	clk   clock.Clock
	cfg   Config
	cron  *cron.Cron
}

func New(store exam.Store, fin Finalizer, clk clock.Clock, cfg Config) *Sweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	return &Sweeper{store: store, fin: fin, clk: clk, cfg: cfg}
}

// Report counts what one pass did.
type Report struct {
	Retried   int
	Expired   int
	Abandoned int
	Failed    int
}

// verdict decides whether an in-progress attempt should be closed and how.
func (s *Sweeper) verdict(a exam.Attempt, e exam.Exam, now time.Time) (exam.AttemptStatus, bool) {
	switch {
	case a.TimeRemainingSeconds <= 0:
		return exam.StatusTimeExpired, true
	case e.EndsAt != nil && now.After(*e.EndsAt):
		return exam.StatusTimeExpired, true
	case !e.Active && now.Sub(a.CheckpointedAt) > s.cfg.StaleAfter:
		return exam.StatusAutoSubmitted, true
	}
	return "", false
}

// Sweep runs one pass. Every close goes through the idempotent finalize
// path, so a pass racing a live submit grades the attempt once.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	rep.Retried = s.fin.RetryStuck(ctx)

	// collect first; closing rows shifts the in-progress listing
	var open []exam.Attempt
	for offset := 0; ; offset += s.cfg.BatchSize {
		list, err := s.store.ListAttempts(ctx, exam.AttemptListOpts{
			Status: string(exam.StatusInProgress),
			Limit:  s.cfg.BatchSize,
			Offset: offset,
		})
		if err != nil {
			return rep, fmt.Errorf("list in-progress attempts: %w", err)
		}
		open = append(open, list...)
		if len(list) < s.cfg.BatchSize {
			break
		}
	}

	now := s.clk.Now()
	exams := map[string]exam.Exam{}
	for _, a := range open {
		e, ok := exams[a.ExamID]
		if !ok {
			var err error
			e, err = s.store.GetExam(ctx, a.ExamID)
			if err != nil {
				log.Printf("[sweeper] attempt %s: exam %s: %v", a.ID, a.ExamID, err)
				rep.Failed++
				continue
			}
			exams[a.ExamID] = e
		}
		reason, due := s.verdict(a, e, now)
		if !due {
			continue
		}
		if _, err := s.fin.Finalize(ctx, a.ID, reason); err != nil && !errors.Is(err, exam.ErrAlreadyFinalized) {
			log.Printf("[sweeper] finalize %s (%s): %v", a.ID, reason, err)
			rep.Failed++
			continue
		}
		if reason == exam.StatusAutoSubmitted {
			rep.Abandoned++
		} else {
			rep.Expired++
		}
	}
	return rep, nil
}

// Start schedules Sweep on the configured cron expression. Overlapping runs are
// skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		rep, err := s.Sweep(ctx)
		if err != nil {
			log.Printf("[sweeper] pass failed: %v", err)
			return
		}
		if rep != (Report{}) {
			log.Printf("[sweeper] retried=%d expired=%d abandoned=%d failed=%d",
				rep.Retried, rep.Expired, rep.Abandoned, rep.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop waits for a running pass to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
