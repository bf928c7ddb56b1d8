package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
)

// Manager creates, resumes and tracks live sessions.
type Manager struct {
	store    exam.Store
	clk      clock.Clock
	engine   *grading.Engine
	notifier notify.Notifier
	cfg      Config

	rndMu sync.Mutex
	rnd   *rand.Rand

	sf singleflight.Group

	mu   sync.Mutex
	live map[string]*Session // attempt id -> session

	base   context.Context // countdowns and debounced writes; cancelled by Shutdown
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Manager)

// WithRand sets the shuffle source.
func WithRand(r *rand.Rand) Option { return func(m *Manager) { m.rnd = r } }

func NewManager(store exam.Store, clk clock.Clock, engine *grading.Engine, n notify.Notifier, cfg Config, opts ...Option) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if engine == nil {
		engine = grading.New()
	}
	if n == nil {
		n = notify.Nop
	}
	m := &Manager{
		store:    store,
		clk:      clk,
		engine:   engine,
		notifier: n,
		cfg:      cfg.withDefaults(),
		live:     map[string]*Session{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.rnd == nil {
		m.rnd = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}
	m.base, m.cancel = context.WithCancel(context.Background())
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// StartOrResume returns the student's in-progress attempt for the exam, or
// starts one after checking eligibility. Concurrent calls for the same
// student and exam share one result; the shared call runs detached from
// the first caller's cancellation.
func (m *Manager) StartOrResume(ctx context.Context, who exam.Identity, examID string) (*Session, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.sf.Do(who.ID+"|"+examID, func() (any, error) {
		return m.startOrResume(shared, who, examID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) startOrResume(ctx context.Context, who exam.Identity, examID string) (*Session, error) {
	e, err := m.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	a, err := m.store.FindInProgressAttempt(ctx, who.ID, examID)
	switch {
	case err == nil:
		return m.resume(ctx, e, a)
	case !errors.Is(err, exam.ErrNotFound):
		return nil, err
	}

	now := m.clk.Now()
	if err := Eligible(who, e, now); err != nil {
		return nil, err
	}
	qs, err := m.store.ListQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("exam %s has no questions: %w", examID, exam.ErrNotAvailable)
	}

	m.rndMu.Lock()
	order := exam.Shuffle(qs, m.rnd)
	m.rndMu.Unlock()

	total := 0
	for _, q := range qs {
		total += q.Marks
	}
	created, err := m.store.CreateAttempt(ctx, exam.Attempt{
		ID:                   uuid.NewString(),
		StudentID:            who.ID,
		ExamID:               examID,
		Status:               exam.StatusInProgress,
		TimeRemainingSeconds: e.DurationMinutes * 60,
		TotalMarks:           total,
		PresentedOrder:       order,
		StartedAt:            now,
		CheckpointedAt:       now,
	})
	if errors.Is(err, exam.ErrAlreadyInProgress) {
		// another process won the race; resume its row
		a, err := m.store.FindInProgressAttempt(ctx, who.ID, examID)
		if err != nil {
			return nil, err
		}
		return m.resume(ctx, e, a)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[session] started attempt %s student=%s exam=%s", created.ID, who.ID, examID)
	return m.open(e, qs, created, order, 0, created.TimeRemainingSeconds, nil), nil
}

// Eligible checks whether who may start e at now.
func Eligible(who exam.Identity, e exam.Exam, now time.Time) error {
	if who.Role != exam.RoleStudent {
		return fmt.Errorf("role %q cannot sit exams: %w", who.Role, exam.ErrAuthorization)
	}
	if !e.Active {
		return fmt.Errorf("exam %s is not active: %w", e.ID, exam.ErrNotAvailable)
	}
	if !strings.EqualFold(strings.TrimSpace(who.ClassID), strings.TrimSpace(e.ClassID)) {
		return fmt.Errorf("class %q does not sit exam %s: %w", who.ClassID, e.ID, exam.ErrAuthorization)
	}
	if !who.RegisteredFor(e.Subject) {
		return fmt.Errorf("not registered for %q: %w", e.Subject, exam.ErrAuthorization)
	}
	if e.StartsAt != nil && now.Before(*e.StartsAt) {
		return fmt.Errorf("exam %s opens at %s: %w", e.ID, e.StartsAt.Format(time.RFC3339), exam.ErrNotAvailable)
	}
	if e.EndsAt != nil && now.After(*e.EndsAt) {
		return fmt.Errorf("exam %s closed at %s: %w", e.ID, e.EndsAt.Format(time.RFC3339), exam.ErrNotAvailable)
	}
	return nil
}

func (m *Manager) resume(ctx context.Context, e exam.Exam, a exam.Attempt) (*Session, error) {
	if s, ok := m.Get(a.ID); ok {
		return s, nil
	}
	qs, err := m.store.ListQuestions(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	rs, err := m.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	var order []string
	if len(a.PresentedOrder) > 0 {
		order = exam.ReconcileOrder(a.PresentedOrder, qs)
	} else {
		order = exam.ReconstructOrder(qs, rs)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("attempt %s has no questions: %w", a.ID, exam.ErrNotAvailable)
	}

	cursor := max(a.Cursor, firstUnanswered(order, rs))
	cursor = min(max(cursor, 0), len(order)-1)

	remaining := a.TimeRemainingSeconds
	if m.cfg.ReconcileWallClock && !a.CheckpointedAt.IsZero() {
		if away := int(m.clk.Now().Sub(a.CheckpointedAt) / time.Second); away > 0 {
			remaining -= away
		}
	}
	remaining = max(remaining, 0)

	log.Printf("[session] resumed attempt %s at %d/%d with %ds left", a.ID, cursor+1, len(order), remaining)
	s := m.open(e, qs, a, order, cursor, remaining, rs)
	if remaining == 0 {
		if _, err := s.Finalize(ctx, exam.StatusTimeExpired); err != nil {
			return s, err
		}
	}
	return s, nil
}

func firstUnanswered(order []string, rs []exam.Response) int {
	answered := make(map[string]bool, len(rs))
	for _, r := range rs {
		if strings.TrimSpace(r.Answer) != "" {
			answered[r.QuestionID] = true
		}
	}
	for i, id := range order {
		if !answered[id] {
			return i
		}
	}
	return len(order)
}

func (m *Manager) open(e exam.Exam, qs []exam.Question, a exam.Attempt, order []string, cursor, remaining int, rs []exam.Response) *Session {
	s := &Session{
		m:         m,
		exam:      e,
		questions: qs,
		byID:      make(map[string]exam.Question, len(qs)),
		attempt:   a,
		order:     order,
		cursor:    cursor,
	}
	for _, q := range qs {
		s.byID[q.ID] = q
	}
	s.attempt.PresentedOrder = order

	s.buf = NewBuffer(m.base, m.clk, m.cfg.DebounceDelay, s.writeAnswer)
	s.buf.OnError = func(questionID string, err error) {
		s.notify(m.base, notify.KindWarning, "an answer could not be saved yet")
	}
	s.buf.Restore(rs)

	hooks := CountdownHooks{
		Checkpoint: s.checkpoint,
		OnNotice:   s.notify,
		OnExpire:   s.onExpire,
	}
	if m.cfg.OnTick != nil {
		id := a.ID
		hooks.OnTick = func(rem int) { m.cfg.OnTick(id, rem) }
	}
	s.timer = NewCountdown(m.clk, remaining, m.cfg, hooks)

	m.mu.Lock()
	m.live[a.ID] = s
	m.mu.Unlock()

	if m.cfg.AutoStartTimers && remaining > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.timer.Run(m.base)
		}()
	}
	return s
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[s.attempt.ID] == s {
		delete(m.live, s.attempt.ID)
	}
}

// Get returns the live session for an attempt.
func (m *Manager) Get(attemptID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[attemptID]
	return s, ok
}

// Sessions lists live sessions ordered by attempt id.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].attempt.ID < out[j].attempt.ID })
	return out
}

// Attach returns a live session for an in-progress attempt, resuming it from
// storage if this process does not hold it. Terminal attempts report
// ErrAlreadyFinalized.
func (m *Manager) Attach(ctx context.Context, attemptID string) (*Session, error) {
	if s, ok := m.Get(attemptID); ok {
		return s, nil
	}
	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("attempt %s is %s: %w", a.ID, a.Status, exam.ErrAlreadyFinalized)
	}
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.sf.Do(a.StudentID+"|"+a.ExamID, func() (any, error) {
		e, err := m.store.GetExam(shared, a.ExamID)
		if err != nil {
			return nil, err
		}
		return m.resume(shared, e, a)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Finalize closes an attempt by id. Attempts that are already terminal
// return their stored result without any writes.
func (m *Manager) Finalize(ctx context.Context, attemptID string, reason exam.AttemptStatus) (Result, error) {
	s, err := m.Attach(ctx, attemptID)
	if errors.Is(err, exam.ErrAlreadyFinalized) {
		return m.Result(ctx, attemptID)
	}
	if err != nil {
		return Result{}, err
	}
	if res, ok := s.Result(); ok {
		return res, nil
	}
	return s.Finalize(ctx, reason)
}

// Result re-derives the result of an attempt from storage.
func (m *Manager) Result(ctx context.Context, attemptID string) (Result, error) {
	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	e, err := m.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Result{}, err
	}
	return m.derive(ctx, e, a)
}

// derive grades the stored responses again. Grading is pure, so this
// reproduces what finalization computed.
func (m *Manager) derive(ctx context.Context, e exam.Exam, a exam.Attempt) (Result, error) {
	qs, err := m.store.ListQuestions(ctx, e.ID)
	if err != nil {
		return Result{}, err
	}
	rs, err := m.store.ListResponses(ctx, a.ID)
	if err != nil {
		return Result{}, err
	}
	graded := m.engine.Grade(qs, rs)
	res := Result{
		AttemptID:   a.ID,
		Status:      a.Status,
		Score:       graded.Score,
		TotalMarks:  graded.TotalMarks,
		Percentage:  graded.Percentage,
		Items:       graded.Items,
		SubmittedAt: a.SubmittedAt,
	}
	if a.Status.Terminal() {
		res.Score, res.TotalMarks, res.Percentage = a.Score, a.TotalMarks, a.Percentage
	}
	res.Letter = m.cfg.Thresholds.Letter(res.Percentage)
	return res, nil
}

// RetryStuck re-runs finalization for live sessions whose submission
// failed part way or that ran out of time without completing their writes.
func (m *Manager) RetryStuck(ctx context.Context) int {
	n := 0
	for _, s := range m.Sessions() {
		if s.finalized() {
			continue
		}
		reason, ok := s.Pending()
		switch {
		case s.timer.Remaining() == 0:
			reason = exam.StatusTimeExpired
		case !ok:
			continue
		}
		if _, err := s.Finalize(ctx, reason); err != nil {
			log.Printf("[session] retry %s: %v", s.attempt.ID, err)
			continue
		}
		n++
	}
	return n
}

// Shutdown closes every live session, leaving attempts resumable, and waits
// for countdown goroutines to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range m.Sessions() {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.attempt.ID, err))
		}
	}
	m.cancel()
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
