package session_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
	"github.com/frankdogbe328/signals-sub000/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var student = exam.Identity{ID: "stu-1", Role: exam.RoleStudent, ClassID: "SIG-1", Subjects: []string{"Radio Theory"}}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(k notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

type fixture struct {
	t     *testing.T
	store *exam.MemoryStore
	clk   *clock.Fake
	rec   *recorder
	cfg   session.Config
	mgr   *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		store: exam.NewInMemoryStore(),
		clk:   clock.NewFake(t0),
		rec:   &recorder{},
	}
	f.cfg = session.DefaultConfig()
	f.cfg.AutoStartTimers = false
	f.mgr = f.newManager()
	return f
}

// newManager builds another manager over the same store, standing in for a
// restarted process.
func (f *fixture) newManager() *session.Manager {
	m := session.NewManager(f.store, f.clk, grading.New(), f.rec, f.cfg,
		session.WithRand(rand.New(rand.NewSource(7))))
	f.t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// seed stores an active 10-minute final exam with the given questions.
func (f *fixture) seed(qs ...exam.Question) exam.Exam {
	f.t.Helper()
	e := exam.Exam{
		ID: "exam-1", Subject: "Radio Theory", ClassID: "SIG-1",
		DurationMinutes: 10, Type: exam.TypeFinalExam, Active: true,
	}
	if len(qs) == 0 {
		qs = []exam.Question{
			{ID: "q1", SequenceOrder: 1, Text: "Capital of France?", Type: exam.QuestionMultipleChoice,
				Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris", Marks: 1},
			{ID: "q2", SequenceOrder: 2, Text: "O is?", Type: exam.QuestionShortAnswer, CorrectAnswer: "Oxygen", Marks: 4},
		}
	}
	for i := range qs {
		qs[i].ExamID = e.ID
		e.TotalMarks += qs[i].Marks
	}
	ctx := context.Background()
	require.NoError(f.t, f.store.PutExam(ctx, e))
	require.NoError(f.t, f.store.PutQuestions(ctx, e.ID, qs))
	return e
}

func threeQuestions() []exam.Question {
	return []exam.Question{
		{ID: "a", SequenceOrder: 1, Text: "a?", Type: exam.QuestionShortAnswer, CorrectAnswer: "a", Marks: 1},
		{ID: "b", SequenceOrder: 2, Text: "b?", Type: exam.QuestionShortAnswer, CorrectAnswer: "b", Marks: 1},
		{ID: "c", SequenceOrder: 3, Text: "c?", Type: exam.QuestionShortAnswer, CorrectAnswer: "c", Marks: 1},
	}
}

// answerAll walks the session answering every question from answers.
func answerAll(t *testing.T, s *session.Session, answers map[string]string) {
	t.Helper()
	for i, qid := range s.Order() {
		require.NoError(t, s.Advance(i))
		require.NoError(t, s.Record(context.Background(), qid, answers[qid]))
	}
}

func TestStartOrResume_ConcurrentCallsCreateOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.seed()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.mgr.StartOrResume(context.Background(), student, "exam-1")
			if assert.NoError(t, err) {
				ids[i] = s.ID()
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.store.Writes("CreateAttempt"))

	open, err := f.store.ListAttempts(context.Background(), exam.AttemptListOpts{
		StudentID: student.ID, Status: string(exam.StatusInProgress),
	})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestStartOrResume_TwoProcessesShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.seed()
	managers := []*session.Manager{f.newManager(), f.newManager()}

	ids := make([]string, len(managers))
	var wg sync.WaitGroup
	for i, m := range managers {
		wg.Add(1)
		go func(i int, m *session.Manager) {
			defer wg.Done()
			s, err := m.StartOrResume(context.Background(), student, "exam-1")
			if assert.NoError(t, err) {
				ids[i] = s.ID()
			}
		}(i, m)
	}
	wg.Wait()

	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 1, f.store.Writes("CreateAttempt"))
}

func TestStartOrResume_LosingTheCreateRaceResumesTheWinner(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()

	// another process inserts its attempt between our lookup and our insert
	f.store.Fail = func(op string) error {
		if op != "CreateAttempt" {
			return nil
		}
		f.store.Fail = nil
		_, err := f.store.CreateAttempt(ctx, exam.Attempt{
			ID: "winner", StudentID: student.ID, ExamID: "exam-1", Status: exam.StatusInProgress,
			TimeRemainingSeconds: 600, TotalMarks: 5, PresentedOrder: []string{"q2", "q1"},
			StartedAt: t0, CheckpointedAt: t0,
		})
		require.NoError(t, err)
		return nil
	}

	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, "winner", s.ID())
	assert.Equal(t, []string{"q2", "q1"}, s.Order())
	assert.Equal(t, 1, f.store.Writes("CreateAttempt"))
}

// cancelAware fails reads once the caller's context is done, like the SQL
// store does.
type cancelAware struct{ *exam.MemoryStore }

func (c cancelAware) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	if err := ctx.Err(); err != nil {
		return exam.Exam{}, err
	}
	return c.MemoryStore.GetExam(ctx, id)
}

func TestStartOrResume_CallerCancellationDoesNotAbortSharedStart(t *testing.T) {
	f := newFixture(t)
	f.seed()
	m := session.NewManager(cancelAware{f.store}, f.clk, grading.New(), f.rec, f.cfg)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := m.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Writes("CreateAttempt"))

	again, err := m.StartOrResume(context.Background(), student, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID(), again.ID())
}

func TestStartOrResume_Eligibility(t *testing.T) {
	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)

	cases := []struct {
		name string
		who  exam.Identity
		edit func(*exam.Exam)
		want error
	}{
		{"inactive", student, func(e *exam.Exam) { e.Active = false }, exam.ErrNotAvailable},
		{"not yet open", student, func(e *exam.Exam) { e.StartsAt = &future }, exam.ErrNotAvailable},
		{"already closed", student, func(e *exam.Exam) { e.EndsAt = &past }, exam.ErrNotAvailable},
		{"other class", exam.Identity{ID: "x", Role: exam.RoleStudent, ClassID: "SIG-2", Subjects: student.Subjects}, nil, exam.ErrAuthorization},
		{"not registered", exam.Identity{ID: "x", Role: exam.RoleStudent, ClassID: "SIG-1", Subjects: []string{"Cryptography"}}, nil, exam.ErrAuthorization},
		{"lecturer", exam.Identity{ID: "l", Role: exam.RoleLecturer, ClassID: "SIG-1", Subjects: student.Subjects}, nil, exam.ErrAuthorization},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.seed()
			if tc.edit != nil {
				tc.edit(&e)
				require.NoError(t, f.store.PutExam(context.Background(), e))
			}
			_, err := f.mgr.StartOrResume(context.Background(), tc.who, e.ID)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, f.store.Writes("CreateAttempt"))
		})
	}
}

func TestStartOrResume_ClassAndSubjectMatchIgnoresCaseAndSpace(t *testing.T) {
	f := newFixture(t)
	f.seed()
	who := exam.Identity{ID: "stu-2", Role: exam.RoleStudent, ClassID: " sig-1 ", Subjects: []string{"radio theory "}}
	_, err := f.mgr.StartOrResume(context.Background(), who, "exam-1")
	assert.NoError(t, err)
}

func TestStartOrResume_UnknownExamAndEmptyExam(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.StartOrResume(context.Background(), student, "missing")
	assert.ErrorIs(t, err, exam.ErrNotFound)

	require.NoError(t, f.store.PutExam(context.Background(), exam.Exam{
		ID: "empty", Subject: "Radio Theory", ClassID: "SIG-1", DurationMinutes: 5, Type: exam.TypeQuiz, Active: true,
	}))
	_, err = f.mgr.StartOrResume(context.Background(), student, "empty")
	assert.ErrorIs(t, err, exam.ErrNotAvailable)
}

func TestStart_NewAttemptState(t *testing.T) {
	f := newFixture(t)
	f.seed()
	s, err := f.mgr.StartOrResume(context.Background(), student, "exam-1")
	require.NoError(t, err)

	a := s.Attempt()
	assert.Equal(t, exam.StatusInProgress, a.Status)
	assert.Equal(t, 600, a.TimeRemainingSeconds)
	assert.Equal(t, 5, a.TotalMarks)
	assert.ElementsMatch(t, []string{"q1", "q2"}, a.PresentedOrder)
	assert.Zero(t, s.Cursor())

	q, err := s.CurrentQuestion()
	require.NoError(t, err)
	assert.Empty(t, q.CorrectAnswer)

	stored, err := f.store.GetAttempt(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, a.PresentedOrder, stored.PresentedOrder)
}

func TestResume_ReproducesOrderCursorAndAnswers(t *testing.T) {
	f := newFixture(t)
	f.seed(threeQuestions()...)
	ctx := context.Background()

	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	order := s.Order()
	require.NoError(t, s.Record(ctx, order[0], "x"))
	require.NoError(t, s.Advance(1))
	require.NoError(t, s.Record(ctx, order[1], "y"))
	require.NoError(t, s.Advance(2))
	f.clk.Advance(f.cfg.DebounceDelay)
	require.NoError(t, s.Buffer().WaitIdle(ctx))

	// a fresh process picks the attempt up from storage alone
	again, err := f.newManager().StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID(), again.ID())
	assert.Equal(t, order, again.Order())
	assert.Equal(t, 2, again.Cursor(), "first unanswered question")
	assert.Equal(t, map[string]string{order[0]: "x", order[1]: "y"}, again.Answers())
	assert.Equal(t, 1, f.store.Writes("CreateAttempt"))
}

func TestResume_WithoutStoredOrderUsesSequence(t *testing.T) {
	f := newFixture(t)
	f.seed(threeQuestions()...)
	ctx := context.Background()

	_, err := f.store.CreateAttempt(ctx, exam.Attempt{
		ID: "legacy", StudentID: student.ID, ExamID: "exam-1", Status: exam.StatusInProgress,
		TimeRemainingSeconds: 120, TotalMarks: 3, StartedAt: t0, CheckpointedAt: t0,
	})
	require.NoError(t, err)
	for i, qid := range []string{"c", "a"} {
		require.NoError(t, f.store.UpsertResponse(ctx, exam.Response{
			AttemptID: "legacy", QuestionID: qid, Answer: qid, SequenceOrder: i + 1, UpdatedAt: t0,
		}))
	}

	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	assert.Equal(t, "legacy", s.ID())
	assert.Equal(t, []string{"c", "a", "b"}, s.Order())
	assert.Equal(t, 2, s.Cursor())
	assert.Equal(t, 120, s.Timer().Remaining())
}

func TestResume_WallClockReconciliationIsOptIn(t *testing.T) {
	ctx := context.Background()
	for _, reconcile := range []bool{false, true} {
		f := newFixture(t)
		f.cfg.ReconcileWallClock = reconcile
		f.seed()
		s, err := f.newManager().StartOrResume(ctx, student, "exam-1")
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))

		f.clk.Advance(2 * time.Minute)
		again, err := f.newManager().StartOrResume(ctx, student, "exam-1")
		require.NoError(t, err)
		if reconcile {
			assert.Equal(t, 480, again.Timer().Remaining())
		} else {
			assert.Equal(t, 600, again.Timer().Remaining())
		}
	}
}

func TestAdvance_IsForwardOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(threeQuestions()...)
	s, err := f.mgr.StartOrResume(context.Background(), student, "exam-1")
	require.NoError(t, err)

	require.NoError(t, s.Advance(2))
	assert.ErrorIs(t, s.Advance(1), exam.ErrCursorBackwards)
	assert.ErrorIs(t, s.Advance(3), exam.ErrInvalid)
	assert.NoError(t, s.Advance(2), "staying put is allowed")
	assert.Equal(t, 2, s.Cursor())
}

func TestRecord_OnlyTheCurrentQuestion(t *testing.T) {
	f := newFixture(t)
	f.seed(threeQuestions()...)
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	order := s.Order()

	assert.ErrorIs(t, s.Record(ctx, order[1], "ahead"), exam.ErrNotCurrentQuestion)
	require.NoError(t, s.Record(ctx, order[0], "now"))
	require.NoError(t, s.Advance(1))
	assert.ErrorIs(t, s.Record(ctx, order[0], "back"), exam.ErrNotCurrentQuestion)
	assert.Equal(t, map[string]string{order[0]: "now"}, s.Answers())
}

func TestRecord_WriteFailureWarnsAndIsRetriedOnFinalize(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)

	f.store.Fail = func(op string) error {
		if op == "UpsertResponse" {
			return assert.AnError
		}
		return nil
	}
	require.NoError(t, s.Record(ctx, s.Order()[0], "Paris"))
	f.clk.Advance(f.cfg.DebounceDelay)
	assert.Equal(t, 1, f.rec.count(notify.KindWarning))
	assert.NotEmpty(t, s.Buffer().Pending())

	f.store.Fail = nil
	_, err = s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)
	rs, err := f.store.ListResponses(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, rs, 2)
}

func TestFinalize_ScoresAndScalesTheAttempt(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	answerAll(t, s, map[string]string{"q1": "  paris ", "q2": "Nitrogen"})

	res, err := s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, res.Status)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 5, res.TotalMarks)
	assert.InDelta(t, 20.0, res.Percentage, 1e-9)
	assert.Equal(t, "F", res.Letter)
	require.NotNil(t, res.SubmittedAt)
	assert.Equal(t, t0, *res.SubmittedAt)

	a, err := f.store.GetAttempt(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, a.Status)
	assert.Equal(t, 1, a.Score)

	rs, err := f.store.ListResponses(ctx, s.ID())
	require.NoError(t, err)
	marks := map[string]int{}
	for _, r := range rs {
		require.NotNil(t, r.MarksAwarded, r.QuestionID)
		marks[r.QuestionID] = *r.MarksAwarded
	}
	assert.Equal(t, map[string]int{"q1": 1, "q2": 0}, marks)

	gs, err := f.store.ListGradesByStudent(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, gs, 1)
	assert.InDelta(t, 25.0, gs[0].ScalingPercentage, 1e-9)
	assert.InDelta(t, 5.0, gs[0].ScaledScore, 1e-9)

	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
	_, live := f.mgr.Get(s.ID())
	assert.False(t, live)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	answerAll(t, s, map[string]string{"q1": "Paris", "q2": "oxygen"})

	first, err := s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Score)

	writes := func() [3]int {
		return [3]int{f.store.Writes("FinalizeAttempt"), f.store.Writes("UpsertGrade"), f.store.Writes("UpsertResponse")}
	}
	before := writes()

	again, err := s.Finalize(ctx, exam.StatusTimeExpired)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	viaManager, err := f.mgr.Finalize(ctx, s.ID(), exam.StatusAutoSubmitted)
	require.NoError(t, err)
	assert.Equal(t, first, viaManager)

	assert.Equal(t, before, writes())
	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
	assert.ErrorIs(t, s.Record(ctx, s.Order()[1], "late"), exam.ErrAlreadyFinalized)
	assert.ErrorIs(t, s.Advance(1), exam.ErrAlreadyFinalized)
}

func TestFinalize_ManualAndTimerRaceGradeOnce(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)

	for s.Timer().Remaining() > 1 {
		s.Timer().Tick(ctx)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Timer().Tick(ctx) }()
	go func() { defer wg.Done(); _, _ = s.Finalize(ctx, exam.StatusSubmitted) }()
	wg.Wait()

	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))
	assert.Equal(t, 1, f.store.Writes("UpsertGrade"))
	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
	res, ok := s.Result()
	require.True(t, ok)
	assert.Contains(t, []exam.AttemptStatus{exam.StatusSubmitted, exam.StatusTimeExpired}, res.Status)
}

func TestFinalize_PersistenceFailureKeepsResultAndRetries(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	answerAll(t, s, map[string]string{"q1": "Paris", "q2": "Oxygen"})

	f.store.Fail = func(op string) error {
		if op == "FinalizeAttempt" {
			return assert.AnError
		}
		return nil
	}
	res, err := s.Finalize(ctx, exam.StatusSubmitted)
	require.Error(t, err)
	assert.ErrorIs(t, err, exam.ErrGatewayFailure)
	assert.Equal(t, 5, res.Score, "the computed result is still reported")
	assert.Equal(t, 1, f.rec.count(notify.KindCritical))

	a, err := f.store.GetAttempt(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, exam.StatusInProgress, a.Status)
	_, live := f.mgr.Get(s.ID())
	assert.True(t, live, "the session stays open for a retry")

	f.store.Fail = nil
	res, err = s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Score)
	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))
	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
}

func TestFinalize_FailedSubmitStillExpiresOnTime(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	answerAll(t, s, map[string]string{"q1": "Paris", "q2": "Oxygen"})

	f.store.Fail = func(op string) error {
		if op == "FinalizeAttempt" {
			return assert.AnError
		}
		return nil
	}
	_, err = s.Finalize(ctx, exam.StatusSubmitted)
	require.ErrorIs(t, err, exam.ErrGatewayFailure)
	f.store.Fail = nil

	assert.ErrorIs(t, s.Record(ctx, s.Order()[1], "changed"), exam.ErrAlreadyFinalized, "answers freeze once submitted")
	reason, pending := s.Pending()
	assert.True(t, pending)
	assert.Equal(t, exam.StatusSubmitted, reason)

	s.Timer().Tick(ctx)
	assert.Equal(t, 599, s.Timer().Remaining(), "the countdown keeps running")
	for i := 0; i < 5000; i++ {
		s.Timer().Tick(ctx)
	}
	res, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, exam.StatusTimeExpired, res.Status)
	assert.Equal(t, 5, res.Score)

	a, err := f.store.GetAttempt(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, exam.StatusTimeExpired, a.Status)
	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))
	assert.Equal(t, 1, f.store.Writes("UpsertGrade"))
	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
	assert.Zero(t, f.mgr.RetryStuck(ctx))
}

func TestRetryStuck_CompletesAFailedSubmit(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	untouched, err := f.mgr.StartOrResume(ctx, exam.Identity{ID: "stu-2", Role: exam.RoleStudent, ClassID: "SIG-1",
		Subjects: []string{"Radio Theory"}}, "exam-1")
	require.NoError(t, err)

	f.store.Fail = func(op string) error {
		if op == "FinalizeAttempt" {
			return assert.AnError
		}
		return nil
	}
	_, err = s.Finalize(ctx, exam.StatusSubmitted)
	require.Error(t, err)
	f.store.Fail = nil

	assert.Equal(t, 1, f.mgr.RetryStuck(ctx))
	res, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, exam.StatusSubmitted, res.Status)

	left := s.Timer().Remaining()
	s.Timer().Tick(ctx)
	assert.Equal(t, left, s.Timer().Remaining(), "stopped once the attempt is closed")

	_, done := untouched.Result()
	assert.False(t, done, "sessions with time left and no submission are not touched")
}

func TestFinalize_GradeWriteFailureRetriesOnlyTheGrade(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)

	f.store.Fail = func(op string) error {
		if op == "UpsertGrade" {
			return assert.AnError
		}
		return nil
	}
	_, err = s.Finalize(ctx, exam.StatusSubmitted)
	assert.ErrorIs(t, err, exam.ErrGatewayFailure)
	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))

	f.store.Fail = nil
	_, err = s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))
	assert.Equal(t, 1, f.store.Writes("UpsertGrade"))
}

func TestTimer_ExpiresExactlyOnceAcrossCrashAndResume(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()

	s1, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	for i := 0; i < 250; i++ {
		s1.Timer().Tick(ctx)
	}
	assert.Equal(t, 350, s1.Timer().Remaining())

	// the process dies without closing; the last checkpoint was at 240 ticks
	stored, err := f.store.GetAttempt(ctx, s1.ID())
	require.NoError(t, err)
	assert.Equal(t, 360, stored.TimeRemainingSeconds)

	m2 := f.newManager()
	s2, err := m2.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	require.Equal(t, s1.ID(), s2.ID())
	assert.Equal(t, 360, s2.Timer().Remaining())

	for i := 0; i < 400; i++ {
		s2.Timer().Tick(ctx)
	}
	res, ok := s2.Result()
	require.True(t, ok)
	assert.Equal(t, exam.StatusTimeExpired, res.Status)

	// the orphaned countdown running out later must not grade again
	for i := 0; i < 400; i++ {
		s1.Timer().Tick(ctx)
	}
	old, ok := s1.Result()
	require.True(t, ok)
	assert.Equal(t, exam.StatusTimeExpired, old.Status)

	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))
	assert.Equal(t, 1, f.store.Writes("UpsertGrade"))
	assert.Equal(t, 1, f.rec.count(notify.KindResultReady))
}

func TestResume_OutOfTimeFinalizesImmediately(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	_, err := f.store.CreateAttempt(ctx, exam.Attempt{
		ID: "spent", StudentID: student.ID, ExamID: "exam-1", Status: exam.StatusInProgress,
		TimeRemainingSeconds: 0, TotalMarks: 5, PresentedOrder: []string{"q2", "q1"},
		StartedAt: t0, CheckpointedAt: t0,
	})
	require.NoError(t, err)

	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	res, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, exam.StatusTimeExpired, res.Status)
	assert.Zero(t, res.Score)
}

func TestManagerFinalize_TerminalAttemptIsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	answerAll(t, s, map[string]string{"q1": "Paris", "q2": ""})
	first, err := s.Finalize(ctx, exam.StatusSubmitted)
	require.NoError(t, err)

	other := f.newManager()
	res, err := other.Finalize(ctx, s.ID(), exam.StatusTimeExpired)
	require.NoError(t, err)
	assert.Equal(t, first, res)
	assert.Equal(t, 1, f.store.Writes("FinalizeAttempt"))

	_, err = other.Attach(ctx, s.ID())
	assert.ErrorIs(t, err, exam.ErrAlreadyFinalized)

	// the student can sit the exam again once the previous attempt is closed
	next, err := other.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), next.ID())
}

func TestShutdown_LeavesAttemptsResumable(t *testing.T) {
	f := newFixture(t)
	f.seed(threeQuestions()...)
	ctx := context.Background()
	s, err := f.mgr.StartOrResume(ctx, student, "exam-1")
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, s.Order()[0], "kept"))
	require.NoError(t, s.Advance(1))
	for i := 0; i < 7; i++ {
		s.Timer().Tick(ctx)
	}

	require.NoError(t, f.mgr.Shutdown(ctx))
	a, err := f.store.GetAttempt(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, exam.StatusInProgress, a.Status)
	assert.Equal(t, 593, a.TimeRemainingSeconds)
	assert.Equal(t, 1, a.Cursor)

	rs, err := f.store.ListResponses(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "kept", rs[0].Answer)
}
