package sweeper

import (
	"context"
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

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func seedExam(t *testing.T, st exam.Store, e exam.Exam) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.PutExam(ctx, e))
	require.NoError(t, st.PutQuestions(ctx, e.ID, []exam.Question{
		{ID: e.ID + "-q1", SequenceOrder: 1, Text: "?", Type: exam.QuestionShortAnswer, CorrectAnswer: "a", Marks: 2},
	}))
}

func seedAttempt(t *testing.T, st exam.Store, id, examID string, remaining int, checkpointed time.Time) {
	t.Helper()
	_, err := st.CreateAttempt(context.Background(), exam.Attempt{
		ID: id, StudentID: "stu-" + id, ExamID: examID, Status: exam.StatusInProgress,
		TimeRemainingSeconds: remaining, TotalMarks: 2, PresentedOrder: []string{examID + "-q1"},
		StartedAt: checkpointed, CheckpointedAt: checkpointed,
	})
	require.NoError(t, err)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := exam.NewInMemoryStore()
	clk := clock.NewFake(t0)
	cfg := session.DefaultConfig()
	cfg.AutoStartTimers = false
	mgr := session.NewManager(st, clk, grading.New(), notify.Nop, cfg)
	defer mgr.Shutdown(ctx) //nolint:errcheck

	closed := t0.Add(-time.Hour)
	seedExam(t, st, exam.Exam{ID: "open", ClassID: "c", Subject: "s", DurationMinutes: 30, Type: exam.TypeQuiz, Active: true})
	seedExam(t, st, exam.Exam{ID: "ended", ClassID: "c", Subject: "s", DurationMinutes: 30, Type: exam.TypeQuiz, Active: true, EndsAt: &closed})
	seedExam(t, st, exam.Exam{ID: "off", ClassID: "c", Subject: "s", DurationMinutes: 30, Type: exam.TypeQuiz})

	seedAttempt(t, st, "healthy", "open", 900, t0)
	seedAttempt(t, st, "zero", "open", 0, t0.Add(-time.Minute))
	seedAttempt(t, st, "late", "ended", 900, t0.Add(-2*time.Hour))
	seedAttempt(t, st, "idle", "off", 900, t0.Add(-48*time.Hour))
	seedAttempt(t, st, "fresh", "off", 900, t0.Add(-time.Hour))

	sw := New(st, mgr, clk, Config{StaleAfter: 24 * time.Hour, BatchSize: 2})
	rep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Expired)
	assert.Equal(t, 1, rep.Abandoned)
	assert.Zero(t, rep.Failed)

	want := map[string]exam.AttemptStatus{
		"healthy": exam.StatusInProgress,
		"zero":    exam.StatusTimeExpired,
		"late":    exam.StatusTimeExpired,
		"idle":    exam.StatusAutoSubmitted,
		"fresh":   exam.StatusInProgress,
	}
	for id, status := range want {
		a, err := st.GetAttempt(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, a.Status, id)
	}

	// a second pass finds nothing new to close
	rep, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, 3, st.Writes("FinalizeAttempt"))
	assert.Equal(t, 3, st.Writes("UpsertGrade"))
}

func TestSweep_FailedFinalizeIsCounted(t *testing.T) {
	ctx := context.Background()
	st := exam.NewInMemoryStore()
	clk := clock.NewFake(t0)
	cfg := session.DefaultConfig()
	cfg.AutoStartTimers = false
	mgr := session.NewManager(st, clk, grading.New(), notify.Nop, cfg)
	defer mgr.Shutdown(ctx) //nolint:errcheck

	seedExam(t, st, exam.Exam{ID: "open", ClassID: "c", Subject: "s", DurationMinutes: 30, Type: exam.TypeQuiz, Active: true})
	seedAttempt(t, st, "zero", "open", 0, t0)

	st.Fail = func(op string) error {
		if op == "FinalizeAttempt" {
			return assert.AnError
		}
		return nil
	}
	sw := New(st, mgr, clk, Config{})
	rep, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	st.Fail = nil
	rep, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Retried+rep.Expired)
	a, err := st.GetAttempt(ctx, "zero")
	require.NoError(t, err)
	assert.Equal(t, exam.StatusTimeExpired, a.Status)
}

func TestStart_BadSchedule(t *testing.T) {
	sw := New(exam.NewInMemoryStore(), nil, nil, Config{Schedule: "not a schedule"})
	assert.Error(t, sw.Start(context.Background()))
}
