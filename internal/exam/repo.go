package exam

import (
	"context"
	"time"
)

type AttemptListOpts struct {
	ExamID    string // filter by exam
	StudentID string // filter by student
	Status    string // optional: in_progress|submitted|auto_submitted|time_expired
	Limit     int
	Offset    int
}

// Store is the persistence gateway. Every mutation is an upsert or a
// conditional update keyed by a natural uniqueness constraint, so retried
// writes converge. Implementations report transient failures wrapped with
// ErrGatewayFailure and missing rows as ErrNotFound.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)
	ListExamsByClass(ctx context.Context, classID string) ([]Exam, error)
	SetExamFlags(ctx context.Context, id string, f FlagUpdate) (Exam, error)

	// PutQuestions replaces the question set of an exam.
	PutQuestions(ctx context.Context, examID string, qs []Question) error
	// ListQuestions returns questions ordered by sequence_order.
	ListQuestions(ctx context.Context, examID string) ([]Question, error)

	// CreateAttempt fails with ErrAlreadyInProgress if the student already
	// has an in-progress attempt for the exam.
	CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
	FindInProgressAttempt(ctx context.Context, studentID, examID string) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	CheckpointAttempt(ctx context.Context, id string, remaining, cursor int, at time.Time) error
	// FinalizeAttempt applies f only while the attempt is in progress and
	// reports whether this call performed the transition.
	FinalizeAttempt(ctx context.Context, id string, f Finalization) (bool, error)

	// UpsertResponse inserts or updates the row keyed by (attempt, question).
	UpsertResponse(ctx context.Context, r Response) error
	ListResponses(ctx context.Context, attemptID string) ([]Response, error)

	// UpsertGrade inserts or updates the row keyed by (student, exam).
	UpsertGrade(ctx context.Context, g Grade) error
	ListGradesByStudent(ctx context.Context, studentID string) ([]Grade, error)
	ListGradesByClass(ctx context.Context, classID string) ([]Grade, error)
}
