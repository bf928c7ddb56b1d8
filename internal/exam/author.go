package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Publish stores a new exam together with its questions. Questions get ids
// and sequence orders when missing, true/false options are pinned, and the
// exam's total marks are recomputed. An exam that already has questions
// cannot be replaced.
func Publish(ctx context.Context, st Store, e Exam, qs []Question) (Exam, []Question, error) {
	if err := validateExam(e); err != nil {
		return Exam{}, nil, err
	}
	if len(qs) == 0 {
		return Exam{}, nil, fmt.Errorf("exam needs at least one question: %w", ErrInvalid)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else {
		existing, err := st.ListQuestions(ctx, e.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Exam{}, nil, err
		}
		if len(existing) > 0 {
			return Exam{}, nil, fmt.Errorf("exam %s: %w", e.ID, ErrExamLocked)
		}
	}

	out := make([]Question, len(qs))
	total := 0
	for i, q := range qs {
		q.Normalize()
		q.ExamID = e.ID
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if q.SequenceOrder == 0 {
			q.SequenceOrder = i + 1
		}
		if err := validateQuestion(q); err != nil {
			return Exam{}, nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		total += q.Marks
		out[i] = q
	}
	e.TotalMarks = total

	if err := st.PutExam(ctx, e); err != nil {
		return Exam{}, nil, err
	}
	if err := st.PutQuestions(ctx, e.ID, out); err != nil {
		return Exam{}, nil, err
	}
	SortQuestions(out)
	return e, out, nil
}

func validateExam(e Exam) error {
	switch {
	case strings.TrimSpace(e.Subject) == "":
		return fmt.Errorf("subject required: %w", ErrInvalid)
	case strings.TrimSpace(e.ClassID) == "":
		return fmt.Errorf("class_id required: %w", ErrInvalid)
	case e.DurationMinutes <= 0:
		return fmt.Errorf("duration_minutes must be positive: %w", ErrInvalid)
	case !e.Type.Valid():
		return fmt.Errorf("exam_type %q: %w", e.Type, ErrInvalid)
	case e.StartsAt != nil && e.EndsAt != nil && !e.EndsAt.After(*e.StartsAt):
		return fmt.Errorf("ends_at must follow starts_at: %w", ErrInvalid)
	}
	return nil
}

func validateQuestion(q Question) error {
	if q.Marks <= 0 {
		return fmt.Errorf("marks must be positive: %w", ErrInvalid)
	}
	if q.Text == "" {
		return fmt.Errorf("text required: %w", ErrInvalid)
	}
	switch q.Type {
	case QuestionMultipleChoice, QuestionTrueFalse:
		if len(q.Options) < 2 {
			return fmt.Errorf("%s needs at least two options: %w", q.Type, ErrInvalid)
		}
		for _, o := range q.Options {
			if strings.EqualFold(strings.TrimSpace(o), strings.TrimSpace(q.CorrectAnswer)) {
				return nil
			}
		}
		return fmt.Errorf("correct answer %q is not an option: %w", q.CorrectAnswer, ErrInvalid)
	case QuestionShortAnswer, QuestionEssay:
		return nil
	}
	return fmt.Errorf("question_type %q: %w", q.Type, ErrInvalid)
}
