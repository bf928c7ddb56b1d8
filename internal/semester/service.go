package semester

import (
	"context"
	"sort"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
)

// Reader is the slice of the gateway the aggregation needs.
type Reader interface {
	ListExamsByClass(ctx context.Context, classID string) ([]exam.Exam, error)
	ListGradesByStudent(ctx context.Context, studentID string) ([]exam.Grade, error)
	ListGradesByClass(ctx context.Context, classID string) ([]exam.Grade, error)
}

type Service struct {
	store      Reader
	thresholds grading.Thresholds
}

func NewService(store Reader, th grading.Thresholds) *Service {
	return &Service{store: store, thresholds: th}
}

// ForStudent reads live flags and grades on every call; release status is
// never cached.
func (s *Service) ForStudent(ctx context.Context, studentID, classID string) (Summary, error) {
	exams, err := s.store.ListExamsByClass(ctx, classID)
	if err != nil {
		return Summary{}, err
	}
	grades, err := s.store.ListGradesByStudent(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(studentID, classID, exams, grades, s.thresholds), nil
}

// ForClass returns one summary per student that holds at least one grade in
// the class, ordered by student id.
func (s *Service) ForClass(ctx context.Context, classID string) ([]Summary, error) {
	exams, err := s.store.ListExamsByClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	grades, err := s.store.ListGradesByClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	byStudent := map[string][]exam.Grade{}
	for _, g := range grades {
		byStudent[g.StudentID] = append(byStudent[g.StudentID], g)
	}
	ids := make([]string, 0, len(byStudent))
	for id := range byStudent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		out = append(out, Summarize(id, classID, exams, byStudent[id], s.thresholds))
	}
	return out, nil
}
