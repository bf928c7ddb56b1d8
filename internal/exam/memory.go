package exam

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness rules
// as the SQL schema and can inject failures per operation for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	exams     map[string]Exam
	questions map[string][]Question
	attempts  map[string]Attempt
	responses map[string]map[string]Response // attemptID -> questionID -> row
	grades    map[string]Grade               // studentID|examID -> row
	writes    map[string]int

	// Fail, when set, is consulted before every operation; a non-nil
	// return is reported as a gateway failure for that operation.
	Fail func(op string) error
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:     map[string]Exam{},
		questions: map[string][]Question{},
		attempts:  map[string]Attempt{},
		responses: map[string]map[string]Response{},
		grades:    map[string]Grade{},
		writes:    map[string]int{},
	}
}

// Writes reports how many successful mutations op has performed.
func (m *MemoryStore) Writes(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[op]
}

func (m *MemoryStore) check(op string) error {
	if m.Fail == nil {
		return nil
	}
	if err := m.Fail(op); err != nil {
		return GatewayError(op, err)
	}
	return nil
}

func (m *MemoryStore) PutExam(_ context.Context, e Exam) error {
	if err := m.check("PutExam"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.exams[e.ID] = e
	m.writes["PutExam"]++
	return nil
}

func (m *MemoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	if err := m.check("GetExam"); err != nil {
		return Exam{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *MemoryStore) ListExamsByClass(_ context.Context, classID string) ([]Exam, error) {
	if err := m.check("ListExamsByClass"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Exam{}
	for _, e := range m.exams {
		if e.ClassID == classID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetExamFlags(_ context.Context, id string, f FlagUpdate) (Exam, error) {
	if err := m.check("SetExamFlags"); err != nil {
		return Exam{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	f.Apply(&e)
	m.exams[id] = e
	m.writes["SetExamFlags"]++
	return e, nil
}

func (m *MemoryStore) PutQuestions(_ context.Context, examID string, qs []Question) error {
	if err := m.check("PutQuestions"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Question, len(qs))
	copy(cp, qs)
	for i := range cp {
		cp[i].ExamID = examID
	}
	SortQuestions(cp)
	m.questions[examID] = cp
	m.writes["PutQuestions"]++
	return nil
}

func (m *MemoryStore) ListQuestions(_ context.Context, examID string) ([]Question, error) {
	if err := m.check("ListQuestions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Question, len(m.questions[examID]))
	copy(out, m.questions[examID])
	return out, nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, a Attempt) (Attempt, error) {
	if err := m.check("CreateAttempt"); err != nil {
		return Attempt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[a.ExamID]; !ok {
		return Attempt{}, fmt.Errorf("exam %q: %w", a.ExamID, ErrNotFound)
	}
	for _, x := range m.attempts {
		if x.StudentID == a.StudentID && x.ExamID == a.ExamID && x.Status == StatusInProgress {
			return Attempt{}, ErrAlreadyInProgress
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	a.PresentedOrder = append([]string(nil), a.PresentedOrder...)
	m.attempts[a.ID] = a
	m.writes["CreateAttempt"]++
	return a, nil
}

func (m *MemoryStore) FindInProgressAttempt(_ context.Context, studentID, examID string) (Attempt, error) {
	if err := m.check("FindInProgressAttempt"); err != nil {
		return Attempt{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.StudentID == studentID && a.ExamID == examID && a.Status == StatusInProgress {
			return copyAttempt(a), nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	if err := m.check("GetAttempt"); err != nil {
		return Attempt{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %q: %w", id, ErrNotFound)
	}
	return copyAttempt(a), nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	if err := m.check("ListAttempts"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.Status != "" && string(a.Status) != opts.Status {
			continue
		}
		out = append(out, copyAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Attempt{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CheckpointAttempt(_ context.Context, id string, remaining, cursor int, at time.Time) error {
	if err := m.check("CheckpointAttempt"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return fmt.Errorf("attempt %q: %w", id, ErrNotFound)
	}
	if a.Status != StatusInProgress {
		return nil
	}
	a.TimeRemainingSeconds = remaining
	if cursor > a.Cursor {
		a.Cursor = cursor
	}
	a.CheckpointedAt = at
	m.attempts[id] = a
	m.writes["CheckpointAttempt"]++
	return nil
}

func (m *MemoryStore) FinalizeAttempt(_ context.Context, id string, f Finalization) (bool, error) {
	if err := m.check("FinalizeAttempt"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return false, fmt.Errorf("attempt %q: %w", id, ErrNotFound)
	}
	if a.Status != StatusInProgress {
		return false, nil
	}
	at := f.SubmittedAt
	a.Status = f.Status
	a.Score = f.Score
	a.TotalMarks = f.TotalMarks
	a.Percentage = f.Percentage
	a.SubmittedAt = &at
	m.attempts[id] = a
	m.writes["FinalizeAttempt"]++
	return true, nil
}

func (m *MemoryStore) UpsertResponse(_ context.Context, r Response) error {
	if err := m.check("UpsertResponse"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[r.AttemptID]; !ok {
		return fmt.Errorf("attempt %q: %w", r.AttemptID, ErrNotFound)
	}
	rows := m.responses[r.AttemptID]
	if rows == nil {
		rows = map[string]Response{}
		m.responses[r.AttemptID] = rows
	}
	if prev, ok := rows[r.QuestionID]; ok {
		r.ID = prev.ID
	} else if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	rows[r.QuestionID] = r
	m.writes["UpsertResponse"]++
	return nil
}

func (m *MemoryStore) ListResponses(_ context.Context, attemptID string) ([]Response, error) {
	if err := m.check("ListResponses"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Response, 0, len(m.responses[attemptID]))
	for _, r := range m.responses[attemptID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SequenceOrder != out[j].SequenceOrder {
			return out[i].SequenceOrder < out[j].SequenceOrder
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (m *MemoryStore) UpsertGrade(_ context.Context, g Grade) error {
	if err := m.check("UpsertGrade"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := g.StudentID + "|" + g.ExamID
	if prev, ok := m.grades[k]; ok {
		g.ID = prev.ID
	} else if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now()
	}
	m.grades[k] = g
	m.writes["UpsertGrade"]++
	return nil
}

func (m *MemoryStore) ListGradesByStudent(_ context.Context, studentID string) ([]Grade, error) {
	if err := m.check("ListGradesByStudent"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Grade{}
	for _, g := range m.grades {
		if g.StudentID == studentID {
			out = append(out, g)
		}
	}
	sortGrades(out)
	return out, nil
}

func (m *MemoryStore) ListGradesByClass(_ context.Context, classID string) ([]Grade, error) {
	if err := m.check("ListGradesByClass"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Grade{}
	for _, g := range m.grades {
		if e, ok := m.exams[g.ExamID]; ok && e.ClassID == classID {
			out = append(out, g)
		}
	}
	sortGrades(out)
	return out, nil
}

func sortGrades(gs []Grade) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].StudentID != gs[j].StudentID {
			return gs[i].StudentID < gs[j].StudentID
		}
		return gs[i].ExamID < gs[j].ExamID
	})
}

func copyAttempt(a Attempt) Attempt {
	a.PresentedOrder = append([]string(nil), a.PresentedOrder...)
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		a.SubmittedAt = &t
	}
	return a
}
