package exam

import (
	"strings"
	"time"
)

// ExamType is the closed set of assessment kinds. Declaration order is the
// canonical semester order used for reporting.
type ExamType string

const (
	TypeOpening           ExamType = "opening"
	TypeQuiz              ExamType = "quiz"
	TypeBFT1              ExamType = "bft_1"
	TypeBFT2              ExamType = "bft_2"
	TypeMidCourseExercise ExamType = "mid_course_exercise"
	TypeMidExam           ExamType = "mid_exam"
	TypeGeneralAssessment ExamType = "general_assessment"
	TypeFinalExercise     ExamType = "final_exercise"
	TypeFinalExam         ExamType = "final_exam"
)

var ExamTypes = []ExamType{
	TypeOpening, TypeQuiz, TypeBFT1, TypeBFT2, TypeMidCourseExercise,
	TypeMidExam, TypeGeneralAssessment, TypeFinalExercise, TypeFinalExam,
}

// Rank is the position of t in ExamTypes, or -1 for unknown types.
func (t ExamType) Rank() int {
	for i, x := range ExamTypes {
		if x == t {
			return i
		}
	}
	return -1
}

func (t ExamType) Valid() bool { return t.Rank() >= 0 }

type Exam struct {
	ID              string   `json:"id"`
	Subject         string   `json:"subject"`
	ClassID         string   `json:"class_id"`
	Title           string   `json:"title,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
	TotalMarks      int      `json:"total_marks"`
	Type            ExamType `json:"exam_type"`
	Active          bool     `json:"active"`

	// ResultsReleased is nil until an administrator decides either way.
	ResultsReleased  *bool `json:"results_released"`
	SemesterReleased bool  `json:"semester_released"`

	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// FlagUpdate carries the mutable administrative switches of an exam.
// Nil fields are left unchanged; ClearResults resets ResultsReleased to nil.
type FlagUpdate struct {
	Active           *bool `json:"active,omitempty"`
	ResultsReleased  *bool `json:"results_released,omitempty"`
	ClearResults     bool  `json:"clear_results,omitempty"`
	SemesterReleased *bool `json:"semester_released,omitempty"`
}

func (f FlagUpdate) Apply(e *Exam) {
	if f.Active != nil {
		e.Active = *f.Active
	}
	if f.ClearResults {
		e.ResultsReleased = nil
	} else if f.ResultsReleased != nil {
		v := *f.ResultsReleased
		e.ResultsReleased = &v
	}
	if f.SemesterReleased != nil {
		e.SemesterReleased = *f.SemesterReleased
	}
}

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
)

var trueFalseOptions = []string{"True", "False"}

type Question struct {
	ID            string       `json:"id"`
	ExamID        string       `json:"exam_id"`
	SequenceOrder int          `json:"sequence_order"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Marks         int          `json:"marks"`
}

// Normalize pins true/false questions to the fixed option pair.
func (q *Question) Normalize() {
	q.Text = strings.TrimSpace(q.Text)
	if q.Type == QuestionTrueFalse {
		q.Options = append([]string(nil), trueFalseOptions...)
	}
}

// Public returns a copy that is safe to show to a student.
func (q Question) Public() Question {
	q.CorrectAnswer = ""
	q.Options = append([]string(nil), q.Options...)
	return q
}

type AttemptStatus string

const (
	StatusInProgress    AttemptStatus = "in_progress"
	StatusSubmitted     AttemptStatus = "submitted"
	StatusAutoSubmitted AttemptStatus = "auto_submitted"
	StatusTimeExpired   AttemptStatus = "time_expired"
)

func (s AttemptStatus) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusAutoSubmitted, StatusTimeExpired:
		return true
	}
	return false
}

type Attempt struct {
	ID                   string        `json:"id"`
	StudentID            string        `json:"student_id"`
	ExamID               string        `json:"exam_id"`
	Status               AttemptStatus `json:"status"`
	TimeRemainingSeconds int           `json:"time_remaining_seconds"`
	TotalMarks           int           `json:"total_marks"`
	Score                int           `json:"score"`
	Percentage           float64       `json:"percentage"`
	Cursor               int           `json:"cursor"`
	PresentedOrder       []string      `json:"presented_order"`
	StartedAt            time.Time     `json:"started_at"`
	CheckpointedAt       time.Time     `json:"checkpointed_at"`
	SubmittedAt          *time.Time    `json:"submitted_at,omitempty"`
}

// Finalization is the terminal write applied to an in-progress attempt.
type Finalization struct {
	Status      AttemptStatus
	Score       int
	TotalMarks  int
	Percentage  float64
	SubmittedAt time.Time
}

type Response struct {
	ID            string    `json:"id"`
	AttemptID     string    `json:"attempt_id"`
	QuestionID    string    `json:"question_id"`
	Answer        string    `json:"answer"`
	SequenceOrder int       `json:"sequence_order"`
	IsCorrect     *bool     `json:"is_correct,omitempty"`
	MarksAwarded  *int      `json:"marks_awarded,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Grade struct {
	ID                string    `json:"id"`
	StudentID         string    `json:"student_id"`
	ExamID            string    `json:"exam_id"`
	Score             int       `json:"score"`
	Percentage        float64   `json:"percentage"`
	Letter            string    `json:"letter"`
	ScalingPercentage float64   `json:"scaling_percentage"`
	ScaledScore       float64   `json:"scaled_score"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
	RoleAdmin    Role = "admin"
)

// Identity is what the identity provider reports about the caller.
type Identity struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	ClassID  string   `json:"class_id"`
	Subjects []string `json:"subjects"`
}

func (i Identity) RegisteredFor(subject string) bool {
	s := strings.TrimSpace(subject)
	for _, x := range i.Subjects {
		if strings.EqualFold(strings.TrimSpace(x), s) {
			return true
		}
	}
	return false
}
