package semester

import (
	"sort"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
)

type Status string

const (
	Released Status = "released"
	Pending  Status = "pending"
	Partial  Status = "partial"
)

// HalfStatus is Released when every exam has its results flag set, Pending
// when any flag is explicitly unset, and Partial otherwise (no exams, or
// some exams with no decision recorded).
func HalfStatus(exams []exam.Exam) Status {
	if len(exams) == 0 {
		return Partial
	}
	missing := false
	for _, e := range exams {
		switch {
		case e.ResultsReleased == nil:
			missing = true
		case !*e.ResultsReleased:
			return Pending
		}
	}
	if missing {
		return Partial
	}
	return Released
}

// Line is one exam's contribution to a student's semester.
type Line struct {
	ExamID      string        `json:"exam_id"`
	Subject     string        `json:"subject"`
	Type        exam.ExamType `json:"exam_type"`
	Graded      bool          `json:"graded"`
	Score       int           `json:"score"`
	Percentage  float64       `json:"percentage"`
	Letter      string        `json:"letter,omitempty"`
	Weight      float64       `json:"weight"`
	ScaledScore float64       `json:"scaled_score"`
}

type HalfSummary struct {
	Name     HalfName `json:"name"`
	Status   Status   `json:"status"`
	Subtotal float64  `json:"subtotal"`
	Lines    []Line   `json:"exams"`
}

type Summary struct {
	StudentID        string      `json:"student_id"`
	ClassID          string      `json:"class_id"`
	Mid              HalfSummary `json:"mid"`
	Final            HalfSummary `json:"final"`
	TotalScaled      float64     `json:"total_scaled"`
	Letter           string      `json:"letter"`
	SemesterReleased bool        `json:"semester_released"`
	Masked           bool        `json:"masked,omitempty"`
}

// Summarize folds one student's grades over the class's exams. Grades for
// exams outside exams are ignored. The result does not depend on the order
// of either input.
func Summarize(studentID, classID string, exams []exam.Exam, grades []exam.Grade, th grading.Thresholds) Summary {
	sorted := append([]exam.Exam(nil), exams...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Type.Rank(), sorted[j].Type.Rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].ID < sorted[j].ID
	})

	byExam := make(map[string]exam.Grade, len(grades))
	for _, g := range grades {
		if g.StudentID == studentID {
			byExam[g.ExamID] = g
		}
	}

	s := Summary{
		StudentID: studentID,
		ClassID:   classID,
		Mid:       HalfSummary{Name: Mid, Lines: []Line{}},
		Final:     HalfSummary{Name: Final, Lines: []Line{}},
	}
	var midExams, finalExams []exam.Exam
	s.SemesterReleased = len(sorted) > 0
	for _, e := range sorted {
		if !e.SemesterReleased {
			s.SemesterReleased = false
		}
		line := Line{ExamID: e.ID, Subject: e.Subject, Type: e.Type, Weight: Weight(e.Type)}
		if g, ok := byExam[e.ID]; ok {
			line.Graded = true
			line.Score = g.Score
			line.Percentage = g.Percentage
			line.Letter = th.Letter(g.Percentage)
			line.ScaledScore = ScaledScore(g.Percentage, e.Type)
		}
		h := &s.Final
		if Half(e.Type) == Mid {
			h = &s.Mid
			midExams = append(midExams, e)
		} else {
			finalExams = append(finalExams, e)
		}
		h.Lines = append(h.Lines, line)
		h.Subtotal += line.ScaledScore
	}
	s.Mid.Status = HalfStatus(midExams)
	s.Final.Status = HalfStatus(finalExams)
	s.TotalScaled = s.Mid.Subtotal + s.Final.Subtotal
	s.Letter = th.Letter(s.TotalScaled)
	return s
}

// StudentView hides what a student may not see yet: the values of any half
// that is not Released, and the total and letter until the semester flag is
// set. Exam identities stay visible.
func StudentView(s Summary) Summary {
	v := s
	v.Mid = maskHalf(s.Mid)
	v.Final = maskHalf(s.Final)
	if !s.SemesterReleased {
		v.TotalScaled = 0
		v.Letter = ""
		v.Masked = true
	}
	if s.Mid.Status != Released || s.Final.Status != Released {
		v.Masked = true
	}
	return v
}

func maskHalf(h HalfSummary) HalfSummary {
	out := h
	out.Lines = append([]Line(nil), h.Lines...)
	if h.Status == Released {
		return out
	}
	out.Subtotal = 0
	for i := range out.Lines {
		l := &out.Lines[i]
		l.Score, l.Percentage, l.Letter, l.ScaledScore = 0, 0, "", 0
	}
	return out
}
