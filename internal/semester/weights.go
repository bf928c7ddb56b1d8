// Package semester combines per-exam grades into weighted semester totals
// and applies the staged result-release rules.
package semester

import (
	"time"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
)

var weights = map[exam.ExamType]float64{
	exam.TypeOpening:           5,
	exam.TypeQuiz:              5,
	exam.TypeBFT1:              2.5,
	exam.TypeBFT2:              2.5,
	exam.TypeMidCourseExercise: 15,
	exam.TypeMidExam:           20,
	exam.TypeGeneralAssessment: 5,
	exam.TypeFinalExercise:     20,
	exam.TypeFinalExam:         25,
}

// Weight is the fixed contribution, in percent, of an exam type to the
// semester total. Unknown types weigh nothing.
func Weight(t exam.ExamType) float64 { return weights[t] }

// ScaledScore is pct weighted by the exam type.
func ScaledScore(pct float64, t exam.ExamType) float64 {
	return pct * Weight(t) / 100
}

type HalfName string

const (
	Mid   HalfName = "mid"
	Final HalfName = "final"
)

// Half places an exam type in the mid (opening through mid exam) or final
// batch.
func Half(t exam.ExamType) HalfName {
	switch t {
	case exam.TypeOpening, exam.TypeQuiz, exam.TypeBFT1, exam.TypeBFT2,
		exam.TypeMidCourseExercise, exam.TypeMidExam:
		return Mid
	}
	return Final
}

// NewGrade derives the grade row for a graded attempt.
func NewGrade(a exam.Attempt, e exam.Exam, res grading.Result, th grading.Thresholds, at time.Time) exam.Grade {
	return exam.Grade{
		StudentID:         a.StudentID,
		ExamID:            e.ID,
		Score:             res.Score,
		Percentage:        res.Percentage,
		Letter:            th.Letter(res.Percentage),
		ScalingPercentage: Weight(e.Type),
		ScaledScore:       ScaledScore(res.Percentage, e.Type),
		UpdatedAt:         at,
	}
}
