package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/rbac"
)

type questionReq struct {
	ID            string            `json:"id"`
	SequenceOrder int               `json:"sequence_order" validate:"gte=0"`
	Text          string            `json:"text" validate:"required"`
	Type          exam.QuestionType `json:"question_type" validate:"required,oneof=multiple_choice true_false short_answer essay"`
	Options       []string          `json:"options"`
	CorrectAnswer string            `json:"correct_answer" validate:"required"`
	Marks         int               `json:"marks" validate:"required,gt=0"`
}

type createExamReq struct {
	ID              string        `json:"id"`
	Subject         string        `json:"subject" validate:"required"`
	ClassID         string        `json:"class_id" validate:"required"`
	Title           string        `json:"title"`
	DurationMinutes int           `json:"duration_minutes" validate:"required,gt=0"`
	Type            exam.ExamType `json:"exam_type" validate:"required"`
	Active          bool          `json:"active"`
	StartsAt        *time.Time    `json:"starts_at"`
	EndsAt          *time.Time    `json:"ends_at"`
	Questions       []questionReq `json:"questions" validate:"required,min=1,dive"`
}

type examView struct {
	exam.Exam
	QuestionCount int             `json:"question_count"`
	Questions     []exam.Question `json:"questions,omitempty"`
}

// POST /exams
func CreateExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createExamReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeErr(w, err)
			return
		}
		e := exam.Exam{
			ID:              strings.TrimSpace(req.ID),
			Subject:         strings.TrimSpace(req.Subject),
			ClassID:         strings.TrimSpace(req.ClassID),
			Title:           req.Title,
			DurationMinutes: req.DurationMinutes,
			Type:            req.Type,
			Active:          req.Active,
			StartsAt:        req.StartsAt,
			EndsAt:          req.EndsAt,
		}
		qs := make([]exam.Question, len(req.Questions))
		for i, q := range req.Questions {
			qs[i] = exam.Question{
				ID:            q.ID,
				SequenceOrder: q.SequenceOrder,
				Text:          q.Text,
				Type:          q.Type,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				Marks:         q.Marks,
			}
		}
		saved, savedQs, err := exam.Publish(r.Context(), store, e, qs)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, examView{Exam: saved, QuestionCount: len(savedQs), Questions: savedQs})
	}
}

// GET /exams/{examID}
// Question text and answer keys are only returned to authors.
func GetExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "examID")
		e, err := store.GetExam(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		qs, err := store.ListQuestions(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		v := examView{Exam: e, QuestionCount: len(qs)}
		if rbac.Can(r.Context(), "exam:create") {
			v.Questions = qs
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /classes/{classID}/exams
func ListClassExamsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListExamsByClass(r.Context(), chi.URLParam(r, "classID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// PATCH /exams/{examID}/flags
func SetExamFlagsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f exam.FlagUpdate
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		e, err := store.SetExamFlags(r.Context(), chi.URLParam(r, "examID"), f)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}
