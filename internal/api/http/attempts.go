package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/frankdogbe328/signals-sub000/internal/auth/middleware"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/rbac"
	"github.com/frankdogbe328/signals-sub000/internal/session"
)

type attemptView struct {
	Attempt   exam.Attempt      `json:"attempt"`
	Remaining int               `json:"time_remaining_seconds"`
	Current   *exam.Question    `json:"current_question,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`
	Pending   []string          `json:"pending,omitempty"`
	Result    *session.Result   `json:"result,omitempty"`
}

func liveView(r *http.Request, s *session.Session) attemptView {
	a := s.Attempt()
	maskScore(r, s.Exam(), &a)
	v := attemptView{Attempt: a, Remaining: a.TimeRemainingSeconds, Answers: s.Answers(), Pending: s.Buffer().Pending()}
	if q, err := s.CurrentQuestion(); err == nil {
		v.Current = &q
	}
	return v
}

// resultFor hides scores from students until the exam's results are
// released.
func resultFor(r *http.Request, e exam.Exam, res session.Result) *session.Result {
	if canSeeResults(r, e) {
		return &res
	}
	return &session.Result{AttemptID: res.AttemptID, Status: res.Status, SubmittedAt: res.SubmittedAt}
}

func canSeeResults(r *http.Request, e exam.Exam) bool {
	return rbac.Can(r.Context(), "attempt:view-all") || (e.ResultsReleased != nil && *e.ResultsReleased)
}

func maskScore(r *http.Request, e exam.Exam, a *exam.Attempt) {
	if !canSeeResults(r, e) {
		a.Score, a.Percentage = 0, 0
	}
}

// owns reports whether the caller may act on the student's attempt.
func owns(r *http.Request, studentID string) bool {
	if rbac.RoleFromContext(r.Context()) == string(exam.RoleAdmin) {
		return true
	}
	return authmw.SubjectFromContext(r.Context()) == studentID
}

// ownedSession loads the attempt, checks the caller owns it, and attaches
// its live session.
func ownedSession(r *http.Request, store exam.Store, mgr *session.Manager) (*session.Session, error) {
	id := chi.URLParam(r, "attemptID")
	a, err := store.GetAttempt(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !owns(r, a.StudentID) {
		return nil, exam.ErrAuthorization
	}
	return mgr.Attach(r.Context(), id)
}

// POST /exams/{examID}/attempts
func StartAttemptHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := authmw.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s, err := mgr.StartOrResume(r.Context(), who, chi.URLParam(r, "examID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		if res, done := s.Result(); done {
			// resumed with no time left
			writeJSON(w, http.StatusOK, attemptView{Attempt: s.Attempt(), Result: resultFor(r, s.Exam(), res)})
			return
		}
		writeJSON(w, http.StatusOK, liveView(r, s))
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(store exam.Store, mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !owns(r, a.StudentID) && !rbac.Can(r.Context(), "attempt:view-all") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if s, ok := mgr.Get(id); ok {
			writeJSON(w, http.StatusOK, liveView(r, s))
			return
		}
		v := attemptView{Attempt: a, Remaining: a.TimeRemainingSeconds}
		if a.Status.Terminal() {
			res, err := mgr.Result(r.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			e, err := store.GetExam(r.Context(), a.ExamID)
			if err != nil {
				writeErr(w, err)
				return
			}
			v.Result = resultFor(r, e, res)
			maskScore(r, e, &v.Attempt)
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /attempts?exam_id=...&student_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all only see their own attempts.
func ListAttemptsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		studentID := strings.TrimSpace(q.Get("student_id"))
		if !rbac.Can(r.Context(), "attempt:view-all") {
			studentID = authmw.SubjectFromContext(r.Context())
		}
		list, err := store.ListAttempts(r.Context(), exam.AttemptListOpts{
			ExamID:    strings.TrimSpace(q.Get("exam_id")),
			StudentID: studentID,
			Status:    strings.TrimSpace(q.Get("status")),
			Limit:     parseIntDefault(q.Get("limit"), 50),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if !rbac.Can(r.Context(), "attempt:view-all") {
			exams := map[string]exam.Exam{}
			for i := range list {
				e, ok := exams[list[i].ExamID]
				if !ok {
					if e, err = store.GetExam(r.Context(), list[i].ExamID); err != nil {
						writeErr(w, err)
						return
					}
					exams[e.ID] = e
				}
				maskScore(r, e, &list[i])
			}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}  { "answer": "..." }
func RecordAnswerHandler(store exam.Store, mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answer string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s, err := ownedSession(r, store, mgr)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := s.Record(r.Context(), chi.URLParam(r, "questionID"), req.Answer); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, liveView(r, s))
	}
}

// POST /attempts/{attemptID}/advance  { "index": n }
func AdvanceHandler(store exam.Store, mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Index *int `json:"index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s, err := ownedSession(r, store, mgr)
		if err != nil {
			writeErr(w, err)
			return
		}
		next := s.Cursor() + 1
		if req.Index != nil {
			next = *req.Index
		}
		if err := s.Advance(next); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, liveView(r, s))
	}
}

// POST /attempts/{attemptID}/submit
// A failed final write answers 503 with the computed result so the client
// can retry without losing it.
func SubmitAttemptHandler(store exam.Store, mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !owns(r, a.StudentID) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		e, err := store.GetExam(r.Context(), a.ExamID)
		if err != nil {
			writeErr(w, err)
			return
		}
		res, err := mgr.Finalize(r.Context(), id, exam.StatusSubmitted)
		if errors.Is(err, exam.ErrGatewayFailure) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":  err.Error(),
				"result": resultFor(r, e, res),
			})
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resultFor(r, e, res))
	}
}
