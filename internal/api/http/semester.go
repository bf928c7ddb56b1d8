package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/frankdogbe328/signals-sub000/internal/auth/middleware"
	"github.com/frankdogbe328/signals-sub000/internal/rbac"
	"github.com/frankdogbe328/signals-sub000/internal/semester"
)

// GET /students/{studentID}/semester?class_id=...
// Students may only read their own summary ("me" works too), masked by the
// release flags. Lecturers and admins get the full figures.
func StudentSemesterHandler(svc *semester.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, _ := authmw.IdentityFromContext(r.Context())
		studentID := chi.URLParam(r, "studentID")
		if studentID == "me" {
			studentID = who.ID
		}
		full := rbac.Can(r.Context(), "semester:view-all")
		if !full && studentID != who.ID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		classID := strings.TrimSpace(r.URL.Query().Get("class_id"))
		if !full || classID == "" {
			classID = who.ClassID
		}
		if classID == "" {
			http.Error(w, "class_id required", http.StatusBadRequest)
			return
		}
		s, err := svc.ForStudent(r.Context(), studentID, classID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !full {
			s = semester.StudentView(s)
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /classes/{classID}/semester
func ClassSemesterHandler(svc *semester.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ForClass(r.Context(), chi.URLParam(r, "classID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
