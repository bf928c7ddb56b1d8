package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authmw "github.com/frankdogbe328/signals-sub000/internal/auth/middleware"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/rbac"
	"github.com/frankdogbe328/signals-sub000/internal/semester"
	"github.com/frankdogbe328/signals-sub000/internal/session"
)

type Deps struct {
	Store    exam.Store
	Sessions *session.Manager
	Semester *semester.Service
	Auth     *authmw.AuthService

	AdminUser     string
	AdminPassHash string
	CORSOrigins   []string

	// Ready backs /readyz; nil always reports ready.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", authmw.LoginHandler(d.Auth, d.AdminUser, d.AdminPassHash))

	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))

		pr.With(rbac.Require("token:issue")).
			Post("/auth/tokens", authmw.IssueTokenHandler(d.Auth))

		// Authoring
		pr.With(rbac.Require("exam:create")).
			Post("/exams", CreateExamHandler(d.Store))
		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", GetExamHandler(d.Store))
		pr.With(rbac.Require("exam:view")).
			Get("/classes/{classID}/exams", ListClassExamsHandler(d.Store))
		pr.With(rbac.Require("exam:flags")).
			Patch("/exams/{examID}/flags", SetExamFlagsHandler(d.Store))

		// Attempt lifecycle
		pr.With(rbac.Require("attempt:start")).
			Post("/exams/{examID}/attempts", StartAttemptHandler(d.Sessions))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", ListAttemptsHandler(d.Store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", GetAttemptHandler(d.Store, d.Sessions))
		pr.With(rbac.Require("attempt:answer")).
			Put("/attempts/{attemptID}/answers/{questionID}", RecordAnswerHandler(d.Store, d.Sessions))
		pr.With(rbac.Require("attempt:answer")).
			Post("/attempts/{attemptID}/advance", AdvanceHandler(d.Store, d.Sessions))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(d.Store, d.Sessions))

		// Semester aggregation
		pr.With(rbac.RequireAny("semester:view-own", "semester:view-all")).
			Get("/students/{studentID}/semester", StudentSemesterHandler(d.Semester))
		pr.With(rbac.Require("semester:view-all")).
			Get("/classes/{classID}/semester", ClassSemesterHandler(d.Semester))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	})
	return r
}
