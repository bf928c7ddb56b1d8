package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) int {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve), errors.Is(err, exam.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, exam.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, exam.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exam.ErrNotAvailable),
		errors.Is(err, exam.ErrAlreadyFinalized),
		errors.Is(err, exam.ErrCursorBackwards),
		errors.Is(err, exam.ErrNotCurrentQuestion),
		errors.Is(err, exam.ErrExamLocked):
		return http.StatusConflict
	case errors.Is(err, exam.ErrGatewayFailure):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
