package exam

import "errors"

var (
	// ErrAuthorization: class, subject, or role mismatch. Not retryable.
	ErrAuthorization = errors.New("not authorized for this exam")
	// ErrNotAvailable: no questions, inactive, or outside the exam window.
	ErrNotAvailable = errors.New("exam not available")
	// ErrAlreadyInProgress is reported by Store.CreateAttempt when the
	// (student, exam) pair already has an in-progress attempt.
	ErrAlreadyInProgress = errors.New("attempt already in progress")
	// ErrGatewayFailure marks transient storage I/O failures.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrAlreadyFinalized is informational; finalizing twice is a no-op.
	ErrAlreadyFinalized = errors.New("attempt already finalized")

	ErrNotFound           = errors.New("not found")
	ErrNotCurrentQuestion = errors.New("only the current question can be answered")
	ErrCursorBackwards    = errors.New("navigation is forward only")
	ErrInvalid            = errors.New("invalid input")

	// ErrExamLocked: the exam already has questions and only its flags
	// may change.
	ErrExamLocked = errors.New("exam already has questions")
)

type gatewayError struct {
	op  string
	err error
}

func (e *gatewayError) Error() string { return e.op + ": " + e.err.Error() }

func (e *gatewayError) Unwrap() []error { return []error{ErrGatewayFailure, e.err} }

// GatewayError wraps a storage error so that errors.Is(err, ErrGatewayFailure)
// holds while the driver error stays reachable. Nil stays nil, and errors
// already classified (not found, in progress) pass through unchanged.
func GatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyInProgress) || errors.Is(err, ErrGatewayFailure) {
		return err
	}
	return &gatewayError{op: op, err: err}
}
