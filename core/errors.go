package core

import (
	"errors"
	"fmt"
)

// APIError is returned when the platform answers with an unexpected status or
// a business error code.
type APIError struct {
	Op     string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: api error (status %d): %s", e.Op, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: api error (status %d)", e.Op, e.Status)
}

// CaptchaError is returned when a challenge could not be cleared within the
// configured number of attempts.
type CaptchaError struct {
	Attempts int
	Last     error
}

func (e *CaptchaError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("captcha unsolved after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("captcha unsolved after %d attempts", e.Attempts)
}

func (e *CaptchaError) Unwrap() error { return e.Last }

// FaceError is returned when the face-collection flow fails.
type FaceError struct {
	Stage string
	Err   error
}

func (e *FaceError) Error() string {
	return fmt.Sprintf("face check failed at %s: %v", e.Stage, e.Err)
}

func (e *FaceError) Unwrap() error { return e.Err }

// Sentinel errors for task points and papers.
var (
	// ErrNoSearcher is returned by a resolution engine with no searchers.
	ErrNoSearcher = errors.New("no searcher configured")

	// ErrWorkAccessDenied marks a work page the account cannot open.
	ErrWorkAccessDenied = errors.New("work access denied")

	// ErrExamNotStarted marks an exam whose start window has not opened.
	ErrExamNotStarted = errors.New("exam not started")

	// ErrExamCompleted marks an exam that was already finished earlier.
	ErrExamCompleted = errors.New("exam already completed")

	// ErrExamChaptersIncomplete marks an exam gated on unfinished chapters.
	ErrExamChaptersIncomplete = errors.New("exam requires completed chapters")

	// ErrExamIPBlocked marks an exam restricted to a specific IP range.
	ErrExamIPBlocked = errors.New("exam requires designated ip environment")

	// ErrExamPCOnly marks an exam restricted to the desktop exam client.
	ErrExamPCOnly = errors.New("exam requires the pc exam client")

	// ErrExamCodeDenied marks a rejected exam access code.
	ErrExamCodeDenied = errors.New("exam code rejected")

	// ErrExamTimeout marks a submission after the exam clock ran out.
	ErrExamTimeout = errors.New("exam time over")

	// ErrExamSubmitTooEarly marks a final submit inside the minimum
	// duration window.
	ErrExamSubmitTooEarly = errors.New("exam submit window not open yet")

	// ErrExamFaceRequired marks an exam cover that demands face collection.
	ErrExamFaceRequired = errors.New("exam requires face check")

	// ErrLoginFailed marks a rejected credential pair.
	ErrLoginFailed = errors.New("login failed")

	// ErrSessionExpired marks a response that redirected to the login page.
	ErrSessionExpired = errors.New("session expired")
)

// TaskPointError wraps a failure on one task point with its identity, so a
// chapter run can log it and continue with the next point.
type TaskPointError struct {
	Kind  string
	JobID string
	Err   error
}

func (e *TaskPointError) Error() string {
	return fmt.Sprintf("task point %s (job %s): %v", e.Kind, e.JobID, e.Err)
}

func (e *TaskPointError) Unwrap() error { return e.Err }
