package services

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidInput indicates the caller supplied invalid input.
	ErrInvalidInput = errors.New("services: invalid input")
	// ErrNoSession indicates the request carries no session.
	ErrNoSession = errors.New("services: no session")
	// ErrUnauthenticated indicates the session holds no usable bearer token.
	ErrUnauthenticated = errors.New("services: authentication required")
	// ErrForbidden indicates the session's user lacks the required role.
	ErrForbidden = errors.New("services: forbidden")
)

// FieldProblem is one rejected input field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists rejected fields in the order they were checked. It matches ErrInvalidInput.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// UserMessage returns the first problem's message.
func (e *ValidationError) UserMessage() string {
	if len(e.Problems) == 0 {
		return ""
	}
	return e.Problems[0].Message
}

type validator struct {
	problems []FieldProblem
}

func (v *validator) check(ok bool, field, message string) {
	if !ok {
		v.problems = append(v.problems, FieldProblem{Field: field, Message: message})
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// userMessage returns the message err carries for display, or fallback.
func userMessage(err error, fallback string) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}
