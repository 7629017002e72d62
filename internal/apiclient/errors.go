package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies upstream failures by how callers react to them.
type Kind string

const (
	// KindValidation is a 422 with field level messages.
	KindValidation Kind = "validation"
	// KindUnauthorized is a 401; the session's token must be discarded.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound is a 404.
	KindNotFound Kind = "not_found"
	// KindTransient covers timeouts, throttling, 5xx and transport failures; retrying may succeed.
	KindTransient Kind = "transient"
	// KindRejected is any other 4xx.
	KindRejected Kind = "rejected"
)

// FieldError holds the messages for one invalid field.
type FieldError struct {
	Field    string   `json:"field"`
	Messages []string `json:"messages"`
}

// Error is returned for every failed upstream call.
type Error struct {
	Op      string
	Status  int
	Kind    Kind
	Message string

	// Fields keeps the order the server listed them in.
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("apiclient: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, "status %d", e.Status)
	} else {
		b.WriteString(string(e.Kind))
	}
	if msg := e.UserMessage(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the message to show the user: the first field message of a validation error,
// otherwise the server's message.
func (e *Error) UserMessage() string {
	if e.Kind == KindValidation {
		if msg := e.FirstFieldMessage(); msg != "" {
			return msg
		}
	}
	return e.Message
}

// FirstFieldMessage returns the first message of the first invalid field.
func (e *Error) FirstFieldMessage() string {
	for _, f := range e.Fields {
		for _, m := range f.Messages {
			if m = strings.TrimSpace(m); m != "" {
				return m
			}
		}
	}
	return ""
}

// FieldMap returns field messages keyed by field.
func (e *Error) FieldMap() map[string][]string {
	out := make(map[string][]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = f.Messages
	}
	return out
}

// KindOf returns the kind of an apiclient error, or empty when err is not one.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsUnauthorized reports whether err is a 401 from upstream.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsValidation reports whether err is a 422 from upstream.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a 404 from upstream.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindRejected
	}
}

type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Errors  json.RawMessage `json:"errors"`
}

func decodeError(op string, status int, body []byte) *Error {
	apiErr := &Error{Op: op, Status: status, Kind: kindForStatus(status)}

	var parsed errorBody
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &parsed) == nil {
		apiErr.Message = strings.TrimSpace(parsed.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(parsed.Error)
		}
		apiErr.Fields = decodeFieldErrors(parsed.Errors)
	}
	if apiErr.Message == "" && apiErr.Kind != KindTransient {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// decodeFieldErrors walks the errors object token by token so fields keep the server's order.
// Values may be a string or a list of strings.
func decodeFieldErrors(raw json.RawMessage) []FieldError {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	var fields []FieldError
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fields
		}
		name, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fields
		}
		var messages []string
		if err := json.Unmarshal(value, &messages); err != nil {
			var single string
			if json.Unmarshal(value, &single) == nil {
				messages = []string{single}
			}
		}
		fields = append(fields, FieldError{Field: name, Messages: messages})
	}
	return fields
}

func transportError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTransient, Err: err}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
