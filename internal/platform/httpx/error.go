// Package httpx writes the JSON bodies the storefront returns to browsers.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/wholesale/internal/platform/requestctx"
)

// FieldError lists the messages for one invalid input field.
type FieldError struct {
	Field    string   `json:"field"`
	Messages []string `json:"messages"`
}

// Error is the envelope of every failed browser request:
//
//	{"error":"invalid_input","message":"...","status":422,"request_id":"...","fields":[...]}
//
// Redirect tells the browser where to send the user (the sign-in page after a 401). Fields keep
// the order the upstream API listed them in.
type Error struct {
	Code       string        `json:"error"`
	Message    string        `json:"message"`
	Status     int           `json:"status"`
	RequestID  string        `json:"request_id,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
	Redirect   string        `json:"redirect,omitempty"`
	Fields     []FieldError  `json:"fields,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// NewError builds an envelope; a zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, 80), Message: oneLine(message, 512), Status: status}
}

// Error implements error so envelopes can travel through error returns.
func (e Error) Error() string { return e.Code + ": " + e.Message }

// WithRedirect points the browser at path.
func (e Error) WithRedirect(path string) Error {
	e.Redirect = path
	return e
}

// WithFields attaches per-field validation messages.
func (e Error) WithFields(fields []FieldError) Error {
	e.Fields = fields
	return e
}

// WithRetryAfter sets the Retry-After header, rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes err, filling the request and trace IDs from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = oneLine(middleware.GetReqID(ctx), 80)
	}
	if err.TraceID == "" {
		err.TraceID = oneLine(requestctx.TraceID(ctx), 64)
	}
	if err.RetryAfter > 0 {
		secs := int((err.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	WriteJSON(w, err.Status, err)
}

// WriteJSON writes payload as an uncacheable JSON response. Encoding errors after the header is
// sent are dropped.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
