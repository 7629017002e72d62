package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/pagination"
)

const maxBodySize = 64 << 10

// decodeBody decodes exactly one JSON value from the request body into dst. On failure it writes
// the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	err := dec.Decode(dst)
	if err == nil && dec.Decode(&json.RawMessage{}) != io.EOF {
		err = errors.New("body must contain a single JSON value")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, io.EOF):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON payload: "+err.Error(), http.StatusBadRequest))
	}
	return false
}

// queryInt reads an optional integer parameter; ok is false when it is present but malformed.
func queryInt(r *http.Request, name string) (value int, ok bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

// writeQueryError rejects one query parameter, naming it in the field list.
func writeQueryError(w http.ResponseWriter, r *http.Request, param, reason string) {
	msg := param + " " + reason
	e := httpx.NewError("invalid_query", msg, http.StatusBadRequest).
		WithFields([]httpx.FieldError{{Field: param, Messages: []string{msg}}})
	httpx.WriteError(r.Context(), w, e)
}

func writeBadQuery(w http.ResponseWriter, r *http.Request, name string) {
	writeQueryError(w, r, name, "must be an integer")
}

func writePageError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *pagination.Error
	if errors.As(err, &pe) {
		writeQueryError(w, r, pe.Param, pe.Reason)
		return
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
}
