package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/apiclient"
	"finitefield.org/wholesale/internal/clientstate"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/services"
)

const (
	// authRedirect is where the browser sends users whose session lost its credentials.
	authRedirect = "/auth"
	// upstreamRetryAfter is suggested when the API is throttling or unavailable.
	upstreamRetryAfter = 5 * time.Second
)

// writeServiceError maps service and upstream failures onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var (
		verr   *services.ValidationError
		apiErr *apiclient.Error
	)
	switch {
	case errors.As(err, &verr):
		fields := make([]httpx.FieldError, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			fields = append(fields, httpx.FieldError{Field: p.Field, Messages: []string{p.Message}})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", verr.UserMessage(), http.StatusUnprocessableEntity).WithFields(fields))
	case errors.Is(err, services.ErrNoSession):
		httpx.WriteError(ctx, w, httpx.NewError("no_session", "session required", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnauthenticated):
		writeUnauthorized(ctx, w, "authentication required")
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin access required", http.StatusForbidden))
	case errors.Is(err, clientstate.ErrItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "item not in cart", http.StatusNotFound))
	case errors.Is(err, clientstate.ErrInvalidItem), errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.As(err, &apiErr):
		writeUpstreamError(ctx, w, apiErr)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful can be written
	default:
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal error", http.StatusInternalServerError))
	}
}

func writeUpstreamError(ctx context.Context, w http.ResponseWriter, apiErr *apiclient.Error) {
	switch apiErr.Kind {
	case apiclient.KindUnauthorized:
		writeUnauthorized(ctx, w, apiErr.UserMessage())
	case apiclient.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("not_found", messageOr(apiErr.UserMessage(), "not found"), http.StatusNotFound))
	case apiclient.KindValidation:
		fields := make([]httpx.FieldError, 0, len(apiErr.Fields))
		for _, f := range apiErr.Fields {
			fields = append(fields, httpx.FieldError{Field: f.Field, Messages: f.Messages})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", messageOr(apiErr.UserMessage(), "invalid input"), http.StatusUnprocessableEntity).WithFields(fields))
	case apiclient.KindTransient:
		observability.FromContext(ctx).Warn("upstream unavailable", zap.Error(apiErr))
		envelope := httpx.NewError("upstream_unavailable", "the store is temporarily unavailable", http.StatusBadGateway)
		if apiErr.Status == http.StatusServiceUnavailable || apiErr.Status == http.StatusTooManyRequests {
			envelope.Status = http.StatusServiceUnavailable
			envelope = envelope.WithRetryAfter(upstreamRetryAfter)
		}
		httpx.WriteError(ctx, w, envelope)
	default:
		status := apiErr.Status
		if status < 400 || status > 499 {
			status = http.StatusBadRequest
		}
		httpx.WriteError(ctx, w, httpx.NewError("rejected", messageOr(apiErr.UserMessage(), "request rejected"), status))
	}
}

func writeUnauthorized(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", messageOr(message, "authentication required"), http.StatusUnauthorized).
		WithRedirect(authRedirect))
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
