package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/requestctx"
	"finitefield.org/wholesale/internal/services"
)

// Drainer hands out and forgets a session's pending notifications.
type Drainer interface {
	Drain(ctx context.Context, sessionID string) ([]notify.Notification, error)
}

// NotificationHandlers expose the toasts queued for the session.
type NotificationHandlers struct {
	flash Drainer
}

// NewNotificationHandlers constructs notification handlers.
func NewNotificationHandlers(flash Drainer) *NotificationHandlers {
	return &NotificationHandlers{flash: flash}
}

// Routes wires GET /notifications.
func (h *NotificationHandlers) Routes(r chi.Router) {
	r.Get("/", h.drain)
}

func (h *NotificationHandlers) drain(w http.ResponseWriter, r *http.Request) {
	sid := requestctx.SessionID(r.Context())
	if sid == "" {
		writeServiceError(r.Context(), w, services.ErrNoSession)
		return
	}
	items, err := h.flash.Drain(r.Context(), sid)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []notify.Notification{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}
