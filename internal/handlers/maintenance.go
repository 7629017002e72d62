package handlers

import (
	"context"
	"net/http"
	"time"

	"finitefield.org/wholesale/internal/platform/httpx"
)

const maintenanceRetryAfter = 5 * time.Minute

// MaintenanceChecker reports whether the storefront is closed.
type MaintenanceChecker interface {
	MaintenanceMode(ctx context.Context) bool
}

// MaintenanceMiddleware answers 503 on storefront routes while maintenance mode is on.
func MaintenanceMiddleware(checker MaintenanceChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if checker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if checker.MaintenanceMode(r.Context()) {
				httpx.WriteError(r.Context(), w, httpx.NewError("maintenance", "the store is under maintenance", http.StatusServiceUnavailable).WithRetryAfter(maintenanceRetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
