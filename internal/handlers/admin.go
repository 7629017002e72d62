package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/pagination"
	"finitefield.org/wholesale/internal/query"
	"finitefield.org/wholesale/internal/services"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	watchKeepAlive    = 25 * time.Second
	adminMaxPageSize  = 100
	adminDefaultLimit = 10
)

// AdminGate rejects sessions that are not signed in as an admin.
type AdminGate interface {
	RequireAdmin(ctx context.Context) (context.Context, error)
}

// AdminHandlers serve the back office. Every route requires an admin session.
type AdminHandlers struct {
	gate      AdminGate
	admin     services.AdminService
	settings  services.SettingsService
	export    services.ExportService
	now       func() time.Time
	keepAlive time.Duration
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithAdminClock overrides the clock used for export file names.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(h *AdminHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithWatchKeepAlive sets the comment interval that keeps idle watch streams open.
func WithWatchKeepAlive(d time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// NewAdminHandlers constructs admin handlers. The gate checks every request up front, which also
// covers the settings document whose reads the storefront shares.
func NewAdminHandlers(gate AdminGate, admin services.AdminService, settings services.SettingsService, export services.ExportService, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{
		gate:      gate,
		admin:     admin,
		settings:  settings,
		export:    export,
		now:       time.Now,
		keepAlive: watchKeepAlive,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the admin endpoints under /admin.
func (h *AdminHandlers) Routes(r chi.Router) {
	if h.gate != nil {
		r.Use(h.requireAdmin)
	}
	r.Get("/dashboard", h.dashboard)
	r.Get("/analytics", h.analytics)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Post("/bulk-delete", h.bulkDeleteProducts)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}/status", h.updateOrderStatus)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.listCustomers)
		r.Get("/{id}", h.getCustomer)
		r.Put("/{id}/status", h.updateCustomerStatus)
		r.Post("/{id}/block", h.blockCustomer)
		r.Post("/{id}/unblock", h.unblockCustomer)
	})
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.getSettings)
		r.Put("/", h.updateSettings)
		r.Post("/reset", h.resetSettings)
	})

	r.Get("/{resource}/export", h.exportResource)
	r.Get("/{resource}/watch", h.watch)
}

func (h *AdminHandlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.gate.RequireAdmin(r.Context()); err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *AdminHandlers) dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.admin.Dashboard(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dash)
}

func (h *AdminHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	period := strings.TrimSpace(r.URL.Query().Get("period"))
	if period == "" {
		period = "month"
	}
	report, err := h.admin.Analytics(r.Context(), period)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseAdminFilters(w, r)
	if !ok {
		return
	}
	list, err := h.admin.Products(r.Context(), filters)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.admin.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var in domain.AdminProductInput
	if !decodeBody(w, r, &in) {
		return
	}
	product, err := h.admin.CreateProduct(r.Context(), in)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, product)
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in domain.AdminProductInput
	if !decodeBody(w, r, &in) {
		return
	}
	product, err := h.admin.UpdateProduct(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.admin.DeleteProduct(r.Context(), chi.URLParam(r, "id")))
}

func (h *AdminHandlers) bulkDeleteProducts(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.noContent(w, r, h.admin.BulkDeleteProducts(r.Context(), req.IDs))
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseAdminFilters(w, r)
	if !ok {
		return
	}
	list, err := h.admin.Orders(r.Context(), filters)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.admin.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.admin.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.admin.CancelOrder(r.Context(), chi.URLParam(r, "id")))
}

func (h *AdminHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseAdminFilters(w, r)
	if !ok {
		return
	}
	list, err := h.admin.Customers(r.Context(), filters)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *AdminHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.admin.Customer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, customer)
}

func (h *AdminHandlers) updateCustomerStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	customer, err := h.admin.UpdateCustomerStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, customer)
}

func (h *AdminHandlers) blockCustomer(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.admin.BlockCustomer(r.Context(), chi.URLParam(r, "id")))
}

func (h *AdminHandlers) unblockCustomer(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, h.admin.UnblockCustomer(r.Context(), chi.URLParam(r, "id")))
}

func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var in domain.Settings
	if !decodeBody(w, r, &in) {
		return
	}
	settings, err := h.settings.Update(r.Context(), in)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

func (h *AdminHandlers) resetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Reset(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

// exportResource renders the whole filtered listing as a workbook. The workbook is buffered so a
// failure on a later page still produces a JSON error instead of a truncated file.
func (h *AdminHandlers) exportResource(w http.ResponseWriter, r *http.Request) {
	resource, err := services.ParseAdminResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	filters, ok := parseAdminFilters(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.export.Export(r.Context(), resource, filters, &buf); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	name := fmt.Sprintf("%s-%s.xlsx", resource, h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type watchEvent struct {
	Status    query.Status `json:"status"`
	Stale     bool         `json:"stale"`
	Fetching  bool         `json:"fetching"`
	FetchedAt *time.Time   `json:"fetchedAt,omitempty"`
	Error     string       `json:"error,omitempty"`
	Data      any          `json:"data,omitempty"`
}

// watch streams every snapshot of an admin listing as server-sent events until the client
// disconnects or the session stops being an admin. Invalidations from any replica refetch the
// listing and push the new snapshot.
func (h *AdminHandlers) watch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resource, err := services.ParseAdminResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	filters, ok := parseAdminFilters(w, r)
	if !ok {
		return
	}
	sub, err := h.admin.Watch(ctx, resource, filters)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		observability.FromContext(ctx).Warn("watch stream cannot flush", zap.Error(err))
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.stillAdmin(w, rc, r) {
				return
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case snap, open := <-sub.Updates():
			if !open {
				return
			}
			if !h.stillAdmin(w, rc, r) {
				return
			}
			if err := writeSSE(w, "snapshot", toWatchEvent(snap)); err != nil {
				observability.FromContext(ctx).Debug("watch stream closed", zap.Error(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// stillAdmin repeats the admin check for a long lived stream. A session that signed out or lost
// the admin role gets a closed event and the stream ends.
func (h *AdminHandlers) stillAdmin(w http.ResponseWriter, rc *http.ResponseController, r *http.Request) bool {
	if h.gate == nil {
		return true
	}
	_, err := h.gate.RequireAdmin(r.Context())
	if err == nil {
		return true
	}
	observability.FromContext(r.Context()).Info("watch stream revoked", zap.Error(err))
	reason := "unauthenticated"
	if errors.Is(err, services.ErrForbidden) {
		reason = "forbidden"
	}
	if writeSSE(w, "closed", map[string]string{"reason": reason}) == nil {
		_ = rc.Flush()
	}
	return false
}

func toWatchEvent(res query.Resource) watchEvent {
	ev := watchEvent{Status: res.Status, Stale: res.Stale, Fetching: res.Fetching, Data: res.Data}
	if !res.FetchedAt.IsZero() {
		at := res.FetchedAt.UTC()
		ev.FetchedAt = &at
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (h *AdminHandlers) noContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseAdminFilters(w http.ResponseWriter, r *http.Request) (domain.AdminFilters, bool) {
	q := r.URL.Query()
	params, err := pagination.Parse(q, pagination.Options{SizeParam: "per_page", DefaultPageSize: adminDefaultLimit, MaxPageSize: adminMaxPageSize})
	if err != nil {
		writePageError(w, r, err)
		return domain.AdminFilters{}, false
	}
	return domain.AdminFilters{
		Search:   strings.TrimSpace(q.Get("search")),
		Category: strings.TrimSpace(q.Get("category")),
		Status:   strings.TrimSpace(q.Get("status")),
		Page:     params.Page,
		PerPage:  params.PageSize,
	}, true
}
