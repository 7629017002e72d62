package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/pagination"
	"finitefield.org/wholesale/internal/services"
)

// OrderHandlers serves the signed-in customer's orders.
type OrderHandlers struct {
	orders services.OrderService
	replay func(http.Handler) http.Handler
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithReplayGuard wraps order placement and cancellation, typically with idempotency.Middleware.
func WithReplayGuard(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		if mw != nil {
			h.replay = mw
		}
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the order endpoints under /orders.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/track/{orderNumber}", h.track)
	r.Get("/{orderID}", h.get)

	r.Group(func(w chi.Router) {
		if h.replay != nil {
			w.Use(h.replay)
		}
		w.Post("/", h.create)
		w.Post("/{orderID}/cancel", h.cancel)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{SizeParam: "limit", DefaultPageSize: 10, MaxPageSize: 50})
	if err != nil {
		writePageError(w, r, err)
		return
	}
	page, err := h.orders.List(r.Context(), params.Page, params.PageSize)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *OrderHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateOrderInput
	if !decodeBody(w, r, &in) {
		return
	}
	order, err := h.orders.Create(r.Context(), in)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, order)
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	// The reason is optional, so an empty body is accepted.
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	order, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *OrderHandlers) track(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.orders.Track(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tracking)
}
