package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/services"
)

// CartHandlers serves the session cart. Guest sessions get the stored guest cart, signed-in
// sessions the server cart.
type CartHandlers struct {
	cart services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(cart services.CartService) *CartHandlers {
	return &CartHandlers{cart: cart}
}

// Routes wires the cart endpoints under /cart.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Get("/", h.get)
	r.Delete("/", h.clear)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Post("/sync", h.sync)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.cart.Get(r.Context()))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var in domain.AddToCartInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	h.respond(w, r)(h.cart.Add(r.Context(), in))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.cart.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), req.Quantity))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.cart.RemoveItem(r.Context(), chi.URLParam(r, "itemID")))
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.cart.Clear(r.Context()))
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.cart.ApplyCoupon(r.Context(), strings.TrimSpace(req.Code)))
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.cart.RemoveCoupon(r.Context()))
}

func (h *CartHandlers) sync(w http.ResponseWriter, r *http.Request) {
	cart, err := h.cart.SyncLocalCart(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, services.CartView{Source: services.CartSourceServer, Cart: &cart, ItemCount: cart.ItemCount})
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request) func(services.CartView, error) {
	return func(view services.CartView, err error) {
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, view)
	}
}
