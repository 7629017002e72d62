package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/platform/pagination"
	"finitefield.org/wholesale/internal/services"
)

// CatalogHandlers exposes the cached product catalog.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires /products and /categories.
func (h *CatalogHandlers) Routes(r chi.Router) {
	r.Get("/categories", h.categories)
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/search", h.search)
		r.Get("/featured", h.collection(services.CollectionFeatured))
		r.Get("/new-arrivals", h.collection(services.CollectionNewArrivals))
		r.Get("/best-sellers", h.collection(services.CollectionBestSellers))
		r.Get("/category/{category}", h.byCategory)
		r.Get("/{productID}", h.product)
		r.Get("/{productID}/price", h.price)
		r.Get("/{productID}/reviews", h.reviews)
		r.Post("/{productID}/reviews", h.addReview)
	})
}

func (h *CatalogHandlers) list(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseProductFilters(w, r)
	if !ok {
		return
	}
	page, err := h.catalog.ListProducts(r.Context(), filters)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) search(w http.ResponseWriter, r *http.Request) {
	filters, ok := parseProductFilters(w, r)
	if !ok {
		return
	}
	page, err := h.catalog.SearchProducts(r.Context(), r.URL.Query().Get("q"), filters)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) collection(c services.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryInt(r, "limit")
		if !ok {
			writeBadQuery(w, r, "limit")
			return
		}
		products, err := h.catalog.Collection(r.Context(), c, limit)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
	}
}

func (h *CatalogHandlers) byCategory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeBadQuery(w, r, "limit")
		return
	}
	products, err := h.catalog.ProductsByCategory(r.Context(), chi.URLParam(r, "category"), limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *CatalogHandlers) categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *CatalogHandlers) product(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.Product(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *CatalogHandlers) price(w http.ResponseWriter, r *http.Request) {
	qty, ok := queryInt(r, "qty")
	if !ok {
		writeBadQuery(w, r, "qty")
		return
	}
	if qty == 0 {
		qty = 1
	}
	quote, err := h.catalog.Quote(r.Context(), chi.URLParam(r, "productID"), qty)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

func (h *CatalogHandlers) reviews(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{SizeParam: "limit", DefaultPageSize: 10})
	if err != nil {
		writePageError(w, r, err)
		return
	}
	page, err := h.catalog.Reviews(r.Context(), chi.URLParam(r, "productID"), params.Page, params.PageSize)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *CatalogHandlers) addReview(w http.ResponseWriter, r *http.Request) {
	var in domain.ReviewInput
	if !decodeBody(w, r, &in) {
		return
	}
	review, err := h.catalog.AddReview(r.Context(), chi.URLParam(r, "productID"), in)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, review)
}

// parseProductFilters reads the listing query. Page and limit go through the shared pagination
// parser; the remaining filters pass through for the service to validate.
func parseProductFilters(w http.ResponseWriter, r *http.Request) (domain.ProductFilters, bool) {
	q := r.URL.Query()
	params, err := pagination.Parse(q, pagination.Options{SizeParam: "limit", AllowedSorts: domain.ProductSorts})
	if err != nil {
		writePageError(w, r, err)
		return domain.ProductFilters{}, false
	}
	filters := domain.ProductFilters{
		Page:        params.Page,
		Limit:       params.PageSize,
		Sort:        params.Sort,
		Category:    q.Get("category"),
		Subcategory: q.Get("subcategory"),
		Brand:       q.Get("brand"),
		Search:      q.Get("search"),
	}
	for _, tag := range q["tags"] {
		for _, part := range strings.Split(tag, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filters.Tags = append(filters.Tags, part)
			}
		}
	}
	for _, bound := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"minPrice", &filters.MinPrice}, {"maxPrice", &filters.MaxPrice}} {
		raw := strings.TrimSpace(q.Get(bound.name))
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			writeQueryError(w, r, bound.name, "must be a number")
			return domain.ProductFilters{}, false
		}
		*bound.dst = &v
	}
	return filters, true
}
