package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/wholesale/internal/platform/httpx"
)

// RouteRegistrar adds one surface's routes to r.
type RouteRegistrar func(r chi.Router)

type middlewares []func(http.Handler) http.Handler

func (m middlewares) apply(r chi.Router) {
	for _, mw := range m {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// surface is one mounted route group. Storefront surfaces sit behind maintenance mode; the
// catalog registers at the API root because it owns both /products and /categories.
type surface struct {
	name       string
	prefix     string
	storefront bool
	routes     RouteRegistrar
}

type routerConfig struct {
	basePath   string
	global     middlewares
	api        middlewares
	storefront middlewares
	health     *HealthHandlers
	surfaces   map[string]*surface
}

// Option configures NewRouter.
type Option func(*routerConfig)

const errorNotFoundCode = "route_not_found"

var surfaceOrder = []string{"catalog", "cart", "orders", "auth", "notifications", "admin"}

// NewRouter builds the storefront API. Health probes live outside the API prefix so they never
// mint sessions. Maintenance middleware gates only the storefront surfaces, letting admins sign in
// and reopen the store.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: "/api",
		global:   middlewares{middleware.RequestID, middleware.RealIP},
		surfaces: map[string]*surface{
			"catalog":       {name: "catalog", storefront: true},
			"cart":          {name: "cart", prefix: "/cart", storefront: true},
			"orders":        {name: "orders", prefix: "/orders", storefront: true},
			"auth":          {name: "auth", prefix: "/auth"},
			"notifications": {name: "notifications", prefix: "/notifications"},
			"admin":         {name: "admin", prefix: "/admin"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	health := cfg.health
	if health == nil {
		health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.apply(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		cfg.api.apply(api)
		api.Group(func(shop chi.Router) {
			cfg.storefront.apply(shop)
			for _, name := range surfaceOrder {
				if s := cfg.surfaces[name]; s.storefront {
					s.mount(shop)
				}
			}
		})
		for _, name := range surfaceOrder {
			if s := cfg.surfaces[name]; !s.storefront {
				s.mount(api)
			}
		}
	})
	return r
}

func (s *surface) mount(r chi.Router) {
	if s.prefix == "" {
		if s.routes != nil {
			s.routes(r)
			return
		}
		r.HandleFunc("/products", s.notConfigured)
		r.HandleFunc("/products/*", s.notConfigured)
		r.HandleFunc("/categories", s.notConfigured)
		return
	}
	r.Route(s.prefix, func(sub chi.Router) {
		if s.routes != nil {
			s.routes(sub)
			return
		}
		sub.HandleFunc("/", s.notConfigured)
		sub.HandleFunc("/*", s.notConfigured)
	})
}

func (s *surface) notConfigured(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("not_implemented", s.name+" endpoints are not configured", http.StatusNotImplemented))
}

func withSurface(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.surfaces[name].routes = reg }
}

// WithMiddlewares appends middleware that wraps every route, health probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithAPIMiddlewares appends middleware for routes under the API prefix, in order.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.api = append(cfg.api, mw...) }
}

// WithStorefrontMiddlewares appends middleware for the catalog, cart and order surfaces.
func WithStorefrontMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.storefront = append(cfg.storefront, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithBasePath replaces the "/api" prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithCatalogRoutes registers /products and /categories.
func WithCatalogRoutes(reg RouteRegistrar) Option { return withSurface("catalog", reg) }

func WithCartRoutes(reg RouteRegistrar) Option { return withSurface("cart", reg) }

func WithOrderRoutes(reg RouteRegistrar) Option { return withSurface("orders", reg) }

func WithAuthRoutes(reg RouteRegistrar) Option { return withSurface("auth", reg) }

// WithNotificationRoutes registers the notification drain and stream.
func WithNotificationRoutes(reg RouteRegistrar) Option { return withSurface("notifications", reg) }

func WithAdminRoutes(reg RouteRegistrar) Option { return withSurface("admin", reg) }
