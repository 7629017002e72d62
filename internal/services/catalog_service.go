package services

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/pricing"
	"finitefield.org/wholesale/internal/query"
)

const (
	defaultCatalogLimit = 12
	maxCatalogLimit     = 100
	defaultLocale       = "en-US"
	defaultCurrency     = "USD"
)

// Collection names a curated product list.
type Collection string

const (
	CollectionFeatured    Collection = "featured"
	CollectionNewArrivals Collection = "new-arrivals"
	CollectionBestSellers Collection = "best-sellers"
)

// ProductDetail is a product with its bulk pricing table. TierProblems reports defects of the
// upstream tier data; it is empty for a well formed table.
type ProductDetail struct {
	Product      domain.Product      `json:"product"`
	Tiers        []pricing.TierView  `json:"tiers"`
	TierProblems []pricing.TierError `json:"tierProblems,omitempty"`
}

// CatalogServiceDeps wires the catalog API and the shared cache.
type CatalogServiceDeps struct {
	API         CatalogAPI
	Coordinator *query.Coordinator
	Authorizer  *Authorizer
	Resolver    *pricing.Resolver
	Settings    SettingsService
	// Currency is used when the store settings name none.
	Currency    string
	Locale      string
	Logger      *zap.Logger
}

type catalogService struct {
	api      CatalogAPI
	cache    *query.Cache
	co       *query.Coordinator
	auth     *Authorizer
	resolver *pricing.Resolver
	settings SettingsService
	currency string
	locale   string
	renderer *descriptionRenderer
	logger   *zap.Logger

	formatters sync.Map
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.API == nil {
		return nil, errors.New("catalog service: api is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("catalog service: coordinator is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("catalog service: authorizer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		r, err := pricing.NewResolver(logger, nil)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	locale := strings.TrimSpace(deps.Locale)
	if locale == "" {
		locale = defaultLocale
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &catalogService{
		api:      deps.API,
		cache:    deps.Coordinator.Cache(),
		co:       deps.Coordinator,
		auth:     deps.Authorizer,
		resolver: resolver,
		settings: deps.Settings,
		currency: currency,
		locale:   locale,
		renderer: newDescriptionRenderer(),
		logger:   logger.Named("catalog"),
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filters domain.ProductFilters) (domain.ProductPage, error) {
	filters, err := normalizeProductFilters(filters)
	if err != nil {
		return domain.ProductPage{}, err
	}
	key := query.NewKey(tagProductList, "", filters.Values())
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) (domain.ProductPage, error) {
		return s.api.ListProducts(ctx, filters)
	}))
}

func (s *catalogService) SearchProducts(ctx context.Context, text string, filters domain.ProductFilters) (domain.ProductPage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.ListProducts(ctx, filters)
	}
	filters.Search = text
	filters, err := normalizeProductFilters(filters)
	if err != nil {
		return domain.ProductPage{}, err
	}
	key := query.NewKey(tagProductSearch, "", filters.Values())
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) (domain.ProductPage, error) {
		return s.api.SearchProducts(ctx, text, filters)
	}))
}

func (s *catalogService) Product(ctx context.Context, idOrSlug string) (ProductDetail, error) {
	product, err := s.product(ctx, idOrSlug)
	if err != nil {
		return ProductDetail{}, err
	}
	detail := ProductDetail{
		Product: product,
		Tiers:   pricing.TierTable(product, -1),
	}
	if problems := pricing.ValidateTiers(product.PricingTiers); len(problems) > 0 {
		detail.TierProblems = problems
		s.logger.Warn("product has a malformed tier table",
			zap.String("product_id", product.ID),
			zap.Int("problems", len(problems)),
		)
	}
	return detail, nil
}

// product returns the cached product with its description rendered to sanitized HTML.
func (s *catalogService) product(ctx context.Context, idOrSlug string) (domain.Product, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return domain.Product{}, ErrInvalidInput
	}
	key := query.NewKey(tagProductDetail, "", idParams(idOrSlug))
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) (domain.Product, error) {
		product, err := s.api.Product(ctx, idOrSlug)
		if err != nil {
			return domain.Product{}, err
		}
		html, err := s.renderer.Render(product.Description)
		if err != nil {
			s.logger.Warn("render product description failed", zap.String("product_id", product.ID), zap.Error(err))
		}
		product.DescriptionHTML = html
		return product, nil
	}))
}

func (s *catalogService) Quote(ctx context.Context, idOrSlug string, quantity int) (pricing.Quote, error) {
	if quantity < 1 {
		return pricing.Quote{}, &ValidationError{Problems: []FieldProblem{{Field: "qty", Message: "Quantity must be at least 1"}}}
	}
	product, err := s.product(ctx, idOrSlug)
	if err != nil {
		return pricing.Quote{}, err
	}
	return s.resolver.Preview(ctx, product, quantity, s.formatter(ctx))
}

// formatter returns the formatter for the store currency, or nil when it cannot be built.
func (s *catalogService) formatter(ctx context.Context) *pricing.Formatter {
	code := s.currency
	if s.settings != nil {
		if settings, err := s.settings.Get(ctx); err == nil && settings.Store.Currency != "" {
			code = settings.Store.Currency
		}
	}
	if cached, ok := s.formatters.Load(code); ok {
		return cached.(*pricing.Formatter)
	}
	f, err := pricing.NewFormatter(code, s.locale)
	if err != nil {
		s.logger.Warn("price formatter unavailable", zap.String("currency", code), zap.Error(err))
		return nil
	}
	actual, _ := s.formatters.LoadOrStore(code, f)
	return actual.(*pricing.Formatter)
}

func (s *catalogService) Collection(ctx context.Context, collection Collection, limit int) ([]domain.Product, error) {
	var fetch func(ctx context.Context, limit int) ([]domain.Product, error)
	switch collection {
	case CollectionFeatured:
		fetch = s.api.FeaturedProducts
	case CollectionNewArrivals:
		fetch = s.api.NewArrivals
	case CollectionBestSellers:
		fetch = s.api.BestSellers
	default:
		return nil, ErrInvalidInput
	}
	limit = clampLimit(limit)
	key := query.NewKey(tagCollections+"/"+string(collection), "", limitParams(limit))
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) ([]domain.Product, error) {
		return fetch(ctx, limit)
	}))
}

func (s *catalogService) ProductsByCategory(ctx context.Context, category string, limit int) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, ErrInvalidInput
	}
	limit = clampLimit(limit)
	params := limitParams(limit)
	params.Set("category", category)
	key := query.NewKey(tagCollections+"/category", "", params)
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) ([]domain.Product, error) {
		return s.api.ProductsByCategory(ctx, category, limit)
	}))
}

func (s *catalogService) Categories(ctx context.Context) ([]domain.Category, error) {
	return query.Get(ctx, s.cache, query.NewKey(tagCategories, "", nil), anonymous(s.api.Categories))
}

func (s *catalogService) Reviews(ctx context.Context, productID string, page, limit int) (domain.ReviewPage, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ReviewPage{}, ErrInvalidInput
	}
	if page < 1 {
		page = 1
	}
	limit = clampLimit(limit)
	params := limitParams(limit)
	params.Set("productId", productID)
	params.Set("page", strconv.Itoa(page))
	key := query.NewKey(tagProductReviews, "", params)
	return query.Get(ctx, s.cache, key, anonymous(func(ctx context.Context) (domain.ReviewPage, error) {
		return s.api.Reviews(ctx, productID, page, limit)
	}))
}

func (s *catalogService) AddReview(ctx context.Context, productID string, review domain.ReviewInput) (domain.Review, error) {
	productID = strings.TrimSpace(productID)
	review.Comment = strings.TrimSpace(review.Comment)
	var v validator
	v.check(productID != "", "productId", "Product is required")
	v.check(review.Rating >= 1 && review.Rating <= 5, "rating", "Rating must be between 1 and 5")
	v.check(review.Comment != "", "comment", "Comment is required")
	if err := v.err(); err != nil {
		return domain.Review{}, err
	}

	authed, sid, err := s.auth.Authenticate(ctx)
	if err != nil {
		return domain.Review{}, err
	}
	created, err := query.Perform(authed, s.co, query.MutationSpec{
		Tag:     tagProductReviews,
		Kind:    query.KindCreate,
		Subject: "Review",
		Success: "Review submitted successfully",
		Failure: "Failed to submit review",
		Also:    []query.Filter{{Tag: tagProductDetail}},
	}, func(ctx context.Context) (domain.Review, error) {
		return s.api.AddReview(ctx, productID, review)
	})
	return created, s.auth.Observe(ctx, sid, err)
}

func normalizeProductFilters(f domain.ProductFilters) (domain.ProductFilters, error) {
	var v validator
	v.check(f.Page >= 0, "page", "Page must not be negative")
	v.check(f.Sort == "" || slices.Contains(domain.ProductSorts, f.Sort), "sort", "Unknown sort order")
	v.check(f.MinPrice == nil || !f.MinPrice.IsNegative(), "minPrice", "Minimum price must not be negative")
	v.check(f.MinPrice == nil || f.MaxPrice == nil || f.MinPrice.LessThanOrEqual(*f.MaxPrice), "maxPrice", "Maximum price must not be below the minimum")
	if err := v.err(); err != nil {
		return f, err
	}
	if f.Limit > 0 {
		f.Limit = clampLimit(f.Limit)
	}
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.TrimSpace(f.Search)
	return f, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultCatalogLimit
	case limit > maxCatalogLimit:
		return maxCatalogLimit
	default:
		return limit
	}
}

func limitParams(limit int) url.Values {
	return url.Values{"limit": {strconv.Itoa(limit)}}
}
