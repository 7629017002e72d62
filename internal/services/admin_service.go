package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/query"
)

const maxAdminPageSize = 100

// AdminResource names a back-office listing.
type AdminResource string

const (
	AdminProducts  AdminResource = "products"
	AdminOrders    AdminResource = "orders"
	AdminCustomers AdminResource = "customers"
)

// ParseAdminResource validates a resource name taken from a URL.
func ParseAdminResource(raw string) (AdminResource, error) {
	switch r := AdminResource(strings.ToLower(strings.TrimSpace(raw))); r {
	case AdminProducts, AdminOrders, AdminCustomers:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, raw)
	}
}

func (r AdminResource) tag() string {
	return "admin/" + string(r)
}

var customerStatuses = []string{domain.CustomerActive, domain.CustomerInactive, domain.CustomerVIP, domain.CustomerBlocked}

// AdminServiceDeps wires the admin API. Admin lists are shared by every admin session; writes
// invalidate them in all scopes.
type AdminServiceDeps struct {
	API         AdminAPI
	Authorizer  *Authorizer
	Coordinator *query.Coordinator
	Logger      *zap.Logger
}

type adminService struct {
	api    AdminAPI
	auth   *Authorizer
	co     *query.Coordinator
	cache  *query.Cache
	logger *zap.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(deps AdminServiceDeps) (AdminService, error) {
	if deps.API == nil {
		return nil, errors.New("admin service: api is required")
	}
	if deps.Authorizer == nil || deps.Coordinator == nil {
		return nil, errors.New("admin service: authorizer and coordinator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &adminService{
		api:    deps.API,
		auth:   deps.Authorizer,
		co:     deps.Coordinator,
		cache:  deps.Coordinator.Cache(),
		logger: logger.Named("admin"),
	}, nil
}

func (s *adminService) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	return adminRead(ctx, s, query.NewKey(tagAdminDashboard, "", nil), s.api.Dashboard)
}

func (s *adminService) Analytics(ctx context.Context, period string) (domain.Analytics, error) {
	period = strings.TrimSpace(period)
	if period != "" && !slices.Contains(domain.AnalyticsPeriods, period) {
		return domain.Analytics{}, &ValidationError{Problems: []FieldProblem{{Field: "period", Message: "Unknown analytics period"}}}
	}
	key := query.NewKey(tagAdminAnalytics, "", url.Values{"period": {period}})
	return adminRead(ctx, s, key, func(ctx context.Context) (domain.Analytics, error) {
		return s.api.Analytics(ctx, period)
	})
}

func (s *adminService) Products(ctx context.Context, filters domain.AdminFilters) (domain.AdminProductList, error) {
	filters = normalizeAdminFilters(filters)
	return adminRead(ctx, s, query.NewKey(tagAdminProducts, "", filters.Values()), func(ctx context.Context) (domain.AdminProductList, error) {
		return s.api.AdminProducts(ctx, filters)
	})
}

func (s *adminService) Product(ctx context.Context, id string) (domain.AdminProduct, error) {
	if id = strings.TrimSpace(id); id == "" {
		return domain.AdminProduct{}, ErrInvalidInput
	}
	return adminRead(ctx, s, detailKey(AdminProducts, id), func(ctx context.Context) (domain.AdminProduct, error) {
		return s.api.AdminProduct(ctx, id)
	})
}

func (s *adminService) CreateProduct(ctx context.Context, in domain.AdminProductInput) (domain.AdminProduct, error) {
	if err := validateProductInput(in, true); err != nil {
		return domain.AdminProduct{}, err
	}
	return adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminProducts,
		Kind:    query.KindCreate,
		Subject: "Product",
	}, func(ctx context.Context) (domain.AdminProduct, error) {
		return s.api.CreateProduct(ctx, in)
	})
}

func (s *adminService) UpdateProduct(ctx context.Context, id string, in domain.AdminProductInput) (domain.AdminProduct, error) {
	if id = strings.TrimSpace(id); id == "" {
		return domain.AdminProduct{}, ErrInvalidInput
	}
	if err := validateProductInput(in, false); err != nil {
		return domain.AdminProduct{}, err
	}
	key := detailKey(AdminProducts, id)
	return adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminProducts,
		Kind:    query.KindUpdate,
		Subject: "Product",
		Prime:   &key,
	}, func(ctx context.Context) (domain.AdminProduct, error) {
		return s.api.UpdateProduct(ctx, id, in)
	})
}

func (s *adminService) DeleteProduct(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return ErrInvalidInput
	}
	_, err := adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminProducts,
		Kind:    query.KindDelete,
		Subject: "Product",
	}, discard(func(ctx context.Context) error {
		return s.api.DeleteProduct(ctx, id)
	}))
	return err
}

func (s *adminService) BulkDeleteProducts(ctx context.Context, ids []string) error {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(cleaned, id) {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return &ValidationError{Problems: []FieldProblem{{Field: "ids", Message: "Select at least one product"}}}
	}
	_, err := adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminProducts,
		Kind:    query.KindBulkDelete,
		Success: "Products deleted successfully",
		Failure: "Failed to delete products",
	}, discard(func(ctx context.Context) error {
		return s.api.BulkDeleteProducts(ctx, cleaned)
	}))
	return err
}

func (s *adminService) Orders(ctx context.Context, filters domain.AdminFilters) (domain.AdminOrderList, error) {
	filters = normalizeAdminFilters(filters)
	return adminRead(ctx, s, query.NewKey(tagAdminOrders, "", filters.Values()), func(ctx context.Context) (domain.AdminOrderList, error) {
		return s.api.AdminOrders(ctx, filters)
	})
}

func (s *adminService) Order(ctx context.Context, id string) (domain.AdminOrder, error) {
	if id = strings.TrimSpace(id); id == "" {
		return domain.AdminOrder{}, ErrInvalidInput
	}
	return adminRead(ctx, s, detailKey(AdminOrders, id), func(ctx context.Context) (domain.AdminOrder, error) {
		return s.api.AdminOrder(ctx, id)
	})
}

func (s *adminService) UpdateOrderStatus(ctx context.Context, id, status string) (domain.AdminOrder, error) {
	id = strings.TrimSpace(id)
	var v validator
	v.check(id != "", "id", "Order is required")
	v.check(slices.Contains(domain.OrderStatuses, status), "status", "Unknown order status")
	if err := v.err(); err != nil {
		return domain.AdminOrder{}, err
	}
	key := detailKey(AdminOrders, id)
	return adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminOrders,
		Kind:    query.KindUpdate,
		Success: "Order status updated",
		Failure: "Failed to update order",
		Prime:   &key,
	}, func(ctx context.Context) (domain.AdminOrder, error) {
		return s.api.UpdateOrderStatus(ctx, id, status)
	})
}

func (s *adminService) CancelOrder(ctx context.Context, id string) error {
	if id = strings.TrimSpace(id); id == "" {
		return ErrInvalidInput
	}
	_, err := adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminOrders,
		Kind:    query.KindAction,
		Success: "Order cancelled",
		Failure: "Failed to cancel order",
	}, discard(func(ctx context.Context) error {
		return s.api.AdminCancelOrder(ctx, id)
	}))
	return err
}

func (s *adminService) Customers(ctx context.Context, filters domain.AdminFilters) (domain.AdminCustomerList, error) {
	filters = normalizeAdminFilters(filters)
	return adminRead(ctx, s, query.NewKey(tagAdminCustomers, "", filters.Values()), func(ctx context.Context) (domain.AdminCustomerList, error) {
		return s.api.AdminCustomers(ctx, filters)
	})
}

func (s *adminService) Customer(ctx context.Context, id string) (domain.AdminCustomer, error) {
	if id = strings.TrimSpace(id); id == "" {
		return domain.AdminCustomer{}, ErrInvalidInput
	}
	return adminRead(ctx, s, detailKey(AdminCustomers, id), func(ctx context.Context) (domain.AdminCustomer, error) {
		return s.api.AdminCustomer(ctx, id)
	})
}

func (s *adminService) UpdateCustomerStatus(ctx context.Context, id, status string) (domain.AdminCustomer, error) {
	id = strings.TrimSpace(id)
	var v validator
	v.check(id != "", "id", "Customer is required")
	v.check(slices.Contains(customerStatuses, status), "status", "Unknown customer status")
	if err := v.err(); err != nil {
		return domain.AdminCustomer{}, err
	}
	key := detailKey(AdminCustomers, id)
	return adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminCustomers,
		Kind:    query.KindUpdate,
		Success: "Customer status updated",
		Failure: "Failed to update customer",
		Prime:   &key,
	}, func(ctx context.Context) (domain.AdminCustomer, error) {
		return s.api.UpdateCustomerStatus(ctx, id, status)
	})
}

func (s *adminService) BlockCustomer(ctx context.Context, id string) error {
	return s.customerAction(ctx, id, "Customer blocked", "Failed to block customer", s.api.BlockCustomer)
}

func (s *adminService) UnblockCustomer(ctx context.Context, id string) error {
	return s.customerAction(ctx, id, "Customer unblocked", "Failed to unblock customer", s.api.UnblockCustomer)
}

func (s *adminService) customerAction(ctx context.Context, id, success, failure string, op func(ctx context.Context, id string) error) error {
	if id = strings.TrimSpace(id); id == "" {
		return ErrInvalidInput
	}
	_, err := adminWrite(ctx, s, query.MutationSpec{
		Tag:     tagAdminCustomers,
		Kind:    query.KindAction,
		Success: success,
		Failure: failure,
	}, discard(func(ctx context.Context) error {
		return op(ctx, id)
	}))
	return err
}

// Watch subscribes to a listing so the caller receives a new snapshot after every invalidation.
func (s *adminService) Watch(ctx context.Context, resource AdminResource, filters domain.AdminFilters) (*query.Subscription, error) {
	authed, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	sid, err := s.auth.Session(ctx)
	if err != nil {
		return nil, err
	}
	filters = normalizeAdminFilters(filters)
	// Scoped to the session: the fetcher carries this admin's token, and signing out invalidates
	// the entry. Admin writes invalidate every scope of the tag.
	key := query.NewKey(resource.tag(), sid, filters.Values())
	switch resource {
	case AdminProducts:
		return query.Subscribe(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.AdminProductList, error) {
			return s.api.AdminProducts(ctx, filters)
		}))
	case AdminOrders:
		return query.Subscribe(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.AdminOrderList, error) {
			return s.api.AdminOrders(ctx, filters)
		}))
	case AdminCustomers:
		return query.Subscribe(authed, s.cache, key, bound(authed, func(ctx context.Context) (domain.AdminCustomerList, error) {
			return s.api.AdminCustomers(ctx, filters)
		}))
	default:
		return nil, ErrInvalidInput
	}
}

// adminRead serves a shared admin entry to an admin session.
func adminRead[T any](ctx context.Context, s *adminService, key query.Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	authed, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return zero, err
	}
	value, err := query.Get(authed, s.cache, key, bound(authed, fetch))
	if err != nil {
		sid, _ := s.auth.Session(ctx)
		return zero, s.auth.Observe(ctx, sid, err)
	}
	return value, nil
}

// adminWrite runs an admin mutation. Admin entries are shared, so the invalidation spans scopes.
func adminWrite[T any](ctx context.Context, s *adminService, spec query.MutationSpec, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	authed, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return zero, err
	}
	spec.Scope = ""
	value, err := query.Perform(authed, s.co, spec, op)
	if err != nil {
		sid, _ := s.auth.Session(ctx)
		return zero, s.auth.Observe(ctx, sid, err)
	}
	return value, nil
}

func discard(op func(ctx context.Context) error) func(ctx context.Context) (struct{}, error) {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}
}

func detailKey(resource AdminResource, id string) query.Key {
	return query.NewKey(resource.tag()+"/detail", "", idParams(id))
}

func normalizeAdminFilters(f domain.AdminFilters) domain.AdminFilters {
	f.Search = strings.TrimSpace(f.Search)
	f.Category = strings.TrimSpace(f.Category)
	f.Status = strings.TrimSpace(f.Status)
	if strings.EqualFold(f.Status, "all") {
		f.Status = ""
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage > maxAdminPageSize {
		f.PerPage = maxAdminPageSize
	}
	return f
}

func validateProductInput(in domain.AdminProductInput, create bool) error {
	var v validator
	if create {
		v.check(in.Name != nil && strings.TrimSpace(*in.Name) != "", "name", "Name is required")
		v.check(in.SKU != nil && strings.TrimSpace(*in.SKU) != "", "sku", "SKU is required")
		v.check(in.Price != nil, "price", "Price is required")
	} else {
		v.check(in.Name == nil || strings.TrimSpace(*in.Name) != "", "name", "Name must not be empty")
	}
	v.check(in.Price == nil || !in.Price.LessThan(decimal.Zero), "price", "Price must not be negative")
	v.check(in.Stock == nil || *in.Stock >= 0, "stock", "Stock must not be negative")
	v.check(in.Status == nil || slices.Contains([]string{domain.ProductActive, domain.ProductLowStock, domain.ProductOutOfStock, domain.ProductDraft}, *in.Status), "status", "Unknown product status")
	return v.err()
}
