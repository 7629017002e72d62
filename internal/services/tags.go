package services

import (
	"net/url"

	"finitefield.org/wholesale/internal/query"
)

// Cache tags. Tags nest by slash, so invalidating "products" also invalidates "products/detail".
const (
	tagProducts       = "products"
	tagProductList    = "products/list"
	tagProductSearch  = "products/search"
	tagProductDetail  = "products/detail"
	tagProductReviews = "products/reviews"
	tagCollections    = "products/collections"
	tagCategories     = "categories"

	tagCart    = "cart"
	tagOrders  = "orders"
	tagProfile = "auth/profile"

	tagAdminDashboard = "admin/dashboard"
	tagAdminAnalytics = "admin/analytics"
	tagAdminProducts  = "admin/products"
	tagAdminOrders    = "admin/orders"
	tagAdminCustomers = "admin/customers"
	tagAdminSettings  = "admin/settings"
)

// RegisterInvalidationRules installs the cross-resource dependencies: removing products, orders or
// customers changes the aggregates, and any admin product write changes the storefront catalog.
func RegisterInvalidationRules(co *query.Coordinator) {
	removals := []query.MutationKind{query.KindDelete, query.KindBulkDelete}
	for _, tag := range []string{tagAdminProducts, tagAdminOrders, tagAdminCustomers} {
		co.Depend(tag, removals, tagAdminDashboard, tagAdminAnalytics)
	}
	co.Depend(tagAdminOrders, []query.MutationKind{query.KindUpdate, query.KindAction}, tagAdminDashboard)
	co.Depend(tagAdminProducts, nil, tagProducts)
}

func profileKey(sid string) query.Key {
	return query.NewKey(tagProfile, sid, nil)
}

func cartKey(sid string) query.Key {
	return query.NewKey(tagCart, sid, nil)
}

func idParams(id string) url.Values {
	return url.Values{"id": {id}}
}
