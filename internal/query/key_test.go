package query

import (
	"net/url"
	"testing"
)

func TestNewKeyIsOrderIndependent(t *testing.T) {
	a := NewKey("products", "", url.Values{"sort": {"-price"}, "category": {"toys"}, "brand": {""}})
	b := NewKey("/products/", "", url.Values{"category": {"toys"}, "sort": {"-price"}})
	if a != b {
		t.Fatalf("expected equal keys, got %s and %s", a, b)
	}
	if a.String() != "products?category=toys&sort=-price" {
		t.Fatalf("unexpected canonical form %q", a.String())
	}

	c := NewKey("products", "", url.Values{"tags": {"b", "a"}})
	d := NewKey("products", "", url.Values{"tags": {"a", "b"}})
	if c == d {
		t.Fatalf("repeated values keep their order")
	}
	if NewKey("cart", "sess_1", nil) == NewKey("cart", "sess_2", nil) {
		t.Fatalf("scopes must partition keys")
	}
}

func TestFilterMatches(t *testing.T) {
	list := NewKey("admin/products", "", url.Values{"page": {"2"}, "status": {"active"}})
	detail := NewKey("admin/products/p1", "", nil)
	other := NewKey("administer", "", nil)
	cart := NewKey("cart", "sess_1", nil)

	cases := []struct {
		name   string
		filter Filter
		key    Key
		want   bool
	}{
		{"exact tag", Filter{Tag: "admin/products"}, list, true},
		{"nested tag", Filter{Tag: "admin/products"}, detail, true},
		{"parent tag", Filter{Tag: "admin"}, list, true},
		{"segment boundary", Filter{Tag: "admin"}, other, false},
		{"scope mismatch", Filter{Tag: "cart", Scope: "sess_2"}, cart, false},
		{"empty scope matches all", Filter{Tag: "cart"}, cart, true},
		{"params subset", Filter{Tag: "admin/products", Params: url.Values{"status": {"active"}}}, list, true},
		{"params mismatch", Filter{Tag: "admin/products", Params: url.Values{"status": {"draft"}}}, list, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(tc.key); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
