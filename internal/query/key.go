// Package query is the remote resource cache shared by every request the storefront serves, plus
// the coordinator through which all writes invalidate it.
package query

import (
	"net/url"
	"strings"
)

// Key identifies one cache entry. Tags are slash separated ("admin/products"); Scope partitions
// per-session resources (empty for shared ones); params are held in canonical form so that filter
// order never produces a distinct entry. Key is comparable and safe to use as a map key.
type Key struct {
	tag    string
	scope  string
	params string
}

// NewKey builds a key from a tag, a scope and filter params. Empty values are dropped; keys are
// sorted; repeated values keep their order.
func NewKey(tag, scope string, params url.Values) Key {
	return Key{tag: normalizeTag(tag), scope: scope, params: canonicalParams(params)}
}

// Tag returns the resource tag.
func (k Key) Tag() string { return k.tag }

// Scope returns the partition, empty for shared resources.
func (k Key) Scope() string { return k.scope }

// Params returns a copy of the canonical filter params.
func (k Key) Params() url.Values {
	values, err := url.ParseQuery(k.params)
	if err != nil {
		return url.Values{}
	}
	return values
}

// String renders the key for logs.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.tag)
	if k.scope != "" {
		b.WriteString("@")
		b.WriteString(k.scope)
	}
	if k.params != "" {
		b.WriteString("?")
		b.WriteString(k.params)
	}
	return b.String()
}

// Filter selects entries for invalidation. Tag matches itself and every tag nested below it.
// An empty Scope matches every scope; Params, when set, must all be present on the entry.
type Filter struct {
	Tag    string
	Scope  string
	Params url.Values
}

// Matches reports whether k is selected by f.
func (f Filter) Matches(k Key) bool {
	tag := normalizeTag(f.Tag)
	if tag != "" && k.tag != tag && !strings.HasPrefix(k.tag, tag+"/") {
		return false
	}
	if f.Scope != "" && k.scope != f.Scope {
		return false
	}
	if len(f.Params) == 0 {
		return true
	}
	have := k.Params()
	for name, want := range f.Params {
		want = nonEmpty(want)
		if len(want) == 0 {
			continue
		}
		got := have[name]
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
	}
	return true
}

func normalizeTag(tag string) string {
	parts := strings.Split(tag, "/")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

func canonicalParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	clean := make(url.Values, len(params))
	for name, values := range params {
		if values = nonEmpty(values); len(values) > 0 {
			clean[name] = values
		}
	}
	// Encode sorts by key.
	return clean.Encode()
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
