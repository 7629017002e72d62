// Package pagination reads page, page size and sort parameters from list requests.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 12
	DefaultMaxPageSize = 100
)

// Params is a validated page request.
type Params struct {
	Page     int
	PageSize int
	Sort     string
}

// Options describe one list surface. SizeParam is "limit" on the storefront and "per_page" on
// admin lists. AllowedSorts includes any "-" descending variants.
type Options struct {
	SizeParam       string
	DefaultPageSize int
	MaxPageSize     int
	AllowedSorts    []string
}

// Error reports the query parameter that was rejected.
type Error struct {
	Param  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pagination: %s %s", e.Param, e.Reason)
}

// IsInvalid reports whether err is a rejected parameter.
func IsInvalid(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Parse reads the page request. Sizes above the maximum are clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	sizeParam := opts.SizeParam
	if sizeParam == "" {
		sizeParam = "limit"
	}
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	p := Params{Page: 1, PageSize: min(size, limit)}
	if err := positive(values, "page", &p.Page); err != nil {
		return Params{}, err
	}
	if err := positive(values, sizeParam, &p.PageSize); err != nil {
		return Params{}, err
	}
	p.PageSize = min(p.PageSize, limit)

	if sort := strings.TrimSpace(values.Get("sort")); sort != "" {
		if !slices.Contains(opts.AllowedSorts, sort) {
			return Params{}, &Error{Param: "sort", Reason: fmt.Sprintf("%q is not supported", sort)}
		}
		p.Sort = sort
	}
	return p, nil
}

// positive overwrites *dst with the named parameter when present.
func positive(values url.Values, name string, dst *int) error {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return &Error{Param: name, Reason: "must be an integer"}
	case n < 1:
		return &Error{Param: name, Reason: "must be greater than zero"}
	}
	*dst = n
	return nil
}
