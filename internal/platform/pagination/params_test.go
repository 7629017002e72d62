package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	p, err := Parse(nil, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p != (Params{Page: 1, PageSize: DefaultPageSize}) {
		t.Fatalf("unexpected defaults %+v", p)
	}
}

func TestParseClampsPageSize(t *testing.T) {
	opts := Options{SizeParam: "per_page", DefaultPageSize: 25, MaxPageSize: 40}
	cases := map[string]int{"": 25, "30": 30, "400": 40}
	for raw, want := range cases {
		p, err := Parse(url.Values{"per_page": {raw}}, opts)
		if err != nil {
			t.Fatalf("per_page=%q: %v", raw, err)
		}
		if p.PageSize != want {
			t.Fatalf("per_page=%q: got %d want %d", raw, p.PageSize, want)
		}
	}
}

func TestParseDefaultNeverExceedsMax(t *testing.T) {
	p, err := Parse(url.Values{}, Options{DefaultPageSize: 50, MaxPageSize: 20})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.PageSize != 20 {
		t.Fatalf("expected 20, got %d", p.PageSize)
	}
}

func TestParseRejectsNamesTheParam(t *testing.T) {
	cases := []struct {
		query url.Values
		param string
	}{
		{url.Values{"page": {"abc"}}, "page"},
		{url.Values{"page": {"-2"}}, "page"},
		{url.Values{"limit": {"0"}}, "limit"},
		{url.Values{"sort": {"rating"}}, "sort"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.query, Options{AllowedSorts: []string{"price", "-price"}})
		var pe *Error
		if !errors.As(err, &pe) {
			t.Fatalf("%v: expected *Error, got %v", tc.query, err)
		}
		if pe.Param != tc.param {
			t.Fatalf("%v: expected param %s, got %s", tc.query, tc.param, pe.Param)
		}
		if !IsInvalid(err) {
			t.Fatalf("IsInvalid should hold for %v", err)
		}
	}
}

func TestParseAcceptsAllowedSort(t *testing.T) {
	p, err := Parse(url.Values{"sort": {"-price"}, "page": {"3"}}, Options{AllowedSorts: []string{"price", "-price"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Sort != "-price" || p.Page != 3 {
		t.Fatalf("unexpected params %+v", p)
	}
}
