// Package search translates the article listing query parameters into a
// filter predicate and pagination descriptor, and renders the predicate as
// an Elasticsearch bool query. Everything here is pure: same input, same
// output, no I/O.
package search

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Filter is a conjunction of optional per-field conditions. Zero values
// mean "not supplied" and add no condition.
type Filter struct {
	Title string // case-insensitive substring match

	EndYear    *int
	Intensity  *int
	Relevance  *int
	Likelihood *int

	StartYear string
	Sector    string
	Topic     string
	Region    string
	Country   string
	Pestle    string
	Source    string

	StartDate *time.Time
	EndDate   *time.Time
}

// Page is the pagination descriptor; both values are always >= 1.
type Page struct {
	Number int
	Limit  int
}

// From converts the page number into a query offset.
func (p Page) From() int {
	return (p.Number - 1) * p.Limit
}

const maxPageNumber = 1_000_000

// ParseQuery builds a Filter and Page from raw query parameters. Empty
// values are treated as absent, and numeric fields that fail to parse are
// dropped rather than surfaced as errors, so a request with intensity=abc
// simply does not filter on intensity.
func ParseQuery(values url.Values, defaultLimit, maxLimit int) (Filter, Page) {
	f := Filter{
		Title:      text(values, "query"),
		EndYear:    number(values, "end_year"),
		Intensity:  number(values, "intensity"),
		Relevance:  number(values, "relevance"),
		Likelihood: number(values, "likelihood"),
		StartYear:  text(values, "start_year"),
		Sector:     text(values, "sector"),
		Topic:      text(values, "topic"),
		Region:     text(values, "region"),
		Country:    text(values, "country"),
		Pestle:     text(values, "pestle"),
		Source:     text(values, "source"),
		StartDate:  date(values, "start_date"),
		EndDate:    date(values, "end_date"),
	}

	p := Page{
		Number: clampInt(values.Get("page"), 1, maxPageNumber),
		Limit:  clampInt(values.Get("limit"), defaultLimit, maxLimit),
	}

	return f, p
}

// Query renders the filter as an Elasticsearch bool query. Conditions go
// into the filter clause; with no conditions the query degrades to
// match_all. An unbounded date range is never emitted.
func (f Filter) Query() map[string]any {
	filters := make([]map[string]any, 0, 16)

	if f.Title != "" {
		filters = append(filters, map[string]any{
			"wildcard": map[string]any{
				"title": map[string]any{
					"value":            "*" + escapeWildcard(f.Title) + "*",
					"case_insensitive": true,
				},
			},
		})
	}

	// Field order is fixed so identical input yields an identical query.
	intConds := []struct {
		field string
		value *int
	}{
		{"end_year", f.EndYear},
		{"intensity", f.Intensity},
		{"relevance", f.Relevance},
		{"likelihood", f.Likelihood},
	}
	for _, c := range intConds {
		if c.value != nil {
			filters = append(filters, term(c.field, *c.value))
		}
	}

	strConds := []struct {
		field string
		value string
	}{
		{"start_year", f.StartYear},
		{"sector", f.Sector},
		{"topic", f.Topic},
		{"region", f.Region},
		{"country", f.Country},
		{"pestle", f.Pestle},
		{"source", f.Source},
	}
	for _, c := range strConds {
		if c.value != "" {
			filters = append(filters, term(c.field, c.value))
		}
	}

	if f.StartDate != nil || f.EndDate != nil {
		// The same bounds apply to both timestamps independently.
		filters = append(filters, f.dateRange("added"), f.dateRange("published"))
	}

	boolQuery := map[string]any{}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	} else {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	return map[string]any{"bool": boolQuery}
}

func (f Filter) dateRange(field string) map[string]any {
	bounds := map[string]any{}
	if f.StartDate != nil {
		bounds["gte"] = f.StartDate.UTC().Format(time.RFC3339)
	}
	if f.EndDate != nil {
		bounds["lte"] = f.EndDate.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"range": map[string]any{field: bounds},
	}
}

func term(field string, value any) map[string]any {
	return map[string]any{
		"term": map[string]any{field: value},
	}
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeWildcard(raw string) string {
	return wildcardEscaper.Replace(raw)
}

func text(values url.Values, key string) string {
	return strings.TrimSpace(values.Get(key))
}

func number(values url.Values, key string) *int {
	raw := text(values, key)
	if raw == "" {
		return nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

var queryDateFormats = []string{
	time.RFC3339,
	"2006-01-02",
}

func date(values url.Values, key string) *time.Time {
	raw := text(values, key)
	if raw == "" {
		return nil
	}
	for _, f := range queryDateFormats {
		if ts, err := time.Parse(f, raw); err == nil {
			return &ts
		}
	}
	return nil
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}
