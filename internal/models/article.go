package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespace for ids derived from article content. Must never change, or
// replayed documents would stop deduplicating against their earlier ids.
var idNamespace = uuid.MustParse("7e0e2f4e-9d6b-4a2c-8f33-5a1b0c9d4e21")

// Article is the canonical document stored in Elasticsearch. The collection
// is schema-less: fields beyond the typed ones are carried in Extra and
// round-trip unchanged. Absent fields are omitted from the stored document,
// never written as null.
type Article struct {
	ID        string
	Title     string
	Sector    string
	Topic     string
	Region    string
	Country   string
	Pestle    string
	Source    string
	StartYear string

	EndYear    *int
	Intensity  *int
	Relevance  *int
	Likelihood *int

	Added     time.Time
	Published time.Time

	Extra map[string]any
}

// dateFormats covers the feeds observed so far; first match wins.
var dateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January, 02 2006 15:04:05",
}

// ParseDate parses an article timestamp in any supported format.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, f := range dateFormats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// DeriveID builds a deterministic id for a document that arrived without
// one, so replays of the same article map onto the same identifier.
func DeriveID(source, title string, published time.Time) string {
	seed := source + "|" + title + "|" + published.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}

// ValidateID is the single identifier-format rule. Every API path checks it
// before touching the store; a malformed id never reaches Elasticsearch.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid article id %q: %w", id, err)
	}
	return nil
}

// NormalizeTitle unescapes HTML entities and collapses whitespace.
func NormalizeTitle(raw string) string {
	return strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
}

// UnmarshalJSON accepts loosely-typed feed documents: numeric fields may
// arrive as numbers or numeric strings, empty strings count as absent, and
// unknown keys are preserved in Extra.
func (a *Article) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}

	a.ID = popString(m, "id")
	a.Title = popString(m, "title")
	a.Sector = popString(m, "sector")
	a.Topic = popString(m, "topic")
	a.Region = popString(m, "region")
	a.Country = popString(m, "country")
	a.Pestle = popString(m, "pestle")
	a.Source = popString(m, "source")
	a.StartYear = popString(m, "start_year")

	a.EndYear = popInt(m, "end_year")
	a.Intensity = popInt(m, "intensity")
	a.Relevance = popInt(m, "relevance")
	a.Likelihood = popInt(m, "likelihood")

	a.Added = popDate(m, "added")
	a.Published = popDate(m, "published")

	if len(m) > 0 {
		a.Extra = m
	} else {
		a.Extra = nil
	}
	return nil
}

// MarshalJSON writes the document the store sees: typed fields merged over
// the extras, absent fields omitted, dates in RFC 3339.
func (a Article) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+16)
	for k, v := range a.Extra {
		out[k] = v
	}

	putString(out, "id", a.ID)
	putString(out, "title", a.Title)
	putString(out, "sector", a.Sector)
	putString(out, "topic", a.Topic)
	putString(out, "region", a.Region)
	putString(out, "country", a.Country)
	putString(out, "pestle", a.Pestle)
	putString(out, "source", a.Source)
	putString(out, "start_year", a.StartYear)

	putInt(out, "end_year", a.EndYear)
	putInt(out, "intensity", a.Intensity)
	putInt(out, "relevance", a.Relevance)
	putInt(out, "likelihood", a.Likelihood)

	putDate(out, "added", a.Added)
	putDate(out, "published", a.Published)

	return json.Marshal(out)
}

func popString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	delete(m, key)

	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func popInt(m map[string]any, key string) *int {
	v, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)

	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(n.String()); err == nil {
			return &i
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return &i
		}
	}
	return nil
}

func popDate(m map[string]any, key string) time.Time {
	v, ok := m[key]
	if !ok {
		return time.Time{}
	}
	delete(m, key)

	if s, ok := v.(string); ok {
		if ts, ok := ParseDate(s); ok {
			return ts
		}
	}
	return time.Time{}
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putInt(m map[string]any, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}

func putDate(m map[string]any, key string, v time.Time) {
	if !v.IsZero() {
		m[key] = v.UTC().Format(time.RFC3339)
	}
}
