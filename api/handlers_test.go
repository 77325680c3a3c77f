package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insightdash/insights-backend/internal/config"
	"github.com/insightdash/insights-backend/internal/elasticsearch"
	"github.com/insightdash/insights-backend/internal/search"
)

const (
	idA = "3f2c9a1e-76b4-4f0a-9c1d-2e8a5b6c7d80"
	idB = "a1b2c3d4-0001-4abc-8def-000000000002"
)

type stubStore struct {
	calls int

	searchResult *elasticsearch.SearchResult
	searchErr    error
	lastFilter   search.Filter
	lastPage     search.Page

	articles map[string]json.RawMessage
	updates  map[string]map[string]any

	deletedBatches [][]string
	deleteManyN    int64
	deleteManyErr  error

	healthErr error
}

func (s *stubStore) SearchArticles(_ context.Context, f search.Filter, p search.Page) (*elasticsearch.SearchResult, error) {
	s.calls++
	s.lastFilter = f
	s.lastPage = p
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.searchResult, nil
}

func (s *stubStore) GetArticle(_ context.Context, id string) (json.RawMessage, error) {
	s.calls++
	if doc, ok := s.articles[id]; ok {
		return doc, nil
	}
	return nil, elasticsearch.ErrNotFound
}

func (s *stubStore) UpdateArticle(_ context.Context, id string, fields map[string]any) error {
	s.calls++
	if _, ok := s.articles[id]; !ok {
		return elasticsearch.ErrNotFound
	}
	if s.updates == nil {
		s.updates = make(map[string]map[string]any)
	}
	s.updates[id] = fields
	return nil
}

func (s *stubStore) DeleteArticle(_ context.Context, id string) error {
	s.calls++
	if _, ok := s.articles[id]; !ok {
		return elasticsearch.ErrNotFound
	}
	delete(s.articles, id)
	return nil
}

func (s *stubStore) DeleteArticles(_ context.Context, ids []string) (int64, error) {
	s.calls++
	s.deletedBatches = append(s.deletedBatches, ids)
	if s.deleteManyErr != nil {
		return 0, s.deleteManyErr
	}
	return s.deleteManyN, nil
}

func (s *stubStore) Health(_ context.Context) error {
	return s.healthErr
}

func newTestServer(store *stubStore) http.Handler {
	srv := &server{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg: &config.API{
			DefaultLimit: 20,
			MaxLimit:     1000,
			CORSOrigins:  []string{"*"},
		},
		store: store,
	}
	return srv.routes()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestListEnvelope(t *testing.T) {
	store := &stubStore{
		searchResult: &elasticsearch.SearchResult{
			Total: 5,
			Items: []json.RawMessage{
				json.RawMessage(`{"title":"a","region":"Africa"}`),
				json.RawMessage(`{"title":"b","region":"Africa"}`),
			},
		},
	}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search?region=Africa&limit=2&page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.EqualValues(t, 5, body["totalRecords"])
	require.EqualValues(t, 3, body["totalPages"])
	require.EqualValues(t, 1, body["currentPage"])
	require.Len(t, body["articles"], 2)

	require.Equal(t, "Africa", store.lastFilter.Region)
	require.Equal(t, 2, store.lastPage.Limit)
	require.Equal(t, 1, store.lastPage.Number)
}

func TestListPagePastEndIsEmptyNotError(t *testing.T) {
	store := &stubStore{
		searchResult: &elasticsearch.SearchResult{Total: 5, Items: nil},
	}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search?limit=2&page=9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.EqualValues(t, 9, body["currentPage"])
	require.Equal(t, []any{}, body["articles"])
}

func TestListStoreError(t *testing.T) {
	store := &stubStore{searchErr: errors.New("connection refused")}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decodeBody(t, rec), "error")
}

func TestGetInvalidIDNeverReachesStore(t *testing.T) {
	store := &stubStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
}

func TestGetNotFound(t *testing.T) {
	store := &stubStore{articles: map[string]json.RawMessage{}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search/"+idA, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPassesDocumentThrough(t *testing.T) {
	raw := `{"title":"gas","custom_field":42}`
	store := &stubStore{articles: map[string]json.RawMessage{idA: json.RawMessage(raw)}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodGet, "/api/search/"+idA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, raw, rec.Body.String())
}

func TestUpdateInvalidID(t *testing.T) {
	store := &stubStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPut, "/api/edit/12345", `{"title":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
}

func TestUpdateInvalidBody(t *testing.T) {
	store := &stubStore{articles: map[string]json.RawMessage{idA: json.RawMessage(`{}`)}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPut, "/api/edit/"+idA, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
}

func TestUpdateNotFoundCreatesNothing(t *testing.T) {
	store := &stubStore{articles: map[string]json.RawMessage{}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPut, "/api/edit/"+idA, `{"title":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, store.updates)
}

func TestUpdateMergesArbitraryFieldsButStripsID(t *testing.T) {
	store := &stubStore{articles: map[string]json.RawMessage{idA: json.RawMessage(`{}`)}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPut, "/api/edit/"+idA,
		`{"title":"new title","made_up_key":true,"id":"spoofed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "record updated successfully", decodeBody(t, rec)["message"])

	fields := store.updates[idA]
	require.Equal(t, "new title", fields["title"])
	require.Equal(t, true, fields["made_up_key"])
	require.NotContains(t, fields, "id")
}

func TestDeleteThenDeleteAgain(t *testing.T) {
	store := &stubStore{articles: map[string]json.RawMessage{idA: json.RawMessage(`{}`)}}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodDelete, "/api/search/"+idA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "record deleted successfully", decodeBody(t, rec)["message"])

	rec = doRequest(t, h, http.MethodDelete, "/api/search/"+idA, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteInvalidID(t *testing.T) {
	store := &stubStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodDelete, "/api/search/zzz", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
}

func TestDeleteManyRejectsWholeBatchOnOneBadID(t *testing.T) {
	store := &stubStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodDelete, "/api/search/multiple",
		`{"ids":["`+idA+`","oops","`+idB+`"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
	require.Empty(t, store.deletedBatches)
}

func TestDeleteManyRejectsEmptyList(t *testing.T) {
	store := &stubStore{}
	h := newTestServer(store)

	rec := doRequest(t, h, http.MethodDelete, "/api/search/multiple", `{"ids":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, store.calls)
}

func TestDeleteManyReportsActualCount(t *testing.T) {
	store := &stubStore{deleteManyN: 2}
	h := newTestServer(store)

	// Three well-formed ids, only two existed; a short count is not an error.
	rec := doRequest(t, h, http.MethodDelete, "/api/search/multiple",
		`{"ids":["`+idA+`","`+idB+`","a1b2c3d4-0001-4abc-8def-000000000003"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2 records deleted successfully", decodeBody(t, rec)["message"])
	require.Len(t, store.deletedBatches, 1)
	require.Len(t, store.deletedBatches[0], 3)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubStore{})
	rec := doRequest(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h = newTestServer(&stubStore{healthErr: errors.New("red")})
	rec = doRequest(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
