package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/insightdash/insights-backend/internal/config"
	"github.com/insightdash/insights-backend/internal/elasticsearch"
	"github.com/insightdash/insights-backend/internal/models"
	"github.com/insightdash/insights-backend/internal/search"
)

// articleStore is the slice of the Elasticsearch client the handlers use.
type articleStore interface {
	SearchArticles(ctx context.Context, f search.Filter, p search.Page) (*elasticsearch.SearchResult, error)
	GetArticle(ctx context.Context, id string) (json.RawMessage, error)
	UpdateArticle(ctx context.Context, id string, fields map[string]any) error
	DeleteArticle(ctx context.Context, id string) error
	DeleteArticles(ctx context.Context, ids []string) (int64, error)
	Health(ctx context.Context) error
}

type server struct {
	log   *slog.Logger
	cfg   *config.API
	store articleStore
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type listResponse struct {
	TotalRecords int64             `json:"totalRecords"`
	TotalPages   int64             `json:"totalPages"`
	CurrentPage  int               `json:"currentPage"`
	Articles     []json.RawMessage `json:"articles"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestMetrics)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleList)
		r.Get("/search/{id}", s.handleGet)
		r.Put("/edit/{id}", s.handleUpdate)
		r.Delete("/search/multiple", s.handleDeleteMany)
		r.Delete("/search/{id}", s.handleDelete)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	filter, page := search.ParseQuery(r.URL.Query(), s.cfg.DefaultLimit, s.cfg.MaxLimit)

	result, err := s.store.SearchArticles(ctx, filter, page)
	if err != nil {
		s.log.Error("search articles", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed"})
		return
	}

	articles := result.Items
	if articles == nil {
		articles = []json.RawMessage{}
	}

	limit := int64(page.Limit)
	writeJSON(w, http.StatusOK, listResponse{
		TotalRecords: result.Total,
		TotalPages:   (result.Total + limit - 1) / limit,
		CurrentPage:  page.Number,
		Articles:     articles,
	})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return
	}

	doc, err := s.store.GetArticle(ctx, id)
	if errors.Is(err, elasticsearch.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return
	}
	if err != nil {
		s.log.Error("get article", slog.String("id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "fetch failed"})
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	// The collection is schema-less and arbitrary keys are persisted as
	// supplied, but the stored id may never diverge from the document key.
	delete(fields, "id")

	err := s.store.UpdateArticle(ctx, id, fields)
	if errors.Is(err, elasticsearch.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return
	}
	if err != nil {
		s.log.Error("update article", slog.String("id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "update failed"})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "record updated successfully"})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return
	}

	err := s.store.DeleteArticle(ctx, id)
	if errors.Is(err, elasticsearch.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return
	}
	if err != nil {
		s.log.Error("delete article", slog.String("id", id), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "delete failed"})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "record deleted successfully"})
}

func (s *server) handleDeleteMany(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var payload struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object with an ids list"})
		return
	}
	if len(payload.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ids must contain at least one id"})
		return
	}

	// Whole-batch gate: one malformed id rejects the request before any
	// store call, nothing is deleted.
	for _, id := range payload.IDs {
		if err := models.ValidateID(id); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid article id %q", id)})
			return
		}
	}

	deleted, err := s.store.DeleteArticles(ctx, payload.IDs)
	if err != nil {
		s.log.Error("delete articles", slog.Int("ids", len(payload.IDs)), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "delete failed"})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("%d records deleted successfully", deleted)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
