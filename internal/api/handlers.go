// Package api exposes the persona management REST API and the MCP server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/evolution"
	"github.com/kalambet/quill/internal/exchange"
	"github.com/kalambet/quill/internal/feedback"
	"github.com/kalambet/quill/internal/pathway"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/pipeline"
	"github.com/kalambet/quill/internal/retrieval"
	"github.com/kalambet/quill/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

// Deps carries everything the HTTP layer needs. Searcher is optional; when
// nil, semantic source search returns 503 and vector cleanup is skipped.
type Deps struct {
	Store     *storage.Store
	Personas  *persona.Manager
	Drafter   *pipeline.Drafter
	Pathways  *pathway.Engine
	Evolution *evolution.Tracker
	Feedback  *feedback.Loop
	Exchanger *exchange.Exchanger
	Searcher  *retrieval.Searcher
	Token     string

	// MaxPathwaysDefault bounds optimal-pathway responses when the request
	// does not say otherwise.
	MaxPathwaysDefault int
}

// NewHandler builds the full authenticated API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/personas", func(r chi.Router) {
			r.Post("/", handleCreatePersona(deps))
			r.Get("/", handleListPersonas(deps))
			r.Get("/{id}", handleGetPersona(deps))
			r.Delete("/{id}", handleDeletePersona(deps))
			r.Put("/{id}/weights", handleSetWeights(deps))
			r.Post("/{id}/calibrate", handleCalibrate(deps))
			r.Post("/{id}/compile", handleCompile(deps))
			r.Post("/{id}/draft", handleDraft(deps))
			r.Get("/{id}/snapshots", handleListSnapshots(deps))
			r.Post("/{id}/guidance", handleGuidance(deps))
			r.Put("/{id}/guidance/{guidanceID}/applied", handleApplyGuidance(deps))
			r.Post("/{id}/chemistry", handleChemistry(deps))
			r.Get("/{id}/ratings", handleListRatings(deps))
		})

		r.Route("/sources", func(r chi.Router) {
			r.Post("/", handleCreateSource(deps))
			r.Get("/", handleListSources(deps))
			r.Get("/search", handleSearchSources(deps))
			r.Get("/{id}", handleGetSource(deps))
			r.Delete("/{id}", handleDeleteSource(deps))
		})

		r.Route("/pathways", func(r chi.Router) {
			r.Post("/search", handlePathwaySearch(deps))
			r.Post("/optimal", handlePathwayOptimal(deps))
			r.Post("/process", handlePathwayProcess(deps))
		})

		r.Route("/edits/{id}", func(r chi.Router) {
			r.Post("/rating", handleRateEdit(deps))
			r.Get("/rating", handleGetRating(deps))
			r.Post("/suggestions", handleSuggestions(deps))
		})

		r.Get("/export", handleExport(deps))
		r.Post("/import", handleImport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// loadSources resolves knowledge source ids to prompt-ready sources.
// An empty id list means every stored source.
func loadSources(store *storage.Store, ids []string) ([]persona.Source, error) {
	if len(ids) == 0 {
		all, err := store.ListKnowledgeSources()
		if err != nil {
			return nil, err
		}
		out := make([]persona.Source, 0, len(all))
		for _, src := range all {
			out = append(out, persona.Source{ID: src.ID, Name: src.Name, Content: src.Content})
		}
		return out, nil
	}

	out := make([]persona.Source, 0, len(ids))
	for _, id := range ids {
		src, err := store.GetKnowledgeSource(id)
		if err != nil {
			return nil, fmt.Errorf("knowledge source %s: %w", id, err)
		}
		out = append(out, persona.Source{ID: src.ID, Name: src.Name, Content: src.Content})
	}
	return out, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain error types onto HTTP statuses with the
// standard error envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *persona.ValidationError
	var ierr *exchange.ImportError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.As(err, &ierr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case engine.IsGeneration(err):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
