package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/quill/internal/ingest"
	"github.com/kalambet/quill/internal/retrieval"
	"github.com/kalambet/quill/internal/storage"
)

type createSourceRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func handleCreateSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		src := storage.KnowledgeSource{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveKnowledgeSource(src); err != nil {
			writeDomainError(w, err)
			return
		}

		// Embedding is best-effort background work; the source is usable
		// for prompting either way.
		if deps.Searcher != nil {
			if err := ingest.EnqueueSourceEmbed(deps.Store, src.ID); err != nil {
				writeDomainError(w, err)
				return
			}
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, src)
	}
}

func handleListSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Store.ListKnowledgeSources()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if sources == nil {
			sources = []storage.KnowledgeSource{}
		}
		writeJSON(w, sources)
	}
}

func handleGetSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := deps.Store.GetKnowledgeSource(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, src)
	}
}

func handleDeleteSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if deps.Searcher != nil {
			_ = deps.Searcher.RemoveSource(id)
		}
		_ = deps.Store.DeletePathwayCache(id)

		if err := deps.Store.DeleteKnowledgeSource(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSearchSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Searcher == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "semantic search is not configured")
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		topK := parseIntParam(r, "top_k", 5, 50)

		hits, err := deps.Searcher.Search(r.Context(), query, topK)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if hits == nil {
			hits = []retrieval.SourceHit{}
		}
		writeJSON(w, hits)
	}
}
