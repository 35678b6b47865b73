package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/quill/internal/exchange"
	"github.com/kalambet/quill/internal/feedback"
	"github.com/kalambet/quill/internal/pathway"
)

type pathwaySearchRequest struct {
	SourceIDs   []string `json:"sourceIds"`
	Task        string   `json:"task"`
	MaxPathways int      `json:"maxPathways"`
}

func handlePathwaySearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pathwaySearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Task == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task is required")
			return
		}
		sources, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		refs, err := deps.Pathways.FindRelevant(r.Context(), sources, req.Task)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if refs == nil {
			refs = []pathway.Reference{}
		}
		writeJSON(w, refs)
	}
}

func handlePathwayOptimal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pathwaySearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Task == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task is required")
			return
		}
		limit := req.MaxPathways
		if limit <= 0 {
			limit = deps.MaxPathwaysDefault
		}
		sources, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		refs, err := deps.Pathways.FindOptimal(r.Context(), sources, req.Task, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if refs == nil {
			refs = []pathway.Reference{}
		}
		writeJSON(w, refs)
	}
}

type pathwayProcessRequest struct {
	PersonaID string              `json:"personaId"`
	SourceIDs []string            `json:"sourceIds"`
	Task      string              `json:"task"`
	Selected  []pathway.Reference `json:"selected"`
}

func handlePathwayProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pathwayProcessRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(req.PersonaID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		sources, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		result, err := deps.Pathways.Process(r.Context(), p, sources, req.Selected, req.Task)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, result)
	}
}

type rateEditRequest struct {
	PersonaID string `json:"personaId"`
	Stars     int    `json:"stars"`
	Comments  string `json:"comments"`
	Content   string `json:"content"`
}

func handleRateEdit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rateEditRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(req.PersonaID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		rating, err := deps.Feedback.RateEdit(r.Context(), p, chi.URLParam(r, "id"), req.Stars, req.Comments, req.Content)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, rating)
	}
}

func handleGetRating(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rating, err := deps.Feedback.Rating(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, rating)
	}
}

type suggestionsRequest struct {
	PersonaID string `json:"personaId"`
	Content   string `json:"content"`
}

func handleSuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggestionsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(req.PersonaID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		suggestions := deps.Feedback.Suggestions(r.Context(), p, chi.URLParam(r, "id"), req.Content)
		if suggestions == nil {
			suggestions = []feedback.Suggestion{}
		}
		writeJSON(w, suggestions)
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Exchanger.Export()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, doc)
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doc exchange.Document
		if !decodeBody(w, r, &doc) {
			return
		}
		if err := deps.Exchanger.Import(doc); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"status":           "imported",
			"personas":         len(doc.Personas),
			"knowledgeSources": len(doc.KnowledgeSources),
		})
	}
}
