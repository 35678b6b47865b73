package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/quill/internal/compose"
	"github.com/kalambet/quill/internal/feedback"
	"github.com/kalambet/quill/internal/ingest"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/pipeline"
	"github.com/kalambet/quill/internal/storage"
)

type createPersonaRequest struct {
	Name          string           `json:"name"`
	Surname       string           `json:"surname"`
	Role          string           `json:"role"`
	Bio           string           `json:"bio"`
	ShaperSources []persona.Source `json:"shaperSources"`
}

func handleCreatePersona(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPersonaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.Role == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "role is required")
			return
		}

		for i := range req.ShaperSources {
			if req.ShaperSources[i].ID == "" {
				req.ShaperSources[i].ID = uuid.NewString()
			}
		}

		p := persona.Persona{
			ID:                uuid.NewString(),
			Name:              req.Name,
			Surname:           req.Surname,
			Role:              req.Role,
			Bio:               req.Bio,
			ShaperSources:     req.ShaperSources,
			CalibrationStatus: persona.StatusUncalibrated,
		}
		if err := deps.Personas.Save(p); err != nil {
			writeDomainError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, p)
	}
}

func handleListPersonas(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		personas, err := deps.Personas.List()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if personas == nil {
			personas = []persona.Persona{}
		}
		writeJSON(w, personas)
	}
}

func handleGetPersona(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

func handleDeletePersona(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Personas.Delete(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSetWeights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var weights persona.Weights
		if !decodeBody(w, r, &weights) {
			return
		}
		p, err := deps.Personas.SetWeights(chi.URLParam(r, "id"), weights)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, p)
	}
}

// handleCalibrate flips the persona to calibrating and queues the two-pass
// extraction for the background worker.
func handleCalibrate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := ingest.EnqueueCalibration(deps.Store, id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{
			"id":     id,
			"status": string(persona.StatusCalibrating),
		})
	}
}

type compileRequest struct {
	SourceIDs  []string `json:"sourceIds"`
	CurrentDoc string   `json:"currentDoc"`
}

func handleCompile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req compileRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		knowledge, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		instruction := compose.Instruction(p, knowledge, req.CurrentDoc)
		writeJSON(w, map[string]any{
			"instruction":     instruction,
			"estimatedTokens": compose.EstimateTokens(instruction),
		})
	}
}

type draftRequest struct {
	Task        string   `json:"task"`
	SourceIDs   []string `json:"sourceIds"`
	CurrentDoc  string   `json:"currentDoc"`
	Temperature float64  `json:"temperature"`
}

func handleDraft(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req draftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		knowledge, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		res, err := deps.Drafter.Draft(r.Context(), p, pipeline.Request{
			Task:        req.Task,
			Knowledge:   knowledge,
			CurrentDoc:  req.CurrentDoc,
			Temperature: req.Temperature,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func handleListSnapshots(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		snapshots := p.Snapshots
		if snapshots == nil {
			snapshots = []persona.DocumentSnapshot{}
		}
		writeJSON(w, snapshots)
	}
}

type evolutionRequest struct {
	CurrentDoc string   `json:"currentDoc"`
	SourceIDs  []string `json:"sourceIds"`
}

func handleGuidance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evolutionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		knowledge, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		guidance := deps.Evolution.Guidance(r.Context(), p, req.CurrentDoc, knowledge)

		p.Guidance = append(p.Guidance, guidance...)
		if err := deps.Personas.Save(p); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, guidance)
	}
}

func handleApplyGuidance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		gid := chi.URLParam(r, "guidanceID")
		for i := range p.Guidance {
			if p.Guidance[i].ID != gid {
				continue
			}
			p.Guidance[i].Applied = true
			if err := deps.Personas.Save(p); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, p.Guidance[i])
			return
		}
		writeDomainError(w, fmt.Errorf("guidance %s: %w", gid, storage.ErrNotFound))
	}
}

func handleChemistry(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evolutionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Personas.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		knowledge, err := loadSources(deps.Store, req.SourceIDs)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		report := deps.Evolution.BalanceChemistry(r.Context(), p, req.CurrentDoc, knowledge)

		p.Chemistry = &report
		if err := deps.Personas.Save(p); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, report)
	}
}

func handleListRatings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		ratings, err := deps.Feedback.Ratings(chi.URLParam(r, "id"), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if ratings == nil {
			ratings = []feedback.Rating{}
		}
		writeJSON(w, ratings)
	}
}
