package pathway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/parse"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/storage"
)

const (
	// relevanceThreshold is the fixed cut for ranked retrieval: only
	// pathways scoring strictly above it are surfaced.
	relevanceThreshold = 30

	// failedScoreDefault is the score assigned when an optimal-pathway
	// scoring call fails, biasing failed scorings low without zeroing.
	failedScoreDefault = 10

	// defaultConfidence substitutes for a failed confidence call after
	// constrained generation.
	defaultConfidence = 75

	// defaultSummary substitutes for a failed processing-summary call.
	defaultSummary = "Generated from the selected pathways."

	// scoreConcurrency bounds parallel relevance-scoring calls.
	scoreConcurrency = 4
)

// Store is the persistence surface the engine needs.
// Implemented by storage.Store.
type Store interface {
	GetPathwayCache(sourceID string) (storage.PathwayCacheEntry, error)
	SavePathwayCache(e storage.PathwayCacheEntry) error
	SavePathwayRun(run storage.PathwayRun) error
}

// Engine extracts pathway artifacts from sources, scores them against
// queries, and runs generation constrained to a selected subset.
type Engine struct {
	gen   engine.Generator
	model string
	store Store
	clock persona.Clock

	mu sync.Mutex // guards cache reads and writes, never extraction
}

// New creates a pathway Engine.
func New(gen engine.Generator, model string, store Store) *Engine {
	return NewWithClock(gen, model, store, persona.RealClock())
}

// NewWithClock creates an Engine with a custom clock (for testing).
func NewWithClock(gen engine.Generator, model string, store Store, clock persona.Clock) *Engine {
	return &Engine{gen: gen, model: model, store: store, clock: clock}
}

// Ingest returns the pathway artifacts for a source, extracting and
// caching them on first sight. Both extraction calls are best-effort: a
// parse failure yields an empty list for that artifact, never an error.
func (e *Engine) Ingest(ctx context.Context, src persona.Source) (Artifacts, error) {
	e.mu.Lock()
	cached, err := e.store.GetPathwayCache(src.ID)
	e.mu.Unlock()
	if err == nil {
		return decodeArtifacts(src.ID, cached)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Artifacts{}, fmt.Errorf("reading pathway cache for %s: %w", src.ID, err)
	}

	// Extraction runs unlocked so slow model calls never serialize
	// unrelated sources. Two racing calls for the same source may both
	// extract; the re-check below keeps the first write.
	a := Artifacts{
		SourceID:  src.ID,
		KeyPoints: e.extractKeyPoints(ctx, src),
		Pathways:  e.extractPathways(ctx, src),
	}

	entry, err := encodeArtifacts(a)
	if err != nil {
		return Artifacts{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, err := e.store.GetPathwayCache(src.ID); err == nil {
		return decodeArtifacts(src.ID, cached)
	}
	if err := e.store.SavePathwayCache(entry); err != nil {
		return Artifacts{}, fmt.Errorf("caching pathway artifacts for %s: %w", src.ID, err)
	}
	return a, nil
}

// extractKeyPoints asks for 10-15 atomic scored facts. Best-effort.
func (e *Engine) extractKeyPoints(ctx context.Context, src persona.Source) []KeyPoint {
	prompt := fmt.Sprintf(
		"Extract 10-15 atomic key facts from the document below. "+
			`Respond with a JSON array of items shaped {"content": "...", "relevance": 0-100, "category": "..."}.`+
			"\n\n--- %s ---\n%s",
		src.Name, excerpt(src.Content, 4000),
	)

	resp, err := e.gen.Generate(ctx, e.model, prompt, &engine.Options{Temperature: 0.2})
	if err != nil {
		slog.Warn("key point extraction failed", "source", src.ID, "error", err)
		return []KeyPoint{}
	}

	var points []KeyPoint
	if !parse.ArrayInto(resp, &points) {
		slog.Warn("key point response unparseable", "source", src.ID)
		return []KeyPoint{}
	}

	kept := points[:0]
	for _, kp := range points {
		if strings.TrimSpace(kp.Content) == "" {
			continue
		}
		if kp.ID == "" {
			kp.ID = uuid.NewString()
		}
		kp.Relevance = clampScore(kp.Relevance)
		kept = append(kept, kp)
	}
	return kept
}

// extractPathways asks for 5-10 coherent routes through the document.
// Best-effort.
func (e *Engine) extractPathways(ctx context.Context, src persona.Source) []Pathway {
	prompt := fmt.Sprintf(
		"Identify 5-10 coherent thematic routes through the document below. "+
			`Respond with a JSON array of items shaped {"title": "...", "content": "3-5 sentences", "keyPointIds": []}.`+
			"\n\n--- %s ---\n%s",
		src.Name, excerpt(src.Content, 4000),
	)

	resp, err := e.gen.Generate(ctx, e.model, prompt, &engine.Options{Temperature: 0.2})
	if err != nil {
		slog.Warn("pathway extraction failed", "source", src.ID, "error", err)
		return []Pathway{}
	}

	var pathways []Pathway
	if !parse.ArrayInto(resp, &pathways) {
		slog.Warn("pathway response unparseable", "source", src.ID)
		return []Pathway{}
	}

	kept := pathways[:0]
	for _, pw := range pathways {
		if strings.TrimSpace(pw.Content) == "" {
			continue
		}
		if pw.ID == "" {
			pw.ID = uuid.NewString()
		}
		if pw.KeyPointIDs == nil {
			pw.KeyPointIDs = []string{}
		}
		kept = append(kept, pw)
	}
	return kept
}

// candidate pairs a pathway with its source for the scoring sweeps.
type candidate struct {
	sourceID   string
	sourceName string
	pathway    Pathway
}

// FindRelevant scores every pathway across the given sources against the
// query and returns those scoring strictly above the threshold, sorted by
// descending score with ties kept in discovery order.
//
// Scoring calls run concurrently but a failed call propagates; use
// FindOptimal for the lenient task-scoring variant.
func (e *Engine) FindRelevant(ctx context.Context, sources []persona.Source, query string) ([]Reference, error) {
	candidates, err := e.collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	scores := make([]int, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			score, err := e.scorePathway(gCtx, c, query)
			if err != nil {
				return fmt.Errorf("scoring pathway %s: %w", c.pathway.ID, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var refs []Reference
	for i, c := range candidates {
		if scores[i] > relevanceThreshold {
			refs = append(refs, Reference{
				SourceID:  c.sourceID,
				PathwayID: c.pathway.ID,
				Relevance: scores[i],
				Context:   c.pathway.Title,
			})
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Relevance > refs[j].Relevance })
	return refs, nil
}

// FindOptimal ingests all sources, scores every pathway against the task
// description, and returns the top maxPathways. A failed scoring call is
// caught and assigned the low default instead of propagating.
func (e *Engine) FindOptimal(ctx context.Context, sources []persona.Source, taskDescription string, maxPathways int) ([]Reference, error) {
	candidates, err := e.collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	scores := make([]int, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(scoreConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			score, err := e.scorePathway(gCtx, c, taskDescription)
			if err != nil {
				slog.Warn("optimal pathway scoring failed, using default", "pathway", c.pathway.ID, "error", err)
				score = failedScoreDefault
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := make([]Reference, len(candidates))
	for i, c := range candidates {
		refs[i] = Reference{
			SourceID:  c.sourceID,
			PathwayID: c.pathway.ID,
			Relevance: scores[i],
			Context:   c.pathway.Title,
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Relevance > refs[j].Relevance })
	if maxPathways > 0 && len(refs) > maxPathways {
		refs = refs[:maxPathways]
	}
	return refs, nil
}

// Process runs generation constrained to the selected pathways' material.
// The generation call is primary and fails hard; the confidence score and
// processing summary that follow it degrade to fixed defaults.
func (e *Engine) Process(ctx context.Context, p persona.Persona, sources []persona.Source, selected []Reference, taskDescription string) (Result, error) {
	if len(selected) == 0 {
		return Result{}, persona.Validationf("no pathways selected for processing")
	}

	resolved, err := e.resolve(ctx, sources, selected)
	if err != nil {
		return Result{}, err
	}
	if len(resolved) == 0 {
		return Result{}, persona.Validationf("none of the selected pathways exist in the given sources")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Complete the task below using ONLY the pathway material provided; do not draw on outside knowledge.\n\n", p.DisplayName())
	b.WriteString("Task: " + taskDescription + "\n\n")
	for _, c := range resolved {
		fmt.Fprintf(&b, "--- Pathway %s (source: %s) ---\n%s\n\n", c.pathway.ID, c.sourceName, c.pathway.Content)
	}

	content, err := e.gen.Generate(ctx, e.model, b.String(), &engine.Options{Temperature: 0.7})
	if err != nil {
		return Result{}, engine.Generationf("pathway-constrained generation", err)
	}

	result := Result{
		ID:                uuid.NewString(),
		SelectedPathways:  selected,
		ProcessingSummary: e.summarize(ctx, taskDescription, content),
		GeneratedContent:  content,
		Confidence:        e.confidence(ctx, taskDescription, content),
		CreatedAt:         e.clock.Now(),
	}

	responseJSON, err := json.Marshal(result)
	if err != nil {
		return Result{}, fmt.Errorf("encoding pathway result: %w", err)
	}
	sourceID := ""
	if len(resolved) > 0 {
		sourceID = resolved[0].sourceID
	}
	if err := e.store.SavePathwayRun(storage.PathwayRun{
		ID:           result.ID,
		PersonaID:    p.ID,
		SourceID:     sourceID,
		Request:      taskDescription,
		ResponseJSON: string(responseJSON),
		CreatedAt:    result.CreatedAt,
	}); err != nil {
		return Result{}, fmt.Errorf("recording pathway run: %w", err)
	}
	return result, nil
}

// collect ingests every source and flattens the pathways in discovery order.
func (e *Engine) collect(ctx context.Context, sources []persona.Source) ([]candidate, error) {
	var candidates []candidate
	for _, src := range sources {
		a, err := e.Ingest(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, pw := range a.Pathways {
			candidates = append(candidates, candidate{sourceID: src.ID, sourceName: src.Name, pathway: pw})
		}
	}
	return candidates, nil
}

// resolve maps selected references back to their pathway content.
// Unresolvable references are skipped.
func (e *Engine) resolve(ctx context.Context, sources []persona.Source, selected []Reference) ([]candidate, error) {
	bySource := make(map[string]map[string]Pathway)
	names := make(map[string]string)
	for _, src := range sources {
		a, err := e.Ingest(ctx, src)
		if err != nil {
			return nil, err
		}
		m := make(map[string]Pathway, len(a.Pathways))
		for _, pw := range a.Pathways {
			m[pw.ID] = pw
		}
		bySource[src.ID] = m
		names[src.ID] = src.Name
	}

	var resolved []candidate
	for _, ref := range selected {
		pw, ok := bySource[ref.SourceID][ref.PathwayID]
		if !ok {
			slog.Warn("selected pathway not found, skipping", "source", ref.SourceID, "pathway", ref.PathwayID)
			continue
		}
		resolved = append(resolved, candidate{sourceID: ref.SourceID, sourceName: names[ref.SourceID], pathway: pw})
	}
	return resolved, nil
}

// scorePathway asks for a 0-100 relevance score of one pathway against a
// query. The error contract is the caller's concern.
func (e *Engine) scorePathway(ctx context.Context, c candidate, query string) (int, error) {
	prompt := fmt.Sprintf(
		"Rate the relevance of the passage below to the query on a 0-100 scale. Respond with a single integer.\n\nQuery: %s\n\nPassage (%s):\n%s",
		query, c.pathway.Title, c.pathway.Content,
	)

	resp, err := e.gen.Generate(ctx, e.model, prompt, &engine.Options{Temperature: 0})
	if err != nil {
		return 0, err
	}
	score, ok := parseScore(resp)
	if !ok {
		return 0, fmt.Errorf("no score found in response %q", excerpt(resp, 80))
	}
	return score, nil
}

// confidence is a best-effort 0-100 self-assessment of the generated
// content, defaulting when the call or parse fails.
func (e *Engine) confidence(ctx context.Context, task, content string) int {
	prompt := fmt.Sprintf(
		"Rate 0-100 how confidently the text below completes the task. Respond with a single integer.\n\nTask: %s\n\nText:\n%s",
		task, excerpt(content, 2000),
	)
	resp, err := e.gen.Generate(ctx, e.model, prompt, &engine.Options{Temperature: 0})
	if err != nil {
		slog.Warn("confidence scoring failed, using default", "error", err)
		return defaultConfidence
	}
	score, ok := parseScore(resp)
	if !ok {
		return defaultConfidence
	}
	return score
}

// summarize is a best-effort 1-2 sentence description of the processing
// run, defaulting to a fixed string on failure.
func (e *Engine) summarize(ctx context.Context, task, content string) string {
	prompt := fmt.Sprintf(
		"In 1-2 sentences, describe how the text below addresses the task.\n\nTask: %s\n\nText:\n%s",
		task, excerpt(content, 2000),
	)
	resp, err := e.gen.Generate(ctx, e.model, prompt, &engine.Options{Temperature: 0.3})
	if err != nil || strings.TrimSpace(resp) == "" {
		return defaultSummary
	}
	return strings.TrimSpace(resp)
}

func decodeArtifacts(sourceID string, entry storage.PathwayCacheEntry) (Artifacts, error) {
	a := Artifacts{SourceID: sourceID, KeyPoints: []KeyPoint{}, Pathways: []Pathway{}}
	if err := json.Unmarshal([]byte(entry.KeyPointsJSON), &a.KeyPoints); err != nil {
		return Artifacts{}, fmt.Errorf("decoding cached key points for %s: %w", sourceID, err)
	}
	if err := json.Unmarshal([]byte(entry.PathwaysJSON), &a.Pathways); err != nil {
		return Artifacts{}, fmt.Errorf("decoding cached pathways for %s: %w", sourceID, err)
	}
	return a, nil
}

func encodeArtifacts(a Artifacts) (storage.PathwayCacheEntry, error) {
	kp, err := json.Marshal(a.KeyPoints)
	if err != nil {
		return storage.PathwayCacheEntry{}, fmt.Errorf("encoding key points: %w", err)
	}
	pw, err := json.Marshal(a.Pathways)
	if err != nil {
		return storage.PathwayCacheEntry{}, fmt.Errorf("encoding pathways: %w", err)
	}
	return storage.PathwayCacheEntry{SourceID: a.SourceID, KeyPointsJSON: string(kp), PathwaysJSON: string(pw)}, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// excerpt truncates s to at most max bytes without splitting a multi-byte
// UTF-8 character.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
