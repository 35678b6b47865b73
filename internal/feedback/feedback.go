// Package feedback records edit ratings with derived quality metrics and
// produces improvement suggestions that feed back into future drafting.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/parse"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/storage"
)

// Metrics are the four 0-100 quality dimensions derived from a rating,
// plus an overall score.
type Metrics struct {
	Clarity          int `json:"clarity"`
	Accuracy         int `json:"accuracy"`
	Relevance        int `json:"relevance"`
	PersonaAlignment int `json:"personaAlignment"`
	Overall          int `json:"overall"`
}

// Rating is a persisted star rating for one edit with its metrics.
type Rating struct {
	EditID    string    `json:"editId"`
	PersonaID string    `json:"personaId"`
	Stars     int       `json:"stars"`
	Comments  string    `json:"comments"`
	Metrics   Metrics   `json:"metrics"`
	CreatedAt time.Time `json:"createdAt"`
}

// Suggestion is one improvement recommendation for a rated edit.
type Suggestion struct {
	Suggestion     string `json:"suggestion"`
	Confidence     int    `json:"confidence"`
	Implementation string `json:"implementation"`
}

// Store is the persistence surface the loop needs.
// Implemented by storage.Store.
type Store interface {
	SaveEditRating(r storage.EditRating) error
	GetEditRating(editID string) (storage.EditRating, error)
	ListEditRatings(personaID string, limit int) ([]storage.EditRating, error)
}

// Loop records ratings and generates improvement suggestions.
type Loop struct {
	gen   engine.Generator
	model string
	store Store
	clock persona.Clock
}

// New creates a feedback Loop.
func New(gen engine.Generator, model string, store Store) *Loop {
	return NewWithClock(gen, model, store, persona.RealClock())
}

// NewWithClock creates a Loop with a custom clock (for testing).
func NewWithClock(gen engine.Generator, model string, store Store, clock persona.Clock) *Loop {
	return &Loop{gen: gen, model: model, store: store, clock: clock}
}

// RateEdit validates and persists a star rating for an edit, deriving
// quality metrics from the stars and feedback text. The metrics call is
// advisory: on any failure every metric becomes (stars/5)*100, so a
// metrics object always exists.
func (l *Loop) RateEdit(ctx context.Context, p persona.Persona, editID string, stars int, comments, editContent string) (Rating, error) {
	if editID == "" {
		return Rating{}, persona.Validationf("rating requires an edit id")
	}
	if stars < 1 || stars > 5 {
		return Rating{}, persona.Validationf("star rating must be between 1 and 5, got %d", stars)
	}

	rating := Rating{
		EditID:    editID,
		PersonaID: p.ID,
		Stars:     stars,
		Comments:  comments,
		Metrics:   l.deriveMetrics(ctx, p, stars, comments, editContent),
		CreatedAt: l.clock.Now(),
	}

	metricsJSON, err := json.Marshal(rating.Metrics)
	if err != nil {
		return Rating{}, fmt.Errorf("encoding metrics for edit %s: %w", editID, err)
	}
	if err := l.store.SaveEditRating(storage.EditRating{
		EditID:      editID,
		PersonaID:   p.ID,
		Stars:       stars,
		Comments:    comments,
		MetricsJSON: string(metricsJSON),
		CreatedAt:   rating.CreatedAt,
	}); err != nil {
		return Rating{}, fmt.Errorf("saving rating for edit %s: %w", editID, err)
	}
	return rating, nil
}

// deriveMetrics asks the model to translate the rating into the four
// quality dimensions, falling back to the deterministic star-derived
// value on any failure.
func (l *Loop) deriveMetrics(ctx context.Context, p persona.Persona, stars int, comments, editContent string) Metrics {
	fallback := starMetrics(stars)

	var b strings.Builder
	fmt.Fprintf(&b, "A user rated an edit written as %s with %d of 5 stars.\n", p.DisplayName(), stars)
	if comments != "" {
		fmt.Fprintf(&b, "Their feedback: %s\n", comments)
	}
	if editContent != "" {
		fmt.Fprintf(&b, "\nThe edit:\n%s\n", excerpt(editContent, 2000))
	}
	b.WriteString("\nTranslate this into quality metrics. Respond with a JSON object shaped " +
		`{"clarity": 0-100, "accuracy": 0-100, "relevance": 0-100, "personaAlignment": 0-100, "overall": 0-100}.`)

	resp, err := l.gen.Generate(ctx, l.model, b.String(), &engine.Options{Temperature: 0.2})
	if err != nil {
		slog.Warn("metrics derivation failed, using star fallback", "error", err)
		return fallback
	}

	var m Metrics
	if !parse.ObjectInto(resp, &m) {
		slog.Warn("metrics response unparseable, using star fallback")
		return fallback
	}
	m.Clarity = clampScore(m.Clarity)
	m.Accuracy = clampScore(m.Accuracy)
	m.Relevance = clampScore(m.Relevance)
	m.PersonaAlignment = clampScore(m.PersonaAlignment)
	m.Overall = clampScore(m.Overall)
	return m
}

// starMetrics derives every metric deterministically as (stars/5)*100.
func starMetrics(stars int) Metrics {
	v := stars * 100 / 5
	return Metrics{Clarity: v, Accuracy: v, Relevance: v, PersonaAlignment: v, Overall: v}
}

// Suggestions generates 3-5 improvement suggestions for a rated edit.
// Total failure yields an empty list; unlike rating metrics there is no
// synthetic fallback to fabricate suggestions from.
func (l *Loop) Suggestions(ctx context.Context, p persona.Persona, editID, editContent string) []Suggestion {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest 3-5 concrete improvements to the edit below, written as %s.\n\n", p.DisplayName())
	fmt.Fprintf(&b, "Edit %s:\n%s\n\n", editID, excerpt(editContent, 3000))
	b.WriteString(`Respond with a JSON array of items shaped {"suggestion": "...", "confidence": 0-100, "implementation": "how to apply it"}.`)

	resp, err := l.gen.Generate(ctx, l.model, b.String(), &engine.Options{Temperature: 0.4})
	if err != nil {
		slog.Warn("suggestion generation failed", "edit", editID, "error", err)
		return []Suggestion{}
	}

	var items []Suggestion
	if !parse.ArrayInto(resp, &items) {
		slog.Warn("suggestion response unparseable", "edit", editID)
		return []Suggestion{}
	}

	kept := items[:0]
	for _, s := range items {
		if strings.TrimSpace(s.Suggestion) == "" {
			continue
		}
		s.Confidence = clampScore(s.Confidence)
		kept = append(kept, s)
	}
	return kept
}

// Rating returns the persisted rating for an edit.
func (l *Loop) Rating(editID string) (Rating, error) {
	stored, err := l.store.GetEditRating(editID)
	if err != nil {
		return Rating{}, err
	}
	return decodeRating(stored)
}

// Ratings returns the most recent ratings for a persona.
func (l *Loop) Ratings(personaID string, limit int) ([]Rating, error) {
	stored, err := l.store.ListEditRatings(personaID, limit)
	if err != nil {
		return nil, err
	}
	ratings := make([]Rating, 0, len(stored))
	for _, s := range stored {
		r, err := decodeRating(s)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, nil
}

func decodeRating(stored storage.EditRating) (Rating, error) {
	r := Rating{
		EditID:    stored.EditID,
		PersonaID: stored.PersonaID,
		Stars:     stored.Stars,
		Comments:  stored.Comments,
		CreatedAt: stored.CreatedAt,
	}
	if err := json.Unmarshal([]byte(stored.MetricsJSON), &r.Metrics); err != nil {
		return Rating{}, fmt.Errorf("decoding metrics for edit %s: %w", stored.EditID, err)
	}
	return r, nil
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
