package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/storage"
)

type scriptedGen struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (g *scriptedGen) Generate(_ context.Context, _ string, prompt string, _ *engine.Options) (string, error) {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", errors.New("unscripted call")
}

func (g *scriptedGen) GenerateStream(_ context.Context, _ string, _ string, _ *engine.Options, _ func(string) error) error {
	return errors.New("not implemented")
}

type memStore struct {
	ratings map[string]storage.EditRating
}

func newMemStore() *memStore {
	return &memStore{ratings: make(map[string]storage.EditRating)}
}

func (s *memStore) SaveEditRating(r storage.EditRating) error {
	s.ratings[r.EditID] = r
	return nil
}

func (s *memStore) GetEditRating(editID string) (storage.EditRating, error) {
	r, ok := s.ratings[editID]
	if !ok {
		return storage.EditRating{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *memStore) ListEditRatings(personaID string, limit int) ([]storage.EditRating, error) {
	var out []storage.EditRating
	for _, r := range s.ratings {
		if r.PersonaID == personaID {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testPersona() persona.Persona {
	return persona.Persona{ID: "p-1", Name: "Ada", Role: "Engineer"}
}

func newTestLoop(gen *scriptedGen, store Store) *Loop {
	return NewWithClock(gen, "test-model", store, fixedClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)})
}

func TestRateEditRejectsOutOfRangeStarsBeforeLLM(t *testing.T) {
	gen := &scriptedGen{}
	loop := newTestLoop(gen, newMemStore())

	for _, stars := range []int{0, 6, -1} {
		_, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", stars, "", "")
		var verr *persona.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("stars=%d: expected validation error, got %v", stars, err)
		}
	}
	if gen.calls != 0 {
		t.Fatalf("expected no LLM calls for invalid stars, got %d", gen.calls)
	}
}

func TestRateEditRequiresEditID(t *testing.T) {
	gen := &scriptedGen{}
	loop := newTestLoop(gen, newMemStore())

	_, err := loop.RateEdit(context.Background(), testPersona(), "", 3, "", "")
	var verr *persona.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRateEditUsesLLMMetrics(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		`{"clarity": 91, "accuracy": 84, "relevance": 77, "personaAlignment": 88, "overall": 85}`,
	}}
	store := newMemStore()
	loop := newTestLoop(gen, store)

	rating, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", 4, "solid but wordy", "The draft text.")
	if err != nil {
		t.Fatalf("RateEdit: %v", err)
	}
	want := Metrics{Clarity: 91, Accuracy: 84, Relevance: 77, PersonaAlignment: 88, Overall: 85}
	if rating.Metrics != want {
		t.Fatalf("metrics = %+v, want %+v", rating.Metrics, want)
	}
	if !strings.Contains(gen.prompts[0], "solid but wordy") {
		t.Fatalf("prompt missing user feedback:\n%s", gen.prompts[0])
	}

	stored, ok := store.ratings["edit-1"]
	if !ok {
		t.Fatal("rating not persisted")
	}
	var m Metrics
	if err := json.Unmarshal([]byte(stored.MetricsJSON), &m); err != nil {
		t.Fatalf("stored metrics invalid: %v", err)
	}
	if m != want {
		t.Fatalf("stored metrics = %+v, want %+v", m, want)
	}
}

func TestRateEditFallsBackToStarMetricsOnParseFailure(t *testing.T) {
	gen := &scriptedGen{responses: []string{"I'd say it was pretty good overall."}}
	loop := newTestLoop(gen, newMemStore())

	rating, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", 4, "", "")
	if err != nil {
		t.Fatalf("RateEdit: %v", err)
	}
	want := Metrics{Clarity: 80, Accuracy: 80, Relevance: 80, PersonaAlignment: 80, Overall: 80}
	if rating.Metrics != want {
		t.Fatalf("metrics = %+v, want all 80", rating.Metrics)
	}
}

func TestRateEditFallsBackToStarMetricsOnGenerationError(t *testing.T) {
	gen := &scriptedGen{errs: []error{errors.New("model offline")}}
	loop := newTestLoop(gen, newMemStore())

	rating, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", 2, "", "")
	if err != nil {
		t.Fatalf("RateEdit: %v", err)
	}
	want := Metrics{Clarity: 40, Accuracy: 40, Relevance: 40, PersonaAlignment: 40, Overall: 40}
	if rating.Metrics != want {
		t.Fatalf("metrics = %+v, want all 40", rating.Metrics)
	}
}

func TestRateEditClampsLLMScores(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		`{"clarity": 150, "accuracy": -10, "relevance": 50, "personaAlignment": 100, "overall": 101}`,
	}}
	loop := newTestLoop(gen, newMemStore())

	rating, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", 5, "", "")
	if err != nil {
		t.Fatalf("RateEdit: %v", err)
	}
	want := Metrics{Clarity: 100, Accuracy: 0, Relevance: 50, PersonaAlignment: 100, Overall: 100}
	if rating.Metrics != want {
		t.Fatalf("metrics = %+v, want %+v", rating.Metrics, want)
	}
}

func TestSuggestionsParsesAndFilters(t *testing.T) {
	gen := &scriptedGen{responses: []string{`[
		{"suggestion": "Tighten the opening paragraph", "confidence": 85, "implementation": "Cut the first two sentences"},
		{"suggestion": "", "confidence": 90, "implementation": "dropped"},
		{"suggestion": "Add a concrete example", "confidence": 140, "implementation": "Reference the treaty clause"}
	]`}}
	loop := newTestLoop(gen, newMemStore())

	got := loop.Suggestions(context.Background(), testPersona(), "edit-1", "Draft text.")
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0].Suggestion != "Tighten the opening paragraph" || got[0].Confidence != 85 {
		t.Fatalf("unexpected first suggestion: %+v", got[0])
	}
	if got[1].Confidence != 100 {
		t.Fatalf("confidence not clamped: %d", got[1].Confidence)
	}
}

func TestSuggestionsEmptyOnFailure(t *testing.T) {
	for name, gen := range map[string]*scriptedGen{
		"generation error": {errs: []error{errors.New("model offline")}},
		"unparseable":      {responses: []string{"no json here"}},
	} {
		got := newTestLoop(gen, newMemStore()).Suggestions(context.Background(), testPersona(), "edit-1", "Draft.")
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: expected empty non-nil list, got %#v", name, got)
		}
	}
}

func TestRatingRoundTrip(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		`{"clarity": 70, "accuracy": 70, "relevance": 70, "personaAlignment": 70, "overall": 70}`,
	}}
	store := newMemStore()
	loop := newTestLoop(gen, store)

	saved, err := loop.RateEdit(context.Background(), testPersona(), "edit-1", 3, "fine", "")
	if err != nil {
		t.Fatalf("RateEdit: %v", err)
	}
	loaded, err := loop.Rating("edit-1")
	if err != nil {
		t.Fatalf("Rating: %v", err)
	}
	if loaded.Metrics != saved.Metrics || loaded.Stars != 3 || loaded.Comments != "fine" {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, saved)
	}

	if _, err := loop.Rating("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
