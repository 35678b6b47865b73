package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/evolution"
	"github.com/kalambet/quill/internal/persona"
)

type fakeGen struct {
	response string
	err      error
	prompts  []string
	systems  []string
	temps    []float64
	calls    int
}

func (g *fakeGen) Generate(_ context.Context, _ string, prompt string, opts *engine.Options) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if opts != nil {
		g.systems = append(g.systems, opts.System)
		g.temps = append(g.temps, opts.Temperature)
	}
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGen) GenerateStream(ctx context.Context, model, prompt string, opts *engine.Options, fn func(string) error) error {
	resp, err := g.Generate(ctx, model, prompt, opts)
	if err != nil {
		return err
	}
	for _, chunk := range []string{resp[:len(resp)/2], resp[len(resp)/2:]} {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

type memStore struct {
	saved map[string]persona.Persona
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]persona.Persona)}
}

func (s *memStore) SavePersona(p persona.Persona) error {
	s.saved[p.ID] = p
	return nil
}

func (s *memStore) GetPersona(id string) (persona.Persona, error) {
	p, ok := s.saved[id]
	if !ok {
		return persona.Persona{}, errors.New("not found")
	}
	return p, nil
}

func (s *memStore) ListPersonas() ([]persona.Persona, error) { return nil, nil }
func (s *memStore) DeletePersona(string) error               { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// snapshotGen answers the draft on the first call and change/context
// summaries afterwards.
type snapshotGen struct {
	draft   string
	prompts []string
	systems []string
	calls   int
}

func (g *snapshotGen) Generate(_ context.Context, _ string, prompt string, opts *engine.Options) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if opts != nil {
		g.systems = append(g.systems, opts.System)
	}
	if g.calls == 1 {
		return g.draft, nil
	}
	return "- Reworked the opening", nil
}

func (g *snapshotGen) GenerateStream(ctx context.Context, model, prompt string, opts *engine.Options, fn func(string) error) error {
	resp, err := g.Generate(ctx, model, prompt, opts)
	if err != nil {
		return err
	}
	for _, chunk := range []string{resp[:len(resp)/2], resp[len(resp)/2:]} {
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

func newTestDrafter(gen engine.Generator, store persona.Store) *Drafter {
	clock := fixedClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	tracker := evolution.NewWithClock(gen, "test-model", clock)
	return NewWithClock(gen, "test-model", tracker, store, clock)
}

func testPersona() persona.Persona {
	return persona.Persona{ID: "p-1", Name: "Ada", Role: "Engineer", CalibrationStatus: persona.StatusUncalibrated}
}

func TestDraftCompilesInstructionAndGenerates(t *testing.T) {
	gen := &snapshotGen{draft: "A fresh draft paragraph."}
	store := newMemStore()
	d := newTestDrafter(gen, store)

	res, err := d.Draft(context.Background(), testPersona(), Request{
		Task:      "Write the introduction.",
		Knowledge: []persona.Source{{ID: "s-1", Name: "notes.txt", Content: "Key facts."}},
	})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if res.Content != "A fresh draft paragraph." {
		t.Fatalf("content = %q", res.Content)
	}
	if res.EditID == "" {
		t.Fatal("edit id not minted")
	}
	if gen.prompts[0] != "Write the introduction." {
		t.Fatalf("task prompt = %q", gen.prompts[0])
	}
	if !strings.Contains(gen.systems[0], "notes.txt") {
		t.Fatalf("compiled instruction missing knowledge source:\n%s", gen.systems[0])
	}
	if res.Instruction != gen.systems[0] {
		t.Fatal("result instruction differs from the system prompt sent")
	}
	if res.PromptTokens <= 0 {
		t.Fatalf("prompt tokens = %d", res.PromptTokens)
	}
}

func TestDraftAppendsSnapshotAndPersists(t *testing.T) {
	gen := &snapshotGen{draft: "Draft two."}
	store := newMemStore()
	d := newTestDrafter(gen, store)

	p := testPersona()
	p.Snapshots = []persona.DocumentSnapshot{{ID: "snap-1", Version: 1, Content: "Draft one."}}

	res, err := d.Draft(context.Background(), p, Request{Task: "Revise.", CurrentDoc: "Draft one."})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("version = %d, want 2", res.Version)
	}
	saved, ok := store.saved["p-1"]
	if !ok {
		t.Fatal("persona not persisted after draft")
	}
	if len(saved.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(saved.Snapshots))
	}
	if saved.Snapshots[1].Content != "Draft two." {
		t.Fatalf("snapshot content = %q", saved.Snapshots[1].Content)
	}
}

func TestDraftGenerationFailureAborts(t *testing.T) {
	gen := &fakeGen{err: errors.New("model offline")}
	store := newMemStore()
	d := newTestDrafter(gen, store)

	_, err := d.Draft(context.Background(), testPersona(), Request{Task: "Write."})
	if err == nil {
		t.Fatal("expected error from failed generation")
	}
	if len(store.saved) != 0 {
		t.Fatal("nothing may be persisted when generation fails")
	}
}

func TestDraftRequiresTask(t *testing.T) {
	gen := &fakeGen{response: "x"}
	d := newTestDrafter(gen, newMemStore())

	_, err := d.Draft(context.Background(), testPersona(), Request{Task: "   "})
	var verr *persona.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("expected no LLM calls, got %d", gen.calls)
	}
}

func TestDraftTemperatureResolution(t *testing.T) {
	gen := &fakeGen{response: "draft text"}
	d := newTestDrafter(gen, newMemStore())

	// Built-in default when neither the server nor the request sets one.
	if _, err := d.Draft(context.Background(), testPersona(), Request{Task: "Write."}); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if gen.temps[0] != 0.7 {
		t.Errorf("default temperature = %v, want 0.7", gen.temps[0])
	}

	// Configured server default applies to unset requests.
	d.SetDefaultTemperature(0.3)
	first := len(gen.temps)
	if _, err := d.Draft(context.Background(), testPersona(), Request{Task: "Write."}); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if gen.temps[first] != 0.3 {
		t.Errorf("configured temperature = %v, want 0.3", gen.temps[first])
	}

	// An explicit request value still wins.
	first = len(gen.temps)
	if _, err := d.Draft(context.Background(), testPersona(), Request{Task: "Write.", Temperature: 0.9}); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if gen.temps[first] != 0.9 {
		t.Errorf("request temperature = %v, want 0.9", gen.temps[first])
	}
}

func TestDraftStreams(t *testing.T) {
	gen := &snapshotGen{draft: "streamed"}
	d := newTestDrafter(gen, newMemStore())

	var chunks []string
	res, err := d.Draft(context.Background(), testPersona(), Request{
		Task:    "Write.",
		OnChunk: func(c string) error { chunks = append(chunks, c); return nil },
	})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if res.Content != "streamed" {
		t.Fatalf("content = %q", res.Content)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks delivered")
	}
	if strings.Join(chunks, "") != "streamed" {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestDraftStreamCallbackErrorAborts(t *testing.T) {
	gen := &snapshotGen{draft: "streamed"}
	store := newMemStore()
	d := newTestDrafter(gen, store)

	sentinel := errors.New("stop")
	_, err := d.Draft(context.Background(), testPersona(), Request{
		Task:    "Write.",
		OnChunk: func(string) error { return sentinel },
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatal("aborted stream must not persist")
	}
}
