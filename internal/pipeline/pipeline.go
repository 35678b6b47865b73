// Package pipeline runs the full drafting loop: compile the persona
// instruction, generate the edit, snapshot the document, and mint an edit
// id that later feedback attaches to.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/quill/internal/compose"
	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/evolution"
	"github.com/kalambet/quill/internal/persona"
)

// Request describes one drafting run.
type Request struct {
	Task        string
	Knowledge   []persona.Source
	CurrentDoc  string
	Temperature float64

	// OnChunk, when set, streams generated text as it arrives. The full
	// content is still assembled into the Result.
	OnChunk func(chunk string) error
}

// Result is the outcome of a drafting run. Generation is the only hard
// dependency; snapshot summaries may degrade to placeholders without
// failing the run.
type Result struct {
	EditID      string    `json:"editId"`
	Content     string    `json:"content"`
	Instruction string    `json:"instruction"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`

	PromptTokens int           `json:"promptTokens"`
	CompileTime  time.Duration `json:"compileTime"`
	GenerateTime time.Duration `json:"generateTime"`
	TotalTime    time.Duration `json:"totalTime"`
}

// Drafter orchestrates instruction compilation, generation, and document
// evolution for a persona.
type Drafter struct {
	gen         engine.Generator
	model       string
	tracker     *evolution.Tracker
	store       persona.Store
	clock       persona.Clock
	defaultTemp float64
}

const defaultTemperature = 0.7

// New creates a Drafter.
func New(gen engine.Generator, model string, tracker *evolution.Tracker, store persona.Store) *Drafter {
	return NewWithClock(gen, model, tracker, store, persona.RealClock())
}

// NewWithClock creates a Drafter with a custom clock (for testing).
func NewWithClock(gen engine.Generator, model string, tracker *evolution.Tracker, store persona.Store, clock persona.Clock) *Drafter {
	return &Drafter{gen: gen, model: model, tracker: tracker, store: store, clock: clock, defaultTemp: defaultTemperature}
}

// SetDefaultTemperature changes the temperature used when a draft request
// leaves it unset. Non-positive values restore the built-in default.
func (d *Drafter) SetDefaultTemperature(t float64) {
	if t <= 0 {
		t = defaultTemperature
	}
	d.defaultTemp = t
}

// Draft runs one edit cycle for the persona. The compiled instruction
// becomes the system prompt, the task the user prompt. A generation
// failure aborts the run; everything after generation is advisory or
// plain persistence.
func (d *Drafter) Draft(ctx context.Context, p persona.Persona, req Request) (Result, error) {
	if strings.TrimSpace(req.Task) == "" {
		return Result{}, persona.Validationf("draft requires a task description")
	}

	start := d.clock.Now()
	instruction := compose.Instruction(p, req.Knowledge, req.CurrentDoc)
	compiled := d.clock.Now()

	opts := &engine.Options{System: instruction, Temperature: req.Temperature}
	if opts.Temperature == 0 {
		opts.Temperature = d.defaultTemp
	}

	content, err := d.generate(ctx, req, opts)
	if err != nil {
		return Result{}, fmt.Errorf("drafting for persona %s: %w", p.ID, err)
	}
	generated := d.clock.Now()

	snapshot := d.tracker.CreateSnapshot(ctx, p, content, req.CurrentDoc, p.NextSnapshotVersion())
	p.Snapshots = append(p.Snapshots, snapshot)
	if err := d.store.SavePersona(p); err != nil {
		// The draft itself succeeded; losing the snapshot is survivable.
		slog.Warn("saving snapshot after draft failed", "persona", p.ID, "error", err)
	}

	done := d.clock.Now()
	return Result{
		EditID:       uuid.NewString(),
		Content:      content,
		Instruction:  instruction,
		Version:      snapshot.Version,
		CreatedAt:    done,
		PromptTokens: compose.EstimateTokens(instruction) + compose.EstimateTokens(req.Task),
		CompileTime:  compiled.Sub(start),
		GenerateTime: generated.Sub(compiled),
		TotalTime:    done.Sub(start),
	}, nil
}

func (d *Drafter) generate(ctx context.Context, req Request, opts *engine.Options) (string, error) {
	if req.OnChunk == nil {
		return d.gen.Generate(ctx, d.model, req.Task, opts)
	}
	var b strings.Builder
	err := d.gen.GenerateStream(ctx, d.model, req.Task, opts, func(chunk string) error {
		b.WriteString(chunk)
		return req.OnChunk(chunk)
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
