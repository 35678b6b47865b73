// Package calibrate derives structured personality profiles from a
// persona's shaper sources via a two-pass generation flow: extraction,
// then best-effort refinement.
package calibrate

import (
	"context"
	"log/slog"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/parse"
	"github.com/kalambet/quill/internal/persona"
)

// Calibrator runs the calibration state machine for personas.
type Calibrator struct {
	gen   engine.Generator
	model string
	clock persona.Clock
}

// New creates a Calibrator using the given generator and model.
func New(gen engine.Generator, model string) *Calibrator {
	return NewWithClock(gen, model, persona.RealClock())
}

// NewWithClock creates a Calibrator with a custom clock (for testing).
func NewWithClock(gen engine.Generator, model string, clock persona.Clock) *Calibrator {
	return &Calibrator{gen: gen, model: model, clock: clock}
}

// Calibrate runs extraction and refinement over the persona's shaper
// sources and returns a calibrated copy. The input persona is not
// modified; on any error the caller keeps its uncalibrated state.
//
// Extraction is the primary step and fails hard. Refinement is advisory:
// if its output does not parse, the extracted profile is kept as-is.
func (c *Calibrator) Calibrate(ctx context.Context, p persona.Persona) (persona.Persona, error) {
	if len(p.ShaperSources) == 0 {
		return persona.Persona{}, persona.Validationf("persona %s has no shaper sources to calibrate from", p.ID)
	}

	resp, err := c.gen.Generate(ctx, c.model, extractionPrompt(p), &engine.Options{Temperature: 0.3})
	if err != nil {
		return persona.Persona{}, &ExtractionError{Msg: "generation failed", Err: err}
	}

	var extracted persona.PersonalityProfile
	if !parse.ObjectInto(resp, &extracted) {
		return persona.Persona{}, &ExtractionError{Msg: "response contained no parseable profile object"}
	}
	normalizeProfile(&extracted)

	profile := extracted
	refinedResp, err := c.gen.Generate(ctx, c.model, refinementPrompt(p, extracted), &engine.Options{Temperature: 0.3})
	if err != nil {
		slog.Warn("profile refinement failed, keeping extracted profile", "persona", p.ID, "error", err)
	} else {
		var refined persona.PersonalityProfile
		if parse.ObjectInto(refinedResp, &refined) {
			normalizeProfile(&refined)
			profile = refined
		} else {
			slog.Warn("profile refinement response unparseable, keeping extracted profile", "persona", p.ID)
		}
	}

	now := c.clock.Now()
	p.Profile = &profile
	p.CalibrationStatus = persona.StatusCalibrated
	p.LastCalibrated = &now
	return p, nil
}

// normalizeProfile fills absent fields with their empty defaults so
// downstream code never sees nil slices.
func normalizeProfile(p *persona.PersonalityProfile) {
	if p.CoreTraits == nil {
		p.CoreTraits = []string{}
	}
	if p.ExpertiseAreas == nil {
		p.ExpertiseAreas = []string{}
	}
	if p.BehavioralPatterns == nil {
		p.BehavioralPatterns = []string{}
	}
	if p.ValueSystem == nil {
		p.ValueSystem = []string{}
	}
}
