// Package evolution tracks document history for a persona: immutable
// snapshots with natural-language change summaries, forward-looking
// development guidance, and persona/document alignment scoring.
//
// Every generation call in this package is advisory. Snapshots, guidance,
// and chemistry all degrade to documented defaults instead of failing,
// so the editing loop never breaks on a flaky auxiliary call.
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/parse"
	"github.com/kalambet/quill/internal/persona"
)

const (
	// summaryPlaceholder substitutes for a failed context-summary call.
	summaryPlaceholder = "Summary unavailable for this revision."

	// chemistryNeutralScore is returned when the alignment response
	// cannot be parsed.
	chemistryNeutralScore = 50

	// guidanceSourceCap bounds the per-source excerpt in guidance prompts.
	guidanceSourceCap = 800
)

// Tracker creates snapshots and generates guidance and chemistry reports.
type Tracker struct {
	gen   engine.Generator
	model string
	clock persona.Clock
}

// New creates a Tracker using the given generator and model.
func New(gen engine.Generator, model string) *Tracker {
	return NewWithClock(gen, model, persona.RealClock())
}

// NewWithClock creates a Tracker with a custom clock (for testing).
func NewWithClock(gen engine.Generator, model string, clock persona.Clock) *Tracker {
	return &Tracker{gen: gen, model: model, clock: clock}
}

// CreateSnapshot builds the snapshot for currentContent at the given
// version. Change summaries and context summaries are best-effort;
// snapshot creation itself never fails.
//
// No diff call is issued for the initial document or for unchanged
// content: those cases carry fixed change strings.
func (t *Tracker) CreateSnapshot(ctx context.Context, p persona.Persona, currentContent, previousContent string, version int) persona.DocumentSnapshot {
	var changes []string
	switch {
	case strings.TrimSpace(previousContent) == "":
		changes = []string{"Initial document creation"}
	case previousContent == currentContent:
		changes = []string{"No changes detected"}
	default:
		changes = t.summarizeChanges(ctx, previousContent, currentContent)
	}

	return persona.DocumentSnapshot{
		ID:             uuid.NewString(),
		Timestamp:      t.clock.Now(),
		Content:        currentContent,
		Version:        version,
		Changes:        changes,
		ContextSummary: t.summarizeContext(ctx, p, currentContent),
	}
}

// summarizeChanges asks for a bullet-point change list and keeps only
// lines starting with "-" or "•". Zero usable lines falls back to a
// fixed entry.
func (t *Tracker) summarizeChanges(ctx context.Context, previous, current string) []string {
	prompt := fmt.Sprintf(
		"Compare the two document versions below and list what changed as short bullet points, one per line, each starting with \"-\".\n\n=== Previous version ===\n%s\n\n=== Current version ===\n%s",
		excerpt(previous, 3000), excerpt(current, 3000),
	)

	resp, err := t.gen.Generate(ctx, t.model, prompt, &engine.Options{Temperature: 0.2})
	if err != nil {
		slog.Warn("change summary generation failed", "error", err)
		return []string{"Content updated"}
	}

	var changes []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			line = line[2:]
		case strings.HasPrefix(line, "-"):
			line = line[1:]
		case strings.HasPrefix(line, "•"):
			line = strings.TrimPrefix(line, "•")
		default:
			continue
		}
		if line = strings.TrimSpace(line); line != "" {
			changes = append(changes, line)
		}
	}
	if len(changes) == 0 {
		return []string{"Content updated"}
	}
	return changes
}

// summarizeContext produces the 2-3 sentence persona-aware summary of the
// current content, substituting a placeholder on any failure.
func (t *Tracker) summarizeContext(ctx context.Context, p persona.Persona, content string) string {
	prompt := fmt.Sprintf(
		"Summarize the current state and direction of this document in 2-3 sentences, as it relates to %s's voice and goals.\n\n%s",
		p.DisplayName(), excerpt(content, 3000),
	)

	resp, err := t.gen.Generate(ctx, t.model, prompt, &engine.Options{Temperature: 0.3})
	if err != nil || strings.TrimSpace(resp) == "" {
		slog.Warn("context summary generation failed", "persona", p.ID, "error", err)
		return summaryPlaceholder
	}
	return strings.TrimSpace(resp)
}

// guidanceItem is the wire shape the guidance prompt asks for.
type guidanceItem struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Confidence int    `json:"confidence"`
}

// Guidance generates 3-5 advisory development items from the recent
// snapshot history and knowledge excerpts. Unparseable responses yield an
// empty list; this call never fails.
func (t *Tracker) Guidance(ctx context.Context, p persona.Persona, currentContent string, knowledge []persona.Source) []persona.DevelopmentGuidance {
	var b strings.Builder

	fmt.Fprintf(&b, "You advise %s on developing a document. Based on the history and sources below, suggest 3-5 concrete next steps.\n\n", p.DisplayName())

	if n := len(p.Snapshots); n > 0 {
		b.WriteString("Recent history:\n")
		start := n - 3
		if start < 0 {
			start = 0
		}
		for _, snap := range p.Snapshots[start:] {
			fmt.Fprintf(&b, "- v%d: %s\n", snap.Version, snap.ContextSummary)
		}
		b.WriteString("\n")
	}

	for _, src := range knowledge {
		fmt.Fprintf(&b, "Source %q: %s\n", src.Name, excerpt(src.Content, guidanceSourceCap))
	}

	fmt.Fprintf(&b, "\nCurrent document:\n%s\n\n", excerpt(currentContent, 3000))
	b.WriteString(`Respond with a JSON array of items shaped {"type": "suggestion|improvement|refinement|validation", "content": "...", "confidence": 0-100}.`)

	resp, err := t.gen.Generate(ctx, t.model, b.String(), &engine.Options{Temperature: 0.4})
	if err != nil {
		slog.Warn("guidance generation failed", "persona", p.ID, "error", err)
		return []persona.DevelopmentGuidance{}
	}

	var items []guidanceItem
	if !parse.ArrayInto(resp, &items) {
		slog.Warn("guidance response unparseable", "persona", p.ID)
		return []persona.DevelopmentGuidance{}
	}

	now := t.clock.Now()
	guidance := make([]persona.DevelopmentGuidance, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		guidance = append(guidance, persona.DevelopmentGuidance{
			ID:         uuid.NewString(),
			Timestamp:  now,
			Type:       normalizeGuidanceType(item.Type),
			Content:    item.Content,
			Applied:    false,
			Confidence: clampScore(item.Confidence),
		})
	}
	return guidance
}

func normalizeGuidanceType(s string) persona.GuidanceType {
	switch persona.GuidanceType(strings.ToLower(strings.TrimSpace(s))) {
	case persona.GuidanceImprovement:
		return persona.GuidanceImprovement
	case persona.GuidanceRefinement:
		return persona.GuidanceRefinement
	case persona.GuidanceValidation:
		return persona.GuidanceValidation
	default:
		return persona.GuidanceSuggestion
	}
}

// chemistryResult is the wire shape the chemistry prompt asks for.
type chemistryResult struct {
	AlignmentScore  int      `json:"alignmentScore"`
	Recommendations []string `json:"recommendations"`
}

// BalanceChemistry scores 0-100 alignment between the document and the
// persona's calibrated profile. An uncalibrated persona gets a zero-score
// report, not an error; a parse failure gets the neutral score.
func (t *Tracker) BalanceChemistry(ctx context.Context, p persona.Persona, currentContent string, knowledge []persona.Source) persona.ChemistryReport {
	now := t.clock.Now()

	report := persona.ChemistryReport{LastBalanced: now}
	if p.Chemistry != nil {
		report.EvolutionHistory = append(report.EvolutionHistory, p.Chemistry.EvolutionHistory...)
	}

	if p.CalibrationStatus != persona.StatusCalibrated || p.Profile == nil {
		report.AlignmentScore = 0
		report.Recommendations = []string{"Calibrate the persona before balancing chemistry"}
		return report
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Score how well this document aligns with %s's personality profile on a 0-100 scale, and recommend 3-5 adjustments.\n\n", p.DisplayName())
	fmt.Fprintf(&b, "Profile traits: %s\n", strings.Join(p.Profile.CoreTraits, ", "))
	fmt.Fprintf(&b, "Communication style: %s\n", p.Profile.CommunicationStyle)
	fmt.Fprintf(&b, "Worldview: %s\n\n", p.Profile.Worldview)
	fmt.Fprintf(&b, "Document:\n%s\n\n", excerpt(currentContent, 3000))
	b.WriteString(`Respond with a JSON object shaped {"alignmentScore": 0-100, "recommendations": ["..."]}.`)

	resp, err := t.gen.Generate(ctx, t.model, b.String(), &engine.Options{Temperature: 0.3})
	if err != nil {
		slog.Warn("chemistry generation failed", "persona", p.ID, "error", err)
		report.AlignmentScore = chemistryNeutralScore
		report.Recommendations = []string{"Alignment could not be assessed; review tone manually"}
		return report
	}

	var result chemistryResult
	if !parse.ObjectInto(resp, &result) {
		slog.Warn("chemistry response unparseable", "persona", p.ID)
		report.AlignmentScore = chemistryNeutralScore
		report.Recommendations = []string{"Alignment could not be assessed; review tone manually"}
		return report
	}

	report.AlignmentScore = clampScore(result.AlignmentScore)
	report.Recommendations = result.Recommendations
	report.EvolutionHistory = append(report.EvolutionHistory,
		fmt.Sprintf("%s: alignment %d", now.Format("2006-01-02"), report.AlignmentScore))
	return report
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
// UTF-8 character, preferring a word boundary.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndexByte(s[:end], ' '); idx > max/2 {
		end = idx
	}
	return s[:end]
}
