// Package compose renders the system instruction that conditions every
// generation request: persona identity, weighted influence sections,
// knowledge excerpts, and document evolution context.
//
// Instruction is a pure function. Given identical inputs it returns an
// identical string, which keeps prompts reproducible and testable.
package compose

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/quill/internal/persona"
)

const (
	// calibratedSourceCap bounds a knowledge source's content in the
	// calibrated path; sources under the cap are included in full.
	calibratedSourceCap = 2500

	// heuristicSourceCap is the much shorter excerpt used on the
	// uncalibrated path, where the prompt carries less structure.
	heuristicSourceCap = 300
)

// Instruction compiles the system instruction for a persona, its
// knowledge sources, and the current document content (may be empty).
func Instruction(p persona.Persona, knowledge []persona.Source, currentDoc string) string {
	var b strings.Builder

	if p.CalibrationStatus == persona.StatusCalibrated && p.Profile != nil {
		writeCalibrated(&b, p)
	} else {
		writeHeuristic(&b, p)
	}

	writeKnowledge(&b, p, knowledge)
	writeEvolution(&b, p, currentDoc)

	return b.String()
}

// writeCalibrated renders the identity block and the three weighted
// influence sections, each heading carrying its rounded percentage so the
// model sees its own relative emphasis.
func writeCalibrated(b *strings.Builder, p persona.Persona) {
	w := persona.EffectiveWeights(&p)
	prof := p.Profile

	writeIdentity(b, p)

	fmt.Fprintf(b, "## Personality Influence (%d%%)\n", pct(w.Personality))
	fmt.Fprintf(b, "Core traits: %s\n", strings.Join(prof.CoreTraits, ", "))
	fmt.Fprintf(b, "Communication style: %s\n", prof.CommunicationStyle)
	fmt.Fprintf(b, "Decision framework: %s\n", prof.DecisionFramework)
	fmt.Fprintf(b, "Worldview: %s\n", prof.Worldview)
	fmt.Fprintf(b, "Behavioral patterns: %s\n", strings.Join(prof.BehavioralPatterns, ", "))
	fmt.Fprintf(b, "Value system: %s\n\n", strings.Join(prof.ValueSystem, ", "))

	fmt.Fprintf(b, "## Knowledge Influence (%d%%)\n", pct(w.Knowledge))
	fmt.Fprintf(b, "Areas of expertise: %s\n", strings.Join(prof.ExpertiseAreas, ", "))
	b.WriteString("Ground factual claims in the knowledge sources below in proportion to this weight.\n\n")

	fmt.Fprintf(b, "## Document Context Influence (%d%%)\n", pct(w.DocumentContext))
	b.WriteString("Let the current document's direction and tone carry this much weight in your edits.\n\n")
}

// writeIdentity renders the name, role, and bio preamble shared by both
// branches, ending with the shaper sources the profile was built from.
func writeIdentity(b *strings.Builder, p persona.Persona) {
	fmt.Fprintf(b, "You are writing as %s", p.DisplayName())
	if p.Role != "" {
		fmt.Fprintf(b, ", %s", p.Role)
	}
	b.WriteString(".\n")
	if p.Bio != "" {
		fmt.Fprintf(b, "Background: %s\n", p.Bio)
	}
	if len(p.ShaperSources) > 0 {
		names := make([]string, len(p.ShaperSources))
		for i, s := range p.ShaperSources {
			names[i] = s.Name
		}
		fmt.Fprintf(b, "Profile derived from: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\n")
}

// writeHeuristic renders the uncalibrated path: traits, worldview, and
// decision framework derived from keyword matches on role and bio. Total
// and deterministic for every role/bio value, including empty strings.
func writeHeuristic(b *strings.Builder, p persona.Persona) {
	writeIdentity(b, p)

	fmt.Fprintf(b, "Apparent traits: %s\n", strings.Join(deriveTraits(p.Role, p.Bio), ", "))
	fmt.Fprintf(b, "Worldview: %s\n", deriveWorldview(p.Role, p.Bio))
	fmt.Fprintf(b, "Decision framework: %s\n\n", deriveFramework(p.Role, p.Bio))
}

func writeKnowledge(b *strings.Builder, p persona.Persona, knowledge []persona.Source) {
	if len(knowledge) == 0 {
		return
	}

	limit := heuristicSourceCap
	if p.CalibrationStatus == persona.StatusCalibrated && p.Profile != nil {
		limit = calibratedSourceCap
	}

	b.WriteString("## Knowledge Sources\n")
	for _, src := range knowledge {
		fmt.Fprintf(b, "### %s\n%s\n\n", src.Name, excerpt(src.Content, limit))
	}
}

// writeEvolution appends the most recent one or two snapshot summaries
// when there is both current content and prior history. No snapshots
// means no section, not an error.
func writeEvolution(b *strings.Builder, p persona.Persona, currentDoc string) {
	if currentDoc == "" || len(p.Snapshots) == 0 {
		return
	}

	b.WriteString("## Document Evolution\n")
	b.WriteString("Maintain consistency with the prior direction of this document:\n")

	start := len(p.Snapshots) - 2
	if start < 0 {
		start = 0
	}
	for _, snap := range p.Snapshots[start:] {
		if snap.ContextSummary == "" {
			continue
		}
		fmt.Fprintf(b, "- v%d: %s\n", snap.Version, snap.ContextSummary)
	}
	b.WriteString("\n")
}

// pct rounds a [0,1] weight to its whole-number percentage.
func pct(w float64) int {
	return int(math.Round(w * 100))
}

// EstimateTokens approximates the token count of a prompt at four
// characters per token, for callers that budget prompt size.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
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
