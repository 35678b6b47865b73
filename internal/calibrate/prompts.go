package calibrate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/quill/internal/persona"
)

// maxSourceExcerpt bounds the per-document excerpt in the extraction
// prompt so a handful of large sources cannot blow the context window.
const maxSourceExcerpt = 2500

const profileFieldContract = `Respond with a JSON object containing exactly these fields:
{
  "coreTraits": ["3-6 short trait phrases"],
  "communicationStyle": "one sentence",
  "decisionFramework": "one sentence",
  "worldview": "one sentence",
  "expertiseAreas": ["2-5 domains"],
  "behavioralPatterns": ["3-6 observable patterns"],
  "valueSystem": ["3-6 values"]
}`

// extractionPrompt builds the first-pass prompt over the persona's shaper
// sources, each bounded to maxSourceExcerpt characters.
func extractionPrompt(p persona.Persona) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the following documents written by or about %s", p.DisplayName())
	if p.Role != "" {
		fmt.Fprintf(&b, " (%s)", p.Role)
	}
	b.WriteString(" and derive a structured personality profile.\n\n")

	for i, src := range p.ShaperSources {
		fmt.Fprintf(&b, "--- Document %d: %s ---\n", i+1, src.Name)
		b.WriteString(excerpt(src.Content, maxSourceExcerpt))
		b.WriteString("\n\n")
	}

	b.WriteString(profileFieldContract)
	return b.String()
}

// refinementPrompt asks the model to resolve contradictions in the
// extracted profile and tone down extremes, with the same field contract.
func refinementPrompt(p persona.Persona, extracted persona.PersonalityProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The following personality profile was extracted for %s. ", p.DisplayName())
	b.WriteString("Review it, resolve contradictions between fields, and rebalance any extreme claims while keeping the substance intact.\n\n")

	fmt.Fprintf(&b, "Core traits: %s\n", strings.Join(extracted.CoreTraits, ", "))
	fmt.Fprintf(&b, "Communication style: %s\n", extracted.CommunicationStyle)
	fmt.Fprintf(&b, "Decision framework: %s\n", extracted.DecisionFramework)
	fmt.Fprintf(&b, "Worldview: %s\n", extracted.Worldview)
	fmt.Fprintf(&b, "Expertise areas: %s\n", strings.Join(extracted.ExpertiseAreas, ", "))
	fmt.Fprintf(&b, "Behavioral patterns: %s\n", strings.Join(extracted.BehavioralPatterns, ", "))
	fmt.Fprintf(&b, "Value system: %s\n\n", strings.Join(extracted.ValueSystem, ", "))

	b.WriteString(profileFieldContract)
	return b.String()
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
