package compose

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/quill/internal/persona"
)

func calibratedPersona() persona.Persona {
	return persona.Persona{
		ID:   "p-1",
		Name: "Nadia",
		Role: "analyst",
		Profile: &persona.PersonalityProfile{
			CoreTraits:         []string{"methodical", "direct"},
			CommunicationStyle: "short declarative sentences",
			DecisionFramework:  "evidence before opinion",
			Worldview:          "systems explain behavior",
			ExpertiseAreas:     []string{"economics"},
			BehavioralPatterns: []string{"cites figures"},
			ValueSystem:        []string{"accuracy"},
		},
		CalibrationStatus: persona.StatusCalibrated,
		Weights:           &persona.Weights{Personality: 0.15, Knowledge: 0.45, DocumentContext: 0.40},
	}
}

// TestInstructionPurity asserts identical inputs yield identical output.
func TestInstructionPurity(t *testing.T) {
	p := calibratedPersona()
	k := []persona.Source{{ID: "k1", Name: "notes.txt", Content: "quarterly figures"}}

	a := Instruction(p, k, "current draft")
	b := Instruction(p, k, "current draft")
	if a != b {
		t.Error("Instruction is not deterministic for identical inputs")
	}

	// The heuristic path must be pure too.
	u := persona.Persona{ID: "p-2", Name: "Max", Role: "diplomat", CalibrationStatus: persona.StatusUncalibrated}
	if Instruction(u, nil, "") != Instruction(u, nil, "") {
		t.Error("heuristic Instruction is not deterministic")
	}
}

// TestInstructionWeightPercentages asserts section headings carry the
// stored weights rounded to whole percentages.
func TestInstructionWeightPercentages(t *testing.T) {
	p := calibratedPersona()
	p.Weights = &persona.Weights{Personality: 0.254, Knowledge: 0.333, DocumentContext: 0.413}

	out := Instruction(p, nil, "")
	for _, want := range []string{"(25%)", "(33%)", "(41%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

func TestInstructionDefaultWeights(t *testing.T) {
	p := calibratedPersona()
	p.Weights = nil

	out := Instruction(p, nil, "")
	for _, want := range []string{"(15%)", "(45%)", "(40%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing default weight %s", want)
		}
	}
}

// TestInstructionSourceNamesVerbatim asserts every knowledge source name
// appears verbatim when the list is non-empty.
func TestInstructionSourceNamesVerbatim(t *testing.T) {
	k := []persona.Source{
		{ID: "k1", Name: "Treaty Draft 1987.txt", Content: "article one"},
		{ID: "k2", Name: "memoirs-vol2.md", Content: "chapter nine"},
	}

	for _, p := range []persona.Persona{calibratedPersona(), {ID: "u", Name: "Un", CalibrationStatus: persona.StatusUncalibrated}} {
		out := Instruction(p, k, "")
		for _, src := range k {
			if !strings.Contains(out, src.Name) {
				t.Errorf("status %s: output missing source name %q", p.CalibrationStatus, src.Name)
			}
		}
	}
}

func TestInstructionShaperSourceNamesVerbatim(t *testing.T) {
	shapers := []persona.Source{
		{ID: "sh1", Name: "memoir-1889.txt", Content: "early years"},
		{ID: "sh2", Name: "letters-to-editors.md", Content: "correspondence"},
	}

	cal := calibratedPersona()
	cal.ShaperSources = shapers
	uncal := persona.Persona{
		ID: "u", Name: "Un",
		CalibrationStatus: persona.StatusUncalibrated,
		ShaperSources:     shapers,
	}

	for _, p := range []persona.Persona{cal, uncal} {
		out := Instruction(p, nil, "")
		for _, src := range shapers {
			if !strings.Contains(out, src.Name) {
				t.Errorf("status %s: output missing shaper source name %q", p.CalibrationStatus, src.Name)
			}
		}
	}
}

// TestInstructionIntelligenceWorldview covers the edit-cycle scenario: an
// uncalibrated persona whose bio mentions the KGB must produce the fixed
// security worldview, and the knowledge source must appear verbatim.
func TestInstructionIntelligenceWorldview(t *testing.T) {
	p := persona.Persona{
		ID:                "p-kgb",
		Name:              "Viktor",
		Role:              "statesman",
		Bio:               "Former KGB officer turned negotiator",
		CalibrationStatus: persona.StatusUncalibrated,
	}
	k := []persona.Source{{ID: "k1", Name: "Treaty text", Content: "The parties agree to mutual inspections."}}

	out := Instruction(p, k, "")
	if !strings.Contains(out, "Security-first approach to international relations") {
		t.Errorf("output missing the security worldview:\n%s", out)
	}
	if !strings.Contains(out, "Treaty text") {
		t.Error("output missing the knowledge source name")
	}
}

// TestHeuristicsTotal asserts the heuristic derivations return non-empty
// strings for every role/bio combination, including empty ones.
func TestHeuristicsTotal(t *testing.T) {
	cases := []struct{ role, bio string }{
		{"", ""},
		{"president", ""},
		{"", "spent years in military intelligence"},
		{"business founder", "serial entrepreneur"},
		{"unmatched role", "unmatched bio"},
	}
	for _, c := range cases {
		if len(deriveTraits(c.role, c.bio)) == 0 {
			t.Errorf("deriveTraits(%q, %q) empty", c.role, c.bio)
		}
		if deriveWorldview(c.role, c.bio) == "" {
			t.Errorf("deriveWorldview(%q, %q) empty", c.role, c.bio)
		}
		if deriveFramework(c.role, c.bio) == "" {
			t.Errorf("deriveFramework(%q, %q) empty", c.role, c.bio)
		}
	}
}

// TestHeuristicTraitsAccumulate verifies multiple keyword matches all
// contribute traits while worldview stays first-match-wins.
func TestHeuristicTraitsAccumulate(t *testing.T) {
	traits := deriveTraits("diplomat", "former military attache")
	joined := strings.Join(traits, ",")
	if !strings.Contains(joined, "tactful") || !strings.Contains(joined, "disciplined") {
		t.Errorf("traits = %v, want contributions from both rules", traits)
	}

	if w := deriveWorldview("diplomat", "former military attache"); w != "Every conflict has a negotiated settlement" {
		t.Errorf("worldview = %q, want the first matching rule", w)
	}
}

func TestInstructionEvolutionSection(t *testing.T) {
	p := calibratedPersona()
	p.Snapshots = []persona.DocumentSnapshot{
		{ID: "s1", Version: 1, ContextSummary: "established the opening argument"},
		{ID: "s2", Version: 2, ContextSummary: "sharpened the conclusion"},
		{ID: "s3", Version: 3, ContextSummary: "added supporting data"},
	}

	out := Instruction(p, nil, "current draft text")
	if !strings.Contains(out, "sharpened the conclusion") || !strings.Contains(out, "added supporting data") {
		t.Errorf("evolution section missing recent summaries:\n%s", out)
	}
	if strings.Contains(out, "established the opening argument") {
		t.Error("evolution section should carry at most the last two snapshots")
	}

	// No current content or no history: no section.
	if strings.Contains(Instruction(p, nil, ""), "Document Evolution") {
		t.Error("evolution section present without current content")
	}
	p.Snapshots = nil
	if strings.Contains(Instruction(p, nil, "draft"), "Document Evolution") {
		t.Error("evolution section present without snapshots")
	}
}

// TestInstructionProfileFieldsVerbatim verifies calibrated profile fields
// are interpolated untouched.
func TestInstructionProfileFieldsVerbatim(t *testing.T) {
	p := calibratedPersona()
	out := Instruction(p, nil, "")

	for _, want := range []string{
		"methodical, direct",
		"short declarative sentences",
		"evidence before opinion",
		"systems explain behavior",
		"economics",
		"cites figures",
		"accuracy",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing profile field %q", want)
		}
	}
}

func TestInstructionUncalibratedExcerptBounded(t *testing.T) {
	p := persona.Persona{ID: "u", Name: "Un", CalibrationStatus: persona.StatusUncalibrated}
	long := strings.Repeat("filler ", 500)
	k := []persona.Source{{ID: "k1", Name: "big.txt", Content: long}}

	out := Instruction(p, k, "")
	if strings.Contains(out, long) {
		t.Error("uncalibrated path included full oversized source content")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.in); got != c.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(c.in), got, c.want)
		}
	}
}

func TestInstructionEmptyPersona(t *testing.T) {
	out := Instruction(persona.Persona{}, nil, "")
	if out == "" {
		t.Fatal("instruction for zero persona is empty")
	}
	if !strings.Contains(out, fallbackWorldview) {
		t.Errorf("zero persona missing fallback worldview: %s", out)
	}
}

func ExampleInstruction() {
	p := persona.Persona{Name: "Ivan", Role: "diplomat", CalibrationStatus: persona.StatusUncalibrated}
	out := Instruction(p, nil, "")
	fmt.Println(strings.Contains(out, "Every conflict has a negotiated settlement"))
	// Output: true
}
