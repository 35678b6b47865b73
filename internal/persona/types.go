// Package persona defines the central domain entities: personas, their
// calibrated personality profiles, influence weights, document snapshots,
// and development guidance.
package persona

import "time"

// CalibrationStatus is the persona calibration state machine.
// Transitions: uncalibrated → calibrating → calibrated, with a failure
// edge calibrating → uncalibrated.
type CalibrationStatus string

const (
	StatusUncalibrated CalibrationStatus = "uncalibrated"
	StatusCalibrating  CalibrationStatus = "calibrating"
	StatusCalibrated   CalibrationStatus = "calibrated"
)

// Source is an already-decoded plain-text document. Immutable once created;
// format decoding happens upstream and is never this module's concern.
type Source struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// PersonalityProfile is the structured output of calibration. Downstream
// code treats every field as opaque text; only the instruction compiler
// interpolates them.
type PersonalityProfile struct {
	CoreTraits         []string `json:"coreTraits"`
	CommunicationStyle string   `json:"communicationStyle"`
	DecisionFramework  string   `json:"decisionFramework"`
	Worldview          string   `json:"worldview"`
	ExpertiseAreas     []string `json:"expertiseAreas"`
	BehavioralPatterns []string `json:"behavioralPatterns"`
	ValueSystem        []string `json:"valueSystem"`
}

// Weights is the three-way influence split controlling how strongly
// personality, knowledge base, and current document context shape
// generation. Components are clamped to [0,1]; the sum-to-1 rule is a
// soft invariant enforced by callers, never by this package.
type Weights struct {
	Personality     float64 `json:"personality"`
	Knowledge       float64 `json:"knowledge"`
	DocumentContext float64 `json:"documentContext"`
}

// Sum returns the component total, for callers that want to warn when the
// soft sum-to-1 invariant is off.
func (w Weights) Sum() float64 {
	return w.Personality + w.Knowledge + w.DocumentContext
}

// DocumentSnapshot is one immutable entry in a persona's edit history.
// Version is the 1-based sequence number and strictly increases.
type DocumentSnapshot struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Content        string    `json:"content"`
	Version        int       `json:"version"`
	Changes        []string  `json:"changes"`
	ContextSummary string    `json:"contextSummary"`
}

// GuidanceType classifies a development guidance item.
type GuidanceType string

const (
	GuidanceSuggestion  GuidanceType = "suggestion"
	GuidanceImprovement GuidanceType = "improvement"
	GuidanceRefinement  GuidanceType = "refinement"
	GuidanceValidation  GuidanceType = "validation"
)

// DevelopmentGuidance is an advisory, non-authoritative improvement hint.
// Applied is the only mutable field.
type DevelopmentGuidance struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Type       GuidanceType `json:"type"`
	Content    string       `json:"content"`
	Applied    bool         `json:"applied"`
	Confidence int          `json:"confidence"` // 0–100
}

// ChemistryReport is the cached output of the chemistry balancing
// operation; it lives until the next balancing call overwrites it.
type ChemistryReport struct {
	AlignmentScore   int       `json:"alignmentScore"` // 0–100
	Recommendations  []string  `json:"recommendations"`
	LastBalanced     time.Time `json:"lastBalanced"`
	EvolutionHistory []string  `json:"evolutionHistory"`
}

// Persona is the central long-lived entity: a named identity with a
// biography, optional calibrated profile, shaper sources, and the
// evolution history of the document written in its voice.
type Persona struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname,omitempty"`
	Role    string `json:"role"`
	Bio     string `json:"bio,omitempty"`

	ShaperSources []Source `json:"shaperSources,omitempty"`

	// Profile is present iff CalibrationStatus == StatusCalibrated.
	Profile           *PersonalityProfile `json:"personalityProfile,omitempty"`
	CalibrationStatus CalibrationStatus   `json:"calibrationStatus"`
	LastCalibrated    *time.Time          `json:"lastCalibrated,omitempty"`

	Weights *Weights `json:"weights,omitempty"`

	// Snapshots is append-only; index order is chronology.
	Snapshots []DocumentSnapshot    `json:"documentSnapshots,omitempty"`
	Guidance  []DevelopmentGuidance `json:"developmentGuidance,omitempty"`
	Chemistry *ChemistryReport      `json:"personalityChemistry,omitempty"`
}

// NextSnapshotVersion returns the version the next snapshot must carry.
func (p *Persona) NextSnapshotVersion() int {
	return len(p.Snapshots) + 1
}

// LatestSnapshot returns the most recent snapshot, or nil when the history
// is empty.
func (p *Persona) LatestSnapshot() *DocumentSnapshot {
	if len(p.Snapshots) == 0 {
		return nil
	}
	return &p.Snapshots[len(p.Snapshots)-1]
}

// DisplayName joins name and surname for prompt and UI use.
func (p *Persona) DisplayName() string {
	if p.Surname == "" {
		return p.Name
	}
	return p.Name + " " + p.Surname
}
