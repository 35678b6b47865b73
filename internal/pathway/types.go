// Package pathway decomposes knowledge sources into addressable,
// independently scorable information subsets and runs constrained
// generation restricted to a selected subset.
package pathway

import "time"

// KeyPoint is an atomic scored fact extracted from a source.
type KeyPoint struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Relevance int    `json:"relevance"` // 0–100
	Category  string `json:"category"`
}

// Pathway is a named, bounded route through a source document, with
// cross-references to the key points it connects.
type Pathway struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	KeyPointIDs []string `json:"keyPointIds"`
}

// Artifacts is the extraction output for one source: both lists are
// best-effort and either may be empty.
type Artifacts struct {
	SourceID  string     `json:"sourceId"`
	KeyPoints []KeyPoint `json:"keyPoints"`
	Pathways  []Pathway  `json:"pathways"`
}

// Reference is a scored pointer into a specific pathway of a specific
// source, the unit of selection for constrained generation.
type Reference struct {
	SourceID  string `json:"sourceId"`
	PathwayID string `json:"pathwayId"`
	Relevance int    `json:"relevance"` // 0–100
	Context   string `json:"context"`
}

// Result bundles the outcome of one constrained generation run.
type Result struct {
	ID                string      `json:"id"`
	SelectedPathways  []Reference `json:"selectedPathways"`
	ProcessingSummary string      `json:"processingSummary"`
	GeneratedContent  string      `json:"generatedContent"`
	Confidence        int         `json:"confidence"` // 0–100
	CreatedAt         time.Time   `json:"createdAt"`
}
