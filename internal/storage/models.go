package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// KnowledgeSource is a plain-text document in the shared knowledge base,
// available to every persona during instruction compilation.
type KnowledgeSource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// EditRating is the persisted feedback for a single generated edit.
// MetricsJSON holds the scored edit metrics as a JSON object.
type EditRating struct {
	EditID      string
	PersonaID   string
	Stars       int
	Comments    string
	MetricsJSON string
	CreatedAt   time.Time
}

// PathwayRun records one pathway processing request and its outcome.
// ResponseJSON holds the generated response payload.
type PathwayRun struct {
	ID           string
	PersonaID    string
	SourceID     string
	Request      string
	ResponseJSON string
	CreatedAt    time.Time
}

// PathwayCacheEntry holds the extracted key points and pathways for one
// knowledge source, serialized as JSON arrays.
type PathwayCacheEntry struct {
	SourceID      string
	KeyPointsJSON string
	PathwaysJSON  string
	UpdatedAt     time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
