// Package exchange serializes personas and knowledge sources to a portable
// JSON document and validates such documents on the way back in.
package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/storage"
)

// FormatVersion is written into every export and checked on import.
const FormatVersion = "1.0"

// Document is the portable export format. Both slices are always present,
// possibly empty.
type Document struct {
	Personas         []persona.Persona        `json:"personas"`
	KnowledgeSources []storage.KnowledgeSource `json:"knowledgeSources"`
	ExportDate       time.Time                 `json:"exportDate"`
	Version          string                    `json:"version"`
}

// ImportError reports why a document was rejected. Index is the position
// of the offending record within its array, or -1 for document-level
// problems.
type ImportError struct {
	Record string // "document", "persona" or "knowledgeSource"
	Index  int
	Msg    string
}

func (e *ImportError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("import rejected: %s", e.Msg)
	}
	return fmt.Sprintf("import rejected: %s %d: %s", e.Record, e.Index, e.Msg)
}

func importErrorf(record string, index int, format string, args ...any) *ImportError {
	return &ImportError{Record: record, Index: index, Msg: fmt.Sprintf(format, args...)}
}

// Store is the persistence surface exchange needs.
// Implemented by storage.Store.
type Store interface {
	ListPersonas() ([]persona.Persona, error)
	ListKnowledgeSources() ([]storage.KnowledgeSource, error)
	ImportState(personas []persona.Persona, sources []storage.KnowledgeSource) error
}

// Exchanger exports and imports the full persona and knowledge state.
type Exchanger struct {
	store Store
	clock persona.Clock
}

// New creates an Exchanger.
func New(store Store) *Exchanger {
	return NewWithClock(store, persona.RealClock())
}

// NewWithClock creates an Exchanger with a custom clock (for testing).
func NewWithClock(store Store, clock persona.Clock) *Exchanger {
	return &Exchanger{store: store, clock: clock}
}

// Export collects every persona and knowledge source into a Document.
func (e *Exchanger) Export() (Document, error) {
	personas, err := e.store.ListPersonas()
	if err != nil {
		return Document{}, fmt.Errorf("listing personas for export: %w", err)
	}
	sources, err := e.store.ListKnowledgeSources()
	if err != nil {
		return Document{}, fmt.Errorf("listing knowledge sources for export: %w", err)
	}
	if personas == nil {
		personas = []persona.Persona{}
	}
	if sources == nil {
		sources = []storage.KnowledgeSource{}
	}
	return Document{
		Personas:         personas,
		KnowledgeSources: sources,
		ExportDate:       e.clock.Now(),
		Version:          FormatVersion,
	}, nil
}

// ExportJSON renders the export document as indented JSON.
func (e *Exchanger) ExportJSON() ([]byte, error) {
	doc, err := e.Export()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import validates the whole document first, then hands every record to
// the store in one transactional write, so a failure part-way through
// leaves existing state untouched. Personas with no calibration status
// come in as uncalibrated.
func (e *Exchanger) Import(doc Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	personas := make([]persona.Persona, len(doc.Personas))
	for i, p := range doc.Personas {
		if p.CalibrationStatus == "" {
			p.CalibrationStatus = persona.StatusUncalibrated
		}
		personas[i] = p
	}
	sources := make([]storage.KnowledgeSource, len(doc.KnowledgeSources))
	for i, src := range doc.KnowledgeSources {
		if src.CreatedAt.IsZero() {
			src.CreatedAt = e.clock.Now()
		}
		sources[i] = src
	}
	if err := e.store.ImportState(personas, sources); err != nil {
		return fmt.Errorf("writing imported state: %w", err)
	}
	return nil
}

// ImportJSON decodes and imports a document. A document whose arrays are
// absent (as opposed to empty) is rejected.
func (e *Exchanger) ImportJSON(data []byte) error {
	var raw struct {
		Personas         json.RawMessage `json:"personas"`
		KnowledgeSources json.RawMessage `json:"knowledgeSources"`
		ExportDate       time.Time       `json:"exportDate"`
		Version          string          `json:"version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return importErrorf("document", -1, "not valid JSON: %v", err)
	}
	if raw.Personas == nil {
		return importErrorf("document", -1, "missing personas array")
	}
	if raw.KnowledgeSources == nil {
		return importErrorf("document", -1, "missing knowledgeSources array")
	}

	doc := Document{ExportDate: raw.ExportDate, Version: raw.Version}
	if err := json.Unmarshal(raw.Personas, &doc.Personas); err != nil {
		return importErrorf("document", -1, "personas is not an array: %v", err)
	}
	if err := json.Unmarshal(raw.KnowledgeSources, &doc.KnowledgeSources); err != nil {
		return importErrorf("document", -1, "knowledgeSources is not an array: %v", err)
	}
	return e.Import(doc)
}

func validate(doc Document) error {
	if doc.Personas == nil {
		return importErrorf("document", -1, "missing personas array")
	}
	if doc.KnowledgeSources == nil {
		return importErrorf("document", -1, "missing knowledgeSources array")
	}
	for i, p := range doc.Personas {
		switch {
		case p.ID == "":
			return importErrorf("persona", i, "missing id")
		case p.Name == "":
			return importErrorf("persona", i, "missing name")
		case p.Role == "":
			return importErrorf("persona", i, "missing role")
		}
		switch p.CalibrationStatus {
		case "", persona.StatusUncalibrated, persona.StatusCalibrating, persona.StatusCalibrated:
		default:
			return importErrorf("persona", i, "unknown calibration status %q", p.CalibrationStatus)
		}
	}
	for i, src := range doc.KnowledgeSources {
		switch {
		case src.ID == "":
			return importErrorf("knowledgeSource", i, "missing id")
		case src.Name == "":
			return importErrorf("knowledgeSource", i, "missing name")
		case src.Content == "":
			return importErrorf("knowledgeSource", i, "missing content")
		}
	}
	return nil
}
