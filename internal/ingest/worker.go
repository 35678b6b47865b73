// Package ingest runs background jobs from the SQLite queue: persona
// calibration and knowledge-source embedding.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/storage"
)

// Job types processed by the worker.
const (
	JobPersonaCalibrate = "persona_calibrate"
	JobSourceEmbed      = "source_embed"
)

// JobStore abstracts the queue and the records jobs operate on.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetPersona(id string) (persona.Persona, error)
	SavePersona(p persona.Persona) error
	GetKnowledgeSource(id string) (storage.KnowledgeSource, error)
}

// Calibrator runs the two-pass personality extraction.
type Calibrator interface {
	Calibrate(ctx context.Context, p persona.Persona) (persona.Persona, error)
}

// Indexer chunks and embeds a knowledge source for semantic search.
type Indexer interface {
	IndexSource(ctx context.Context, sourceID, content string) (int, error)
}

// Worker processes calibration and embedding jobs from the queue.
type Worker struct {
	store      JobStore
	calibrator Calibrator
	indexer    Indexer
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, calibrator Calibrator, indexer Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:      store,
		calibrator: calibrator,
		indexer:    indexer,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

type calibratePayload struct {
	PersonaID string `json:"persona_id"`
}

type embedPayload struct {
	SourceID string `json:"source_id"`
}

// EnqueueCalibration marks the persona as calibrating and queues the job.
// The status write happens first so clients polling the persona see the
// transition immediately.
func EnqueueCalibration(store JobStore, personaID string) error {
	p, err := store.GetPersona(personaID)
	if err != nil {
		return fmt.Errorf("loading persona %s: %w", personaID, err)
	}
	if len(p.ShaperSources) == 0 {
		return persona.Validationf("persona %s has no shaper sources to calibrate from", personaID)
	}

	p.CalibrationStatus = persona.StatusCalibrating
	if err := store.SavePersona(p); err != nil {
		return fmt.Errorf("marking persona %s calibrating: %w", personaID, err)
	}

	payload, _ := json.Marshal(calibratePayload{PersonaID: personaID})
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobPersonaCalibrate,
		PayloadJSON: string(payload),
		MaxAttempts: 3,
	})
}

// EnqueueSourceEmbed queues a knowledge source for chunking and embedding.
func EnqueueSourceEmbed(store JobStore, sourceID string) error {
	payload, _ := json.Marshal(embedPayload{SourceID: sourceID})
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobSourceEmbed,
		PayloadJSON: string(payload),
		MaxAttempts: 3,
	})
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	types := []string{JobPersonaCalibrate, JobSourceEmbed}
	if w.indexer == nil {
		// No vector index configured; leave embed jobs for a worker that
		// has one.
		types = types[:1]
	}
	job, err := w.store.ClaimNextJob(types)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobPersonaCalibrate:
		return w.calibrate(ctx, job)
	case JobSourceEmbed:
		return w.embed(ctx, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) calibrate(ctx context.Context, job *storage.Job) error {
	var payload calibratePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	p, err := w.store.GetPersona(payload.PersonaID)
	if err != nil {
		return fmt.Errorf("loading persona %s: %w", payload.PersonaID, err)
	}

	calibrated, err := w.calibrator.Calibrate(ctx, p)
	if err != nil {
		// Calibration is a terminal transition either way: once retries
		// are exhausted the persona drops back to uncalibrated rather
		// than staying stuck in calibrating. Attempts counts prior
		// failures; this run is attempt Attempts+1.
		if job.Attempts+1 >= job.MaxAttempts {
			p.CalibrationStatus = persona.StatusUncalibrated
			if saveErr := w.store.SavePersona(p); saveErr != nil {
				w.logger.Error("resetting calibration status failed", "persona", p.ID, "error", saveErr)
			}
		}
		return fmt.Errorf("calibrating persona %s: %w", p.ID, err)
	}

	if err := w.store.SavePersona(calibrated); err != nil {
		return fmt.Errorf("saving calibrated persona %s: %w", p.ID, err)
	}
	return nil
}

func (w *Worker) embed(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	src, err := w.store.GetKnowledgeSource(payload.SourceID)
	if err != nil {
		return fmt.Errorf("loading knowledge source %s: %w", payload.SourceID, err)
	}

	chunks, err := w.indexer.IndexSource(ctx, src.ID, src.Content)
	if err != nil {
		return fmt.Errorf("indexing source %s: %w", src.ID, err)
	}
	w.logger.Info("source indexed", "source_id", src.ID, "chunks", chunks)
	return nil
}
