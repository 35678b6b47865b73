// Package engine abstracts the text-generation boundary. The core consumes
// exactly this capability; any completion-capable backend (local Ollama,
// OpenRouter cloud) satisfies it.
package engine

import "context"

// Engine is a provider-agnostic inference backend.
type Engine interface {
	Generator

	// Embed returns the embedding vector for the given text. Backends
	// without an embedding endpoint return a GenerationError.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model where the backend supports it. The
	// optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Generator is the minimal completion capability most core components
// depend on. Keeping it narrow lets tests stub a single method.
type Generator interface {
	// Generate sends a prompt and returns the full completion text.
	Generate(ctx context.Context, model string, prompt string, opts *Options) (string, error)

	// GenerateStream sends a prompt and delivers the completion in chunks
	// through fn. A non-nil error from fn aborts the stream.
	GenerateStream(ctx context.Context, model string, prompt string, opts *Options, fn func(chunk string) error) error
}

// Options carries the per-request knobs the core is allowed to set.
// Nil means backend defaults.
type Options struct {
	Temperature float64
	// System is the system instruction conditioning the completion.
	System string
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
