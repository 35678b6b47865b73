package engine

import (
	"context"

	"github.com/kalambet/quill/internal/ollama"
)

// LocalEngine adapts the internal/ollama.Client to the Engine interface.
type LocalEngine struct {
	client *ollama.Client
}

// NewLocalEngine creates a LocalEngine backed by an Ollama server at baseURL.
func NewLocalEngine(baseURL string) *LocalEngine {
	return &LocalEngine{client: ollama.New(baseURL)}
}

func (e *LocalEngine) Generate(ctx context.Context, model string, prompt string, opts *Options) (string, error) {
	system, temp := optionValues(opts)
	out, err := e.client.Generate(ctx, model, prompt, system, temp)
	if err != nil {
		return "", Generationf("generate", err)
	}
	return out, nil
}

func (e *LocalEngine) GenerateStream(ctx context.Context, model string, prompt string, opts *Options, fn func(chunk string) error) error {
	system, temp := optionValues(opts)
	if err := e.client.GenerateStream(ctx, model, prompt, system, temp, fn); err != nil {
		return Generationf("generate stream", err)
	}
	return nil
}

func (e *LocalEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	if err != nil {
		return nil, Generationf("embed", err)
	}
	return vec, nil
}

func (e *LocalEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *LocalEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *LocalEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *LocalEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func optionValues(opts *Options) (system string, temperature float64) {
	if opts == nil {
		return "", 0
	}
	return opts.System, opts.Temperature
}
