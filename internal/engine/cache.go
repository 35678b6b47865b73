package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// ResponseCache persists completed generations keyed by request hash.
// Implemented by storage.Store over the llm_cache table.
type ResponseCache interface {
	GetCachedResponse(hash string) (string, bool, error)
	PutCachedResponse(hash, response string) error
}

// CachedEngine wraps an Engine with a persistent response cache. Identical
// (model, system, prompt, temperature) requests replay the stored
// completion without touching the backend. Streaming hits are replayed in
// word-sized chunks; streaming misses pass through uncached.
type CachedEngine struct {
	Engine
	cache ResponseCache
}

// NewCachedEngine wraps e with the given cache.
func NewCachedEngine(e Engine, cache ResponseCache) *CachedEngine {
	return &CachedEngine{Engine: e, cache: cache}
}

func (c *CachedEngine) Generate(ctx context.Context, model string, prompt string, opts *Options) (string, error) {
	key := requestHash(model, prompt, opts)

	if cached, ok, err := c.cache.GetCachedResponse(key); err != nil {
		slog.Warn("response cache read failed", "error", err)
	} else if ok {
		slog.Debug("response cache hit", "model", model)
		return cached, nil
	}

	out, err := c.Engine.Generate(ctx, model, prompt, opts)
	if err != nil {
		return "", err
	}

	if err := c.cache.PutCachedResponse(key, out); err != nil {
		slog.Warn("response cache write failed", "error", err)
	}
	return out, nil
}

func (c *CachedEngine) GenerateStream(ctx context.Context, model string, prompt string, opts *Options, fn func(chunk string) error) error {
	key := requestHash(model, prompt, opts)

	if cached, ok, err := c.cache.GetCachedResponse(key); err != nil {
		slog.Warn("response cache read failed", "error", err)
	} else if ok {
		slog.Debug("response cache hit (stream replay)", "model", model)
		return replayChunks(ctx, cached, fn)
	}

	return c.Engine.GenerateStream(ctx, model, prompt, opts, fn)
}

// replayChunks delivers a cached completion as word-sized chunks so
// callers see the same incremental interface as a live stream.
func replayChunks(ctx context.Context, full string, fn func(chunk string) error) error {
	words := strings.Split(full, " ")
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := w
		if i < len(words)-1 {
			chunk += " "
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}

func requestHash(model, prompt string, opts *Options) string {
	system, temp := optionValues(opts)
	h := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%s\x00%g", model, system, prompt, temp))
	return hex.EncodeToString(h[:])
}
