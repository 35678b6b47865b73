package engine

// DetectConfig holds parameters for local backend detection.
type DetectConfig struct {
	OllamaBaseURL string
}

// Detect probes available local inference backends and returns the best
// one. Currently always returns a LocalEngine; the OpenRouter cloud
// engine is selected at wiring time when config names it explicitly.
func Detect(cfg DetectConfig) (Engine, error) {
	return NewLocalEngine(cfg.OllamaBaseURL), nil
}
