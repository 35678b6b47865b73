package config

import (
	"fmt"
	"strings"
)

// Engine backends.
const (
	BackendLocal      = "local"
	BackendOpenRouter = "openrouter"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Generation GenerationConfig
	Pathways   PathwaysConfig
	Storage    StorageConfig
	Proxy      ProxyConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

// EngineConfig selects the generation backend and its models. The local
// backend talks to Ollama; openrouter proxies to the hosted API.
type EngineConfig struct {
	Backend    string
	BaseURL    string
	DraftModel string
	FastModel  string
	EmbedModel string
}

type GenerationConfig struct {
	CacheEnabled bool
	Temperature  float64
}

type PathwaysConfig struct {
	// MaxDefault bounds optimal-pathway results when the caller gives no
	// explicit limit.
	MaxDefault int
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Engine: EngineConfig{
			Backend:    BackendLocal,
			BaseURL:    "http://localhost:11434",
			DraftModel: "mistral-nemo",
			FastModel:  "phi3.5",
			EmbedModel: "nomic-embed-text",
		},
		Generation: GenerationConfig{
			CacheEnabled: true,
			Temperature:  0.7,
		},
		Pathways: PathwaysConfig{
			MaxDefault: 5,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Proxy: ProxyConfig{
			DefaultModel: "anthropic/claude-opus-4",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.quill.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/quill/config.json
// and secrets live in a mode-0600 JSON file under $XDG_DATA_HOME.
//
// Environment variables (QUILL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.OpenRouterAPIKey == "" {
		if key, err := kc.Get(secretService, "openrouter_api_key"); err == nil && key != "" {
			cfg.Proxy.OpenRouterAPIKey = key
		}
	}

	// The key is only a hard requirement when generation actually routes
	// through OpenRouter; the local backend needs no credentials.
	if cfg.Engine.Backend == BackendOpenRouter && cfg.Proxy.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable QUILL_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	switch cfg.Engine.Backend {
	case BackendLocal, BackendOpenRouter:
	default:
		return Config{}, fmt.Errorf("unknown engine backend %q (valid: %s, %s)",
			cfg.Engine.Backend, BackendLocal, BackendOpenRouter)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
