package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/quill/internal/api"
	"github.com/kalambet/quill/internal/calibrate"
	"github.com/kalambet/quill/internal/config"
	"github.com/kalambet/quill/internal/engine"
	"github.com/kalambet/quill/internal/evolution"
	"github.com/kalambet/quill/internal/exchange"
	"github.com/kalambet/quill/internal/feedback"
	"github.com/kalambet/quill/internal/ingest"
	"github.com/kalambet/quill/internal/pathway"
	"github.com/kalambet/quill/internal/persona"
	"github.com/kalambet/quill/internal/pipeline"
	"github.com/kalambet/quill/internal/proxy"
	"github.com/kalambet/quill/internal/retrieval"
	"github.com/kalambet/quill/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the quill server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running quill server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quill system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "quill.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "quill version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in the platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if the server is already running via the
	// health endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("quill is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("quill is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select the generation backend. The local backend also provides
	// embeddings; OpenRouter does not, so semantic search is disabled there.
	var eng engine.Engine
	draftModel := cfg.Engine.DraftModel
	fastModel := cfg.Engine.FastModel
	if cfg.Engine.Backend == config.BackendOpenRouter {
		eng = proxy.NewClient(cfg.Proxy.OpenRouterAPIKey)
		draftModel = cfg.Proxy.DefaultModel
		fastModel = cfg.Proxy.DefaultModel
		if err := engine.EnsureReady(ctx, eng, []string{draftModel}, os.Stderr); err != nil {
			return err
		}
	} else {
		eng, err = engine.Detect(engine.DetectConfig{OllamaBaseURL: cfg.Engine.BaseURL})
		if err != nil {
			return fmt.Errorf("detecting inference engine: %w", err)
		}
		models := []string{cfg.Engine.DraftModel, cfg.Engine.FastModel, cfg.Engine.EmbedModel}
		if err := engine.EnsureReady(ctx, eng, models, os.Stderr); err != nil {
			return err
		}
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	var gen engine.Generator = eng
	if cfg.Generation.CacheEnabled {
		gen = engine.NewCachedEngine(eng, store)
	}

	// Wire the domain services.
	personas := persona.NewManager(store)
	calibrator := calibrate.New(gen, fastModel)
	tracker := evolution.New(gen, fastModel)
	pathways := pathway.New(gen, fastModel, store)
	loop := feedback.New(gen, fastModel, store)
	exchanger := exchange.New(store)
	drafter := pipeline.New(gen, draftModel, tracker, store)
	drafter.SetDefaultTemperature(cfg.Generation.Temperature)

	var searcher *retrieval.Searcher
	if cfg.Engine.Backend == config.BackendLocal {
		embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
		vectors := retrieval.NewSQLiteStore(store.DB())
		searcher = retrieval.NewSearcher(embedder, vectors)
	}

	deps := api.Deps{
		Store:              store,
		Personas:           personas,
		Drafter:            drafter,
		Pathways:           pathways,
		Evolution:          tracker,
		Feedback:           loop,
		Exchanger:          exchanger,
		Searcher:           searcher,
		Token:              apiToken,
		MaxPathwaysDefault: cfg.Pathways.MaxDefault,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Start the background job worker.
	var indexer ingest.Indexer
	if searcher != nil {
		indexer = searcher
	}
	worker := ingest.NewWorker(store, calibrator, indexer, 500*time.Millisecond)
	go worker.Run(ctx)

	// Start the MCP server on stdio in a goroutine.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start the HTTP server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "quill listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("quill is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop quill (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to quill (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Backend", "%s", cfg.Engine.Backend)
	if cfg.Engine.Backend == config.BackendOpenRouter {
		printStatus("Model", "%s", cfg.Proxy.DefaultModel)
	} else {
		ollamaResp, err := client.Get(cfg.Engine.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Engine.BaseURL)
		}
		printStatus("Draft model", "%s", cfg.Engine.DraftModel)
		printStatus("Fast model", "%s", cfg.Engine.FastModel)
		printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	}

	// Show persona/source counts if the server is running.
	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		if personasResp, err := apiGet(client, serverURL+"/personas", apiToken); err == nil {
			var personas []json.RawMessage
			if json.NewDecoder(personasResp.Body).Decode(&personas) == nil {
				printStatus("Personas", "%s", countLabel(len(personas), 100))
			}
			personasResp.Body.Close()
		}
		if sourcesResp, err := apiGet(client, serverURL+"/sources", apiToken); err == nil {
			var sources []json.RawMessage
			if json.NewDecoder(sourcesResp.Body).Decode(&sources) == nil {
				printStatus("Knowledge sources", "%s", countLabel(len(sources), 100))
			}
			sourcesResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
