package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/autodata-labs/autodata/internal/config"
	"github.com/autodata-labs/autodata/internal/llm"
	"github.com/autodata-labs/autodata/internal/llm/gemini"
	"github.com/autodata-labs/autodata/internal/llm/openai"
	"github.com/autodata-labs/autodata/internal/observability"
	"github.com/autodata-labs/autodata/internal/orchestrator"
	"github.com/autodata-labs/autodata/internal/storage"
	"github.com/autodata-labs/autodata/internal/workers"
)

// Exit codes for the run command.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitConfig  = 2
)

var (
	runConfigPath string
	runGoal       string
	runOutputDir  string
	runEphemeral  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a dataset collection from a natural-language request",
	Long: `Run the full collection pipeline for a dataset request.

The planner decomposes the request into research steps, the web and tool
workers investigate sources, the blueprint worker designs the collection,
and the engineer/test/validation workers produce verified collection code.
Validated artifacts are written to the output directory.

Examples:
  autodata run -g "collect the top 500 Hacker News posts of 2025 with scores"
  autodata run -g "build a CSV of all UN member states with capitals" -o ./out`,
	RunE: runCollect,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "config file path (default ~/.autodata/config.yaml, or AUTODATA_CONFIG)")
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "dataset request in natural language (required)")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "directory for run artifacts (default <data_dir>/runs/<run_id>)")
	runCmd.Flags().BoolVar(&runEphemeral, "ephemeral", false, "keep run history in memory only, skip the database")
}

func runCollect(_ *cobra.Command, args []string) error {
	goal := runGoal
	if goal == "" && len(args) > 0 {
		goal = args[0]
	}
	if goal == "" {
		return fmt.Errorf("a dataset request is required: use -g or pass it as an argument")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfig)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()

	// LLM provider.
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing provider: %w", err)
	}
	logger.Debug("provider initialized", slog.String("provider", provider.Name()))

	// Run store.
	store, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	if dbStore, ok := store.(*storage.Store); ok {
		defer func() {
			if err := dbStore.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		}()
		if obs != nil && obs.Health != nil {
			obs.Health.AddCheck("database", dbStore.Ping)
		}
	}

	obs.Serve()

	// Workers.
	pipeline, err := workers.New(workers.Config{
		Provider:  provider,
		MaxTokens: cfg.Workers.MaxTokens,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building workers: %w", err)
	}

	// Orchestrator.
	metrics := orchestrator.NewMetrics(obs.RegistryOrNil())
	manager := orchestrator.NewManager(pipeline, store, metrics, logger, orchestrator.ManagerConfig{
		MaxAttempts:        cfg.Orchestrator.MaxAttempts,
		MaxBackEdges:       cfg.Orchestrator.MaxBackEdges,
		MaxConcurrentSteps: cfg.Orchestrator.MaxConcurrentSteps,
		WorkerTimeout:      cfg.Orchestrator.WorkerTimeout(),
		BackoffInitial:     cfg.Orchestrator.BackoffInitial(),
		BackoffMax:         cfg.Orchestrator.BackoffMax(),
	})
	if ts := obs.TracerOrNil(); ts != nil {
		manager = manager.WithTracer(ts.Tracer())
	}

	logger.Info("starting collection run", slog.String("goal", goal))
	result, runErr := manager.Run(ctx, goal)

	if result != nil {
		if err := writeArtifacts(cfg, result); err != nil {
			logger.Error("writing artifacts", slog.String("error", err.Error()))
		}
		printSummary(result)
	}

	if runErr != nil {
		var aborted *orchestrator.RunAbortedError
		if errors.As(runErr, &aborted) {
			fmt.Fprintf(os.Stderr, "Run failed at worker %q: %v\n", aborted.Worker, aborted.Cause)
		} else {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", runErr)
		}
		os.Exit(ExitFailure)
	}
	return nil
}

// loadConfig resolves the config source: explicit flag or AUTODATA_CONFIG,
// falling back to the default path and then to env-only configuration.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("AUTODATA_CONFIG", runConfigPath)
	if path != "" {
		return config.Load(path)
	}
	if def := config.DefaultConfigPath(); fileExists(def) {
		return config.Load(def)
	}
	return config.Default()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newProvider creates the LLM provider based on the configured default.
func newProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name := cfg.Providers.DefaultProvider(); name {
	case "gemini":
		opts := []gemini.Option{gemini.WithJSONOutput()}
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(
			cfg.Providers.Gemini.APIKey,
			cfg.Providers.Gemini.Model,
			logger,
			opts...,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// initStore creates the run store: database-backed by default, in-memory
// with --ephemeral.
func initStore(cfg *config.Config, logger *slog.Logger) (orchestrator.RunStore, error) {
	if runEphemeral {
		return orchestrator.NewInMemoryStore(), nil
	}

	storageCfg := storage.Config{Driver: cfg.Storage.StorageDriver()}
	switch storageCfg.Driver {
	case storage.DriverSQLite:
		storageCfg.Path = cfg.DatabasePath()
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		storageCfg.DSN = pg.DSN
		storageCfg.MaxOpenConns = pg.MaxOpenConns
		storageCfg.MaxIdleConns = pg.MaxIdleConns
		storageCfg.ConnMaxLifetime = time.Duration(pg.ConnMaxLifetimeS) * time.Second
	}
	dbStore, err := storage.Open(storageCfg, logger)
	if err != nil {
		return nil, err
	}
	return dbStore, nil
}

// writeArtifacts persists every validated artifact to the output directory.
func writeArtifacts(cfg *config.Config, result *orchestrator.Result) error {
	dir := runOutputDir
	if dir == "" {
		dir = filepath.Join(cfg.DataDir, "runs", result.RunID.String())
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	for name, raw := range result.Artifacts {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, raw, 0640); err != nil {
			return fmt.Errorf("writing artifact %s: %w", name, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Artifacts written to %s\n", dir)
	return nil
}

func printSummary(result *orchestrator.Result) {
	fmt.Printf("run_id: %s\n", result.RunID)
	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("artifacts: %d\n", len(result.Artifacts))
	fmt.Printf("messages: %d\n", len(result.History))
}
