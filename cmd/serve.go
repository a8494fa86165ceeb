package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/advisr-io/advisr/api"
	"github.com/advisr-io/advisr/db"
	"github.com/advisr-io/advisr/internal/config"
	"github.com/advisr-io/advisr/internal/dialogue"
	"github.com/advisr-io/advisr/internal/extract"
	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/persist"
	"github.com/advisr-io/advisr/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the advisory HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the process logger. DEBUG (any value) lowers the
// level; ADVISR_LOG_JSON switches to JSON output for log collectors.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("ADVISR_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.New(cfg)
}

// runServe wires the application together and serves until SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("starting advisr",
		"version", AppVersion,
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"persistence", cfg.PersistenceEnabled,
	)

	g, err := initGenkit(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing genkit: %w", err)
	}

	store := session.NewStore(session.StoreConfig{
		TTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	}, logger.With("component", "session"))
	store.StartSweeper(time.Duration(cfg.SweepIntervalMinutes) * time.Minute)
	defer store.Close()

	extractor := extract.New(g, cfg.ModelName,
		time.Duration(cfg.ExtractTimeoutSeconds)*time.Second,
		logger.With("component", "extract"))

	// The persistence bridge is optional. Without it the service runs
	// purely in memory and the readiness probe skips the database ping.
	var (
		pool     *pgxpool.Pool
		notifier dialogue.Notifier
	)
	if cfg.PersistenceEnabled {
		p, n, err := setupPersistence(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("setting up persistence: %w", err)
		}
		pool = p
		notifier = n
		defer p.Close()
		defer n.Close() // drain the queue before the pool closes
	}

	engine, err := dialogue.New(dialogue.Config{
		Store:     store,
		Extractor: extractor,
		Notifier:  notifier,
		Logger:    logger.With("component", "dialogue"),
	})
	if err != nil {
		return fmt.Errorf("creating dialogue engine: %w", err)
	}

	flow := dialogue.NewFlow(g, engine, logger.With("component", "flow"))

	server := api.NewServer(api.ServerConfig{
		Store:      store,
		Flow:       flow,
		Pool:       pool,
		RateRPS:    cfg.RateLimitRPS,
		RateBurst:  cfg.RateLimitBurst,
		TrustProxy: cfg.TrustProxy,
		Logger:     logger.With("component", "api"),
	})

	return server.Run(ctx, cfg.ServerAddr)
}

// initGenkit initializes Genkit with the configured AI provider.
// API keys are read by the plugins from the environment
// (GEMINI_API_KEY / OPENAI_API_KEY); config.Validate checks presence.
func initGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// setupPersistence runs migrations, opens the connection pool and starts
// the write-behind notifier.
func setupPersistence(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, *persist.Notifier, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	notifier := persist.NewNotifier(persist.NewPostgres(pool), persist.NotifierConfig{},
		logger.With("component", "persist"))

	logger.Info("persistence bridge enabled",
		"host", cfg.PostgresHost, "database", cfg.PostgresDBName)

	return pool, notifier, nil
}
