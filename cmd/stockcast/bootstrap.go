package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stockcast/internal/features"
	"stockcast/internal/interfaces"
	"stockcast/internal/llm/anthropic"
	"stockcast/internal/llm/noop"
	"stockcast/internal/llm/openai"
	"stockcast/internal/logger"
	"stockcast/internal/retrieval"
	"stockcast/internal/runlog"
	"stockcast/internal/simulate"
	"stockcast/internal/storage"
	"stockcast/internal/storage/memory"
	"stockcast/internal/storage/postgres"
	"stockcast/internal/store"
	"stockcast/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger, and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old run log files if retention is configured
func compressOldLogs(ctx context.Context, cfg *store.Config) {
	days := cfg.RunLog.RetentionDays
	if v := os.Getenv("STOCKCAST_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	if days <= 0 {
		return
	}
	if err := runlog.CompressOlder(days); err != nil {
		logger.Warn(ctx, "Failed to compress old run logs", "error", err)
	}
}

// openStore connects to Postgres when a DSN is configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *store.Config) (storage.Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn(ctx, "No database DSN configured - using in-memory store, data will not persist")
		return memory.NewStore(), nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	st := postgres.NewStore(pool)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info(ctx, "Connected to Postgres")
	return st, nil
}

// initializeOracle selects the LLM provider with observability
func initializeOracle(ctx context.Context, cfg *store.Config) interfaces.Oracle {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.New(cfg)
	case "openai":
		return openai.New(cfg)
	default:
		logger.Warn(ctx, "No LLM provider configured - using noop oracle (always Abstain)")
		return noop.New()
	}
}

// buildSimulator wires the walk-forward simulator from config and store
func buildSimulator(cfg *store.Config, st storage.Store, oracle interfaces.Oracle) (*simulate.Simulator, error) {
	closeHour, closeMinute, err := parseClock(cfg.Extractor.MarketClose)
	if err != nil {
		return nil, fmt.Errorf("invalid market_close %q: %w", cfg.Extractor.MarketClose, err)
	}

	opts := simulate.Options{
		LookbackDays:   cfg.Simulation.LookbackDays,
		CloseHour:      closeHour,
		CloseMinute:    closeMinute,
		UTCOffsetHours: cfg.Extractor.MarketUTCOffsetHours,
	}

	labeler := simulate.NewLabeler(st.Features(), nil)
	similar := retrieval.New(st.Events(), st.Predictions(), st.Labels())
	feats := features.New(st.Features())

	return simulate.New(st, feats, similar, labeler, oracle, opts), nil
}

func parseClock(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return hour, minute, nil
}
