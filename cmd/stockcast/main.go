package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/extract"
	"stockcast/internal/guardrails"
	"stockcast/internal/logger"
	"stockcast/internal/optimize"
	"stockcast/internal/storage"
	"stockcast/internal/store"
	"stockcast/internal/trace"
)

const dateLayout = "2006-01-02"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stockcast <command> [flags]

Commands:
  init      create and activate the baseline policy
  extract   turn collected news records into classified events
  simulate  run a walk-forward simulation for a policy
  optimize  search for better policy parameters
  audit     run guardrail checks over stored results

Run 'stockcast <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	defer func() {
		if err := trace.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Tracer shutdown failed", "error", err)
		}
	}()

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(ctx, os.Args[2:])
	case "extract":
		err = cmdExtract(ctx, os.Args[2:])
	case "simulate":
		err = cmdSimulate(ctx, os.Args[2:])
	case "optimize":
		err = cmdOptimize(ctx, os.Args[2:])
	case "audit":
		err = cmdAudit(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Command failed", err, "command", os.Args[1])
		os.Exit(1)
	}
}

// cmdInit creates the baseline policy with default parameters and makes
// it the active policy for the configured market.
func cmdInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	name := fs.String("name", "baseline", "policy name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, st, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	policy := &domain.Policy{
		Name:        *name,
		Version:     "v1.0",
		Description: "default parameter baseline",
		Market:      cfg.Market,
		Params:      domain.DefaultPolicyParams(),
	}
	if err := st.Policies().Insert(ctx, policy); err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	if err := st.Policies().Activate(ctx, cfg.Market, policy.ID); err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}

	logger.Info(ctx, "Baseline policy created", "policy_id", policy.ID, "market", cfg.Market)
	return printJSON(map[string]any{"policy_id": policy.ID, "name": policy.Name, "market": cfg.Market})
}

// cmdExtract reads collected news records from a JSON file and converts
// them into events.
func cmdExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	input := fs.String("input", "", "JSON file with collected news records (required)")
	fromStr := fs.String("from", "", "window start, YYYY-MM-DD (required)")
	toStr := fs.String("to", "", "window end, YYYY-MM-DD (required)")
	rebuild := fs.Bool("rebuild", false, "delete and re-extract the window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *fromStr == "" || *toStr == "" {
		fs.Usage()
		return fmt.Errorf("-input, -from and -to are required")
	}

	from, to, err := parseWindow(*fromStr, *toStr)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var news []domain.RawNews
	if err := json.Unmarshal(data, &news); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	cfg, st, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	extractor, err := extract.New(st.Events(), cfg.Extractor.CuratedSources,
		cfg.Extractor.MarketClose, cfg.Extractor.MarketUTCOffsetHours)
	if err != nil {
		return err
	}

	result, err := extractor.Extract(ctx, cfg.Market, news, from, to, *rebuild)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// cmdSimulate runs one walk-forward pass and prints the run summary.
func cmdSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	policyID := fs.Int64("policy", 0, "policy id (default: active policy)")
	fromStr := fs.String("from", "", "window start, YYYY-MM-DD (required)")
	toStr := fs.String("to", "", "window end, YYYY-MM-DD (required)")
	name := fs.String("name", "", "run name (default: generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fromStr == "" || *toStr == "" {
		fs.Usage()
		return fmt.Errorf("-from and -to are required")
	}

	from, to, err := parseWindow(*fromStr, *toStr)
	if err != nil {
		return err
	}

	cfg, st, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := resolvePolicy(ctx, st, cfg.Market, *policyID)
	if err != nil {
		return err
	}

	oracle := initializeOracle(ctx, cfg)
	sim, err := buildSimulator(cfg, st, oracle)
	if err != nil {
		return err
	}

	runName := *name
	if runName == "" {
		runName = fmt.Sprintf("sim_%s_%s", policy.Name, from.Format(dateLayout))
	}
	run, err := sim.NewRun(ctx, runName, policy, cfg.Market, cfg.Horizon,
		policy.Params.Thresholds.LabelThresholdPct, from, to)
	if err != nil {
		return err
	}
	if err := sim.Run(ctx, run.ID); err != nil {
		return err
	}

	run, err = st.Runs().GetByID(ctx, run.ID)
	if err != nil {
		return err
	}
	return printJSON(run)
}

// cmdOptimize searches for better parameters starting from a base policy.
func cmdOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	policyID := fs.Int64("policy", 0, "base policy id (default: active policy)")
	fromStr := fs.String("from", "", "window start, YYYY-MM-DD (required)")
	toStr := fs.String("to", "", "window end, YYYY-MM-DD (required)")
	candidates := fs.Int("candidates", 0, "candidate count (default: config)")
	metric := fs.String("metric", "", "target metric (default: config)")
	seed := fs.Int64("seed", 0, "random seed (default: time-based)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fromStr == "" || *toStr == "" {
		fs.Usage()
		return fmt.Errorf("-from and -to are required")
	}

	from, to, err := parseWindow(*fromStr, *toStr)
	if err != nil {
		return err
	}

	cfg, st, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := resolvePolicy(ctx, st, cfg.Market, *policyID)
	if err != nil {
		return err
	}

	oracle := initializeOracle(ctx, cfg)
	sim, err := buildSimulator(cfg, st, oracle)
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if *seed != 0 {
		rng = rand.New(rand.NewSource(*seed))
	}

	opts := optimize.Options{
		BasePolicyID:  policy.ID,
		Market:        cfg.Market,
		DateFrom:      from,
		DateTo:        to,
		Horizon:       cfg.Horizon,
		Candidates:    cfg.Optimizer.Candidates,
		ValSplitRatio: cfg.Optimizer.ValSplitRatio,
		TargetMetric:  cfg.Optimizer.TargetMetric,
	}
	if *candidates > 0 {
		opts.Candidates = *candidates
	}
	if *metric != "" {
		opts.TargetMetric = *metric
	}

	result, err := optimize.New(st, sim, rng).Run(ctx, opts)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// cmdAudit runs the guardrail checks and prints their findings.
func cmdAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	runID := fs.Int64("run", 0, "simulation run to check")
	policyID := fs.Int64("policy", 0, "policy to check for overfitting")
	fromStr := fs.String("from", "", "data quality window start, YYYY-MM-DD")
	toStr := fs.String("to", "", "data quality window end, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, st, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer st.Close()

	params := guardrails.Params{RunID: *runID, PolicyID: *policyID}
	if *fromStr != "" && *toStr != "" {
		from, to, err := parseWindow(*fromStr, *toStr)
		if err != nil {
			return err
		}
		params.Market = cfg.Market
		params.DateFrom = from
		params.DateTo = to
	}

	findings := guardrails.New(st).RunAll(ctx, params)
	if findings == nil {
		findings = []guardrails.Finding{}
	}
	return printJSON(findings)
}

// setup loads config, connects storage, and handles log retention.
func setup(ctx context.Context, configPath string) (*store.Config, storage.Store, error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, err
	}
	compressOldLogs(ctx, cfg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

func resolvePolicy(ctx context.Context, st storage.Store, market string, id int64) (*domain.Policy, error) {
	if id != 0 {
		return st.Policies().GetByID(ctx, id)
	}
	policy, err := st.Policies().Active(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("no active policy for %s, run 'stockcast init' or pass -policy: %w", market, err)
	}
	return policy, nil
}

func parseWindow(fromStr, toStr string) (from, to time.Time, err error) {
	from, err = time.Parse(dateLayout, fromStr)
	if err != nil {
		return from, to, fmt.Errorf("invalid -from: %w", err)
	}
	to, err = time.Parse(dateLayout, toStr)
	if err != nil {
		return from, to, fmt.Errorf("invalid -to: %w", err)
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("-to %s is before -from %s", toStr, fromStr)
	}
	return from, to, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
