// Package optimize searches for better policy parameters by random
// mutation: generate candidate variants of a base policy, simulate each
// over a held-out validation window, and promote the winner only when it
// beats the baseline.
package optimize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/logger"
	"stockcast/internal/simulate"
	"stockcast/internal/storage"
	"stockcast/internal/trace"
)

const (
	priorMutationRate     = 0.3
	thresholdMutationRate = 0.3
	retrievalMutationRate = 0.2

	priorSigma          = 0.15
	probThresholdSigma  = 0.05
	labelThresholdSigma = 0.5

	minValDays = 7
)

// Optimizer generates and evaluates candidate policies.
type Optimizer struct {
	store storage.Store
	sim   *simulate.Simulator
	rng   *rand.Rand
}

// New creates an Optimizer. rng may be nil, in which case a time-seeded
// source is used.
func New(store storage.Store, sim *simulate.Simulator, rng *rand.Rand) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Optimizer{store: store, sim: sim, rng: rng}
}

// Options parameterizes one optimization pass.
type Options struct {
	BasePolicyID  int64
	Market        string
	DateFrom      time.Time
	DateTo        time.Time
	Horizon       int
	Candidates    int
	ValSplitRatio float64
	TargetMetric  string // brier | accuracy | calibration | f1 | auc
}

// CandidateResult is the validation outcome for one evaluated policy.
type CandidateResult struct {
	PolicyID    int64    `json:"policy_id"`
	PolicyName  string   `json:"policy_name"`
	RunID       *int64   `json:"run_id"`
	Metric      float64  `json:"metric"`
	Accuracy    float64  `json:"accuracy"`
	Brier       *float64 `json:"brier"`
	Calibration *float64 `json:"calibration"`
	Total       int      `json:"total"`
}

// Result summarizes an optimization pass.
type Result struct {
	BestPolicyID        int64             `json:"best_policy_id"`
	BestPolicyName      string            `json:"best_policy_name"`
	CandidatesEvaluated int               `json:"candidates_evaluated"`
	ImprovementPct      float64           `json:"improvement_pct"`
	Promoted            bool              `json:"promoted"`
	Message             string            `json:"message"`
	DurationSeconds     float64           `json:"duration_seconds"`
	AllResults          []CandidateResult `json:"all_results"`
}

// Run executes one optimization pass: carve a validation window off the
// end of the date range, simulate the base policy and every candidate
// over that same window, and promote the best candidate when it strictly
// beats the baseline.
func (o *Optimizer) Run(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "policy-optimization")
	defer span.End()

	start := time.Now()

	base, err := o.store.Policies().GetByID(ctx, opts.BasePolicyID)
	if err != nil {
		return nil, fmt.Errorf("base policy %d: %w", opts.BasePolicyID, err)
	}

	totalDays := int(opts.DateTo.Sub(opts.DateFrom).Hours() / 24)
	valDays := int(float64(totalDays) * opts.ValSplitRatio)
	if valDays < minValDays {
		valDays = minValDays
	}
	valStart := opts.DateTo.AddDate(0, 0, -valDays)

	logger.Info(ctx, "Starting optimization",
		"base_policy", base.Name,
		"val_start", valStart.Format("2006-01-02"),
		"val_end", opts.DateTo.Format("2006-01-02"),
		"candidates", opts.Candidates)

	candidates, err := o.GenerateCandidates(ctx, base, opts.Candidates)
	if err != nil {
		return nil, err
	}

	// Baseline goes first; promotion compares everything against index 0.
	policies := append([]*domain.Policy{base}, candidates...)
	results := make([]CandidateResult, 0, len(policies))
	for i, policy := range policies {
		logger.Info(ctx, "Evaluating policy", "index", i+1, "total", len(policies), "name", policy.Name)
		results = append(results, o.evaluateCandidate(ctx, policy, opts, valStart))
	}

	bestIdx := 0
	for i, r := range results {
		if better(opts.TargetMetric, r.Metric, results[bestIdx].Metric) {
			bestIdx = i
		}
	}
	best := results[bestIdx]
	baseline := results[0]

	improvement := improvementPct(opts.TargetMetric, baseline.Metric, best.Metric)

	promoted := false
	var message string
	if improvement > 0 && best.PolicyID != base.ID {
		if err := o.promote(ctx, opts.Market, best); err != nil {
			return nil, err
		}
		promoted = true
		message = fmt.Sprintf("promoted %q (%.1f%% improvement over baseline)", best.PolicyName, improvement)
	} else {
		message = fmt.Sprintf("baseline remains best, no promotion (%.1f%% improvement)", improvement)
	}
	logger.Info(ctx, "Optimization finished", "promoted", promoted, "best", best.PolicyName)

	return &Result{
		BestPolicyID:        best.PolicyID,
		BestPolicyName:      best.PolicyName,
		CandidatesEvaluated: len(results),
		ImprovementPct:      round2(improvement),
		Promoted:            promoted,
		Message:             message,
		DurationSeconds:     round2(time.Since(start).Seconds()),
		AllResults:          results,
	}, nil
}

// GenerateCandidates inserts n mutated variants of the base policy,
// inactive until promoted.
func (o *Optimizer) GenerateCandidates(ctx context.Context, base *domain.Policy, n int) ([]*domain.Policy, error) {
	candidates := make([]*domain.Policy, 0, n)
	for i := 1; i <= n; i++ {
		params := base.Params
		params.EventPriors = o.mutatePriors(base.Params.EventPriors)
		params.Thresholds = o.mutateThresholds(base.Params.Thresholds)
		params.Retrieval = o.mutateRetrieval(base.Params.Retrieval)

		version := base.Version
		if version == "" {
			version = "v1.0"
		}
		candidate := &domain.Policy{
			Name:        fmt.Sprintf("%s_candidate_%d", base.Name, i),
			Version:     fmt.Sprintf("%s-opt%d", version, i),
			Description: fmt.Sprintf("auto-generated candidate (base %d, variant %d)", base.ID, i),
			Market:      base.Market,
			IsActive:    false,
			Params:      params,
		}
		if err := o.store.Policies().Insert(ctx, candidate); err != nil {
			return nil, fmt.Errorf("insert candidate %d: %w", i, err)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// evaluateCandidate simulates one policy over the validation window. A
// failed simulation scores worst-possible so the search keeps going.
func (o *Optimizer) evaluateCandidate(ctx context.Context, policy *domain.Policy, opts Options, valStart time.Time) CandidateResult {
	failure := CandidateResult{
		PolicyID:    policy.ID,
		PolicyName:  policy.Name,
		Metric:      worstMetric(opts.TargetMetric),
		Brier:       domain.Ptr(1.0),
		Calibration: domain.Ptr(1.0),
	}

	name := fmt.Sprintf("opt_%s_%s", policy.Name, valStart.Format("2006-01-02"))
	run, err := o.sim.NewRun(ctx, name, policy, opts.Market, opts.Horizon,
		policy.Params.Thresholds.LabelThresholdPct, valStart, opts.DateTo)
	if err != nil {
		logger.ErrorWithErr(ctx, "Candidate run creation failed", err, "policy", policy.Name)
		return failure
	}
	if err := o.sim.Run(ctx, run.ID); err != nil {
		logger.ErrorWithErr(ctx, "Candidate simulation failed", err, "policy", policy.Name)
		failure.RunID = domain.Ptr(run.ID)
		return failure
	}

	run, err = o.store.Runs().GetByID(ctx, run.ID)
	if err != nil {
		logger.ErrorWithErr(ctx, "Candidate run reload failed", err, "policy", policy.Name)
		return failure
	}

	return CandidateResult{
		PolicyID:    policy.ID,
		PolicyName:  policy.Name,
		RunID:       domain.Ptr(run.ID),
		Metric:      metricOf(run, opts.TargetMetric),
		Accuracy:    run.AccuracyRate,
		Brier:       run.BrierScore,
		Calibration: run.CalibrationError,
		Total:       run.TotalPredictions,
	}
}

// promote activates the winning policy and stamps its latest metrics.
func (o *Optimizer) promote(ctx context.Context, market string, best CandidateResult) error {
	if err := o.store.Policies().Activate(ctx, market, best.PolicyID); err != nil {
		return fmt.Errorf("activate policy %d: %w", best.PolicyID, err)
	}
	if err := o.store.Policies().UpdateLatestMetrics(ctx, best.PolicyID,
		best.Brier, domain.Ptr(best.Accuracy), best.Calibration); err != nil {
		return fmt.Errorf("stamp metrics on policy %d: %w", best.PolicyID, err)
	}
	return nil
}

func (o *Optimizer) mutatePriors(base map[domain.EventType]float64) map[domain.EventType]float64 {
	mutated := make(map[domain.EventType]float64, len(base))
	for et, v := range base {
		mutated[et] = v
	}
	for _, et := range domain.EventTypes {
		if _, ok := mutated[et]; !ok {
			continue
		}
		if o.rng.Float64() < priorMutationRate {
			mutated[et] = round3(clamp(mutated[et]+o.rng.NormFloat64()*priorSigma, 0.1, 1.0))
		}
	}
	return mutated
}

func (o *Optimizer) mutateThresholds(base domain.Thresholds) domain.Thresholds {
	mutated := base
	if o.rng.Float64() < thresholdMutationRate {
		mutated.BuyP = round3(clamp(mutated.BuyP+o.rng.NormFloat64()*probThresholdSigma, 0.5, 0.8))
	}
	if o.rng.Float64() < thresholdMutationRate {
		mutated.SellP = round3(clamp(mutated.SellP+o.rng.NormFloat64()*probThresholdSigma, 0.5, 0.8))
	}
	if o.rng.Float64() < thresholdMutationRate {
		mutated.AbstainLow = round3(clamp(mutated.AbstainLow+o.rng.NormFloat64()*probThresholdSigma, 0.2, 0.5))
	}
	if o.rng.Float64() < thresholdMutationRate {
		mutated.AbstainHigh = round3(clamp(mutated.AbstainHigh+o.rng.NormFloat64()*probThresholdSigma, 0.5, 0.8))
	}
	// abstain band must stay ordered
	if mutated.AbstainLow >= mutated.AbstainHigh {
		mutated.AbstainLow = round3(mutated.AbstainHigh - 0.1)
	}
	if o.rng.Float64() < thresholdMutationRate {
		mutated.LabelThresholdPct = round2(clamp(mutated.LabelThresholdPct+o.rng.NormFloat64()*labelThresholdSigma, 0.5, 5.0))
	}
	return mutated
}

func (o *Optimizer) mutateRetrieval(base domain.RetrievalConfig) domain.RetrievalConfig {
	mutated := base
	if o.rng.Float64() < retrievalMutationRate {
		choices := []int{1, 2, 3, 5}
		mutated.MaxResults = choices[o.rng.Intn(len(choices))]
	}
	if o.rng.Float64() < retrievalMutationRate {
		choices := []int{180, 365, 730}
		mutated.LookbackDays = choices[o.rng.Intn(len(choices))]
	}
	if o.rng.Float64() < retrievalMutationRate {
		mutated.SimilarityThreshold = round2(0.3 + o.rng.Float64()*0.4)
	}
	return mutated
}

// metricOf extracts the target metric from a completed run. Runs that
// never produced the metric score worst-possible.
func metricOf(run *domain.SimulationRun, target string) float64 {
	switch target {
	case "accuracy":
		return run.AccuracyRate
	case "calibration":
		if run.CalibrationError != nil {
			return *run.CalibrationError
		}
	case "f1":
		if run.F1Score != nil {
			return *run.F1Score
		}
		return 0
	case "auc":
		if run.AUCScore != nil {
			return *run.AUCScore
		}
		return 0
	default: // brier
		if run.BrierScore != nil {
			return *run.BrierScore
		}
	}
	return worstMetric(target)
}

// lowerIsBetter metrics are brier and calibration error.
func lowerIsBetter(target string) bool {
	return target != "accuracy" && target != "f1" && target != "auc"
}

func worstMetric(target string) float64 {
	if lowerIsBetter(target) {
		return math.Inf(1)
	}
	return 0
}

func better(target string, candidate, incumbent float64) bool {
	if lowerIsBetter(target) {
		return candidate < incumbent
	}
	return candidate > incumbent
}

func improvementPct(target string, baseline, best float64) float64 {
	if math.IsInf(baseline, 1) {
		if math.IsInf(best, 1) {
			return 0
		}
		return 100
	}
	if lowerIsBetter(target) {
		if baseline == 0 {
			return 0
		}
		return (baseline - best) / baseline * 100
	}
	return (best - baseline) / math.Max(baseline, 0.001) * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
