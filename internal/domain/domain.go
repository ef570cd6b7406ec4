// Package domain holds the core value types of the forecasting pipeline.
// Everything here is plain data; behavior lives in the packages that
// consume it.
package domain

import "time"

// EventType is the closed taxonomy of market-relevant event classes.
type EventType string

const (
	EventEarnings       EventType = "Earnings"
	EventGuidance       EventType = "Guidance"
	EventOrderWin       EventType = "OrderWin"
	EventCapitalRaise   EventType = "CapitalRaise"
	EventLitigation     EventType = "Litigation"
	EventRegulatory     EventType = "Regulatory"
	EventControlChange  EventType = "ControlChange"
	EventBuyback        EventType = "Buyback"
	EventDividend       EventType = "Dividend"
	EventMA             EventType = "M&A"
	EventSupplyContract EventType = "SupplyContract"
	EventRecall         EventType = "Recall"
	EventOther          EventType = "Other"
)

// EventTypes lists the taxonomy in its canonical order.
var EventTypes = []EventType{
	EventEarnings, EventGuidance, EventOrderWin, EventCapitalRaise,
	EventLitigation, EventRegulatory, EventControlChange, EventBuyback,
	EventDividend, EventMA, EventSupplyContract, EventRecall, EventOther,
}

// Direction classifies the expected price impact of an event.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionMixed    Direction = "mixed"
	DirectionUnknown  Direction = "unknown"
)

// Forecast classes and trade actions.
const (
	PredictionUp      = "Up"
	PredictionDown    = "Down"
	PredictionFlat    = "Flat"
	PredictionAbstain = "Abstain"

	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
	ActionSkip = "skip"
)

// RunStatus is the simulation run state machine. Transitions are monotonic:
// pending -> running -> completed|failed, and terminal states are never left.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// RawNews is one already-collected news or disclosure record, the input
// boundary of the extractor. Collection itself is out of scope.
type RawNews struct {
	ID             int64
	Ticker         string
	StockName      string
	Market         string
	Title          string
	Summary        string
	Source         string
	SourceURL      string
	SentimentScore float64 // -1..1
	NewsScore      float64 // 0..100
	IsDisclosure   bool
	PublishedAt    time.Time
}

// Event is a normalized, classified market-relevant fact derived from
// exactly one RawNews record. Immutable once created.
type Event struct {
	ID             int64
	SourceNewsID   int64 // RawNews.ID provenance; 0 when unknown
	Ticker         string
	StockName      string
	Market         string
	EventType      EventType
	Direction      Direction
	Magnitude      float64 // 0..1
	Novelty        float64 // 0..1
	Credibility    float64 // 0..1
	IsDisclosure   bool
	Title          string
	Summary        string
	Source         string
	EventTimestamp time.Time
	IsAfterMarket  bool
	CreatedAt      time.Time
}

// Thresholds are the decision cutoffs of a policy.
type Thresholds struct {
	BuyP              float64 `json:"buy_p" yaml:"buy_p"`
	SellP             float64 `json:"sell_p" yaml:"sell_p"`
	AbstainLow        float64 `json:"abstain_low" yaml:"abstain_low"`
	AbstainHigh       float64 `json:"abstain_high" yaml:"abstain_high"`
	LabelThresholdPct float64 `json:"label_threshold_pct" yaml:"label_threshold_pct"`
	StopLossPct       float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// TemplateConfig shapes forecaster input assembly and strategy selection.
type TemplateConfig struct {
	Forecaster           string `json:"forecaster" yaml:"forecaster"` // llm | heuristic_v1 | heuristic_v2
	IncludeFeatures      bool   `json:"include_features" yaml:"include_features"`
	IncludeSimilarEvents bool   `json:"include_similar_events" yaml:"include_similar_events"`
	MaxEventsPerStock    int    `json:"max_events_per_stock" yaml:"max_events_per_stock"`
	UseV2Heuristic       bool   `json:"use_v2_heuristic" yaml:"use_v2_heuristic"`
}

// RetrievalConfig controls similar-event lookup.
type RetrievalConfig struct {
	MaxResults          int     `json:"max_results" yaml:"max_results"`
	LookbackDays        int     `json:"lookback_days" yaml:"lookback_days"`
	SameMarketOnly      bool    `json:"same_market_only" yaml:"same_market_only"`
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
}

// PolicyParams is the tunable parameter bundle of a Policy.
type PolicyParams struct {
	EventPriors map[EventType]float64 `json:"event_priors" yaml:"event_priors"`
	Thresholds  Thresholds            `json:"thresholds" yaml:"thresholds"`
	Template    TemplateConfig        `json:"template_config" yaml:"template_config"`
	Retrieval   RetrievalConfig       `json:"retrieval_config" yaml:"retrieval_config"`
}

// DefaultPolicyParams returns the conservative baseline parameter set.
func DefaultPolicyParams() PolicyParams {
	return PolicyParams{
		EventPriors: map[EventType]float64{
			EventEarnings:       0.8,
			EventGuidance:       0.7,
			EventControlChange:  0.7,
			EventOrderWin:       0.6,
			EventRegulatory:     0.6,
			EventSupplyContract: 0.6,
			EventCapitalRaise:   0.5,
			EventLitigation:     0.5,
			EventBuyback:        0.5,
			EventMA:             0.5,
			EventRecall:         0.4,
			EventDividend:       0.4,
			EventOther:          0.3,
		},
		Thresholds: Thresholds{
			BuyP:              0.62,
			SellP:             0.62,
			AbstainLow:        0.4,
			AbstainHigh:       0.6,
			LabelThresholdPct: 2.0,
			StopLossPct:       5.0,
		},
		Template: TemplateConfig{
			Forecaster:           "heuristic_v1",
			IncludeFeatures:      true,
			IncludeSimilarEvents: true,
			MaxEventsPerStock:    5,
		},
		Retrieval: RetrievalConfig{
			MaxResults:          3,
			LookbackDays:        365,
			SameMarketOnly:      true,
			SimilarityThreshold: 0.5,
		},
	}
}

// Policy is a named, versioned forecaster parameter bundle. Exactly one
// policy is active per market; activation is exclusive.
type Policy struct {
	ID          int64
	Name        string
	Version     string
	Description string
	Market      string
	IsActive    bool
	Params      PolicyParams

	LatestBrier       *float64
	LatestAccuracy    *float64
	LatestCalibration *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Driver is one evidence item backing a forecast.
type Driver struct {
	Feature  string  `json:"feature"`
	Sign     string  `json:"sign"`
	Weight   float64 `json:"weight"`
	Evidence string  `json:"evidence"`
}

// ForecastResult is the output contract of every forecaster variant.
// p_up + p_down + p_flat must sum to 1 within 1e-6.
type ForecastResult struct {
	Prediction   string   `json:"prediction"`
	PUp          float64  `json:"p_up"`
	PDown        float64  `json:"p_down"`
	PFlat        float64  `json:"p_flat"`
	TradeAction  string   `json:"trade_action"`
	PositionSize float64  `json:"position_size"`
	TopDrivers   []Driver `json:"top_drivers"`
	Invalidators []string `json:"invalidators"`
	Reasoning    string   `json:"reasoning"`
}

// Prediction is one persisted forecaster output for a (run, ticker, day).
// Immutable after creation.
type Prediction struct {
	ID       int64
	RunID    int64
	EventID  int64 // lead Event back-reference; 0 when none
	PolicyID int64

	Ticker         string
	PredictionDate time.Time
	Horizon        int // trading days

	Prediction   string
	PUp          float64
	PDown        float64
	PFlat        float64
	TradeAction  string
	PositionSize float64

	TopDrivers   []Driver
	Invalidators []string
	Reasoning    string

	CreatedAt time.Time
}

// Label is the realized outcome for exactly one Prediction. IsCorrect is
// nil for Abstain predictions by design.
type Label struct {
	ID           int64
	PredictionID int64
	Ticker       string

	PredictionDate time.Time
	Horizon        int

	RealizedRet float64
	ExcessRet   *float64
	Label       string
	IsCorrect   *bool
	LabelDate   time.Time

	CreatedAt time.Time
}

// FeatureDaily is one row of per-ticker daily market features.
type FeatureDaily struct {
	ID        int64
	Ticker    string
	TradeDate time.Time
	Market    string

	Ret1D         *float64
	Ret3D         *float64
	Ret5D         *float64
	Volatility20D *float64
	DollarVolume  *float64
	Beta          *float64
	SectorRet     *float64
	MarketRet     *float64

	ClosePrice *float64
	Volume     *int64

	CreatedAt time.Time
}

// SimilarEvent is one ranked retrieval hit with its realized outcome when
// a labeled prediction exists for it.
type SimilarEvent struct {
	Event       Event    `json:"event"`
	Similarity  float64  `json:"similarity"`
	RealizedRet *float64 `json:"realized_ret,omitempty"`
	Label       string   `json:"label,omitempty"`
}

// SegmentMetrics is a per-segment performance breakdown.
type SegmentMetrics struct {
	Total        int     `json:"total"`
	Accuracy     float64 `json:"accuracy"`
	F1           float64 `json:"f1"`
	Brier        float64 `json:"brier"`
	AbstainCount int     `json:"abstain_count"`
}

// DirectionMetrics is a per-predicted-direction breakdown.
type DirectionMetrics struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// RobustnessMetrics reports accuracy stability across chronological
// quartiles. Fields are nil when fewer than 8 labeled samples exist.
type RobustnessMetrics struct {
	Variance        *float64  `json:"variance"`
	StdDev          *float64  `json:"std_dev"`
	MinAccuracy     *float64  `json:"min_accuracy"`
	MaxAccuracy     *float64  `json:"max_accuracy"`
	SplitAccuracies []float64 `json:"split_accuracies,omitempty"`
}

// Metrics is the frozen evaluation snapshot of one run.
type Metrics struct {
	Accuracy         float64  `json:"accuracy"`
	F1               float64  `json:"f1"`
	Brier            float64  `json:"brier"`
	CalibrationError float64  `json:"calibration_error"`
	AUC              *float64 `json:"auc"`
	AvgExcessReturn  *float64 `json:"avg_excess_return"`

	TotalPredictions   int     `json:"total_predictions"`
	LabeledPredictions int     `json:"labeled_predictions"`
	AbstainCount       int     `json:"abstain_count"`
	AbstainRate        float64 `json:"abstain_rate"`

	ByEventType map[EventType]SegmentMetrics `json:"by_event_type"`
	ByDirection map[string]DirectionMetrics  `json:"by_direction"`
	Robustness  RobustnessMetrics            `json:"robustness_metrics"`
}

// SimulationRun records one walk-forward pass. Terminal once completed or
// failed; a failed run is never resumed, a new record is created instead.
type SimulationRun struct {
	ID                int64
	Name              string
	PolicyID          int64
	Market            string
	Horizon           int
	LabelThresholdPct float64

	DateFrom time.Time
	DateTo   time.Time
	Status   RunStatus

	TotalPredictions int
	CorrectCount     int
	AbstainCount     int
	AccuracyRate     float64

	BrierScore       *float64
	CalibrationError *float64
	AUCScore         *float64
	F1Score          *float64
	AvgExcessReturn  *float64
	ByEventType      map[EventType]SegmentMetrics

	DurationSeconds float64
	ErrorMessage    string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// EvalRun is one append-only frozen metrics snapshot for a policy.
type EvalRun struct {
	ID              int64
	PolicyID        int64
	SimulationRunID *int64

	PeriodFrom time.Time
	PeriodTo   time.Time
	SplitType  string // train | val | test

	Accuracy         float64
	F1               float64
	Brier            float64
	CalibrationError float64
	AUC              *float64
	AvgExcessReturn  *float64

	ByEventType map[EventType]SegmentMetrics
	ByDirection map[string]DirectionMetrics
	Robustness  RobustnessMetrics

	TotalPredictions int
	AbstainRate      float64

	CreatedAt time.Time
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ptr returns a pointer to v. Convenience for nullable metric fields.
func Ptr[T any](v T) *T { return &v }
