package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Market   string `yaml:"market"`
	Horizon  int    `yaml:"horizon"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"llm"`
	Extractor struct {
		CuratedSources       []string `yaml:"curated_sources"`
		MarketClose          string   `yaml:"market_close"`
		MarketUTCOffsetHours int      `yaml:"market_utc_offset_hours"`
	} `yaml:"extractor"`
	Simulation struct {
		LookbackDays      int     `yaml:"lookback_days"`
		LabelThresholdPct float64 `yaml:"label_threshold_pct"`
	} `yaml:"simulation"`
	Optimizer struct {
		Candidates    int     `yaml:"candidates"`
		ValSplitRatio float64 `yaml:"val_split_ratio"`
		TargetMetric  string  `yaml:"target_metric"`
	} `yaml:"optimizer"`
	RunLog struct {
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"runlog"`
}

func (c *Config) Validate() error {
	if c.Market == "" {
		return fmt.Errorf("market cannot be empty")
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "noop":
	default:
		return fmt.Errorf("invalid llm.provider '%s': must be 'anthropic', 'openai', or 'noop'", c.LLM.Provider)
	}
	if c.Simulation.LookbackDays <= 0 {
		return fmt.Errorf("simulation.lookback_days must be positive, got %d", c.Simulation.LookbackDays)
	}
	if c.Simulation.LabelThresholdPct <= 0 {
		return fmt.Errorf("simulation.label_threshold_pct must be positive, got %.2f", c.Simulation.LabelThresholdPct)
	}
	if c.Optimizer.ValSplitRatio <= 0 || c.Optimizer.ValSplitRatio >= 1 {
		return fmt.Errorf("optimizer.val_split_ratio must be in (0, 1), got %.2f", c.Optimizer.ValSplitRatio)
	}
	switch c.Optimizer.TargetMetric {
	case "brier", "accuracy", "calibration", "f1", "auc":
	default:
		return fmt.Errorf("optimizer.target_metric must be one of 'brier', 'accuracy', 'calibration', 'f1', 'auc', got '%s'", c.Optimizer.TargetMetric)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Horizon == 0 {
		c.Horizon = 5
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "noop"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.Extractor.MarketClose == "" {
		c.Extractor.MarketClose = "15:30"
	}
	if c.Simulation.LookbackDays == 0 {
		c.Simulation.LookbackDays = 3
	}
	if c.Simulation.LabelThresholdPct == 0 {
		c.Simulation.LabelThresholdPct = 2.0
	}
	if c.Optimizer.Candidates == 0 {
		c.Optimizer.Candidates = 10
	}
	if c.Optimizer.ValSplitRatio == 0 {
		c.Optimizer.ValSplitRatio = 0.3
	}
	if c.Optimizer.TargetMetric == "" {
		c.Optimizer.TargetMetric = "brier"
	}
	if c.RunLog.RetentionDays == 0 {
		c.RunLog.RetentionDays = 30
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
