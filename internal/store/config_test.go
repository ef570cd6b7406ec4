package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "market: KR\n"))
	require.NoError(t, err)

	assert.Equal(t, "KR", cfg.Market)
	assert.Equal(t, 5, cfg.Horizon)
	assert.Equal(t, "noop", cfg.LLM.Provider)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, "15:30", cfg.Extractor.MarketClose)
	assert.Equal(t, 3, cfg.Simulation.LookbackDays)
	assert.InDelta(t, 2.0, cfg.Simulation.LabelThresholdPct, 1e-9)
	assert.Equal(t, 10, cfg.Optimizer.Candidates)
	assert.InDelta(t, 0.3, cfg.Optimizer.ValSplitRatio, 1e-9)
	assert.Equal(t, "brier", cfg.Optimizer.TargetMetric)
	assert.Equal(t, 30, cfg.RunLog.RetentionDays)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
market: US
horizon: 3
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
extractor:
  market_close: "16:00"
  market_utc_offset_hours: -5
optimizer:
  target_metric: accuracy
`))
	require.NoError(t, err)

	assert.Equal(t, "US", cfg.Market)
	assert.Equal(t, 3, cfg.Horizon)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "16:00", cfg.Extractor.MarketClose)
	assert.Equal(t, -5, cfg.Extractor.MarketUTCOffsetHours)
	assert.Equal(t, "accuracy", cfg.Optimizer.TargetMetric)
}

func TestLoadConfigMetricChoices(t *testing.T) {
	for _, metric := range []string{"brier", "accuracy", "calibration", "f1", "auc"} {
		t.Run(metric, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, "market: KR\noptimizer:\n  target_metric: "+metric+"\n"))
			require.NoError(t, err)
			assert.Equal(t, metric, cfg.Optimizer.TargetMetric)
		})
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing market", "horizon: 5\n", "market"},
		{"bad provider", "market: KR\nllm:\n  provider: bard\n", "llm.provider"},
		{"bad metric", "market: KR\noptimizer:\n  target_metric: vibes\n", "target_metric"},
		{"bad split", "market: KR\noptimizer:\n  val_split_ratio: 1.5\n", "val_split_ratio"},
		{"negative horizon", "market: KR\nhorizon: -1\n", "horizon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
