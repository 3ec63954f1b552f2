package analytics

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nodeset-org/nodeset-analytics/pkg/duties"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

// Config is the methodology configuration of the engine.
type Config struct {
	// ExcludedStatuses are dropped from aggregation and never flagged down.
	ExcludedStatuses duties.StatusSet `yaml:"excluded_statuses"`

	// DownWindow is the number of consecutive missed epochs that flag a
	// validator as down.
	DownWindow int `yaml:"down_window"`

	MaxDays int `yaml:"max_days"`

	// ProposerFallbackReward is the proposer baseline in gwei used when no
	// proposals occurred in the window.
	ProposerFallbackReward int64 `yaml:"proposer_fallback_reward"`

	WindowPolicy   window.Policy         `yaml:"window_policy"`
	Categories     efficiency.Thresholds `yaml:"categories"`
	NamesFile      string                `yaml:"names_file"`
	HistoryRolling int                   `yaml:"history_rolling"`
}

func DefaultConfig() *Config {
	return &Config{
		ExcludedStatuses:       duties.DefaultExcludedStatuses(),
		DownWindow:             efficiency.DefaultDownWindow,
		MaxDays:                31,
		ProposerFallbackReward: 40_000_000,
		WindowPolicy:           window.PolicyStrict,
		Categories:             efficiency.DefaultThresholds(),
		HistoryRolling:         7,
	}
}

// ParseConfig parses the given YAML document over the default configuration.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.DownWindow < efficiency.MinDownWindow || c.DownWindow > efficiency.MaxDownWindow {
		return fmt.Errorf(
			"down_window must be between %d and %d, got %d",
			efficiency.MinDownWindow, efficiency.MaxDownWindow, c.DownWindow,
		)
	}
	if c.MaxDays < 1 {
		return errors.New("max_days must be positive")
	}
	if c.ProposerFallbackReward <= 0 {
		return errors.New("proposer_fallback_reward must be positive")
	}
	if _, err := window.ParsePolicy(string(c.WindowPolicy)); err != nil {
		return fmt.Errorf("invalid window_policy: %w", err)
	}
	if err := c.Categories.Validate(); err != nil {
		return err
	}
	if c.HistoryRolling < 1 {
		return errors.New("history_rolling must be positive")
	}
	return nil
}
