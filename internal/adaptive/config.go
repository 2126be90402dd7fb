package adaptive

import (
	"fmt"
	"time"
)

// Config controls the adaptive controller's behavior. It is externally
// supplied and replaceable at runtime through UpdateConfig.
type Config struct {
	Enabled                bool `yaml:"enabled" json:"enabled"`
	AdaptiveBitrateEnabled bool `yaml:"adaptive_bitrate_enabled" json:"adaptive_bitrate_enabled"`
	AdaptiveLinksEnabled   bool `yaml:"adaptive_links_enabled" json:"adaptive_links_enabled"`

	// Bitrate adaptation thresholds.
	PacketLossThresholdHigh float64 `yaml:"packet_loss_threshold_high" json:"packet_loss_threshold_high"`
	PacketLossThresholdLow  float64 `yaml:"packet_loss_threshold_low" json:"packet_loss_threshold_low"`
	RTTThresholdHighMs      int     `yaml:"rtt_threshold_high_ms" json:"rtt_threshold_high_ms"`

	// Bitrate adjustment parameters. Steps are fractions of the current
	// bitrate.
	BitrateStepDown float64 `yaml:"bitrate_step_down" json:"bitrate_step_down"`
	BitrateStepUp   float64 `yaml:"bitrate_step_up" json:"bitrate_step_up"`
	MinVideoBitrate int     `yaml:"min_video_bitrate" json:"min_video_bitrate"`
	MaxVideoBitrate int     `yaml:"max_video_bitrate" json:"max_video_bitrate"`

	// Link management hysteresis thresholds (signal strength 0..100).
	LinkDisableSignalThreshold int `yaml:"link_disable_signal_threshold" json:"link_disable_signal_threshold"`
	LinkEnableSignalThreshold  int `yaml:"link_enable_signal_threshold" json:"link_enable_signal_threshold"`

	// Timing.
	StatsCheckInterval time.Duration `yaml:"stats_check_interval" json:"stats_check_interval"`
	ConfigSaveInterval time.Duration `yaml:"config_save_interval" json:"config_save_interval"`

	// Stability requirements.
	StablePeriodsBeforeIncrease int  `yaml:"stable_periods_before_increase" json:"stable_periods_before_increase"`
	ImmediateDecrease           bool `yaml:"immediate_decrease" json:"immediate_decrease"`
}

// DefaultConfig returns the stock adaptive behavior.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		AdaptiveBitrateEnabled:      true,
		AdaptiveLinksEnabled:        true,
		PacketLossThresholdHigh:     5.0,
		PacketLossThresholdLow:      1.0,
		RTTThresholdHighMs:          200,
		BitrateStepDown:             0.15,
		BitrateStepUp:               0.10,
		MinVideoBitrate:             500_000,
		MaxVideoBitrate:             10_000_000,
		LinkDisableSignalThreshold:  20,
		LinkEnableSignalThreshold:   40,
		StatsCheckInterval:          2 * time.Second,
		ConfigSaveInterval:          10 * time.Second,
		StablePeriodsBeforeIncrease: 5,
		ImmediateDecrease:           true,
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	if c.PacketLossThresholdLow < 0 || c.PacketLossThresholdHigh < 0 {
		return fmt.Errorf("packet loss thresholds must not be negative")
	}
	if c.PacketLossThresholdLow > c.PacketLossThresholdHigh {
		return fmt.Errorf("packet loss threshold low %.2f exceeds high %.2f",
			c.PacketLossThresholdLow, c.PacketLossThresholdHigh)
	}
	if c.BitrateStepDown <= 0 || c.BitrateStepDown >= 1 {
		return fmt.Errorf("bitrate_step_down %.2f out of range (0,1)", c.BitrateStepDown)
	}
	if c.BitrateStepUp <= 0 || c.BitrateStepUp >= 1 {
		return fmt.Errorf("bitrate_step_up %.2f out of range (0,1)", c.BitrateStepUp)
	}
	if c.MinVideoBitrate <= 0 || c.MaxVideoBitrate < c.MinVideoBitrate {
		return fmt.Errorf("bitrate bounds invalid: min %d max %d", c.MinVideoBitrate, c.MaxVideoBitrate)
	}
	if c.LinkDisableSignalThreshold < 0 || c.LinkEnableSignalThreshold > 100 ||
		c.LinkDisableSignalThreshold > c.LinkEnableSignalThreshold {
		return fmt.Errorf("link signal thresholds invalid: disable %d enable %d",
			c.LinkDisableSignalThreshold, c.LinkEnableSignalThreshold)
	}
	if c.StatsCheckInterval <= 0 {
		return fmt.Errorf("stats_check_interval must be positive")
	}
	if c.ConfigSaveInterval <= 0 {
		return fmt.Errorf("config_save_interval must be positive")
	}
	if c.StablePeriodsBeforeIncrease <= 0 {
		return fmt.Errorf("stable_periods_before_increase must be positive")
	}
	return nil
}
