// Package config loads the daemon configuration from a YAML file with
// environment variable overrides, and watches the file for changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
)

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Adaptive adaptive.Config `yaml:"adaptive"`
	Store    StoreConfig     `yaml:"store"`
	History  HistoryConfig   `yaml:"history"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PipelineConfig holds the GStreamer runtime settings.
type PipelineConfig struct {
	// Root of the bundled GStreamer installation.
	GStreamerRoot string `yaml:"gstreamer_root"`
	// Library architecture triple under lib/.
	LibArch string `yaml:"lib_arch"`
	// Test sources are used when no capture hardware is attached.
	VideoSource string `yaml:"video_source"`
	AudioSource string `yaml:"audio_source"`

	// Defaults applied when the persisted config carries no stream
	// settings yet.
	DefaultVideoProfile string `yaml:"default_video_profile"`
	DefaultAudioProfile string `yaml:"default_audio_profile"`
}

// StoreConfig locates the shared appliance config document.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig holds the adjustment log settings.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig controls the hclog root logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8089,
		},
		Pipeline: PipelineConfig{
			GStreamerRoot:       "/opt/gstreamer-1.24",
			LibArch:             "aarch64-linux-gnu",
			VideoSource:         "videotestsrc is-live=true",
			AudioSource:         "audiotestsrc is-live=true",
			DefaultVideoProfile: "twitch_1080p30_h264",
			DefaultAudioProfile: "opus_128k",
		},
		Adaptive: adaptive.DefaultConfig(),
		Store: StoreConfig{
			Path: "/etc/glowbox/config.json",
		},
		History: HistoryConfig{
			Path:      "/var/lib/glowbox/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. A missing file is not an error; defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults apply
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays GLOWBOX_* environment variables. Only settings an
// installer script plausibly overrides get an env knob.
func (c *Config) applyEnv() {
	if v := os.Getenv("GLOWBOX_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("GLOWBOX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("GLOWBOX_GSTREAMER_ROOT"); v != "" {
		c.Pipeline.GStreamerRoot = v
	}
	if v := os.Getenv("GLOWBOX_CONFIG_STORE"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GLOWBOX_HISTORY_DB"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("GLOWBOX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks field ranges across all sections.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Pipeline.GStreamerRoot == "" {
		return &ValidationError{Field: "pipeline.gstreamer_root", Message: "must not be empty"}
	}
	if c.Store.Path == "" {
		return &ValidationError{Field: "store.path", Message: "must not be empty"}
	}
	if c.History.Retention <= 0 {
		return &ValidationError{Field: "history.retention", Message: "must be positive"}
	}
	if err := c.Adaptive.Validate(); err != nil {
		return fmt.Errorf("adaptive: %w", err)
	}
	return nil
}

// ValidationError reports an out-of-range configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}
