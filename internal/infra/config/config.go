// Package config provides configuration loading from YAML files.
package config

import (
	"io/fs"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that take precedence over file values.
const (
	EnvBackendURL = "CANTOVOX_BACKEND_URL"
	EnvAPIToken   = "CANTOVOX_API_TOKEN"
)

// Config represents the application configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Server  ServerConfig  `yaml:"server"`
}

// BackendConfig is how the studio client reaches the backend.
type BackendConfig struct {
	URL   string `yaml:"url" default:"http://localhost:8080" validate:"required,url"`
	Token string `yaml:"token"`
}

// SessionConfig represents client session configuration.
type SessionConfig struct {
	TickIntervalMs    int     `yaml:"tick_interval_ms" default:"1000" validate:"gte=10,lte=60000"`
	ProgressTopic     string  `yaml:"progress_topic" default:"recording-progress" validate:"required"`
	ProgressLogPerSec float64 `yaml:"progress_log_per_sec" default:"5" validate:"gte=0"`
}

// ServerConfig represents the simulated backend configuration.
type ServerConfig struct {
	Addr               string      `yaml:"addr" default:":8080"`
	Token              string      `yaml:"token"`
	RecordingsDir      string      `yaml:"recordings_dir" default:"recordings" validate:"required"`
	CaptureSeconds     int         `yaml:"capture_seconds" default:"30" validate:"eq=30"`
	CaptureSpeedup     float64     `yaml:"capture_speedup" default:"1" validate:"gt=0"`
	StopDelayMs        int         `yaml:"stop_delay_ms" default:"200" validate:"gte=1,lte=30000"` // Keeps the capture reply ahead of the end-capture ack
	TrainingDelayMs    int         `yaml:"training_delay_ms" default:"2000" validate:"gte=0,lte=600000"`
	ProgressIntervalMs int         `yaml:"progress_interval_ms" default:"500" validate:"gte=10,lte=60000"`
	FailCapture        bool        `yaml:"fail_capture"`
	FailTraining       bool        `yaml:"fail_training"`
	Hooks              HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for connection fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return finish(&cfg)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(&Config{})
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Backend.Token = v
		c.Server.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// TickInterval returns the elapsed-time tick period.
func (s SessionConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

// CaptureDuration returns the configured capture length.
func (s ServerConfig) CaptureDuration() time.Duration {
	return time.Duration(s.CaptureSeconds) * time.Second
}

// StopDelay returns the end-capture acknowledgement delay.
func (s ServerConfig) StopDelay() time.Duration {
	return time.Duration(s.StopDelayMs) * time.Millisecond
}

// TrainingDelay returns the simulated training time.
func (s ServerConfig) TrainingDelay() time.Duration {
	return time.Duration(s.TrainingDelayMs) * time.Millisecond
}

// ProgressInterval returns the period of progress events.
func (s ServerConfig) ProgressInterval() time.Duration {
	return time.Duration(s.ProgressIntervalMs) * time.Millisecond
}
