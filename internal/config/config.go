// Package config loads runtime settings from CLASSWATCH_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of a classwatch process.
type Config struct {
	Addr           string        `env:"CLASSWATCH_ADDR"             envDefault:"127.0.0.1:8080"`
	LogLevel       string        `env:"CLASSWATCH_LOG_LEVEL"        envDefault:"info"`
	LogFormat      string        `env:"CLASSWATCH_LOG_FORMAT"       envDefault:"text"`
	CaptureFPS     float64       `env:"CLASSWATCH_CAPTURE_FPS"      envDefault:"5"`
	DetectInterval time.Duration `env:"CLASSWATCH_DETECT_INTERVAL"  envDefault:"4s"`
	ReplyTimeout   time.Duration `env:"CLASSWATCH_REPLY_TIMEOUT"    envDefault:"2s"`
	RateLimit      float64       `env:"CLASSWATCH_RATE_LIMIT"       envDefault:"50"`
	TraceDB        string        `env:"CLASSWATCH_TRACE_DB"`
	RulesDir       string        `env:"CLASSWATCH_RULES_DIR"`
	FramesDir      string        `env:"CLASSWATCH_FRAMES_DIR"`
	DetectionsFile string        `env:"CLASSWATCH_DETECTIONS_FILE"`
	MaxSteps       int           `env:"CLASSWATCH_MAX_STEPS"        envDefault:"1000"`
	Device         string        `env:"CLASSWATCH_DEVICE"           envDefault:"0"`
}

// Defaults applied by Normalize when a field is zero.
const (
	DefaultAddr           = "127.0.0.1:8080"
	DefaultCaptureFPS     = 5
	DefaultDetectInterval = 4 * time.Second
	DefaultReplyTimeout   = 2 * time.Second
	DefaultRateLimit      = 50
	DefaultMaxSteps       = 1000
	DefaultDevice         = "0"
)

// Load parses the environment and normalizes the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses settings from an explicit environment map instead of the
// process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.CaptureFPS <= 0 {
		c.CaptureFPS = DefaultCaptureFPS
	}
	if c.DetectInterval <= 0 {
		c.DetectInterval = DefaultDetectInterval
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
}

// Validate reports settings that cannot be normalized away.
func (c Config) Validate() error {
	if c.CaptureFPS > 60 {
		return fmt.Errorf("capture fps %v exceeds 60", c.CaptureFPS)
	}
	if c.DetectInterval < 100*time.Millisecond {
		return errors.New("detect interval must be at least 100ms")
	}
	return nil
}

// CapturePeriod is the interval between capture ticks.
func (c Config) CapturePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.CaptureFPS)
}
