package model

import "time"

// Config holds every tunable of a forecast run
type Config struct {
	Model       ModelConfig       `yaml:"model" mapstructure:"model"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// ModelConfig holds the forecasting constants
type ModelConfig struct {
	// WindowDays is the trailing aggregation width; windows include both edges,
	// so a window spans WindowDays+1 calendar days.
	WindowDays int `yaml:"window_days" mapstructure:"window_days" validate:"gte=0,lte=60"`

	// SeedSampleSize is the nominal sample size given to the previous election's
	// result. It expresses prior confidence, not a real poll size.
	SeedSampleSize float64 `yaml:"seed_sample_size" mapstructure:"seed_sample_size" validate:"gt=0"`

	// ConfidenceMultiplier scales standard errors into display bounds (1.96 ~ 95%)
	ConfidenceMultiplier float64 `yaml:"confidence_multiplier" mapstructure:"confidence_multiplier" validate:"gt=0"`

	// BaselineOffsetYears selects the baseline year as forecast year minus this offset
	BaselineOffsetYears int `yaml:"baseline_offset_years" mapstructure:"baseline_offset_years" validate:"gte=0"`

	// DistributionTolerance is the allowed deviation of a distribution's total mass from 1
	DistributionTolerance float64 `yaml:"distribution_tolerance" mapstructure:"distribution_tolerance" validate:"gt=0,lt=1"`
}

// ConcurrencyConfig bounds the parallel units of work
type ConcurrencyConfig struct {
	StateWorkers int `yaml:"state_workers" mapstructure:"state_workers" validate:"gte=1"`
	DateWorkers  int `yaml:"date_workers" mapstructure:"date_workers" validate:"gte=1"`
	YearWorkers  int `yaml:"year_workers" mapstructure:"year_workers" validate:"gte=1"`
}

// CacheConfig controls distribution memoization
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	Dir       string        `yaml:"dir" mapstructure:"dir"` // empty: memory only
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// SourceConfig controls how remote input tables are fetched
type SourceConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size" validate:"gte=1"`
	RespectRobots     bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// StoreConfig selects the optional SQL store; an empty DSN disables it
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// OutputConfig controls rendered tables
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	JSON    bool   `yaml:"json" mapstructure:"json"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// MetricsConfig controls the prometheus textfile export; empty File disables it
type MetricsConfig struct {
	File string `yaml:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			WindowDays:            6,
			SeedSampleSize:        100,
			ConfidenceMultiplier:  1.96,
			BaselineOffsetYears:   4,
			DistributionTolerance: 1e-9,
		},
		Concurrency: ConcurrencyConfig{
			StateWorkers: 8,
			DateWorkers:  8,
			YearWorkers:  2,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Source: SourceConfig{
			Timeout:           30 * time.Second,
			UserAgent:         "pollcast/0.3 (+https://github.com/ppiankov/pollcast)",
			MaxBodyBytes:      64 << 20,
			RequestsPerSecond: 2,
			BurstSize:         2,
			RespectRobots:     true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Output: OutputConfig{
			Dir:  "./pollcast-output",
			JSON: true,
		},
	}
}
