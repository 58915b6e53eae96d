// Package config provides the unified configuration for cardflow.
// A single BaseConfig structure is shared by every component of the
// extraction pipeline, organized into sections:
//   - Performance: batch sizes and flush behavior
//   - Timeouts: request and invocation budgets
//   - Reliability: retry logic, rate limiting, circuit breaker
//   - Security: connection credentials
//   - Observability: metrics, tracing, logging
package config

import (
	"fmt"
	"time"
)

// BaseConfig is the single unified configuration structure.
type BaseConfig struct {
	// Name identifies the extractor instance
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version" mapstructure:"version"`

	// API holds external API settings
	API APIConfig `yaml:"api" json:"api" mapstructure:"api"`

	// Performance settings control throughput and buffering
	Performance PerformanceConfig `yaml:"performance" json:"performance" mapstructure:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability" mapstructure:"reliability"`

	// Security configuration for credentials
	Security SecurityConfig `yaml:"security" json:"security" mapstructure:"security"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// APIConfig contains external API settings.
type APIConfig struct {
	// BaseURL is the REST API root (default https://api.trello.com/1)
	BaseURL string `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	// PageSize is the server page size used for cursor pagination
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`
}

// PerformanceConfig contains performance-related settings.
type PerformanceConfig struct {
	// BatchSize controls the number of normalized items flushed together
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// BufferSize sets the size of internal buffers
	BufferSize int `yaml:"buffer_size" json:"buffer_size" mapstructure:"buffer_size"`
	// FlushInterval triggers periodic batch flushes
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" mapstructure:"flush_interval"`
}

// TimeoutConfig contains timeout-related settings.
type TimeoutConfig struct {
	// Request timeout for individual API calls
	Request time.Duration `yaml:"request" json:"request" mapstructure:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection" mapstructure:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `yaml:"idle" json:"idle" mapstructure:"idle"`
	// InvocationBudget bounds a single extraction invocation; when it
	// expires the pipeline emits Progress instead of a terminal event
	InvocationBudget time.Duration `yaml:"invocation_budget" json:"invocation_budget" mapstructure:"invocation_budget"`
}

// ReliabilityConfig contains reliability and error handling settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for retryable failures
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier" mapstructure:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`
	// CircuitBreaker enables circuit breaker protection on the HTTP client
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker" mapstructure:"circuit_breaker"`
	// RateLimitPerSec limits API calls per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// SecurityConfig contains credential settings.
type SecurityConfig struct {
	// ConnectionKey is the raw connection string ("key=K&token=T")
	ConnectionKey string `yaml:"connection_key" json:"connection_key" mapstructure:"connection_key"`
	// Credentials stores additional named credentials
	Credentials map[string]string `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics activates Prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
}

// NewBaseConfig returns a configuration populated with defaults.
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Version: "1.0.0",
		API: APIConfig{
			BaseURL:  "https://api.trello.com/1",
			PageSize: 100,
		},
		Performance: PerformanceConfig{
			BatchSize:     200,
			BufferSize:    2000,
			FlushInterval: 10 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Request:          30 * time.Second,
			Connection:       10 * time.Second,
			Idle:             90 * time.Second,
			InvocationBudget: 10 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   time.Minute,
			CircuitBreaker:  true,
			RateLimitPerSec: 10,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			LogLevel:      "info",
		},
	}
}

// Validate checks the configuration and fills missing values with defaults.
func (c *BaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name is required")
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.trello.com/1"
	}
	if c.API.PageSize <= 0 {
		c.API.PageSize = 100
	}
	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = 200
	}
	if c.Performance.BufferSize <= 0 {
		c.Performance.BufferSize = 2000
	}
	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = 30 * time.Second
	}
	if c.Timeouts.InvocationBudget <= 0 {
		c.Timeouts.InvocationBudget = 10 * time.Minute
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("config: retry_attempts must not be negative")
	}
	if c.Reliability.RetryMultiplier <= 0 {
		c.Reliability.RetryMultiplier = 2.0
	}

	return nil
}
