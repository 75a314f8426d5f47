package config

import (
	"fmt"
	"time"
)

// Config holds all daemon configuration, grouped by concern.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Session  SessionConfig  `mapstructure:"session"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// WorkerConfig selects and tunes the worker backend.
type WorkerConfig struct {
	// Provider is the backend used to launch worker processes,
	// "anthropic" or "openai".
	Provider     string  `mapstructure:"provider"`
	Model        string  `mapstructure:"model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int64   `mapstructure:"max_tokens"`
	APIKey       string  `mapstructure:"api_key"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	RateBurst         int           `mapstructure:"rate_burst"`
	CacheSize         int           `mapstructure:"cache_size"`
	TTL               time.Duration `mapstructure:"ttl"`
	ResponseCacheSize int           `mapstructure:"response_cache_size"`
	ResponseTTL       time.Duration `mapstructure:"response_ttl"`
	WarmPoolSize      int           `mapstructure:"warm_pool_size"`
}

// QueueConfig tunes the task queue manager.
type QueueConfig struct {
	MaxLength      int           `mapstructure:"max_length"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DefaultRetries int           `mapstructure:"default_retries"`
}

// ScheduleConfig tunes the cron scheduler.
type ScheduleConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// SnapshotConfig controls state persistence.
type SnapshotConfig struct {
	// Dir is the snapshot directory. Empty disables persistence.
	Dir string `mapstructure:"dir"`
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	switch c.Worker.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("worker.provider must be \"anthropic\" or \"openai\", got %q", c.Worker.Provider)
	}
	if c.Session.RatePerSecond <= 0 {
		return fmt.Errorf("session.rate_per_second must be positive, got %v", c.Session.RatePerSecond)
	}
	if c.Queue.MaxLength <= 0 {
		return fmt.Errorf("queue.max_length must be positive, got %d", c.Queue.MaxLength)
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be positive, got %d", c.Queue.MaxConcurrent)
	}
	return nil
}
