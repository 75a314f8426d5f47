package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces environment variables, e.g. TASKMESH_LOG_LEVEL.
const envPrefix = "TASKMESH"

// Load reads configuration from an optional file and from TASKMESH_*
// environment variables, with the environment taking precedence. An empty
// path skips the file and relies on defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("worker.provider", "anthropic")
	v.SetDefault("worker.model", "")
	v.SetDefault("worker.temperature", 0.7)
	v.SetDefault("worker.max_tokens", 4096)
	v.SetDefault("worker.api_key", "")
	v.SetDefault("worker.system_prompt", "")

	v.SetDefault("session.rate_per_second", 2.0)
	v.SetDefault("session.rate_burst", 5)
	v.SetDefault("session.cache_size", 64)
	v.SetDefault("session.ttl", time.Duration(0))
	v.SetDefault("session.response_cache_size", 256)
	v.SetDefault("session.response_ttl", 5*time.Minute)
	v.SetDefault("session.warm_pool_size", 0)

	v.SetDefault("queue.max_length", 100)
	v.SetDefault("queue.max_concurrent", 2)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.default_retries", 3)

	v.SetDefault("schedule.tick_interval", time.Minute)

	v.SetDefault("snapshot.dir", "")
}
