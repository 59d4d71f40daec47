package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tremor/internal/constants"
)

func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVariables(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("feed.url", "FEED_URL")

	v.BindEnv("push.base_url", "PUSH_BASE_URL")
	v.BindEnv("push.token", "PUSH_TOKEN")

	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("server.port", "SERVER_PORT")

	v.BindEnv("logging.level", "LOGGING_LEVEL")

	v.BindEnv("drawing.renderer_url", "DRAWING_RENDERER_URL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "10s")
	v.SetDefault("server.write_timeout_seconds", "10s")

	v.SetDefault("logging.level", "info")

	v.SetDefault("feed.reconnect_min", constants.DefaultReconnectMin)
	v.SetDefault("feed.reconnect_max", constants.DefaultReconnectMax)
	v.SetDefault("feed.stable_reset", constants.DefaultStableReset)
	v.SetDefault("feed.frame_buffer_size", constants.DefaultFrameBufferSize)

	v.SetDefault("push.timeout_seconds", 10)
	v.SetDefault("push.requests_per_sec", 5.0)
	v.SetDefault("push.burst", 10)

	v.SetDefault("dedup.backend", constants.DedupBackendMem)
	v.SetDefault("dedup.ttl", constants.DefaultDedupTTL)

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.initial_interval", "1s")
	v.SetDefault("delivery.max_interval", "30s")
	v.SetDefault("delivery.multiplier", 2.0)
	v.SetDefault("delivery.queue_size", constants.DefaultQueueSize)
	v.SetDefault("delivery.fanout_workers", constants.DefaultFanoutWorkers)
	v.SetDefault("delivery.shutdown_timeout", constants.DefaultShutdownTimeout)

	v.SetDefault("drawing.timeout", "10s")

	v.SetDefault("command.trigger", "/eqbottest")
}
