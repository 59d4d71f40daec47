package config

import "time"

type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Feed      FeedConfig              `mapstructure:"feed"`
	Push      PushConfig              `mapstructure:"push"`
	Dedup     DedupConfig             `mapstructure:"dedup"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Delivery  DeliveryConfig          `mapstructure:"delivery"`
	Drawing   DrawingConfig           `mapstructure:"drawing"`
	Command   CommandConfig           `mapstructure:"command"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Groups    map[string]GroupConfig  `mapstructure:"groups"`
	Templates map[string]string       `mapstructure:"templates"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type FeedConfig struct {
	URL             string        `mapstructure:"url"`
	ReconnectMin    time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax    time.Duration `mapstructure:"reconnect_max"`
	StableReset     time.Duration `mapstructure:"stable_reset"`
	FrameBufferSize int           `mapstructure:"frame_buffer_size"`
}

type PushConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Token          string  `mapstructure:"token"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int     `mapstructure:"burst"`
}

type DedupConfig struct {
	Backend string        `mapstructure:"backend"` // "memory" or "redis"
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DeliveryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	QueueSize       int           `mapstructure:"queue_size"`
	FanoutWorkers   int           `mapstructure:"fanout_workers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DrawingConfig struct {
	RendererURL string                       `mapstructure:"renderer_url"`
	Timeout     time.Duration                `mapstructure:"timeout"`
	Sources     []string                     `mapstructure:"sources"`
	Filters     map[string]map[string]string `mapstructure:"filters"` // source -> field -> regex
}

type CommandConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Trigger        string   `mapstructure:"trigger"`
	RestrictGroups bool     `mapstructure:"restrict_groups"`
	Groups         []string `mapstructure:"groups"`
}

// SourceConfig is per-upstream-source: the enable switch plus the eligibility
// rule applied before any group subscription is consulted.
type SourceConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	MinMagnitude *float64 `mapstructure:"min_magnitude"`
	Expression   string   `mapstructure:"expression"` // optional CEL predicate
}

// GroupConfig selects sources for one downstream group: in whitelist mode the
// listed sources are the only ones delivered, in blacklist mode they are the
// only ones suppressed.
type GroupConfig struct {
	Mode    string   `mapstructure:"mode"`
	Sources []string `mapstructure:"sources"`
}
