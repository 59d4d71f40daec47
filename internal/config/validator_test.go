package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Feed: FeedConfig{
			URL:             "wss://feed.example.com/ws",
			ReconnectMin:    time.Second,
			ReconnectMax:    time.Minute,
			FrameBufferSize: 64,
		},
		Push:  PushConfig{BaseURL: "http://127.0.0.1:5700"},
		Dedup: DedupConfig{Backend: "memory", TTL: 24 * time.Hour},
		Delivery: DeliveryConfig{
			MaxAttempts:   3,
			FanoutWorkers: 8,
		},
		Groups: map[string]GroupConfig{
			"123": {Mode: "whitelist", Sources: []string{"cenc"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantField: "server.port",
		},
		{
			name:      "missing feed url",
			mutate:    func(c *Config) { c.Feed.URL = "" },
			wantField: "feed.url",
		},
		{
			name:      "reconnect max below min",
			mutate:    func(c *Config) { c.Feed.ReconnectMax = time.Millisecond },
			wantField: "feed.reconnect_min",
		},
		{
			name:      "zero frame buffer",
			mutate:    func(c *Config) { c.Feed.FrameBufferSize = 0 },
			wantField: "feed.frame_buffer_size",
		},
		{
			name:      "missing push base url",
			mutate:    func(c *Config) { c.Push.BaseURL = "" },
			wantField: "push.base_url",
		},
		{
			name:      "unknown dedup backend",
			mutate:    func(c *Config) { c.Dedup.Backend = "etcd" },
			wantField: "dedup.backend",
		},
		{
			name: "redis backend without host",
			mutate: func(c *Config) {
				c.Dedup.Backend = "redis"
				c.Redis.Host = ""
			},
			wantField: "redis.host",
		},
		{
			name: "redis backend with host",
			mutate: func(c *Config) {
				c.Dedup.Backend = "redis"
				c.Redis.Host = "127.0.0.1"
			},
		},
		{
			name:      "non-positive ttl",
			mutate:    func(c *Config) { c.Dedup.TTL = 0 },
			wantField: "dedup.ttl",
		},
		{
			name: "bad group mode",
			mutate: func(c *Config) {
				c.Groups["123"] = GroupConfig{Mode: "greylist"}
			},
			wantField: "groups.123.mode",
		},
		{
			name:      "zero max attempts",
			mutate:    func(c *Config) { c.Delivery.MaxAttempts = 0 },
			wantField: "delivery.max_attempts",
		},
		{
			name:      "zero fanout workers",
			mutate:    func(c *Config) { c.Delivery.FanoutWorkers = 0 },
			wantField: "delivery.fanout_workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}
