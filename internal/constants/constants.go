package constants

import "time"

// Upstream frame types.
const (
	FrameTypeUpdate     = "update"
	FrameTypeHeartbeat  = "heartbeat"
	FrameTypeInitialAll = "initial_all"
	FrameTypePing       = "ping"
)

// Heartbeat protocol: every Nth heartbeat frame is answered with a ping.
const HeartbeatPingEvery = 5

// Dedup.
const (
	DedupKeyPrefix    = "dedup:"
	DefaultDedupTTL   = 24 * time.Hour
	DedupBackendMem   = "memory"
	DedupBackendRedis = "redis"
)

// Group subscription modes.
const (
	ModeAllowList = "whitelist"
	ModeDenyList  = "blacklist"
)

// Delivery defaults.
const (
	DefaultQueueSize       = 64
	DefaultFanoutWorkers   = 8
	DefaultShutdownTimeout = 10 * time.Second
)

// Feed connection defaults.
const (
	DefaultReconnectMin    = 1 * time.Second
	DefaultReconnectMax    = 60 * time.Second
	DefaultStableReset     = 60 * time.Second
	DefaultFrameBufferSize = 128
)

// Template fallback key.
const DefaultTemplateKey = "default"
