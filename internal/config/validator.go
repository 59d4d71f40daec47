package config

import (
	"fmt"

	"tremor/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate rejects configurations the daemon cannot run with. It runs at
// startup (fatal) and on every reload (reload rejected, prior snapshot kept).
func Validate(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}
	if err := validateFeed(cfg.Feed); err != nil {
		errs = append(errs, err)
	}
	if err := validatePush(cfg.Push); err != nil {
		errs = append(errs, err)
	}
	if err := validateDedup(cfg.Dedup, cfg.Redis); err != nil {
		errs = append(errs, err)
	}
	if err := validateGroups(cfg.Groups); err != nil {
		errs = append(errs, err)
	}
	if err := validateDelivery(cfg.Delivery); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateFeed(cfg FeedConfig) error {
	if cfg.URL == "" {
		return &ValidationError{Field: "feed.url", Message: "feed URL is required"}
	}
	if cfg.ReconnectMin <= 0 || cfg.ReconnectMax < cfg.ReconnectMin {
		return &ValidationError{
			Field:   "feed.reconnect_min",
			Message: "reconnect delays must be positive and min <= max",
		}
	}
	if cfg.FrameBufferSize <= 0 {
		return &ValidationError{
			Field:   "feed.frame_buffer_size",
			Message: "frame buffer size must be positive",
		}
	}
	return nil
}

func validatePush(cfg PushConfig) error {
	if cfg.BaseURL == "" {
		return &ValidationError{Field: "push.base_url", Message: "push API base URL is required"}
	}
	return nil
}

func validateDedup(cfg DedupConfig, redis RedisConfig) error {
	switch cfg.Backend {
	case constants.DedupBackendMem:
	case constants.DedupBackendRedis:
		if redis.Host == "" {
			return &ValidationError{
				Field:   "redis.host",
				Message: "redis host is required for the redis dedup backend",
			}
		}
	default:
		return &ValidationError{
			Field:   "dedup.backend",
			Message: fmt.Sprintf("unknown backend %q", cfg.Backend),
		}
	}
	if cfg.TTL <= 0 {
		return &ValidationError{Field: "dedup.ttl", Message: "retention window must be positive"}
	}
	return nil
}

func validateGroups(groups map[string]GroupConfig) error {
	for id, g := range groups {
		switch g.Mode {
		case constants.ModeAllowList, constants.ModeDenyList:
		default:
			return &ValidationError{
				Field:   fmt.Sprintf("groups.%s.mode", id),
				Message: fmt.Sprintf("mode must be %q or %q, got %q", constants.ModeAllowList, constants.ModeDenyList, g.Mode),
			}
		}
	}
	return nil
}

func validateDelivery(cfg DeliveryConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{Field: "delivery.max_attempts", Message: "at least one attempt is required"}
	}
	if cfg.FanoutWorkers < 1 {
		return &ValidationError{Field: "delivery.fanout_workers", Message: "at least one fan-out worker is required"}
	}
	return nil
}
