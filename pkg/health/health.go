package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult)
	status := StatusHealthy

	for _, checker := range r.checkers {
		result := CheckResult{Status: StatusHealthy}
		if err := checker.Check(ctx); err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			status = StatusUnhealthy
		}
		results[checker.Name()] = result
	}

	return Health{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// RedisChecker pings the dedup store.
type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// FeedChecker reports unhealthy while the upstream feed is not connected.
// The supervisor keeps reconnecting on its own; this only surfaces the state.
type FeedChecker struct {
	name  string
	state func() string
}

func NewFeedChecker(name string, state func() string) *FeedChecker {
	return &FeedChecker{name: name, state: state}
}

func (c *FeedChecker) Name() string { return c.name }

func (c *FeedChecker) Check(ctx context.Context) error {
	if s := c.state(); s != "connected" {
		return fmt.Errorf("feed is %s", s)
	}
	return nil
}
