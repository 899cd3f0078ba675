package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Health check results.
const (
	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkTimeout   = "timeout"
)

const defaultCheckTimeout = 5 * time.Second

// HealthChecker is implemented by dependencies reported on /health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager runs named health checkers.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthManager creates a HealthManager. Each checker gets its own timeout.
func NewHealthManager(timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		timeout:  timeout,
	}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Names returns the registered checker names in order.
func (m *HealthManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all checkers concurrently and returns per-checker results and the overall status.
func (m *HealthManager) Check(ctx context.Context) (map[string]string, string) {
	m.mu.RLock()
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(checkers))
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			result := checkHealthy
			if err := checker.CheckHealth(checkCtx); err != nil {
				result = checkUnhealthy
				if errors.Is(err, context.DeadlineExceeded) {
					result = checkTimeout
				}
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return results, m.determineOverallStatus(results)
}

func (m *HealthManager) determineOverallStatus(results map[string]string) string {
	status := checkHealthy
	for _, result := range results {
		switch result {
		case checkUnhealthy:
			return checkUnhealthy
		case checkTimeout:
			status = "degraded"
		}
	}
	return status
}

// RedisChecker pings the queue's Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a checker from a redis:// URL.
func NewRedisChecker(redisURL string) (*RedisChecker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &RedisChecker{client: redis.NewClient(opt)}, nil
}

// CheckHealth sends PING.
func (c *RedisChecker) CheckHealth(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisChecker) Close() error {
	return c.client.Close()
}
