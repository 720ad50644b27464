package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultWindow      = 15 * time.Minute
	keyPrefix          = "login:fail:"
)

// failScript increments the counter and starts the window on the first
// failure only, so later failures do not extend it.
var failScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// ThrottleConfig bounds failed logins per identifier inside a fixed window.
type ThrottleConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// LoginThrottle counts failed logins in Redis.
// Key format: login:fail:<normalized login>
type LoginThrottle struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewLoginThrottle wraps client. Non-positive settings fall back to 5
// attempts per 15 minutes.
func NewLoginThrottle(client *redis.Client, cfg ThrottleConfig) *LoginThrottle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	return &LoginThrottle{client: client, maxAttempts: cfg.MaxAttempts, window: cfg.Window}
}

// Allow reports whether fewer than MaxAttempts failures are recorded.
func (t *LoginThrottle) Allow(ctx context.Context, login string) (bool, error) {
	n, err := t.client.Get(ctx, t.key(login)).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("throttle check: %w", err)
	}
	return n < t.maxAttempts, nil
}

// Fail records one failed attempt.
func (t *LoginThrottle) Fail(ctx context.Context, login string) error {
	if err := failScript.Run(ctx, t.client, []string{t.key(login)}, t.window.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("throttle record: %w", err)
	}
	return nil
}

// Reset clears the counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, login string) error {
	if err := t.client.Del(ctx, t.key(login)).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}

func (t *LoginThrottle) key(login string) string {
	return keyPrefix + login
}
