package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisGate mirrors trips into Redis so that every process sharing one
// provider key backs off together. Local state is authoritative when Redis
// is unreachable.
type RedisGate struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
	local   *Cooldown
}

// RedisOptions configures a RedisGate.
type RedisOptions struct {
	RedisURL string
	Provider string
	Model    string
	Timeout  time.Duration
}

// NewRedisGate connects to Redis and returns a shared gate for provider:model.
func NewRedisGate(opts RedisOptions) (*RedisGate, error) {
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(ro)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisGateFromClient(c, opts.Provider, opts.Model, opts.Timeout), nil
}

// NewRedisGateFromClient wraps an existing client without pinging it.
func NewRedisGateFromClient(c *redis.Client, provider, model string, timeout time.Duration) *RedisGate {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisGate{rdb: c, key: gateKey(provider, model), timeout: timeout, local: NewCooldown()}
}

func gateKey(provider, model string) string {
	return fmt.Sprintf("gate:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// Key returns the Redis key holding the shared deadline.
func (g *RedisGate) Key() string { return g.key }

// Blocked reports whether either the local or the shared deadline is ahead of now.
func (g *RedisGate) Blocked(now time.Time) bool {
	return g.Remaining(now) > 0
}

// Remaining returns the longer of the local and shared cooldowns.
func (g *RedisGate) Remaining(now time.Time) time.Duration {
	d := g.local.Remaining(now)
	if remote := g.remote(); !remote.IsZero() {
		if rd := remote.Sub(now); rd > d {
			d = rd
		}
	}
	return d
}

// Trip sets the local deadline and publishes it with a TTL equal to the cooldown.
func (g *RedisGate) Trip(now time.Time, cooldown time.Duration) {
	g.local.Trip(now, cooldown)
	if cooldown <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	until := g.local.deadline()
	if err := g.rdb.Set(ctx, g.key, until.UnixNano(), cooldown).Err(); err != nil {
		log.Warn().Err(err).Str("key", g.key).Msg("rate gate: redis trip failed, keeping local cooldown")
	}
}

func (g *RedisGate) remote() time.Time {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	ts, err := g.rdb.Get(ctx, g.key).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", g.key).Msg("rate gate: redis read failed")
		}
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// Ping checks redis connectivity.
func (g *RedisGate) Ping(ctx context.Context) error { return g.rdb.Ping(ctx).Err() }

// Close releases the Redis client.
func (g *RedisGate) Close() error { return g.rdb.Close() }
