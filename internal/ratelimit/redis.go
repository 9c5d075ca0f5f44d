package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript implements the sliding window atomically server-side: drop
// entries older than the window, count the remainder, and record this
// attempt only when under the limit. Running it as one script keeps
// concurrent admits for the same key from undercounting.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter is a distributed sliding-window counter. Every instance of
// the service shares the same counters, so the limits hold across replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	rules  Rules
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, rules Rules, logger *slog.Logger) *RedisLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RedisLimiter{
		client: client,
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
}

// Admit reports whether the attempt fits the key's window. A Redis error
// denies: a broken limiter that admits everything is an open brute-force
// window.
func (l *RedisLimiter) Admit(ctx context.Context, key string) bool {
	rule := l.rules.RuleFor(key)
	if rule.Limit <= 0 {
		return false
	}

	res, err := admitScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		l.now().UnixMilli(),
		rule.Window.Milliseconds(),
		rule.Limit,
		uuid.NewString(),
	).Int()
	if err != nil {
		l.logger.Error("rate_limiter_unavailable", "key", key, "error", err)
		return false
	}

	return res == 1
}
