package service

import (
	"context"
	"time"

	"ownide/internal/common/cache"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

const quotaKeyPrefix = "sandbox:quota:"

// KEYS[1] counter; ARGV[1] limit; ARGV[2] window ms.
// Returns the new count, or -1 when the limit is already reached.
var quotaScript = cache.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= limit then
  if redis.call("PTTL", KEYS[1]) < 0 then
    redis.call("PEXPIRE", KEYS[1], window)
  end
  return -1
end
count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], window)
end
return count
`)

// QuotaConfig bounds anonymous submissions.
type QuotaConfig struct {
	GuestLimit int           `yaml:"guestLimit"`
	Window     time.Duration `yaml:"window"`
	Timeout    time.Duration `yaml:"timeout"`
}

// QuotaService enforces a fixed-window submission quota for anonymous visitors.
type QuotaService struct {
	cache   cache.ScriptOps
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewQuotaService creates a quota guard. A limit of zero or less disables it.
func NewQuotaService(cacheClient cache.ScriptOps, cfg QuotaConfig) *QuotaService {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &QuotaService{cache: cacheClient, limit: cfg.GuestLimit, window: cfg.Window, timeout: cfg.Timeout}
}

// CheckAndConsume spends one unit of the visitor's quota or rejects the request.
// Authenticated visitors are never limited and consume nothing.
func (s *QuotaService) CheckAndConsume(ctx context.Context, visitor model.Visitor) error {
	if visitor.Authenticated || s.limit <= 0 {
		return nil
	}
	if s.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("quota store is unavailable")
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.cache.Eval(ctxCache, quotaScript, []string{quotaKeyPrefix + visitor.ID}, s.limit, s.window.Milliseconds())
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "quota check failed")
	}
	if count, _ := res.(int64); count < 0 {
		return appErr.New(appErr.GuestQuotaExceeded).
			WithDetail("limit", s.limit).
			WithDetail("window_seconds", int64(s.window.Seconds()))
	}
	return nil
}
