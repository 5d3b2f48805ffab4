package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogScript poda, conta e (se couber) registra a requisição num sorted set.
// Tudo roda atomicamente no Redis.
//
// KEYS[1] = chave; ARGV = now_ms, window_ms, max, member, "(cutoff_ms"
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[5])
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[2])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

// RedisWindow é a janela deslizante exata guardada no Redis (sorted set por chave,
// score = timestamp em ms, member = uuid da requisição). Serve quando várias
// instâncias do gateway precisam compartilhar os contadores.
type RedisWindow struct {
	rule   domain.Rule
	rdb    redis.UniversalClient
	prefix string
}

type RedisWindowOption func(*RedisWindow)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(w *RedisWindow) { w.prefix = strings.Trim(prefix, ":") }
}

func NewRedisWindow(rdb redis.UniversalClient, rule domain.Rule, opts ...RedisWindowOption) *RedisWindow {
	w := &RedisWindow{
		rule:   rule,
		rdb:    rdb,
		prefix: "ratelimit:window",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *RedisWindow) Rule() domain.Rule { return w.rule }

func (w *RedisWindow) redisKey(key domain.Key) string {
	return w.prefix + ":" + w.rule.Name + ":" + string(key)
}

// Reserve implementa domain.Limiter. A requisição já fica registrada quando
// admitida; Cancel remove o membro.
func (w *RedisWindow) Reserve(ctx context.Context, key domain.Key, now time.Time) (domain.Reservation, error) {
	nowMs := now.UnixMilli()
	windowMs := w.rule.Window.Milliseconds()
	member := uuid.NewString()
	rkey := w.redisKey(key)

	vals, err := slidingLogScript.Run(ctx, w.rdb, []string{rkey},
		nowMs,
		windowMs,
		w.rule.Max,
		member,
		"("+strconv.FormatInt(nowMs-windowMs, 10),
	).Int64Slice()
	if err != nil {
		return nil, err
	}

	allowed, count, oldest := vals[0] == 1, int(vals[1]), vals[2]
	dec := domain.Decision{
		Allowed: allowed,
		Rule:    w.rule,
		Key:     key,
		Limit:   w.rule.Max,
		Count:   count,
		ResetAt: time.UnixMilli(oldest).Add(w.rule.Window),
	}
	if allowed {
		dec.Remaining = w.rule.Max - count
		return &redisReservation{rdb: w.rdb, key: rkey, member: member, dec: dec}, nil
	}
	dec.RetryAfter = dec.ResetAt.Sub(now)
	if dec.RetryAfter <= 0 {
		dec.RetryAfter = time.Millisecond
	}
	return &redisReservation{dec: dec, done: true}, nil
}

type redisReservation struct {
	rdb    redis.UniversalClient
	key    string
	member string
	dec    domain.Decision
	done   bool
}

func (r *redisReservation) Decision() domain.Decision { return r.dec }

func (r *redisReservation) Commit() { r.done = true }

func (r *redisReservation) Cancel() {
	if r.done {
		return
	}
	r.done = true
	// best-effort: no pior caso o membro expira junto com a janela
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = r.rdb.ZRem(ctx, r.key, r.member).Err()
}
