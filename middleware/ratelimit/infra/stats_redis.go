package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore guarda os contadores em hashes do Redis, compartilhados
// entre instâncias:
//
//	<prefix>:total                 outcome -> n (cumulativo, não expira)
//	<prefix>:scope                 "<método> <escopo>:<outcome>" -> n
//	<prefix>:minute:<yyyymmddHHMM> outcome -> n (expira com ttl)
//	<prefix>:key:<chave>           outcome -> n (só com trackKeys; expira com ttl)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil || ev.Outcome == "" {
		return nil
	}
	field := string(ev.Outcome)
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		s.incrExpiring(ctx, pipe, s.prefix+":minute:"+at.UTC().Format("200601021504"), field)
	}
	if scope := scopeLabel(ev); scope != "" {
		pipe.HIncrBy(ctx, s.prefix+":scope", scope+":"+field, 1)
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			s.incrExpiring(ctx, pipe, s.prefix+":key:"+k, field)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func scopeLabel(ev domain.StatsEvent) string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Scope))
}

// Total lê os contadores cumulativos.
func (s *RedisStatsStore) Total(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	for field, v := range vals {
		c.set(domain.Outcome(field), v)
	}
	return c, nil
}

// Snapshot lê o total e a quebra por escopo. Contadores por chave não entram:
// estão espalhados em uma chave Redis por cliente.
func (s *RedisStatsStore) Snapshot(ctx context.Context) (Snapshot, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, s.prefix+":total")
	scopes := pipe.HGetAll(ctx, s.prefix+":scope")
	if _, err := pipe.Exec(ctx); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{ByScope: make(map[string]Counters)}
	for field, v := range total.Val() {
		snap.Total.set(domain.Outcome(field), v)
	}
	for field, v := range scopes.Val() {
		// o escopo pode conter ':', o outcome não
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		c := snap.ByScope[field[:i]]
		c.set(domain.Outcome(field[i+1:]), v)
		snap.ByScope[field[:i]] = c
	}
	return snap, nil
}

func (c *Counters) set(o domain.Outcome, raw string) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	switch o {
	case domain.OutcomeAllowed:
		c.Allowed = n
	case domain.OutcomeDenied:
		c.Denied = n
	case domain.OutcomeDegraded:
		c.Degraded = n
	case domain.OutcomeUnavailable:
		c.Unavailable = n
	}
}
