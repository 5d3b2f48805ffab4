package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Janitor é implementado pelos limiters que mantêm estado por chave em memória.
type Janitor interface {
	StartJanitor(ctx context.Context)
}

// Factory cria o Limiter de cada regra conforme algoritmo e backend.
//
// O backend redis vale para regras sliding_window; token_bucket e fixed_window
// são sempre locais ao processo.
type Factory struct {
	Backend      string
	Redis        redis.UniversalClient
	RedisPrefix  string
	MaxKeys      int
	CleanupEvery time.Duration
	// Now é o relógio do janitor. Deve ser o mesmo passado em Reserve
	// (application.Service.Now); nil = time.Now.
	Now func() time.Time
}

func (f Factory) New(rule domain.Rule) (domain.Limiter, error) {
	rule = rule.WithDefaults()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	switch rule.Algorithm {
	case domain.AlgorithmTokenBucket:
		opts := []StoreOption{WithCleanupEvery(f.CleanupEvery)}
		if f.Now != nil {
			opts = append(opts, WithStoreClock(f.Now))
		}
		return NewTokenBucket(rule, opts...), nil
	case domain.AlgorithmFixedWindow:
		return NewFixedWindow(rule, f.CleanupEvery), nil
	}

	switch f.Backend {
	case "", BackendMemory:
		opts := []WindowOption{
			WithMaxKeys(f.MaxKeys),
			WithWindowCleanupEvery(f.CleanupEvery),
		}
		if f.Now != nil {
			opts = append(opts, WithWindowClock(f.Now))
		}
		return NewSlidingWindow(rule, opts...), nil
	case BackendRedis:
		if f.Redis == nil {
			return nil, errors.New("redis backend requires a redis client")
		}
		var opts []RedisWindowOption
		if f.RedisPrefix != "" {
			opts = append(opts, WithWindowPrefix(f.RedisPrefix))
		}
		return NewRedisWindow(f.Redis, rule, opts...), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", f.Backend)
	}
}
