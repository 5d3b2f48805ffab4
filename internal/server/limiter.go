package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cyph3rk/fronteira/internal/config"
	"github.com/cyph3rk/fronteira/middleware/identity"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/application"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient abre o cliente e confere a conexão com um PING.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NeedsRedis informa se alguma parte da configuração usa o Redis.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.RateLimit.Enabled && cfg.RateLimit.Backend == infra.BackendRedis ||
		cfg.Stats.Backend == "redis"
}

// NewPolicy monta a política de rate limit da configuração. Retorna nil quando
// o rate limit está desligado.
func NewPolicy(cfg config.RateLimitConfig, rdb redis.UniversalClient) (*application.Policy, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	global, routes := cfg.Rules()
	return application.NewPolicy(global, routes, application.Precedence(cfg.Precedence), infra.Factory{
		Backend:      cfg.Backend,
		Redis:        rdb,
		RedisPrefix:  cfg.RedisPrefix,
		MaxKeys:      cfg.MaxKeys,
		CleanupEvery: cfg.CleanupEvery,
	})
}

// NewStatsStore devolve o store configurado, ou nil com backend "none".
func NewStatsStore(cfg config.StatsConfig, rdb redis.UniversalClient) (domain.StatsStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return infra.NewMemoryStatsStore(
			infra.WithTrackKeys(cfg.TrackKeys),
			infra.WithMaxTrackedKeys(cfg.MaxKeys),
		), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis stats backend requires a redis client")
		}
		return infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cfg.Prefix),
			infra.WithStatsTTL(cfg.TTL),
			infra.WithStatsBucket(cfg.Bucket),
			infra.WithStatsTrackKeys(cfg.TrackKeys),
		), nil
	default:
		return nil, fmt.Errorf("unknown stats backend %q", cfg.Backend)
	}
}

// NewResolver devolve o resolvedor de identidade, ou nil com mode "none".
func NewResolver(cfg config.IdentityConfig) identity.Resolver {
	switch cfg.Mode {
	case "jwt":
		var opts []identity.JWTOption
		if cfg.JWTIssuer != "" {
			opts = append(opts, identity.WithIssuer(cfg.JWTIssuer))
		}
		if cfg.JWTAudience != "" {
			opts = append(opts, identity.WithAudience(cfg.JWTAudience))
		}
		return identity.NewHS256Resolver([]byte(cfg.JWTSecret), opts...)
	case "header":
		return identity.HeaderResolver{Header: cfg.Header}
	default:
		return nil
	}
}

// startJanitors liga a limpeza periódica dos limiters com estado local.
func startJanitors(ctx context.Context, p *application.Policy) int {
	n := 0
	for _, lim := range p.Limiters() {
		if j, ok := lim.(infra.Janitor); ok {
			j.StartJanitor(ctx)
			n++
		}
	}
	return n
}
