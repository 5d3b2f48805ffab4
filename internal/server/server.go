// Package server monta o gateway: router, cadeia de middlewares, rate limit
// a partir da configuração e o proxy para o upstream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/cyph3rk/fronteira/internal/config"
	"github.com/cyph3rk/fronteira/internal/telemetry"
	"github.com/cyph3rk/fronteira/middleware/accesslog"
	"github.com/cyph3rk/fronteira/middleware/correlation"
	"github.com/cyph3rk/fronteira/middleware/identity"
	"github.com/cyph3rk/fronteira/middleware/ratelimit"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/application"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	router *chi.Mux

	policy *application.Policy
	stats  domain.StatsStore
	rdb    *redis.Client
	// ownsRedis: o cliente foi aberto aqui e deve ser fechado em Close.
	ownsRedis bool
}

type Option func(*Server)

// WithRedis injeta um cliente já aberto (testes, ou reuso pelo chamador).
func WithRedis(rdb *redis.Client) Option {
	return func(s *Server) { s.rdb = rdb }
}

// New monta o servidor. O cliente Redis só é aberto quando algum backend o usa.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}

	if s.rdb == nil && NeedsRedis(cfg) {
		rdb, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.rdb, s.ownsRedis = rdb, true
	}

	var err error
	if s.policy, err = NewPolicy(cfg.RateLimit, s.redis()); err != nil {
		s.Close()
		return nil, fmt.Errorf("building rate limit policy: %w", err)
	}
	if s.stats, err = NewStatsStore(cfg.Stats, s.redis()); err != nil {
		s.Close()
		return nil, fmt.Errorf("building stats store: %w", err)
	}

	proxy, err := newProxy(cfg.Server.UpstreamURL, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.router = s.routes(proxy)
	return s, nil
}

// redis evita o nil tipado na interface redis.UniversalClient.
func (s *Server) redis() redis.UniversalClient {
	if s.rdb == nil {
		return nil
	}
	return s.rdb
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Policy() *application.Policy { return s.policy }

// Ordem: trace -> correlation -> log -> recovery -> audit -> cors ->
// identity -> rate limit -> concorrência -> proxy.
func (s *Server) routes(proxy http.Handler) *chi.Mux {
	cfg := s.cfg
	r := chi.NewRouter()

	// o span do servidor precisa existir antes para receber os ids de correlação
	r.Use(telemetry.Middleware(cfg.Telemetry.ServiceName))
	r.Use(correlation.Middleware)
	r.Use(accesslog.Logging(s.log))
	r.Use(accesslog.Recovery(s.log))
	r.Use(accesslog.Audit(s.log))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			ExposedHeaders: []string{
				ratelimit.HeaderLimit,
				ratelimit.HeaderRemaining,
				ratelimit.HeaderReset,
				ratelimit.HeaderRetryAfter,
				correlation.RequestIDHeader,
			},
		}).Handler)
	}

	r.Get("/healthz", s.handleHealth)
	if cfg.Server.DebugEndpoints {
		r.Get("/debug/ratelimit/stats", s.handleStats)
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(NewResolver(cfg.RateLimit.Identity), func(req *http.Request, err error) {
			s.log.Debug("identity_unresolved", append(correlation.Fields(req.Context()), zap.Error(err))...)
		}))
		if s.policy != nil {
			r.Use(ratelimit.Middleware(ratelimit.Options{
				Service: &application.Service{
					Policy:        s.policy,
					Stats:         s.stats,
					FailurePolicy: domain.FailurePolicy(cfg.RateLimit.FailureMode),
				},
				Logger:             s.log,
				KeyHeader:          cfg.RateLimit.KeyHeader,
				TrustXForwardedFor: cfg.RateLimit.TrustXFF,
				TrustRealIP:        cfg.RateLimit.TrustRealIP,
				DebugHeaders:       cfg.RateLimit.DebugHeaders,
			}))
		}
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Max:            cfg.Concurrency.Max,
			AcquireTimeout: cfg.Concurrency.AcquireTimeout,
			Logger:         s.log,
		}))
		r.Handle("/*", proxy)
	})
	return r
}

// Run escuta em cfg.Server.Addr até o contexto ser cancelado.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve atende em ln, liga os janitors e faz shutdown gracioso quando ctx
// termina.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.policy != nil {
		n := startJanitors(gctx, s.policy)
		s.log.Debug("janitors_started", zap.Int("count", n))
	}

	g.Go(func() error {
		s.log.Info("gateway_listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("upstream", redactURL(s.cfg.Server.UpstreamURL)),
			zap.Bool("rate_limit", s.policy != nil),
			zap.String("backend", s.cfg.RateLimit.Backend),
			zap.Int("concurrency_max", s.cfg.Concurrency.Max),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.log.Info("gateway_shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close libera o cliente Redis aberto por New.
func (s *Server) Close() {
	if s.ownsRedis && s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
