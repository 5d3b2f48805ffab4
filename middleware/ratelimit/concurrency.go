package ratelimit

import (
	"net/http"
	"time"

	apperrors "github.com/cyph3rk/fronteira/internal/errors"
	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/middleware/correlation"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/application"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Logger         *zap.Logger
	// Pool substitui o semáforo padrão (infra.NewChanPool(Max)).
	Pool domain.SlotPool
}

// ConcurrencyMiddleware limita as requisições em voo. Sem vaga dentro do
// AcquireTimeout, responde 503.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				opts.Logger.Warn("concurrency_limit_rejected", append(correlation.Fields(r.Context()),
					zap.Int("in_use", svc.InUse()),
					zap.Int("max", opts.Max),
					zap.String("path", logger.SanitizePath(r.URL.Path)),
				)...)
				apperrors.WriteJSON(w, apperrors.Unavailable("too many requests in flight", nil),
					correlation.FromContext(r.Context()).RequestID)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
