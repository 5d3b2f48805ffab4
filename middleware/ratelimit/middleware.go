package ratelimit

import (
	"net/http"
	"time"

	apperrors "github.com/cyph3rk/fronteira/internal/errors"
	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/middleware/correlation"
	"github.com/cyph3rk/fronteira/middleware/identity"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/application"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderKey        = "X-RateLimit-Key"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

type Options struct {
	Service *application.Service
	Logger  *zap.Logger

	// KeyFn identifica o cliente para regras por IP. Se nil, usa DefaultKeyFunc
	// com KeyHeader / TrustXForwardedFor / TrustRealIP.
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	TrustRealIP        bool
	// UserFn devolve o usuário autenticado; padrão identity.UserFromContext.
	UserFn func(r *http.Request) string

	// DebugHeaders expõe a chave e o escopo da regra na resposta.
	DebugHeaders bool
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor, opts.TrustRealIP)
	}
	if opts.UserFn == nil {
		opts.UserFn = func(r *http.Request) string { return identity.UserFromContext(r.Context()) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		if opts.Service == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := opts.Service.Decide(r.Context(), application.Request{
				Method:   r.Method,
				Path:     r.URL.Path,
				ClientIP: opts.KeyFn(r),
				UserID:   opts.UserFn(r),
			})
			dec := v.Decision

			if v.Err != nil {
				opts.Logger.Error("rate_limit_state_error", append(correlation.Fields(r.Context()),
					zap.String("key", logger.SanitizeKey(string(dec.Key))),
					zap.String("scope", dec.Rule.Scope()),
					zap.Bool("fail_open", v.Degraded),
					zap.Error(v.Err),
				)...)
			}
			if v.Limited() {
				setHeaders(w.Header(), dec)
			}
			if opts.DebugHeaders && dec.Key != "" {
				w.Header().Set(HeaderKey, string(dec.Key))
				w.Header().Set(HeaderScope, dec.Rule.Scope())
			}

			reqID := correlation.FromContext(r.Context()).RequestID
			switch {
			case v.Unavailable:
				apperrors.WriteJSON(w, apperrors.Unavailable("rate limit state unavailable", v.Err), reqID)
				return
			case !v.Allowed:
				retry := ceilSeconds(dec.RetryAfter)
				w.Header().Set(HeaderRetryAfter, formatInt64(retry))
				opts.Logger.Warn("rate_limit_rejected", append(correlation.Fields(r.Context()),
					zap.String("key", logger.SanitizeKey(string(dec.Key))),
					zap.String("scope", dec.Rule.Scope()),
					zap.Int("count", dec.Count),
					zap.Int("limit", dec.Limit),
					zap.String("method", r.Method),
					zap.String("path", logger.SanitizePath(r.URL.Path)),
					zap.Int64("retry_after_s", retry),
				)...)
				apperrors.WriteJSON(w, apperrors.RateLimited("too many requests").
					WithDetail("scope", dec.Rule.Scope()).
					WithDetail("limit", dec.Limit).
					WithDetail("window", formatFloat(dec.Rule.Window.Seconds())+"s").
					WithDetail("retry_after", retry), reqID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(h http.Header, dec domain.Decision) {
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(max(0, dec.Remaining)))
	h.Set(HeaderReset, formatInt64(ceilUnix(dec.ResetAt)))
	h.Set(HeaderPolicy, formatInt(dec.Limit)+";w="+formatFloat(dec.Rule.Window.Seconds()))
}

// ceilSeconds arredonda para cima: o cliente nunca deve voltar cedo demais.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

func ceilUnix(t time.Time) int64 {
	if t.Nanosecond() > 0 {
		return t.Unix() + 1
	}
	return t.Unix()
}
