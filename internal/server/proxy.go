package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	apperrors "github.com/cyph3rk/fronteira/internal/errors"
	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/internal/telemetry"
	"github.com/cyph3rk/fronteira/middleware/correlation"

	"go.uber.org/zap"
)

func newProxy(upstream string, log *zap.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = telemetry.Transport(http.DefaultTransport)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy_error", append(correlation.Fields(r.Context()),
			zap.String("method", r.Method),
			zap.String("path", logger.SanitizePath(r.URL.Path)),
			zap.String("error", logger.SanitizeError(err)),
		)...)
		apperrors.WriteJSON(w, apperrors.BadGateway("upstream unavailable", err),
			correlation.FromContext(r.Context()).RequestID)
	}
	return proxy, nil
}
