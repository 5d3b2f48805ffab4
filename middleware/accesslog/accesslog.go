// Package accesslog tem os middlewares de log de acesso, auditoria e
// recuperação de panic do gateway.
package accesslog

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/cyph3rk/fronteira/internal/errors"
	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/middleware/correlation"

	"go.uber.org/zap"
)

// statusWriter guarda o status e os bytes escritos.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool

	// errCode é o código do erro JSON escrito pelo gateway ("" = veio do upstream).
	errCode string
}

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush mantém streaming do reverse proxy funcionando.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RecordErrorCode implementa apperrors.CodeRecorder.
func (w *statusWriter) RecordErrorCode(code string) { w.errCode = code }

// fromUpstream: 5xx que não foi gerado localmente, ou 502 do proxy.
func (w *statusWriter) fromUpstream() bool {
	return w.errCode == "" || w.errCode == apperrors.CodeBadGateway
}

// Logging registra uma linha "http_request" por requisição.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)

			next.ServeHTTP(sw, r)

			fields := append(correlation.Fields(r.Context()),
				zap.String("method", r.Method),
				zap.String("path", logger.SanitizePath(r.URL.Path)),
				zap.Int("status_code", sw.status),
				zap.Int("bytes", sw.bytes),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			log.Info("http_request", fields...)
		})
	}
}

// Audit registra eventos de segurança (401/403) e falhas do upstream (5xx).
// Rejeições por rate limit e os 503 gerados pelo gateway (fail-closed, limite
// de concorrência) já são logados na origem.
func Audit(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrap(w)
			next.ServeHTTP(sw, r)

			var event string
			switch {
			case sw.status == http.StatusUnauthorized || sw.status == http.StatusForbidden:
				event = "security_event"
			case sw.status >= http.StatusInternalServerError && sw.fromUpstream():
				event = "upstream_error"
			default:
				return
			}
			fields := append(correlation.Fields(r.Context()),
				zap.Int("status_code", sw.status),
				zap.String("method", r.Method),
				zap.String("path", logger.SanitizePath(r.URL.Path)),
				zap.String("remote_addr", logger.SanitizeString(r.RemoteAddr, 64)),
			)
			log.Warn(event, fields...)
		})
	}
}

// Recovery transforma panic em 500 JSON e loga com stack.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler é o jeito do reverse proxy abortar a resposta
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fields := append(correlation.Fields(r.Context()),
					zap.String("panic", logger.SanitizeString(fmt.Sprint(rec), logger.MaxErrorMessageLength)),
					zap.String("method", r.Method),
					zap.String("path", logger.SanitizePath(r.URL.Path)),
					zap.Stack("stack"),
				)
				log.Error("panic_recovered", fields...)
				apperrors.WriteJSON(w, apperrors.Internal("internal error", nil),
					correlation.FromContext(r.Context()).RequestID)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
