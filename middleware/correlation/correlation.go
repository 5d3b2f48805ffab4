// Package correlation propaga o id de correlação e o id da requisição pelo
// contexto, para que logs de camadas diferentes possam ser ligados.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"

	maxIDLength = 128
)

// Context identifica uma requisição: CorrelationID atravessa serviços,
// RequestID é desta requisição no gateway.
type Context struct {
	CorrelationID string
	RequestID     string
}

type ctxKey struct{}

func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext retorna o Context da requisição; vazio se o middleware não rodou.
func FromContext(ctx context.Context) Context {
	c, _ := ctx.Value(ctxKey{}).(Context)
	return c
}

// Fields retorna os campos zap de correlação.
func Fields(ctx context.Context) []zap.Field {
	c := FromContext(ctx)
	return []zap.Field{
		zap.String("correlation_id", c.CorrelationID),
		zap.String("request_id", c.RequestID),
	}
}

// Middleware lê (ou gera) os ids, guarda no contexto e devolve nos headers da
// resposta. Os headers também são reescritos na requisição para o upstream.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Context{
			CorrelationID: incoming(r, CorrelationIDHeader),
			RequestID:     incoming(r, RequestIDHeader),
		}
		if c.RequestID == "" {
			c.RequestID = uuid.NewString()
		}
		if c.CorrelationID == "" {
			c.CorrelationID = c.RequestID
		}

		r.Header.Set(CorrelationIDHeader, c.CorrelationID)
		r.Header.Set(RequestIDHeader, c.RequestID)
		w.Header().Set(CorrelationIDHeader, c.CorrelationID)
		w.Header().Set(RequestIDHeader, c.RequestID)

		if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
			span.SetAttributes(
				attribute.String("fronteira.correlation_id", c.CorrelationID),
				attribute.String("fronteira.request_id", c.RequestID),
			)
		}

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), c)))
	})
}

// incoming aceita o id do cliente só se for curto e imprimível.
func incoming(r *http.Request, header string) string {
	v := strings.TrimSpace(r.Header.Get(header))
	if v == "" || len(v) > maxIDLength {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}
