// Package identity resolve o usuário autenticado de uma requisição para as
// regras de rate limit com key_by: user.
//
// Falha de autenticação nunca bloqueia: a requisição segue anônima e a chave
// cai para o IP. Quem valida acesso é o upstream.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrNoCredentials indica que a requisição não trouxe credencial.
var ErrNoCredentials = errors.New("no credentials")

// Resolver extrai o id do usuário de uma requisição.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

type ResolverFunc func(r *http.Request) (string, error)

func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

type ctxKey struct{}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFromContext retorna o usuário resolvido ("" = anônimo).
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

// Middleware resolve o usuário uma vez por requisição. onError (opcional)
// recebe falhas que não sejam ErrNoCredentials.
func Middleware(res Resolver, onError func(r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if res == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := res.Resolve(r)
			if err != nil {
				if onError != nil && !errors.Is(err, ErrNoCredentials) {
					onError(r, err)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// HeaderResolver confia num header preenchido por um proxy de autenticação à frente.
type HeaderResolver struct {
	Header string
}

func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	v := strings.TrimSpace(r.Header.Get(h.Header))
	if v == "" {
		return "", ErrNoCredentials
	}
	return v, nil
}

// JWTResolver valida "Authorization: Bearer <jwt>" e usa o claim sub.
type JWTResolver struct {
	opts []jwt.ParseOption
}

type JWTOption func(*[]jwt.ParseOption)

func WithIssuer(iss string) JWTOption {
	return func(o *[]jwt.ParseOption) { *o = append(*o, jwt.WithIssuer(iss)) }
}

func WithAudience(aud string) JWTOption {
	return func(o *[]jwt.ParseOption) { *o = append(*o, jwt.WithAudience(aud)) }
}

func WithSkew(d time.Duration) JWTOption {
	return func(o *[]jwt.ParseOption) { *o = append(*o, jwt.WithAcceptableSkew(d)) }
}

// WithClock troca o relógio usado para exp/nbf.
func WithClock(now func() time.Time) JWTOption {
	return func(o *[]jwt.ParseOption) {
		*o = append(*o, jwt.WithClock(jwt.ClockFunc(now)))
	}
}

// NewHS256Resolver valida tokens assinados com segredo compartilhado.
func NewHS256Resolver(secret []byte, opts ...JWTOption) *JWTResolver {
	return newJWTResolver(jwt.WithKey(jwa.HS256, secret), opts)
}

// NewKeySetResolver valida tokens contra um JWKS já carregado.
func NewKeySetResolver(set jwk.Set, opts ...JWTOption) *JWTResolver {
	return newJWTResolver(jwt.WithKeySet(set), opts)
}

func newJWTResolver(key jwt.ParseOption, opts []JWTOption) *JWTResolver {
	parse := []jwt.ParseOption{key, jwt.WithValidate(true)}
	for _, opt := range opts {
		opt(&parse)
	}
	return &JWTResolver{opts: parse}
}

func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	raw := bearer(r)
	if raw == "" {
		return "", ErrNoCredentials
	}
	tok, err := jwt.Parse([]byte(raw), j.opts...)
	if err != nil {
		return "", err
	}
	if tok.Subject() == "" {
		return "", errors.New("token without sub claim")
	}
	return tok.Subject(), nil
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
