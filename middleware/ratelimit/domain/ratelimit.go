package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Key string

// KeyPolicy define como a chave do cliente é derivada da requisição.
type KeyPolicy string

const (
	KeyByIP   KeyPolicy = "ip"
	KeyByUser KeyPolicy = "user"
)

// Algorithm identifica a estratégia de contagem de uma regra.
type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
)

// GlobalScope é o escopo reportado para a regra sem rota.
const GlobalScope = "global"

var (
	ErrInvalidRule = errors.New("invalid rate limit rule")
	// ErrCapacity indica que não foi possível alocar estado para uma nova chave.
	ErrCapacity = errors.New("rate limit state capacity exhausted")
)

// Rule descreve um limite: no máximo Max requisições por chave em qualquer
// janela de duração Window.
type Rule struct {
	Name      string
	Route     string // vazio = global
	Window    time.Duration
	Max       int
	KeyBy     KeyPolicy
	Algorithm Algorithm
}

// Scope retorna o padrão de rota ou "global".
func (r Rule) Scope() string {
	if r.Route == "" {
		return GlobalScope
	}
	return r.Route
}

func (r Rule) IsGlobal() bool { return r.Route == "" }

// WithDefaults preenche KeyBy e Algorithm quando vazios.
func (r Rule) WithDefaults() Rule {
	if r.KeyBy == "" {
		r.KeyBy = KeyByIP
	}
	if r.Algorithm == "" {
		r.Algorithm = AlgorithmSlidingWindow
	}
	if r.Name == "" {
		r.Name = r.Scope()
	}
	return r
}

func (r Rule) Validate() error {
	if r.Window <= 0 {
		return fmt.Errorf("%w: %s: window must be > 0, got %s", ErrInvalidRule, r.Scope(), r.Window)
	}
	if r.Max <= 0 {
		return fmt.Errorf("%w: %s: max must be > 0, got %d", ErrInvalidRule, r.Scope(), r.Max)
	}
	switch r.KeyBy {
	case "", KeyByIP, KeyByUser:
	default:
		return fmt.Errorf("%w: %s: unknown key policy %q", ErrInvalidRule, r.Scope(), r.KeyBy)
	}
	switch r.Algorithm {
	case "", AlgorithmSlidingWindow, AlgorithmTokenBucket, AlgorithmFixedWindow:
	default:
		return fmt.Errorf("%w: %s: unknown algorithm %q", ErrInvalidRule, r.Scope(), r.Algorithm)
	}
	if r.Route != "" {
		if _, err := ParseRoute(r.Route); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

// Route é um padrão de rota já interpretado: "[METHOD ]/a/{id}/*".
type Route struct {
	Method   string
	Segments []string
	Wildcard bool
}

// ParseRoute interpreta um padrão de rota.
//
// "{nome}" ou ":nome" casa exatamente um segmento; "*" no final casa o resto do path.
func ParseRoute(pattern string) (Route, error) {
	p := strings.TrimSpace(pattern)
	var rt Route
	if i := strings.IndexByte(p, ' '); i > 0 {
		rt.Method = strings.ToUpper(p[:i])
		p = strings.TrimSpace(p[i+1:])
	}
	if !strings.HasPrefix(p, "/") {
		return Route{}, fmt.Errorf("route %q must start with /", pattern)
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return rt, nil
	}
	parts := strings.Split(p, "/")
	for i, seg := range parts {
		if seg == "" {
			return Route{}, fmt.Errorf("route %q has an empty segment", pattern)
		}
		if seg == "*" {
			if i != len(parts)-1 {
				return Route{}, fmt.Errorf("route %q: * is only allowed as the last segment", pattern)
			}
			rt.Wildcard = true
			continue
		}
		rt.Segments = append(rt.Segments, seg)
	}
	return rt, nil
}

// Match informa se method/path casam com o padrão. O segundo retorno é a
// especificidade (segmentos literais casados), usada para escolher a regra mais específica.
func (rt Route) Match(method, path string) (bool, int) {
	if rt.Method != "" && !strings.EqualFold(rt.Method, method) {
		return false, 0
	}
	p := strings.Trim(path, "/")
	var parts []string
	if p != "" {
		parts = strings.Split(p, "/")
	}
	if len(parts) < len(rt.Segments) {
		return false, 0
	}
	if len(parts) > len(rt.Segments) && !rt.Wildcard {
		return false, 0
	}

	score := 0
	for i, seg := range rt.Segments {
		if isParam(seg) {
			continue
		}
		if seg != parts[i] {
			return false, 0
		}
		score += 2
	}
	// exato vence wildcard com os mesmos literais; método explícito desempata
	if !rt.Wildcard {
		score++
	}
	if rt.Method != "" {
		score++
	}
	return true, score
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, ":") || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"))
}

type Decision struct {
	Allowed bool
	Rule    Rule
	Key     Key
	Limit   int
	// Remaining é quanto ainda cabe na janela depois desta decisão.
	Remaining int
	// Count é o número de requisições registradas na janela depois desta decisão.
	Count   int
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// Reservation segura a serialização da chave até Commit ou Cancel.
// Exatamente um dos dois deve ser chamado.
type Reservation interface {
	Decision() Decision
	// Commit registra a requisição quando a decisão foi de admitir.
	Commit()
	// Cancel descarta a reserva sem registrar nada.
	Cancel()
}

// Limiter representa algo que pode decidir se uma requisição é admitida agora
// para uma regra. A implementação pode ser janela deslizante, token-bucket, etc.
type Limiter interface {
	Rule() Rule
	Reserve(ctx context.Context, key Key, now time.Time) (Reservation, error)
}

// FailurePolicy decide o que fazer quando o estado não pode ser obtido.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "open"
	FailClosed FailurePolicy = "closed"
)
