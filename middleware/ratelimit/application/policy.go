package application

import (
	"fmt"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

// Precedence define como a regra global convive com as regras por rota.
type Precedence string

const (
	// PrecedenceOverride: a regra de rota mais específica substitui a global.
	PrecedenceOverride Precedence = "override"
	// PrecedenceStrictest: todas as regras que casam são aplicadas juntas.
	PrecedenceStrictest Precedence = "strictest"
)

// LimiterFactory cria o Limiter de uma regra (ver infra.Factory).
type LimiterFactory interface {
	New(rule domain.Rule) (domain.Limiter, error)
}

type routeLimiter struct {
	route domain.Route
	lim   domain.Limiter
}

// Policy é o conjunto de regras carregado na inicialização.
//
// A ordem das regras é fixa (rotas na ordem da configuração, global por último);
// o Service reserva nessa ordem, então duas requisições nunca esperam uma pela
// outra em ordem invertida.
type Policy struct {
	global     domain.Limiter
	routes     []routeLimiter
	precedence Precedence
}

// NewPolicy valida as regras e cria um Limiter para cada uma.
func NewPolicy(global *domain.Rule, routes []domain.Rule, precedence Precedence, f LimiterFactory) (*Policy, error) {
	switch precedence {
	case "":
		precedence = PrecedenceOverride
	case PrecedenceOverride, PrecedenceStrictest:
	default:
		return nil, fmt.Errorf("%w: unknown precedence %q", domain.ErrInvalidRule, precedence)
	}

	p := &Policy{precedence: precedence}
	seen := make(map[string]bool)

	for _, r := range routes {
		r = r.WithDefaults()
		if r.IsGlobal() {
			return nil, fmt.Errorf("%w: %s: route rule without route", domain.ErrInvalidRule, r.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate rule name %q", domain.ErrInvalidRule, r.Name)
		}
		seen[r.Name] = true

		lim, err := f.New(r)
		if err != nil {
			return nil, err
		}
		rt, err := domain.ParseRoute(r.Route)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
		}
		p.routes = append(p.routes, routeLimiter{route: rt, lim: lim})
	}

	if global != nil {
		g := global.WithDefaults()
		g.Route = ""
		g.Name = domain.GlobalScope
		if seen[g.Name] {
			return nil, fmt.Errorf("%w: duplicate rule name %q", domain.ErrInvalidRule, g.Name)
		}
		lim, err := f.New(g)
		if err != nil {
			return nil, err
		}
		p.global = lim
	}
	return p, nil
}

func (p *Policy) Precedence() Precedence { return p.precedence }

// Match retorna os limiters que se aplicam à requisição, na ordem de reserva.
func (p *Policy) Match(method, path string) []domain.Limiter {
	if p == nil {
		return nil
	}

	var out []domain.Limiter
	switch p.precedence {
	case PrecedenceStrictest:
		for _, rl := range p.routes {
			if ok, _ := rl.route.Match(method, path); ok {
				out = append(out, rl.lim)
			}
		}
		if p.global != nil {
			out = append(out, p.global)
		}
	default:
		best, bestScore := -1, -1
		for i, rl := range p.routes {
			// empate: vale a primeira da configuração
			if ok, score := rl.route.Match(method, path); ok && score > bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			out = append(out, p.routes[best].lim)
		} else if p.global != nil {
			out = append(out, p.global)
		}
	}
	return out
}

// Limiters retorna todos os limiters (rotas e depois global).
func (p *Policy) Limiters() []domain.Limiter {
	out := make([]domain.Limiter, 0, len(p.routes)+1)
	for _, rl := range p.routes {
		out = append(out, rl.lim)
	}
	if p.global != nil {
		out = append(out, p.global)
	}
	return out
}

// Rules retorna as regras efetivas (com defaults aplicados).
func (p *Policy) Rules() []domain.Rule {
	lims := p.Limiters()
	out := make([]domain.Rule, len(lims))
	for i, l := range lims {
		out[i] = l.Rule()
	}
	return out
}
