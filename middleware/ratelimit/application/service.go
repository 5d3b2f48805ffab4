package application

import (
	"context"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

// Request é o que o Service precisa saber de uma requisição.
type Request struct {
	Method   string
	Path     string
	ClientIP string
	UserID   string // vazio = anônimo
}

// Verdict é a decisão final para uma requisição, já combinando todas as regras.
type Verdict struct {
	Allowed bool
	// Decision é a decisão que manda nos headers: a que rejeitou ou, se admitida,
	// a com menor Remaining.
	Decision  domain.Decision
	Decisions []domain.Decision

	// Degraded: estado indisponível e a requisição foi admitida sem contagem.
	Degraded bool
	// Unavailable: estado indisponível e a requisição foi rejeitada.
	Unavailable bool
	Err         error
}

// Limited informa se há uma decisão de regra para reportar em headers.
func (v Verdict) Limited() bool { return len(v.Decisions) > 0 }

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna um Verdict.
type Service struct {
	Policy        *Policy
	Stats         domain.StatsStore
	FailurePolicy domain.FailurePolicy
	// Now deve ser o mesmo relógio dado ao infra.Factory: o janitor poda com
	// o relógio do limiter.
	Now func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// KeyFor monta a chave do cliente para uma regra.
// Regra por usuário sem usuário autenticado cai para o IP.
func KeyFor(rule domain.Rule, req Request) domain.Key {
	if rule.KeyBy == domain.KeyByUser && req.UserID != "" {
		return domain.Key("user:" + req.UserID)
	}
	return domain.Key("ip:" + req.ClientIP)
}

// Decide avalia todas as regras aplicáveis. Só registra a requisição se todas
// admitirem; caso contrário nenhuma janela é alterada.
func (s Service) Decide(ctx context.Context, req Request) Verdict {
	lims := s.Policy.Match(req.Method, req.Path)
	if len(lims) == 0 {
		return Verdict{Allowed: true}
	}

	now := s.now()
	reservations := make([]domain.Reservation, 0, len(lims))
	for _, lim := range lims {
		rule := lim.Rule()
		key := KeyFor(rule, req)
		res, err := lim.Reserve(ctx, key, now)
		if err != nil {
			for _, r := range reservations {
				r.Cancel()
			}
			v := s.onFailure(rule, key, err)
			s.record(ctx, req, v, now)
			return v
		}
		reservations = append(reservations, res)
	}

	v := Verdict{Allowed: true, Decisions: make([]domain.Decision, len(reservations))}
	for i, r := range reservations {
		v.Decisions[i] = r.Decision()
		if !v.Decisions[i].Allowed {
			v.Allowed = false
		}
	}
	for _, r := range reservations {
		if v.Allowed {
			r.Commit()
		} else {
			r.Cancel()
		}
	}
	v.Decision = binding(v.Decisions, v.Allowed)

	s.record(ctx, req, v, now)
	return v
}

func (s Service) onFailure(rule domain.Rule, key domain.Key, err error) Verdict {
	dec := domain.Decision{Rule: rule, Key: key, Limit: rule.Max}
	if s.FailurePolicy == domain.FailClosed {
		return Verdict{Decision: dec, Unavailable: true, Err: err}
	}
	dec.Allowed = true
	return Verdict{Allowed: true, Decision: dec, Degraded: true, Err: err}
}

func binding(decs []domain.Decision, allowed bool) domain.Decision {
	var out domain.Decision
	found := false
	for _, d := range decs {
		switch {
		case !found:
			if allowed || !d.Allowed {
				out, found = d, true
			}
		case allowed:
			if d.Remaining < out.Remaining {
				out = d
			}
		case !d.Allowed && d.RetryAfter > out.RetryAfter:
			out = d
		}
	}
	return out
}

func (s Service) record(ctx context.Context, req Request, v Verdict, now time.Time) {
	if s.Stats == nil {
		return
	}
	outcome := domain.OutcomeAllowed
	switch {
	case v.Unavailable:
		outcome = domain.OutcomeUnavailable
	case v.Degraded:
		outcome = domain.OutcomeDegraded
	case !v.Allowed:
		outcome = domain.OutcomeDenied
	}
	// best-effort: estatística nunca derruba a requisição
	_ = s.Stats.Record(ctx, domain.StatsEvent{
		Key:     v.Decision.Key,
		Outcome: outcome,
		Method:  req.Method,
		Scope:   v.Decision.Rule.Scope(),
		At:      now,
	})
}
