package infra

import (
	"context"
	"sync"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucket é o algoritmo "token_bucket": um rate.Limiter por chave
// (x/time/rate) com burst = Max e reposição de Max tokens por Window.
// Chaves inativas são removidas periodicamente pelo janitor.
type TokenBucket struct {
	rule domain.Rule

	mu           sync.Mutex
	entries      map[domain.Key]*bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type StoreOption func(*TokenBucket)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *TokenBucket) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *TokenBucket) { s.cleanupEvery = d }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *TokenBucket) { s.now = now }
}

func NewTokenBucket(rule domain.Rule, opts ...StoreOption) *TokenBucket {
	s := &TokenBucket{
		rule:    rule,
		entries: make(map[domain.Key]*bucketEntry),
		rps:     rate.Limit(float64(rule.Max) / rule.Window.Seconds()),
		burst:   rule.Max,
		// um balde ocioso por uma janela inteira já está cheio de novo
		idleTTL:      rule.Window,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenBucket) Rule() domain.Rule { return s.rule }
func (s *TokenBucket) RPS() float64      { return float64(s.rps) }
func (s *TokenBucket) Burst() int        { return s.burst }

func (s *TokenBucket) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *TokenBucket) limiter(key domain.Key, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

// Reserve implementa domain.Limiter.
func (s *TokenBucket) Reserve(_ context.Context, key domain.Key, now time.Time) (domain.Reservation, error) {
	lim := s.limiter(key, now)
	res := lim.ReserveN(now, 1)

	dec := domain.Decision{Rule: s.rule, Key: key, Limit: s.burst}
	delay := res.DelayFrom(now)
	if !res.OK() || delay > 0 {
		// a reserva não vai ser usada: devolve o token antes de responder
		res.CancelAt(now)
		dec.RetryAfter = delay
		if dec.RetryAfter <= 0 {
			dec.RetryAfter = s.perToken()
		}
		dec.Count = s.burst
		dec.ResetAt = now.Add(s.fullIn(lim.TokensAt(now)))
		return &bucketReservation{dec: dec}, nil
	}

	tokens := lim.TokensAt(now)
	dec.Allowed = true
	dec.Remaining = max(0, int(tokens))
	dec.Count = s.burst - dec.Remaining
	dec.ResetAt = now.Add(s.fullIn(tokens))
	return &bucketReservation{dec: dec, res: res, now: now}, nil
}

func (s *TokenBucket) perToken() time.Duration {
	return time.Duration(float64(time.Second) / float64(s.rps))
}

// fullIn é quanto falta para o balde voltar a ficar cheio.
func (s *TokenBucket) fullIn(tokens float64) time.Duration {
	missing := float64(s.burst) - tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing * float64(s.perToken()))
}

func (s *TokenBucket) Cleanup() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *TokenBucket) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Cleanup() })
}

type bucketReservation struct {
	dec  domain.Decision
	res  *rate.Reservation
	now  time.Time
	done bool
}

func (r *bucketReservation) Decision() domain.Decision { return r.dec }

// Commit não faz nada: o token já foi consumido no ReserveN.
func (r *bucketReservation) Commit() { r.done = true }

func (r *bucketReservation) Cancel() {
	if r.done {
		return
	}
	r.done = true
	if r.res != nil {
		r.res.CancelAt(r.now)
	}
}

func startJanitor(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}
