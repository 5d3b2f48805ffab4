package infra

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
)

const fixedWindowStripes = 64

// FixedWindow é o algoritmo "fixed_window" sobre o ulule/limiter (store em memória).
//
// O store do ulule incrementa de forma atômica, mas não oferece "checar e só
// depois contar"; o Peek + Get é serializado por chave com locks listrados.
type FixedWindow struct {
	rule  domain.Rule
	inst  *limiter.Limiter
	locks [fixedWindowStripes]sync.Mutex
}

func NewFixedWindow(rule domain.Rule, cleanupEvery time.Duration) *FixedWindow {
	store := memorystore.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "fixed:" + rule.Name,
		CleanUpInterval: cleanupEvery,
	})
	return &FixedWindow{
		rule: rule,
		inst: limiter.New(store, limiter.Rate{Period: rule.Window, Limit: int64(rule.Max)}),
	}
}

func (f *FixedWindow) Rule() domain.Rule { return f.rule }

// Reserve implementa domain.Limiter.
func (f *FixedWindow) Reserve(ctx context.Context, key domain.Key, now time.Time) (domain.Reservation, error) {
	mu := &f.locks[xxhash.Sum64String(string(key))%fixedWindowStripes]
	mu.Lock()

	lctx, err := f.inst.Peek(ctx, string(key))
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	dec := domain.Decision{
		Rule:    f.rule,
		Key:     key,
		Limit:   int(lctx.Limit),
		ResetAt: time.Unix(lctx.Reset, 0),
	}
	if lctx.Remaining > 0 {
		dec.Allowed = true
		dec.Remaining = int(lctx.Remaining) - 1
		dec.Count = dec.Limit - dec.Remaining
	} else {
		dec.Count = dec.Limit
		dec.RetryAfter = dec.ResetAt.Sub(now)
		if dec.RetryAfter <= 0 {
			dec.RetryAfter = time.Nanosecond
		}
	}
	return &fixedReservation{ctx: ctx, f: f, mu: mu, dec: dec}, nil
}

type fixedReservation struct {
	ctx  context.Context
	f    *FixedWindow
	mu   *sync.Mutex
	dec  domain.Decision
	done bool
}

func (r *fixedReservation) Decision() domain.Decision { return r.dec }

func (r *fixedReservation) Commit() {
	if r.done {
		return
	}
	r.done = true
	defer r.mu.Unlock()
	if r.dec.Allowed {
		// o store em memória não retorna erro no Get
		_, _ = r.f.inst.Get(r.ctx, string(r.dec.Key))
	}
}

func (r *fixedReservation) Cancel() {
	if r.done {
		return
	}
	r.done = true
	r.mu.Unlock()
}
