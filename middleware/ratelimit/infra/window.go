package infra

import (
	"context"
	"sync"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

// initialRing é a capacidade inicial do ring de um slot; ele cresce sob
// demanda até Max.
const initialRing = 8

// SlidingWindow implementa a janela deslizante exata (sliding log) em memória.
//
// Cada chave ocupa um slot com um ring buffer limitado a Max: como
// requisições rejeitadas não são registradas, nunca há mais que Max timestamps
// vivos. O ring começa pequeno e dobra conforme a chave usa a janela. Os slots vêm de uma arena com free list e o índice é um map chave -> slot.
// Timestamps antigos são podados no acesso; o janitor só devolve slots ociosos.
type SlidingWindow struct {
	rule domain.Rule

	mu      sync.Mutex
	index   map[domain.Key]*windowSlot
	free    []*windowSlot
	maxKeys int

	cleanupEvery time.Duration
	now          func() time.Time
}

type windowSlot struct {
	mu      sync.Mutex
	key     domain.Key
	evicted bool

	ring []int64 // unix nano
	head int
	n    int
	max  int
}

type WindowOption func(*SlidingWindow)

// WithMaxKeys limita o número de chaves vivas. 0 = sem limite.
func WithMaxKeys(n int) WindowOption {
	return func(s *SlidingWindow) { s.maxKeys = n }
}

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *SlidingWindow) { s.cleanupEvery = d }
}

// WithWindowClock troca o relógio usado pelo janitor.
func WithWindowClock(now func() time.Time) WindowOption {
	return func(s *SlidingWindow) { s.now = now }
}

func NewSlidingWindow(rule domain.Rule, opts ...WindowOption) *SlidingWindow {
	s := &SlidingWindow{
		rule:         rule,
		index:        make(map[domain.Key]*windowSlot),
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlidingWindow) Rule() domain.Rule { return s.rule }

// Len retorna quantas chaves têm estado alocado.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Reserve implementa domain.Limiter.
func (s *SlidingWindow) Reserve(_ context.Context, key domain.Key, now time.Time) (domain.Reservation, error) {
	for {
		slot, err := s.slot(key, now)
		if err != nil {
			return nil, err
		}
		slot.mu.Lock()
		// o slot pode ter sido despejado (e até reciclado para outra chave)
		// entre o lookup e o lock
		if slot.evicted || slot.key != key {
			slot.mu.Unlock()
			continue
		}
		return s.decide(slot, key, now), nil
	}
}

func (s *SlidingWindow) slot(key domain.Key, now time.Time) (*windowSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.index[key]; ok {
		return sl, nil
	}
	if s.maxKeys > 0 && len(s.index) >= s.maxKeys {
		s.evictIdleLocked(now)
		if len(s.index) >= s.maxKeys {
			return nil, domain.ErrCapacity
		}
	}

	var sl *windowSlot
	if n := len(s.free); n > 0 {
		sl = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		sl = &windowSlot{ring: make([]int64, min(s.rule.Max, initialRing)), max: s.rule.Max}
	}
	sl.mu.Lock()
	sl.key = key
	sl.evicted = false
	sl.head, sl.n = 0, 0
	sl.mu.Unlock()

	s.index[key] = sl
	return sl, nil
}

// decide roda com slot.mu travado; o lock passa para a reserva.
func (s *SlidingWindow) decide(slot *windowSlot, key domain.Key, now time.Time) *windowReservation {
	window := s.rule.Window
	slot.prune(now.Add(-window).UnixNano())

	ts := now.UnixNano()
	if slot.n > 0 && ts < slot.newest() {
		ts = slot.newest()
	}

	dec := domain.Decision{
		Rule:  s.rule,
		Key:   key,
		Limit: s.rule.Max,
	}
	count := slot.n
	if count < s.rule.Max {
		oldest := ts
		if count > 0 {
			oldest = slot.oldest()
		}
		dec.Allowed = true
		dec.Count = count + 1
		dec.Remaining = s.rule.Max - dec.Count
		dec.ResetAt = time.Unix(0, oldest).Add(window)
	} else {
		dec.Count = count
		dec.ResetAt = time.Unix(0, slot.oldest()).Add(window)
		dec.RetryAfter = dec.ResetAt.Sub(now)
		if dec.RetryAfter <= 0 {
			dec.RetryAfter = time.Nanosecond
		}
	}
	return &windowReservation{slot: slot, dec: dec, ts: ts}
}

// Cleanup devolve à arena os slots cuja janela esvaziou.
func (s *SlidingWindow) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictIdleLocked(s.now())
}

// evictIdleLocked exige s.mu. Slots em uso (lock ocupado) são pulados: quem
// está com o lock não está ocioso e ninguém espera pelo estado de outra chave.
func (s *SlidingWindow) evictIdleLocked(now time.Time) int {
	cutoff := now.Add(-s.rule.Window).UnixNano()
	evicted := 0
	for k, sl := range s.index {
		if !sl.mu.TryLock() {
			continue
		}
		sl.prune(cutoff)
		if sl.n == 0 {
			sl.evicted = true
			delete(s.index, k)
			s.free = append(s.free, sl)
			evicted++
		}
		sl.mu.Unlock()
	}
	return evicted
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *SlidingWindow) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Cleanup() })
}

func (sl *windowSlot) prune(cutoff int64) {
	for sl.n > 0 && sl.ring[sl.head] < cutoff {
		sl.head = (sl.head + 1) % len(sl.ring)
		sl.n--
	}
}

func (sl *windowSlot) oldest() int64 { return sl.ring[sl.head] }

func (sl *windowSlot) newest() int64 {
	return sl.ring[(sl.head+sl.n-1)%len(sl.ring)]
}

func (sl *windowSlot) push(ts int64) {
	if sl.n == len(sl.ring) {
		sl.grow()
	}
	sl.ring[(sl.head+sl.n)%len(sl.ring)] = ts
	sl.n++
}

// grow dobra o ring (até max) e o deixa linear a partir do índice 0.
func (sl *windowSlot) grow() {
	ring := make([]int64, min(max(2*len(sl.ring), 1), sl.max))
	for i := 0; i < sl.n; i++ {
		ring[i] = sl.ring[(sl.head+i)%len(sl.ring)]
	}
	sl.ring, sl.head = ring, 0
}

type windowReservation struct {
	slot *windowSlot
	dec  domain.Decision
	ts   int64
	done bool
}

func (r *windowReservation) Decision() domain.Decision { return r.dec }

func (r *windowReservation) Commit() {
	if r.done {
		return
	}
	r.done = true
	if r.dec.Allowed {
		r.slot.push(r.ts)
	}
	r.slot.mu.Unlock()
}

func (r *windowReservation) Cancel() {
	if r.done {
		return
	}
	r.done = true
	r.slot.mu.Unlock()
}
