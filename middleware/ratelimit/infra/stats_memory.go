package infra

import (
	"context"
	"sync"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed     int64 `json:"allowed"`
	Denied      int64 `json:"denied"`
	Degraded    int64 `json:"degraded,omitempty"`
	Unavailable int64 `json:"unavailable,omitempty"`
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeAllowed:
		c.Allowed++
	case domain.OutcomeDenied:
		c.Denied++
	case domain.OutcomeDegraded:
		c.Degraded++
	case domain.OutcomeUnavailable:
		c.Unavailable++
	}
}

// Snapshot é a visão serializável das estatísticas em memória.
type Snapshot struct {
	Total   Counters            `json:"total"`
	ByScope map[string]Counters `json:"by_scope"`
	ByKey   map[string]Counters `json:"by_key,omitempty"`
}

// MemoryStatsStore é uma implementação simples em memória, exposta pelo
// endpoint de debug do gateway.
//
// Não faz expiração. Com trackKeys ligado, chaves novas além de maxKeys são
// somadas em OverflowKey.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byScope map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
	maxKeys   int
}

// OverflowKey agrega, em ByKey, as chaves que chegaram depois do teto.
const OverflowKey = "_other"

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxTrackedKeys limita as entradas de ByKey; n <= 0 desliga o teto.
func WithMaxTrackedKeys(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.maxKeys = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byScope: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	scope := ev.Scope
	if ev.Method != "" {
		scope = ev.Method + " " + scope
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	c := s.byScope[scope]
	c.add(ev.Outcome)
	s.byScope[scope] = c
	if s.trackKeys {
		key := string(ev.Key)
		k, ok := s.byKey[key]
		if !ok && s.maxKeys > 0 && len(s.byKey) >= s.maxKeys {
			key = OverflowKey
			k = s.byKey[key]
		}
		k.add(ev.Outcome)
		s.byKey[key] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Total:   s.total,
		ByScope: make(map[string]Counters, len(s.byScope)),
	}
	for k, v := range s.byScope {
		out.ByScope[k] = v
	}
	if s.trackKeys {
		out.ByKey = make(map[string]Counters, len(s.byKey))
		for k, v := range s.byKey {
			out.ByKey[k] = v
		}
	}
	return out
}
