package infra

import (
	"context"
	"sync"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um semáforo baseado em channel com capacidade `max`.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre tem prioridade sobre ctx já cancelado
	select {
	case p.sem <- struct{}{}:
		return p.releaseOnce(), true
	default:
	}
	select {
	case p.sem <- struct{}{}:
		return p.releaseOnce(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) InUse() int { return len(p.sem) }

func (p *chanPool) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}
