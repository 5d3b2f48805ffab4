package application

import (
	"context"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
)

// ConcurrencyService limita quantas requisições o gateway repassa ao upstream
// ao mesmo tempo. Complementa o rate limit: a janela conta requisições por
// cliente, aqui a vaga é global.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//
// AcquireTimeout <= 0 espera até o ctx encerrar. Com ok=false nenhuma vaga foi
// adquirida e release é nil.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// InUse retorna quantas vagas estão ocupadas (0 sem pool).
func (s ConcurrencyService) InUse() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
