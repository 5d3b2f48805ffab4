package application

import (
	"context"
	"testing"
	"time"
)

// blockingPool nunca tem vaga: só sai quando o ctx encerra.
type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

func (p *blockingPool) InUse() int { return 1 }

type countingPool struct {
	acquired int
	released int
}

func (p *countingPool) Acquire(context.Context) (func(), bool) {
	p.acquired++
	return func() { p.released++ }, true
}

func (p *countingPool) InUse() int { return p.acquired - p.released }

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	release, ok := svc.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
	if svc.InUse() != 0 {
		t.Fatalf("expected 0 in use without pool")
	}
}

func TestConcurrencyService_Acquire_UsesTimeout(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	start := time.Now()
	_, ok := svc.Acquire(context.Background())
	if ok {
		t.Fatalf("expected timeout and ok=false")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected acquire to give up after the timeout")
	}
}

func TestConcurrencyService_Acquire_WithoutTimeoutRespectsCallerContext(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := svc.Acquire(ctx); ok {
		t.Fatalf("expected ok=false when caller context ends")
	}
}

func TestConcurrencyService_ReleaseFreesSlot(t *testing.T) {
	pool := &countingPool{}
	svc := ConcurrencyService{Pool: pool}

	release, ok := svc.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	if svc.InUse() != 1 {
		t.Fatalf("expected 1 in use, got %d", svc.InUse())
	}
	release()
	if svc.InUse() != 0 {
		t.Fatalf("expected 0 in use after release, got %d", svc.InUse())
	}
}
