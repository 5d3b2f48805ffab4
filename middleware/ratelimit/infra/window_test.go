package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func take(t *testing.T, l domain.Limiter, key string, now time.Time) domain.Decision {
	t.Helper()
	res, err := l.Reserve(context.Background(), domain.Key(key), now)
	require.NoError(t, err)
	dec := res.Decision()
	res.Commit()
	return dec
}

func minuteRule(max int) domain.Rule {
	return domain.Rule{Window: time.Minute, Max: max}.WithDefaults()
}

func TestSlidingWindow_ScenarioSixtySecondsThree(t *testing.T) {
	w := NewSlidingWindow(minuteRule(3))

	for i, wantRemaining := range []int{2, 1, 0} {
		dec := take(t, w, "A", at(float64(i)))
		require.True(t, dec.Allowed, "request %d", i)
		assert.Equal(t, wantRemaining, dec.Remaining)
		assert.Equal(t, 3, dec.Limit)
		assert.Equal(t, at(60), dec.ResetAt)
	}

	dec := take(t, w, "A", at(3))
	require.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
	assert.Equal(t, 3, dec.Count)
	assert.Equal(t, 57*time.Second, dec.RetryAfter)

	dec = take(t, w, "A", at(61))
	assert.True(t, dec.Allowed)
}

func TestSlidingWindow_RejectedRequestsAreNotRecorded(t *testing.T) {
	w := NewSlidingWindow(minuteRule(2))

	take(t, w, "A", at(0))
	take(t, w, "A", at(10))
	for i := 0; i < 5; i++ {
		dec := take(t, w, "A", at(20+float64(i)))
		require.False(t, dec.Allowed)
		assert.Equal(t, 2, dec.Count)
	}
	// só o timestamp de t=0 sai da janela em t=60.5; as rejeições não contam
	dec := take(t, w, "A", at(60.5))
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Count)
	assert.Equal(t, 0, dec.Remaining)
}

func TestSlidingWindow_WindowIsInclusiveAtBoundary(t *testing.T) {
	w := NewSlidingWindow(minuteRule(1))

	take(t, w, "A", at(0))
	assert.False(t, take(t, w, "A", at(60)).Allowed, "timestamp exactly window ago still counts")
	assert.True(t, take(t, w, "A", at(60.001)).Allowed)
}

func TestSlidingWindow_FreshWindowAfterIdle(t *testing.T) {
	w := NewSlidingWindow(minuteRule(3))
	for i := 0; i < 3; i++ {
		take(t, w, "A", at(float64(i)))
	}

	dec := take(t, w, "A", at(500))
	require.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Remaining)
	assert.Equal(t, 1, dec.Count)
	assert.Equal(t, at(560), dec.ResetAt)
}

func TestSlidingWindow_RemainingDecreasesMonotonically(t *testing.T) {
	w := NewSlidingWindow(minuteRule(10))

	last := 10
	for i := 0; i < 10; i++ {
		dec := take(t, w, "A", at(float64(i)/10))
		require.True(t, dec.Allowed)
		require.Less(t, dec.Remaining, last)
		last = dec.Remaining
	}
	assert.False(t, take(t, w, "A", at(1.5)).Allowed)
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	w := NewSlidingWindow(minuteRule(2))

	take(t, w, "A", at(0))
	take(t, w, "A", at(1))
	require.False(t, take(t, w, "A", at(2)).Allowed)

	for i := 0; i < 2; i++ {
		dec := take(t, w, "B", at(3+float64(i)))
		assert.True(t, dec.Allowed)
	}
}

func TestSlidingWindow_CancelDoesNotRecord(t *testing.T) {
	w := NewSlidingWindow(minuteRule(1))

	res, err := w.Reserve(context.Background(), "A", at(0))
	require.NoError(t, err)
	require.True(t, res.Decision().Allowed)
	res.Cancel()
	res.Cancel() // idempotente

	assert.True(t, take(t, w, "A", at(1)).Allowed)
	assert.False(t, take(t, w, "A", at(2)).Allowed)
}

func TestSlidingWindow_OutOfOrderTimestampsAreClamped(t *testing.T) {
	w := NewSlidingWindow(minuteRule(2))

	take(t, w, "A", at(10))
	take(t, w, "A", at(9)) // relógio lido antes do lock
	dec := take(t, w, "A", at(11))
	require.False(t, dec.Allowed)
	assert.Equal(t, at(70), dec.ResetAt)
}

func TestSlidingWindow_CapacityEvictsIdleKeysFirst(t *testing.T) {
	w := NewSlidingWindow(minuteRule(1), WithMaxKeys(2))

	take(t, w, "A", at(0))
	take(t, w, "B", at(30))

	_, err := w.Reserve(context.Background(), "C", at(40))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapacity))

	// em t=61 a janela de A esvaziou: o slot volta para a arena e C entra
	dec := take(t, w, "C", at(61))
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, w.Len())
}

func TestSlidingWindow_CleanupRecyclesSlots(t *testing.T) {
	now := at(0)
	w := NewSlidingWindow(minuteRule(2), WithWindowClock(func() time.Time { return now }))

	take(t, w, "A", at(0))
	take(t, w, "B", at(50))

	now = at(70)
	assert.Equal(t, 1, w.Cleanup())
	assert.Equal(t, 1, w.Len())

	// o slot reciclado chega zerado para a nova chave
	require.Len(t, w.free, 1)
	dec := take(t, w, "C", at(71))
	assert.Equal(t, 1, dec.Count)
	assert.Empty(t, w.free)
}

func TestSlidingWindow_ConcurrentAdmissionsNeverExceedMax(t *testing.T) {
	const limit = 25
	w := NewSlidingWindow(minuteRule(limit))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.Reserve(context.Background(), "hot", at(1))
			if err != nil {
				t.Error(err)
				return
			}
			if res.Decision().Allowed {
				admitted.Add(1)
			}
			res.Commit()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(limit), admitted.Load())
}

func TestSlidingWindow_EvictionDuringConcurrentAdmission(t *testing.T) {
	w := NewSlidingWindow(minuteRule(1000), WithWindowClock(func() time.Time { return at(0) }))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				w.Cleanup()
			}
		}
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res, err := w.Reserve(context.Background(), "k", at(1))
				if err != nil {
					t.Error(err)
					return
				}
				if res.Decision().Allowed {
					admitted.Add(1)
				}
				res.Commit()
			}
		}()
	}
	wg.Wait()
	close(stop)

	// o janitor roda com relógio em t=0, então nada é ocioso e nada se perde
	res, err := w.Reserve(context.Background(), "k", at(2))
	require.NoError(t, err)
	defer res.Cancel()
	assert.Equal(t, int64(400), admitted.Load())
	assert.Equal(t, 401, res.Decision().Count)
}

func TestSlidingWindow_RingGrowsOnDemandUpToMax(t *testing.T) {
	const limit = 10_000_000
	w := NewSlidingWindow(minuteRule(limit))

	take(t, w, "A", at(0))
	slot := w.index["A"]
	require.Len(t, slot.ring, initialRing, "a large max must not be allocated up front")

	for i := 1; i < 20; i++ {
		require.True(t, take(t, w, "A", at(float64(i)/100)).Allowed)
	}
	assert.Len(t, slot.ring, 32)
	assert.Equal(t, 20, slot.n)

	// crescimento preserva a ordem: o mais antigo continua sendo t=0
	assert.Equal(t, at(60), take(t, w, "A", at(1)).ResetAt)
}

func TestSlidingWindow_RingNeverExceedsMax(t *testing.T) {
	w := NewSlidingWindow(minuteRule(12))

	for i := 0; i < 12; i++ {
		take(t, w, "A", at(float64(i)))
	}
	assert.False(t, take(t, w, "A", at(20)).Allowed)
	assert.Len(t, w.index["A"].ring, 12)

	// depois de podar e dar a volta no ring, a contagem continua exata
	for i := 0; i < 5; i++ {
		require.True(t, take(t, w, "A", at(61+float64(i))).Allowed)
	}
	dec := take(t, w, "A", at(66))
	assert.True(t, dec.Allowed)
	assert.Equal(t, 12, dec.Count)
	assert.Equal(t, at(66), dec.ResetAt)
}
