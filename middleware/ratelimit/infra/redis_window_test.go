package infra

import (
	"context"
	"testing"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisWindow_ScenarioSixtySecondsThree(t *testing.T) {
	_, rdb := newTestRedis(t)
	w := NewRedisWindow(rdb, minuteRule(3))

	for i, want := range []int{2, 1, 0} {
		dec := take(t, w, "A", at(float64(i)))
		require.True(t, dec.Allowed, "request %d", i)
		assert.Equal(t, want, dec.Remaining)
		assert.True(t, dec.ResetAt.Equal(at(60)), "reset at %s", dec.ResetAt)
	}

	dec := take(t, w, "A", at(3))
	require.False(t, dec.Allowed)
	assert.Equal(t, 3, dec.Count)
	assert.Equal(t, 57*time.Second, dec.RetryAfter)

	dec = take(t, w, "A", at(61))
	assert.True(t, dec.Allowed)
	assert.Equal(t, 3, dec.Count)
}

func TestRedisWindow_RejectionsAreNotStored(t *testing.T) {
	mr, rdb := newTestRedis(t)
	w := NewRedisWindow(rdb, minuteRule(1), WithWindowPrefix("rl:"))

	take(t, w, "A", at(0))
	take(t, w, "A", at(1))
	take(t, w, "A", at(2))

	members, err := mr.ZMembers("rl:" + w.Rule().Name + ":A")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisWindow_CancelRemovesMember(t *testing.T) {
	mr, rdb := newTestRedis(t)
	w := NewRedisWindow(rdb, minuteRule(1))

	res, err := w.Reserve(context.Background(), "A", at(0))
	require.NoError(t, err)
	require.True(t, res.Decision().Allowed)
	res.Cancel()

	members, err := mr.ZMembers(w.redisKey("A"))
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.True(t, take(t, w, "A", at(1)).Allowed)
}

func TestRedisWindow_SetsExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	w := NewRedisWindow(rdb, minuteRule(2))

	take(t, w, "A", at(0))
	assert.Equal(t, time.Minute, mr.TTL(w.redisKey("A")))
}

func TestRedisWindow_ErrorWhenRedisIsDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	w := NewRedisWindow(rdb, minuteRule(2))
	mr.Close()

	_, err := w.Reserve(context.Background(), domain.Key("A"), at(0))
	assert.Error(t, err)
}
