package refreshtokens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_CreateGetIsValid(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	rt, err := s.Create(ctx, "u1", "j1", exp)
	require.NoError(t, err)
	assert.True(t, rt.ExpiresAt.Equal(exp))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.ExpiresAt.Equal(exp))

	ok, err := s.IsValid(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists(redisKey("j1")))
	assert.Greater(t, mr.TTL(redisKey("j1")), time.Duration(0), "record must carry a redis ttl")

	_, err = s.Create(ctx, "u1", "j1", exp)
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestRedisStore_ExpiryBoundary(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	_, err := s.Create(ctx, "u1", "j1", exp)
	require.NoError(t, err)

	s.now = func() time.Time { return exp.Add(-time.Second) }
	ok, err := s.IsValid(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	s.now = func() time.Time { return exp.Add(500 * time.Millisecond) }
	ok, err = s.IsValid(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok, "expires_at == now (at second granularity) is invalid")

	_, err = s.Rotate(ctx, "u1", "j1", "j2", exp.Add(time.Hour))
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRedisStore_MissingAndDelete(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)

	ok, err := s.IsValid(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "u1", "j1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "j1"))
	require.NoError(t, s.Delete(ctx, "j1"))

	_, err = s.Get(ctx, "j1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRedisStore_Rotate(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	_, err := s.Create(ctx, "u1", "old", exp)
	require.NoError(t, err)

	_, err = s.Rotate(ctx, "u2", "old", "new", exp)
	require.ErrorIs(t, err, common.ErrorNotFound, "foreign owner")

	rt, err := s.Rotate(ctx, "u1", "old", "new", exp.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "new", rt.JTI)

	ok, err := s.IsValid(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "predecessor must be gone")

	ok, err = s.IsValid(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Rotate(ctx, "u1", "old", "other", exp)
	require.ErrorIs(t, err, common.ErrorNotFound, "replay")
}

func TestRedisStore_ConcurrentRotateSingleWinner(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	_, err := s.Create(ctx, "u1", "old", exp)
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Rotate(ctx, "u1", "old", "new-"+string(rune('a'+i)), exp)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrorNotFound)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRedisStore_DeleteExpired(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(time.Hour).Truncate(time.Second)

	_, err := s.Create(ctx, "u1", "short", base)
	require.NoError(t, err)
	_, err = s.Create(ctx, "u1", "long", base.Add(time.Hour))
	require.NoError(t, err)

	s.now = func() time.Time { return base }
	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get(ctx, "short")
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.Get(ctx, "long")
	require.NoError(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = NewRedisClient(context.Background(), "127.0.0.1:1", "", 0)
	require.Error(t, err)
}
