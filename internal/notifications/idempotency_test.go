package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

func setupIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	return NewIdempotencyStore(c), mr
}

func TestIdempotencyStore_ReserveWinsFirstClaim(t *testing.T) {
	s, mr := setupIdempotencyStore(t)
	defer mr.Close()
	ctx := context.Background()

	ok, state, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateProcessing, state)
}

func TestIdempotencyStore_ReserveLosesConcurrentClaim(t *testing.T) {
	s, mr := setupIdempotencyStore(t)
	defer mr.Close()
	ctx := context.Background()

	ok, _, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, state, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateProcessing, state)
}

func TestIdempotencyStore_MarkSentThenReserveObservesTerminalState(t *testing.T) {
	s, mr := setupIdempotencyStore(t)
	defer mr.Close()
	ctx := context.Background()

	ok, _, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.MarkSent(ctx, "req-1"))

	ok, state, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateSent, state)
}

func TestIdempotencyStore_MarkFailedThenReserveObservesTerminalState(t *testing.T) {
	s, mr := setupIdempotencyStore(t)
	defer mr.Close()
	ctx := context.Background()

	ok, _, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.MarkFailed(ctx, "req-1"))

	ok, state, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateFailed, state)
}

func TestIdempotencyStore_ReserveAfterExpiryWinsAgain(t *testing.T) {
	s, mr := setupIdempotencyStore(t)
	defer mr.Close()
	ctx := context.Background()

	ok, _, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(idempotencyTTL + time.Minute)

	ok, state, err := s.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateProcessing, state)
}
