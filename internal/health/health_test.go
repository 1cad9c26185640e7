package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/platform/internal/breaker"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

type fakeStorePinger struct{ err error }

func (f fakeStorePinger) Health(ctx context.Context) error { return f.err }

type fakeBrokerPinger struct{ healthy bool }

func (f fakeBrokerPinger) Healthy() bool { return f.healthy }

func setupHealthCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
	}, nil)
	require.NoError(t, err)

	return c, mr
}

func TestAggregator_AllHealthy(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	agg := New(fakeStorePinger{}, c, fakeBrokerPinger{healthy: true}, nil)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Dependencies["store"].Status)
	assert.Equal(t, StatusHealthy, report.Dependencies["cache"].Status)
	assert.Equal(t, StatusHealthy, report.Dependencies["broker"].Status)
}

func TestAggregator_StoreDownMakesAggregateDown(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	agg := New(fakeStorePinger{err: errors.New("connection refused")}, c, fakeBrokerPinger{healthy: true}, nil)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Dependencies["store"].Status)
	assert.NotEmpty(t, report.Dependencies["store"].Error)
}

func TestAggregator_BrokerDownMakesAggregateDown(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	agg := New(fakeStorePinger{}, c, fakeBrokerPinger{healthy: false}, nil)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Dependencies["broker"].Status)
}

func TestAggregator_OpenBreakerMakesAggregateDown(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	br := breaker.New("smtp", c, breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil, nil)
	ctx := context.Background()
	require.NoError(t, br.RecordFailure(ctx))

	agg := New(fakeStorePinger{}, c, fakeBrokerPinger{healthy: true}, map[string]*breaker.Breaker{"smtp": br})

	report := agg.Check(ctx)
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Dependencies["breaker:smtp"].Status)
	assert.Equal(t, string(breaker.StateOpen), report.Dependencies["breaker:smtp"].Breaker)
}

func TestAggregator_NilStoreIsDown(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	agg := New(nil, c, fakeBrokerPinger{healthy: true}, nil)

	report := agg.Check(context.Background())
	assert.Equal(t, StatusDown, report.Dependencies["store"].Status)
}

func TestAggregator_NoBrokerConfiguredOmitsDependency(t *testing.T) {
	c, mr := setupHealthCache(t)
	defer mr.Close()

	agg := New(fakeStorePinger{}, c, nil, nil)

	report := agg.Check(context.Background())
	_, present := report.Dependencies["broker"]
	assert.False(t, present)
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestHTTPStatusFor(t *testing.T) {
	assert.Equal(t, 200, HTTPStatusFor(StatusHealthy))
	assert.Equal(t, 200, HTTPStatusFor(StatusDegraded))
	assert.Equal(t, 503, HTTPStatusFor(StatusDown))
}
