package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/platform/internal/health"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

type fakeStorePinger struct{ err error }

func (f fakeStorePinger) Health(ctx context.Context) error { return f.err }

type fakeBrokerPinger struct{ healthy bool }

func (f fakeBrokerPinger) Healthy() bool { return f.healthy }

func TestHealthHandler_LivenessAlwaysReportsHealthy(t *testing.T) {
	h := NewHealthHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Liveness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthHandler_ServicesReports200WhenAllHealthy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := cache.NewRedisCache(&cache.CacheConfig{Addr: mr.Addr(), PoolSize: 5, DialTimeout: time.Second}, nil)
	require.NoError(t, err)

	agg := health.New(fakeStorePinger{}, c, fakeBrokerPinger{healthy: true}, nil)
	h := NewHealthHandler(agg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/services", nil)
	rec := httptest.NewRecorder()

	h.Services(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
}

func TestHealthHandler_ServicesReports503WhenDependencyDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := cache.NewRedisCache(&cache.CacheConfig{Addr: mr.Addr(), PoolSize: 5, DialTimeout: time.Second}, nil)
	require.NoError(t, err)

	agg := health.New(fakeStorePinger{err: assert.AnError}, c, fakeBrokerPinger{healthy: true}, nil)
	h := NewHealthHandler(agg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/services", nil)
	rec := httptest.NewRecorder()

	h.Services(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
