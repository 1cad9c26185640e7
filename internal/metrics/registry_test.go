package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsEmptyNamespaceToNotifyhub(t *testing.T) {
	reg := New("")
	assert.Equal(t, "notifyhub", reg.namespace)
}

func TestNew_HonorsExplicitNamespace(t *testing.T) {
	reg := New("gateway")
	assert.Equal(t, "gateway", reg.namespace)
}

func TestRegistry_MustRegisterAttachesAllCollectors(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := New("test")
	require.NotPanics(t, func() { reg.MustRegister(promReg) })

	reg.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	count := testutil.CollectAndCount(reg.HTTPRequestsTotal)
	assert.Equal(t, 1, count)
}

func TestRegistry_MustRegisterPanicsOnDuplicateRegistration(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := New("test")
	reg.MustRegister(promReg)

	assert.Panics(t, func() { reg.MustRegister(promReg) })
}

func TestDefault_ReturnsSameInstanceAcrossCalls(t *testing.T) {
	assert.Same(t, Default(), Default())
}
