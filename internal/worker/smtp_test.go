package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/platform/internal/config"
)

func TestClassifySMTPError_5xxIsRetryable(t *testing.T) {
	err := classifySMTPError(errors.New("503 relay temporarily unavailable"))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Retryable)
}

func TestClassifySMTPError_4xxIsNonRetryable(t *testing.T) {
	err := classifySMTPError(errors.New("450 mailbox unavailable"))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Retryable)
}

func TestSMTPTransport_Name(t *testing.T) {
	transport := NewSMTPTransport(config.SMTPConfig{})
	assert.Equal(t, "smtp", transport.Name())
}

func TestNewSMTPTransport_DefaultsTimeoutWhenUnset(t *testing.T) {
	transport := NewSMTPTransport(config.SMTPConfig{Host: "localhost", Port: 25})
	assert.Greater(t, transport.timeout.Seconds(), 0.0)
}
