package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_GrowsWithAttemptAndStaysWithinBounds(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 20; i++ {
			delay := backoffDelay(base, max, attempt)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
			assert.LessOrEqual(t, delay, max)
		}
	}
}

func TestBackoffDelay_ClampsAtMaxForLargeAttempts(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	delay := backoffDelay(base, max, 30)
	assert.LessOrEqual(t, delay, max)
}

func TestBackoffDelay_NegativeAttemptTreatedAsZero(t *testing.T) {
	base := time.Second
	max := 60 * time.Second

	delay := backoffDelay(base, max, -1)
	assert.LessOrEqual(t, delay, base)
	assert.GreaterOrEqual(t, delay, time.Duration(0))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "success", outcomeLabel(nil))
	assert.Equal(t, "failure", outcomeLabel(errors.New("boom")))
}

func TestTransportError_WrapsAndUnwraps(t *testing.T) {
	inner := errors.New("smtp connection refused")
	te := &TransportError{Err: inner, Retryable: true}

	assert.Equal(t, inner.Error(), te.Error())
	assert.ErrorIs(t, te, inner)
	assert.True(t, te.Retryable)
}
