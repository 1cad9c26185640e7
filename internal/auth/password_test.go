package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_VerifyPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	assert.True(t, VerifyPassword(hash, "correct-horse-battery-staple"))
}

func TestVerifyPassword_RejectsWrongPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	assert.False(t, VerifyPassword(hash, "wrong-password"))
}

func TestHashPassword_ProducesDifferentHashesForSameInput(t *testing.T) {
	hashA, err := HashPassword("same-password")
	require.NoError(t, err)
	hashB, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
	assert.True(t, VerifyPassword(hashA, "same-password"))
	assert.True(t, VerifyPassword(hashB, "same-password"))
}

func TestVerifyPassword_RejectsMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("not-a-bcrypt-hash", "anything"))
}
