package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorTokenRoundTrip(t *testing.T) {
	hash, err := HashOperatorToken("delete-me-if-you-dare")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, VerifyOperatorToken("delete-me-if-you-dare", hash))
	assert.False(t, VerifyOperatorToken("delete-me-if-you-care", hash))
}

func TestHashOperatorTokenEmpty(t *testing.T) {
	_, err := HashOperatorToken("")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestHashOperatorTokenSalted(t *testing.T) {
	first, err := HashOperatorToken("same token")
	require.NoError(t, err)
	second, err := HashOperatorToken("same token")
	require.NoError(t, err)

	// Fresh salt per hash, both still verify.
	assert.NotEqual(t, first, second)
	assert.True(t, VerifyOperatorToken("same token", first))
	assert.True(t, VerifyOperatorToken("same token", second))
}

func TestVerifyOperatorTokenMalformed(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{name: "empty", stored: ""},
		{name: "not base64", stored: "%%%"},
		{name: "too short", stored: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "wrong length", stored: base64.StdEncoding.EncodeToString(make([]byte, 64))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifyOperatorToken("whatever", tt.stored))
		})
	}
}

func TestVerifyOperatorTokenEmptyToken(t *testing.T) {
	hash, err := HashOperatorToken("real token")
	require.NoError(t, err)
	assert.False(t, VerifyOperatorToken("", hash))
}
