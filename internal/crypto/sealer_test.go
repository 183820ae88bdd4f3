package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
)

var _ engine.MemorySealer = (*MemorySealer)(nil)

func TestMemorySealerRoundTrip(t *testing.T) {
	key := make([]byte, KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealer, err := NewMemorySealer(hex.EncodeToString(key))
	require.NoError(t, err)

	plain := "reduce exposure to energy, oracle flagged volatility"
	sealed, err := sealer.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestMemorySealerKeyEncodings(t *testing.T) {
	key := make([]byte, KeyLength)
	_, err := rand.Read(key)
	require.NoError(t, err)

	hexSealer, err := NewMemorySealer(hex.EncodeToString(key))
	require.NoError(t, err)
	b64Sealer, err := NewMemorySealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	sealed, err := hexSealer.Seal("cross-encoding entry")
	require.NoError(t, err)

	opened, err := b64Sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "cross-encoding entry", opened)
}

func TestMemorySealerPassphrase(t *testing.T) {
	first, err := NewMemorySealer("not hex, not base64, just a passphrase")
	require.NoError(t, err)
	second, err := NewMemorySealer("not hex, not base64, just a passphrase")
	require.NoError(t, err)

	sealed, err := first.Seal("derived-key entry")
	require.NoError(t, err)

	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "derived-key entry", opened)

	other, err := NewMemorySealer("a different passphrase")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestMemorySealerEmptyKey(t *testing.T) {
	_, err := NewMemorySealer("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemorySealerNonceVaries(t *testing.T) {
	sealer, err := NewMemorySealer("nonce check passphrase")
	require.NoError(t, err)

	first, err := sealer.Seal("same entry")
	require.NoError(t, err)
	second, err := sealer.Seal("same entry")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestMemorySealerOpenRejectsMalformed(t *testing.T) {
	sealer, err := NewMemorySealer("malformed check passphrase")
	require.NoError(t, err)

	_, err = sealer.Open("%%% not base64 %%%")
	assert.ErrorIs(t, err, ErrSealedMalformed)

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	_, err = sealer.Open(short)
	assert.ErrorIs(t, err, ErrSealedMalformed)
}

func TestMemorySealerOpenRejectsTampered(t *testing.T) {
	sealer, err := NewMemorySealer("tamper check passphrase")
	require.NoError(t, err)

	sealed, err := sealer.Seal("original entry")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = sealer.Open(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestGenerateKeyHex(t *testing.T) {
	keyHex, err := GenerateKeyHex()
	require.NoError(t, err)

	raw, err := hex.DecodeString(keyHex)
	require.NoError(t, err)
	assert.Len(t, raw, KeyLength)

	// A generated key must be accepted verbatim.
	_, err = NewMemorySealer(keyHex)
	assert.NoError(t, err)
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 8)
}
