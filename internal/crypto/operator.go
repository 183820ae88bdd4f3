package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	operatorSaltSize = 16
	operatorHashLen  = 32
)

// ErrEmptyToken is returned when an empty operator token is hashed.
var ErrEmptyToken = errors.New("crypto: empty operator token")

// HashOperatorToken derives an Argon2id hash of the operator token and
// returns base64(salt || hash). The result goes into the
// auth.operator_token_hash config field; the plaintext token is never
// stored.
func HashOperatorToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	salt := make([]byte, operatorSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: salt: %w", err)
	}

	hash := argon2.IDKey([]byte(token), salt, Argon2Time, Argon2Memory, Argon2Threads, operatorHashLen)

	combined := make([]byte, 0, operatorSaltSize+operatorHashLen)
	combined = append(combined, salt...)
	combined = append(combined, hash...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// VerifyOperatorToken checks a presented token against a stored hash in
// constant time. Malformed or empty stored hashes never verify.
func VerifyOperatorToken(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}

	combined, err := base64.StdEncoding.DecodeString(storedHash)
	if err != nil || len(combined) != operatorSaltSize+operatorHashLen {
		return false
	}

	salt := combined[:operatorSaltSize]
	want := combined[operatorSaltSize:]
	got := argon2.IDKey([]byte(token), salt, Argon2Time, Argon2Memory, Argon2Threads, operatorHashLen)

	return subtle.ConstantTimeCompare(got, want) == 1
}
