package async

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost balances verification latency against brute-force
	// resistance; outcome messages arrive at worker-completion rate, so the
	// ~60ms per verify is negligible.
	bcryptCost  = 10
	bcryptLimit = 72
)

// ErrTokenEmpty is returned when an empty worker token is hashed or verified.
var ErrTokenEmpty = errors.New("worker token cannot be empty")

// TokenVerifier authenticates workers to the callback consumer. The raw
// shared token is never stored: the verifier keeps a bcrypt hash as the
// verified secret and a SHA-256 digest as a cheap first-pass reject, so a
// flood of garbage outcome messages does not cost a bcrypt comparison each.
type TokenVerifier struct {
	lookupHash string
	tokenHash  string
}

// NewTokenVerifier hashes the shared worker token for later verification.
func NewTokenVerifier(token string) (*TokenVerifier, error) {
	if token == "" {
		return nil, ErrTokenEmpty
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(token), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing worker token: %w", err)
	}

	return &TokenVerifier{
		lookupHash: ComputeLookupHash(token),
		tokenHash:  string(hash),
	}, nil
}

// Verify reports whether a presented token matches the configured secret.
func (v *TokenVerifier) Verify(token string) bool {
	if token == "" {
		return false
	}

	if ComputeLookupHash(token) != v.lookupHash {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(v.tokenHash), bcryptInput(token)) == nil
}

// ComputeLookupHash returns the hex SHA-256 digest of a token.
func ComputeLookupHash(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// bcryptInput pre-hashes tokens longer than bcrypt's 72-byte input limit so
// long tokens still verify consistently.
func bcryptInput(token string) []byte {
	if len(token) > bcryptLimit {
		digest := sha256.Sum256([]byte(token))
		return digest[:]
	}

	return []byte(token)
}
