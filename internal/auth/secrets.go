// Package auth provides the token primitives of the relay: connection access JWTs,
// bcrypt-hashed refresh tokens, opaque connection keys, and verification of the
// platform user JWT. See internal/middleware/auth.go for the request-time logic
// that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretLength is the length of the random part of a refresh token in bytes
	SecretLength = 32

	// LookupPrefixLength is the number of leading characters stored in plaintext so a
	// refresh token can be found with an indexed query before the bcrypt comparison
	LookupPrefixLength = 16

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// RefreshTokenPrefix marks refresh tokens
	RefreshTokenPrefix = "rt"

	// ConnectionKeyPrefix marks connection keys
	ConnectionKeyPrefix = "ck"

	// TransactionIDPrefix marks public transaction ids
	TransactionIDPrefix = "tx"
)

// GenerateSecret creates a new random secret with the given prefix.
// Returns: full secret (to hand out once), bcrypt hash (to store), lookup prefix (to index)
func GenerateSecret(prefix string) (secret string, hash string, lookupPrefix string, err error) {
	randomBytes := make([]byte, SecretLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	full := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(full), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash secret: %w", err)
	}

	return full, string(hashBytes), LookupPrefix(full), nil
}

// LookupPrefix returns the indexed plaintext prefix of a secret
func LookupPrefix(secret string) string {
	if len(secret) > LookupPrefixLength {
		return secret[:LookupPrefixLength]
	}
	return secret
}

// ValidateSecret checks if a provided secret matches the stored hash
func ValidateSecret(provided, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(provided)) == nil
}

// GenerateOpaqueID returns prefix_<hex> built from n random bytes.
// Used for connection keys and public transaction ids.
func GenerateOpaqueID(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("authorization token is empty")
	}
	return token, nil
}
