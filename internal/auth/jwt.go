// Package auth - jwt.go verifies the platform user JWTs presented on owner routes.
// End-user login is handled by the wider platform; the relay only checks the token
// signature and reads the authenticated user id from it.
package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the recommended minimum length for HMAC signing secrets
const MinSecretLength = 32

// ErrMissingSecret is returned when a signing secret is not configured. There is no fallback.
var ErrMissingSecret = errors.New("auth: signing secret is not configured")

// UserClaims represents the platform user JWT claims structure
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserTokens signs and verifies platform user JWTs
type UserTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewUserTokens creates a verifier for platform user JWTs.
// issuer may be empty, in which case the iss claim is not checked.
func NewUserTokens(secret, issuer string) (*UserTokens, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < MinSecretLength {
		slog.Warn("auth.jwt_secret is shorter than recommended", "min_length", MinSecretLength)
	}
	return &UserTokens{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Generate creates a JWT token for an authenticated user
func (u *UserTokens) Generate(userID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 1 * time.Hour
	}
	now := u.now()
	claims := &UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    u.issuer,
			Subject:   userID,
		},
	}
	return signHS256(claims, u.secret)
}

// Validate parses and validates a platform user JWT
func (u *UserTokens) Validate(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(u.now)}
	if u.issuer != "" {
		opts = append(opts, jwt.WithIssuer(u.issuer))
	}
	if err := parseHS256(tokenString, claims, u.secret, opts...); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id claim")
	}
	return claims, nil
}

// signHS256 signs claims with an HMAC-SHA256 secret
func signHS256(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseHS256 parses tokenString into claims, rejecting any non-HMAC signing method
func parseHS256(tokenString string, claims jwt.Claims, secret []byte, opts ...jwt.ParserOption) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
