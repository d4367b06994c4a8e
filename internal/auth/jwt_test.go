package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func TestNewUserTokens_RequiresSecret(t *testing.T) {
	if _, err := NewUserTokens("", ""); err != ErrMissingSecret {
		t.Errorf("NewUserTokens(\"\") error = %v, want ErrMissingSecret", err)
	}
}

func TestUserTokens_GenerateAndValidate(t *testing.T) {
	u, err := NewUserTokens(testSecret, "platform")
	if err != nil {
		t.Fatalf("NewUserTokens() error: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		token, err := u.Generate("user-123", "test@example.com", time.Hour)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		claims, err := u.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("claims.UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Issuer != "platform" {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, "platform")
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := u.Generate("uid", "", 0)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		claims, err := u.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := u.Generate("uid", "", -time.Second)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if _, err := u.Validate(token); err == nil {
			t.Error("Validate() expected error for expired token, got nil")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := u.Validate("not.a.valid.token"); err == nil {
			t.Error("Validate() expected error for garbage token, got nil")
		}
	})

	t.Run("different secret is rejected", func(t *testing.T) {
		other, _ := NewUserTokens("another-secret-that-is-32-chars-long!", "platform")
		token, _ := other.Generate("uid", "", time.Hour)
		if _, err := u.Validate(token); err == nil {
			t.Error("Validate() accepted a token signed with another secret")
		}
	})

	t.Run("wrong issuer is rejected", func(t *testing.T) {
		other, _ := NewUserTokens(testSecret, "someone-else")
		token, _ := other.Generate("uid", "", time.Hour)
		if _, err := u.Validate(token); err == nil {
			t.Error("Validate() accepted a token from another issuer")
		}
	})
}

func TestParseHS256_RejectsNoneAlgorithm(t *testing.T) {
	claims := &UserClaims{
		UserID: "uid",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	if err := parseHS256(s, &UserClaims{}, []byte(testSecret)); err == nil {
		t.Error("parseHS256() accepted an unsigned token")
	}
}
