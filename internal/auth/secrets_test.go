package auth

import (
	"strings"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	secret, hash, prefix, err := GenerateSecret(RefreshTokenPrefix)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	if !strings.HasPrefix(secret, "rt_") {
		t.Errorf("secret = %q, want rt_ prefix", secret)
	}
	if len(prefix) != LookupPrefixLength || !strings.HasPrefix(secret, prefix) {
		t.Errorf("lookup prefix = %q, want first %d chars of secret", prefix, LookupPrefixLength)
	}
	if hash == secret {
		t.Error("hash must not equal the plaintext secret")
	}
	if !ValidateSecret(secret, hash) {
		t.Error("ValidateSecret() = false for the matching secret")
	}
	if ValidateSecret(secret+"x", hash) {
		t.Error("ValidateSecret() = true for a different secret")
	}
	if ValidateSecret(secret, "") {
		t.Error("ValidateSecret() = true for an empty hash")
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, _, _, _ := GenerateSecret("rt")
	b, _, _, _ := GenerateSecret("rt")
	if a == b {
		t.Error("two generated secrets are identical")
	}
}

func TestGenerateOpaqueID(t *testing.T) {
	id, err := GenerateOpaqueID(ConnectionKeyPrefix, 24)
	if err != nil {
		t.Fatalf("GenerateOpaqueID() error: %v", err)
	}
	if !strings.HasPrefix(id, "ck_") || len(id) != 3+48 {
		t.Errorf("GenerateOpaqueID() = %q, want ck_ + 48 hex chars", id)
	}
}

func TestLookupPrefix_Short(t *testing.T) {
	if got := LookupPrefix("abc"); got != "abc" {
		t.Errorf("LookupPrefix(abc) = %q", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def", "abc.def", false},
		{"surrounding spaces", "Bearer   abc  ", "abc", false},
		{"empty header", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"empty token", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
