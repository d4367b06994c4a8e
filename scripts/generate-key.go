// Package main is a development utility that generates the two HMAC secrets the relay
// requires: auth.jwt_secret for platform user tokens and auth.connection_token_secret
// for DApp access tokens. The secrets are printed as environment exports ready to paste
// into a shell or .env file. Both are random and distinct, which config validation requires.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

const secretBytes = 48

func main() {
	jwtSecret, err := randomSecret()
	if err != nil {
		log.Fatal(err)
	}
	connectionSecret, err := randomSecret()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Relay Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Printf("export DRL_AUTH_JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("export DRL_AUTH_CONNECTION_TOKEN_SECRET=%s\n", connectionSecret)
	fmt.Println("==========================================================")
	fmt.Println("DRL_AUTH_JWT_SECRET must match the secret the platform signs user tokens with.")
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
