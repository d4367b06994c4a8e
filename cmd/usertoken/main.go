// Package main mints a platform user JWT for local development. Owner routes
// only accept tokens issued by the platform; this tool signs one with the
// configured auth.jwt_secret so the relay can be exercised without the rest
// of the platform running.
//
//	usertoken -user user-123 -email dev@example.com -ttl 1h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/auth"
	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
)

func main() {
	userID := flag.String("user", "", "platform user id (required)")
	email := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tokens, err := auth.NewUserTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		log.Fatalf("Invalid auth configuration: %v", err)
	}

	token, err := tokens.Generate(*userID, *email, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
