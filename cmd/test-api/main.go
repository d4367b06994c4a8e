// Package main is a smoke-test utility for a deployed relay. It calls the
// unauthenticated system endpoints (/health, /ready, /version) and then checks
// that a DApp route without an Origin header is refused, printing each status.
// It exits non-zero if any check fails, which makes it usable as a post-deploy step.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type check struct {
	path string
	want int
}

func main() {
	base := "http://localhost:8080"
	if len(os.Args) > 1 {
		base = strings.TrimRight(os.Args[1], "/")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	checks := []check{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/version", http.StatusOK},
		{"/api/v1/dapp/connections/smoke-test", http.StatusForbidden},
	}

	failed := 0
	for _, ch := range checks {
		status, body, err := get(client, base+ch.path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", ch.path, err)
			failed++
			continue
		}
		result := "ok"
		if status != ch.want {
			result = "FAIL"
			failed++
		}
		fmt.Printf("%-4s %s -> %d (want %d) %s\n", result, ch.path, status, ch.want, strings.TrimSpace(body))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func get(client *http.Client, url string) (int, string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading body: %w", err)
	}
	return resp.StatusCode, string(body), nil
}
