// Package main is a diagnostic tool for the relay database. It loads the same
// configuration as the server, connects, and prints the schema version and a
// summary of connections and signing requests by status. Pending requests past
// their expiry are reported separately since expiry is only recorded on read.
// The binary exits non-zero on any failure so it can gate deployment pipelines.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/deabakjj/MYCREATA1-sub001/internal/config"
	"github.com/deabakjj/MYCREATA1-sub001/internal/db"
)

const queryTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n\n", version, dirty)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	fmt.Println("=== CONNECTIONS ===")
	if err := printCounts(ctx, database,
		`SELECT status, COUNT(*) FROM dapp_connections GROUP BY status ORDER BY status`); err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println("\n=== SIGNING REQUESTS ===")
	if err := printCounts(ctx, database,
		`SELECT status, COUNT(*) FROM dapp_transactions GROUP BY status ORDER BY status`); err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	var stale int
	err = database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dapp_transactions WHERE status = 'pending' AND expires_at < NOW()`).Scan(&stale)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("  pending past expiry: %d\n", stale)
}

func printCounts(ctx context.Context, database *sql.DB, query string) error {
	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		total += n
		fmt.Printf("  %-10s %d\n", status, n)
	}
	fmt.Printf("  %-10s %d\n", "total", total)
	return rows.Err()
}
