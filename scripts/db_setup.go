// db_setup inspects and resets the storage backend's schema — a thin
// wrapper around storage.Open's AutoMigrate, useful when rotating between
// sqlite and Postgres during development.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/duskline/polybot/internal/storage"
)

var tables = []string{
	"trade_records", "daily_stats", "risk_states",
	"execution_positions", "active_quotes",
}

func main() {
	godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/polybot.db"
	}

	backend := "sqlite"
	if databaseURL != "" {
		backend = "postgres"
	}
	fmt.Printf("🔌 Connecting to %s storage...\n", backend)

	store, err := storage.Open(databaseURL, sqlitePath)
	if err != nil {
		fmt.Printf("❌ Connection error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	fmt.Println("✅ Storage connected and schema migrated!")

	fmt.Println("\n📋 Managed tables:")
	for _, t := range tables {
		fmt.Printf("  - %s\n", t)
	}

	if len(os.Args) > 1 && os.Args[1] == "--wipe" {
		fmt.Println("\n🧹 Wiping all tables...")
		if err := store.WipeAll(); err != nil {
			fmt.Printf("❌ Wipe error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ All tables truncated.")
	}

	fmt.Println("\n✅ DATABASE READY")
}
