package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"llm_chat/internal/config"
	"llm_chat/internal/storage"
)

func main() {
	fmt.Println("Chat - database migration")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.StorageBackend != "postgres" {
		fmt.Fprintf(os.Stderr, "ERROR: STORAGE_BACKEND is %q, nothing to migrate\n", cfg.StorageBackend)
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Database is not healthy: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Applying migrations...")
	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	stats := db.GetStats()
	fmt.Printf("Migrations applied (open connections: %d)\n", stats.OpenConnections)
}
