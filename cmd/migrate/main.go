// Package main applies the snapshot store and scan archive schemas.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/wallet-tracker/internal/config"
	"github.com/wallet-tracker/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		target = flag.String("db", "postgres", "Target: postgres, clickhouse, all")
		root   = flag.String("dir", "migrations", "Directory holding the postgres/ and clickhouse/ migration sets")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	targets := []string{*target}
	if *target == "all" {
		targets = []string{"postgres", "clickhouse"}
	}

	for _, t := range targets {
		dir := filepath.Join(*root, t)
		var err error
		switch t {
		case "postgres":
			err = migratePostgres(cfg.Database.Postgres, dir, *action)
		case "clickhouse":
			err = migrateClickHouse(cfg.Database.ClickHouse, dir, *action)
		default:
			err = fmt.Errorf("unknown database type: %s", t)
		}
		if err != nil {
			log.Fatalf("%s migration failed: %v", t, err)
		}
	}
}

func migratePostgres(cfg config.PostgresConfig, dir, action string) error {
	databaseURL := cfg.URL()

	switch action {
	case "up":
		log.Printf("Applying snapshot store migrations from %s", dir)
		if err := storage.RunMigrations(databaseURL, dir); err != nil {
			return err
		}
	case "down":
		log.Println("Rolling back the latest snapshot store migration")
		if err := storage.RollbackMigrations(databaseURL, dir); err != nil {
			return err
		}
	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, dir)
		if err != nil {
			return err
		}
		log.Printf("Snapshot store schema version: %d (dirty: %v)", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	log.Println("Snapshot store migrations done")
	return nil
}

// migrateClickHouse applies the archive DDL; statements are idempotent so
// only "up" exists
func migrateClickHouse(cfg config.ClickHouseConfig, dir, action string) error {
	if action != "up" {
		return fmt.Errorf("scan archive migrations only support 'up'")
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", dir)
	}

	ctx := context.Background()
	db, err := storage.NewClickHouseDB(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	log.Printf("Applying scan archive migrations from %s", dir)
	if err := storage.RunClickHouseMigrations(ctx, db, dir); err != nil {
		return err
	}
	log.Println("Scan archive migrations done")
	return nil
}
