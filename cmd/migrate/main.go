package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/Rrens/livedesk/internal/config"
	"github.com/Rrens/livedesk/internal/repository/postgres"
	"github.com/Rrens/livedesk/internal/repository/sqlite"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		fmt.Printf("Migrating sqlite database at %s...\n", cfg.Database.SQLitePath)

		db, err := sqlite.Open(context.Background(), cfg.Database.SQLitePath)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		defer db.Close()

		if err := sqlite.RunMigrations(db); err != nil {
			panic(err)
		}

	default:
		fmt.Printf("Migrating database at %s:%d...\n", cfg.Database.Host, cfg.Database.Port)

		if err := postgres.RunMigrations(cfg.Database.DSN()); err != nil {
			panic(err)
		}
	}

	fmt.Println("Migrations applied")
}
