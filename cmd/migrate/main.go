package main

import (
	"context"
	"log"
	"os"
	"time"

	"tenderwatch/internal/config"
	"tenderwatch/internal/container"

	"github.com/joho/godotenv"
)

// migrate applies the counterfactual cache schema to DATABASE_URL, or to the URL given as the first argument.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if len(os.Args) > 1 {
		os.Setenv("DATABASE_URL", os.Args[1])
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if !cfg.Database.Enabled() {
		log.Fatal("Usage: migrate [database_url] (or set DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("Applying schema to %s database", cfg.Database.Driver)
	db, err := container.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	defer db.Close()

	log.Println("Migration complete")
}
