package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/config"
	"github.com/pbeaudequin/exporter-meteo-chamois/migrations"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/database"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Snapshot.Enabled() {
		fmt.Fprintln(os.Stderr, "SNAPSHOT_DB_DSN is not set, nothing to migrate")
		os.Exit(1)
	}

	name, schema, err := migrations.Load(migrations.Direction(*direction))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(&database.Config{
		Driver:       cfg.Snapshot.Driver,
		DSN:          cfg.Snapshot.DSN,
		MaxOpenConns: 1,
	}, logging.Discard(), metrics.NewCollector(nil, "meteo_chamois_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")
	fmt.Printf("Running migration: %s\n", name)

	if _, err := db.ExecContext(context.Background(), "migrate", schema); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
