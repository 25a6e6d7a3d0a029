package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/signdrop/signdrop/internal/config"
	"github.com/signdrop/signdrop/internal/database"
	"github.com/signdrop/signdrop/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dbPath    string
	verbosity int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signdrop",
		Short: "Signdrop - Document transfer signing engine",
		Long:  `Signdrop persists and orchestrates document-transfer deals: a sender's documents routed to recipients for signature, tracked to completion.`,
		RunE:  run,
	}

	// Flags
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "./signdrop.db", "SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("signdrop %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for DB_PATH env var if using default
	if dbPath == "./signdrop.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}

	level := "info"
	switch {
	case verbosity >= 2:
		level = "trace"
	case verbosity == 1:
		level = "debug"
	}
	logging.Apply(level, nil, logging.FilePathForDB(dbPath))

	log.Info().
		Str("version", version).
		Str("database", dbPath).
		Msg("Starting Signdrop")

	// Initialize database
	db, err := database.New(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Re-apply logging with persisted settings now the database is up
	loader := config.NewLoader(db)
	logging.Apply(level, loader, logging.FilePathForDB(dbPath))

	workflow := database.NewWorkflow(db)

	// Scheduled maintenance: planner stats refresh and terminal-transfer
	// retention, both controlled by persisted settings
	scheduler := cron.New()
	schedule := loader.String("maintenance.schedule", "0 4 * * *")
	retention := loader.DurationDays("retention.terminal_days", 90)
	if _, err := scheduler.AddFunc(schedule, func() {
		if err := db.Optimize(); err != nil {
			log.Error().Err(err).Msg("Database optimize failed")
		}
		if _, err := workflow.PruneTerminalTransfers(retention); err != nil {
			log.Error().Err(err).Msg("Terminal transfer prune failed")
		}
	}); err != nil {
		log.Error().Err(err).Str("schedule", schedule).Msg("Invalid maintenance schedule, maintenance disabled")
	} else {
		scheduler.Start()
		defer scheduler.Stop()
		log.Info().Str("schedule", schedule).Dur("retention", retention).Msg("Maintenance scheduled")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return nil
}
