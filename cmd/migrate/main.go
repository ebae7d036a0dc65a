package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"PerpParity/internal/observability"
	"PerpParity/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	dsn := flags.String("dsn", envOrDefault("PARITY_POSTGRES_DSN", "postgres://localhost:5432/perpparity?sslmode=disable"), "Postgres connection string")
	dir := flags.String("dir", envOrDefault("PARITY_MIGRATIONS_DIR", "migrations"), "path to migrations directory")
	timeout := flags.Duration("timeout", time.Minute, "overall timeout")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [flags] <up|down|status>")
		fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
		fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
		fmt.Fprintln(os.Stderr, "  status - list migrations and whether they are applied")
		fmt.Fprintln(os.Stderr)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	migrator := persistence.NewMigrator(db, *dir, logger)

	switch cmd := flags.Arg(0); cmd {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolledBack, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if !rolledBack {
			logger.Info().Msg("nothing to roll back")
			return
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %-40s %s\n", s.Version, s.Filename, state)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", cmd)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
