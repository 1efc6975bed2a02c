// Package main is the entrypoint for the livequery server and its command-line client.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/morezero/livequery/internal/config"
	"github.com/morezero/livequery/internal/server"
	"github.com/morezero/livequery/pkg/db"
)

const usage = `Usage: livequery [command]
       livequery serve                       Start the livequery server (websocket, HTTP health, optional NATS).
       livequery migrate up                  Run database migrations.
       livequery migrate status              Show migration status.
       livequery ensure-db [name]            Create database if missing (default name: livequery_test). Uses DATABASE_URL host/user.
       livequery clear                       Truncate counters and guestbook entries; schema is preserved.
       livequery query <url> <key> [json]    Run a query against a running server and print the result.
       livequery mutate <url> <key> [json]   Run a mutation against a running server and print the result.
       livequery watch <url> <key> [json]    Print a query's result every time it is invalidated (Ctrl-C to stop).

Commands:
  serve            (default) Start the server.
  migrate up       Run database migrations only.
  migrate status   Show current migration status.
  ensure-db [name] Create database (e.g. livequery_test) on same host as DATABASE_URL; then run tests with that URL.
  clear            Truncate livequery data; schema preserved.
  query/mutate     One-shot calls, e.g. livequery mutate ws://localhost:8080/ws counter:addToCounter '{"amount":3}'.
  watch            Live query subscription; reconnects with backoff when the server restarts.

Environment: DATABASE_URL (optional for serve, in-memory store when unset), RUN_MIGRATIONS, MIGRATION_PATH,
LIVEQUERY_HTTP_ADDR (default :8080), LIVEQUERY_WS_PATH (default /ws), COMMS_URL, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("livequery migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("livequery migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("livequery migrate status: %v", err)
			}
		default:
			log.Fatalf("livequery migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("livequery clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "livequery_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("livequery ensure-db: %v", err)
		}
		return
	case "query", "mutate", "watch":
		call, err := parseCallArgs(cmd, args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n%s", err, usage)
			os.Exit(2)
		}
		if err := runCall(call, os.Stdout); err != nil {
			log.Fatalf("livequery %s: %v", cmd, err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("livequery: %v", err)
	}
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	server.SetupLogging(cfg.LogLevel)
	return cfg, nil
}

func runMigrateUp() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return err
	}
	fmt.Print(status)
	return nil
}

func runClear() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.ClearData(ctx, pool)
}

func runEnsureDB(dbName string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	target, err := db.WithDatabaseName(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), target); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready. Use DATABASE_URL=%s\n", dbName, target)
	return nil
}
