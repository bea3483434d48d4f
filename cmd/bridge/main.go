// Package main is the entrypoint for desktop-bridge (binary name "bridge").
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/desktop-bridge/internal/config"
	"github.com/morezero/desktop-bridge/internal/server"
	"github.com/morezero/desktop-bridge/pkg/db"
)

const usage = `Usage: bridge [command]
       bridge serve                          Start the bridge (NATS transport, HTTP, WebSocket).
       bridge migrate up                     Create the invocation journal.
       bridge migrate down                   Roll back the newest migration.
       bridge migrate status                 Show journal status.
       bridge ensure-db [name]               Create database if missing (default name: bridge_test).
       bridge clear                          Truncate the invocation journal; schema is preserved.
       bridge prune <age>                    Delete journal rows older than age (e.g. 72h).
       bridge invoke <label> <module> <json> Send one command for window label and print the reply.
       bridge emit <label> <event> [json]    Emit an event to window label. Empty label broadcasts.
       bridge listen <label> <event>         Print events sent to window label until interrupted.

Commands:
  serve           (default) Start the desktop bridge.
  migrate up      Run database migrations only.
  migrate down    Roll back the last migration.
  migrate status  Show current migration status.
  ensure-db       Create database (e.g. bridge_test) on same host as DATABASE_URL.
  clear           Truncate journal data.
  prune           Drop old journal rows.
  invoke          Debug a command over NATS, e.g. bridge invoke main App '{"cmd":"getAppVersion"}'.
  emit            Debug the event system over NATS.
  listen          Watch events over NATS.

Environment: COMMS_URL, BRIDGE_SUBJECT_PREFIX, APP_CONFIG_FILE, DATABASE_URL (journal, migrate, clear, prune),
MIGRATION_PATH, BRIDGE_HTTP_ADDR (default :8080), EMBED_NATS. See README.
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
			log.Fatalf("bridge migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("bridge migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("bridge migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("bridge migrate down: %v", err)
			}
		default:
			log.Fatalf("bridge migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("bridge clear: %v", err)
		}
		return
	case "prune":
		if len(args) < 2 {
			log.Fatalf("bridge prune: require an age such as 72h")
		}
		if err := runPrune(args[1]); err != nil {
			log.Fatalf("bridge prune: %v", err)
		}
		return
	case "ensure-db":
		dbName := "bridge_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("bridge ensure-db: %v", err)
		}
		return
	case "invoke":
		req, err := parseInvokeArgs(args[1:])
		if err != nil {
			log.Fatalf("bridge invoke: %v", err)
		}
		if err := runInvoke(req); err != nil {
			log.Fatalf("bridge invoke: %v", err)
		}
		return
	case "emit":
		req, err := parseEmitArgs(args[1:])
		if err != nil {
			log.Fatalf("bridge emit: %v", err)
		}
		if err := runEmit(req); err != nil {
			log.Fatalf("bridge emit: %v", err)
		}
		return
	case "listen":
		req, err := parseListenArgs(args[1:])
		if err != nil {
			log.Fatalf("bridge listen: %v", err)
		}
		if err := runListen(req); err != nil {
			log.Fatalf("bridge listen: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("bridge: %v", err)
	}
}

// withPool loads config, validates it for DB access and runs fn with a pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Printf("Applied %d migrations from %s.\n", len(migrations), cfg.MigrationPath)
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		st, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Println(st)
		return nil
	})
}

func runMigrateDown() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		name, err := db.MigrationDown(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Printf("Rolled back %s.\n", name)
		return nil
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearJournal(ctx, pool); err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
		return nil
	})
}

func runPrune(age string) error {
	maxAge, err := time.ParseDuration(age)
	if err != nil || maxAge <= 0 {
		return fmt.Errorf("age %q must be a positive duration", age)
	}
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		n, err := db.PruneJournal(ctx, pool, maxAge)
		if err != nil {
			return fmt.Errorf("prune journal: %w", err)
		}
		fmt.Printf("Deleted %d journal rows older than %s.\n", n, maxAge)
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Query parameters such as sslmode are kept.
	u.Path = "/" + dbName
	if err := db.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}
