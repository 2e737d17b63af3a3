package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage(os.Stdout)
		os.Exit(1)
	}
	if err := migrateMain(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrateMain 解析子命令并执行，便于测试注入输出
func migrateMain(ctx context.Context, args []string, out io.Writer) error {
	sub, rest := args[0], args[1:]

	var positional string
	switch sub {
	case "help", "-h", "--help":
		printMigrateUsage(out)
		return nil
	case "goto", "force":
		if len(rest) < 1 {
			return fmt.Errorf("usage: campaignflow migrate %s <version>", sub)
		}
		positional, rest = rest[0], rest[1:]
	case "up", "down", "status", "version", "reset":
	default:
		printMigrateUsage(out)
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	steps := fs.Int("steps", 1, "Number of migrations to roll back (down)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)

	switch sub {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be at least 1, use 'migrate reset' to roll back everything")
		}
		return cli.RunDown(ctx, *steps)
	case "reset":
		return cli.RunDown(ctx, 0)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	case "goto":
		v, err := strconv.ParseUint(positional, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", positional)
		}
		return cli.RunGoto(ctx, uint(v))
	default: // force
		v, err := strconv.ParseInt(positional, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", positional)
		}
		return cli.RunForce(ctx, int(v))
	}
}

// createMigrator --db-type 与 --db-url 同时给出时直接使用，否则读取配置
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		t, err := migration.ParseDatabaseType(dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{DatabaseType: t, DatabaseURL: dbURL})
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg.Database, initLogger(cfg.Log).With(zap.String("command", "migrate")))
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  campaignflow migrate <subcommand> [options]

Subcommands:
  up            Apply all pending migrations
  down          Roll back migrations (--steps, default 1)
  status        Show migration status
  version       Show current migration version
  goto <v>      Migrate to a specific version
  force <v>     Force set migration version (use with caution)
  reset         Roll back all migrations
  help          Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  campaignflow migrate up
  campaignflow migrate up --config /etc/campaignflow/config.yaml
  campaignflow migrate down --steps 2
  campaignflow migrate status --db-type sqlite --db-url /var/lib/campaignflow/cf.db
  campaignflow migrate goto 1
  campaignflow migrate force 0`)
}
