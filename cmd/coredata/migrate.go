package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/coresense/coredata/internal/metrics"
	"github.com/coresense/coredata/internal/migration"
)

// =============================================================================
// Schema Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(2)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "init":
		runMigrateInit(subargs)
	case "generate", "create":
		runMigrateGenerate(subargs)
	case "upgrade", "up":
		runMigrateUpgrade(subargs)
	case "downgrade", "down":
		runMigrateDowngrade(subargs)
	case "current":
		runMigrateCurrent(subargs)
	case "history":
		runMigrateHistory(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(2)
	}
}

// newMigrationCLI assembles the migration CLI from configuration
func newMigrationCLI(fs *flag.FlagSet, args []string) (*migration.CLI, func()) {
	cfg := loadConfig(fs, args)
	logger := zap.NewNop()
	if cfg.Log.Level == "debug" {
		logger = initLogger(cfg.Log)
	}

	migrator, backups, err := migration.NewMigratorFromConfig(cfg, logger, metrics.NewCollector("coredata", logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	if err := migrator.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize migration environment: %v\n", err)
		os.Exit(1)
	}

	return migration.NewCLI(migrator, backups), func() { _ = migrator.Close() }
}

func runMigrateInit(args []string) {
	fs := flag.NewFlagSet("migrate init", flag.ExitOnError)
	cli, done := newMigrationCLI(fs, args)
	defer done()

	if err := cli.RunInit(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateGenerate(args []string) {
	fs := flag.NewFlagSet("migrate generate", flag.ExitOnError)
	message := fs.String("m", "", "Revision description")
	fs.StringVar(message, "message", "", "Revision description")

	cli, done := newMigrationCLI(fs, args)
	defer done()

	if *message == "" {
		fmt.Fprintln(os.Stderr, "migrate generate requires -m <description>")
		os.Exit(2)
	}

	if err := cli.RunGenerate(context.Background(), *message); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateUpgrade(args []string) {
	fs := flag.NewFlagSet("migrate upgrade", flag.ExitOnError)
	revision := fs.String("revision", "", "Target revision (default: head)")
	cli, done := newMigrationCLI(fs, args)
	defer done()

	target := migration.TargetHead
	switch rest := fs.Args(); {
	case *revision != "" && *revision != "head":
		target = parseVersion(*revision)
	case len(rest) > 0 && rest[0] != "head":
		target = parseVersion(rest[0])
	}

	if err := cli.RunUp(context.Background(), target); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateDowngrade(args []string) {
	fs := flag.NewFlagSet("migrate downgrade", flag.ExitOnError)
	revision := fs.String("revision", "", "Target revision (0 for the root)")
	cli, done := newMigrationCLI(fs, args)
	defer done()

	target := *revision
	if rest := fs.Args(); target == "" && len(rest) > 0 {
		target = rest[0]
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "migrate downgrade requires a target version (0 for the root)")
		os.Exit(2)
	}

	if err := cli.RunDown(context.Background(), parseVersion(target)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateCurrent(args []string) {
	fs := flag.NewFlagSet("migrate current", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	migrator, _, err := migration.NewMigratorFromConfig(cfg, zap.NewNop(), metrics.NewCollector("coredata", zap.NewNop()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrator.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	version, dirty, err := migrator.Version(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d\n", version)
	if dirty {
		fmt.Fprintln(os.Stderr, "WARNING: schema is dirty")
		os.Exit(1)
	}
}

func runMigrateHistory(args []string) {
	fs := flag.NewFlagSet("migrate history", flag.ExitOnError)
	cli, done := newMigrationCLI(fs, args)
	defer done()

	if err := cli.RunHistory(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateStatus(args []string) {
	fs := flag.NewFlagSet("migrate status", flag.ExitOnError)
	cli, done := newMigrationCLI(fs, args)
	defer done()

	if err := cli.RunStatus(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func parseVersion(s string) uint {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version %q\n", s)
		os.Exit(2)
	}
	return uint(v)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Schema Migration Commands

Usage:
  coredata migrate <subcommand> [options]

Subcommands:
  init                Prepare migrations and backups directories
  generate, create    Create an empty revision pair at the head
  upgrade, up [v]     Apply pending revisions (to v, default head)
  downgrade, down <v> Roll back to revision v (0 for the root)
  current             Print the current schema version
  history             Show the revision chain
  status              Show schema status and backups
  help                Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  -m, --message <d>   Revision description (generate)
  --revision <v>      Target revision (upgrade/downgrade)

Examples:
  coredata migrate init
  coredata migrate generate -m "create users table"
  coredata migrate upgrade
  coredata migrate downgrade 1
  coredata migrate status`)
}
