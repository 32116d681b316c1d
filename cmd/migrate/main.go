// Command migrate applies chainwatch's embedded goose migrations to the
// Postgres store.
//
// Usage:
//
//	migrate [-database-url URL] [-timeout 2m] <command> [version]
//
// Commands: up, down, status, version, redo, reset, up-to <v>, down-to <v>.
// The connection string falls back to DATABASE_URL.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/chainwatch/internal/logging"
	"github.com/mbd888/chainwatch/migrations"
)

var errUsage = errors.New("usage")

// commands maps each supported goose command to whether it takes a version.
var commands = map[string]bool{
	"up":      false,
	"down":    false,
	"status":  false,
	"version": false,
	"redo":    false,
	"reset":   false,
	"up-to":   true,
	"down-to": true,
}

type invocation struct {
	databaseURL string
	timeout     time.Duration
	command     string
	args        []string
}

func parseArgs(args []string, getenv func(string) string, stderr io.Writer) (invocation, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inv := invocation{}
	fs.StringVar(&inv.databaseURL, "database-url", getenv("DATABASE_URL"), "Postgres connection string")
	fs.DurationVar(&inv.timeout, "timeout", 2*time.Minute, "deadline for the whole run")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: migrate [-database-url URL] [-timeout 2m] <command> [version]")
		fmt.Fprintln(stderr, "commands: up, down, status, version, redo, reset, up-to <v>, down-to <v>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return inv, errUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return inv, errUsage
	}
	inv.command, inv.args = rest[0], rest[1:]

	needsVersion, ok := commands[inv.command]
	if !ok {
		return inv, fmt.Errorf("unknown command %q", inv.command)
	}
	switch {
	case needsVersion && len(inv.args) != 1:
		return inv, fmt.Errorf("%s needs exactly one version", inv.command)
	case needsVersion:
		if _, err := strconv.ParseInt(inv.args[0], 10, 64); err != nil {
			return inv, fmt.Errorf("%s: invalid version %q", inv.command, inv.args[0])
		}
	case len(inv.args) > 0:
		return inv, fmt.Errorf("%s takes no arguments", inv.command)
	}

	if inv.databaseURL == "" {
		return inv, errors.New("no database: set DATABASE_URL or pass -database-url")
	}
	if inv.timeout <= 0 {
		return inv, errors.New("timeout must be positive")
	}
	return inv, nil
}

func run(ctx context.Context, inv invocation) error {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	db, err := sql.Open("postgres", inv.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return migrations.Run(ctx, db, inv.command, inv.args...)
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	inv, err := parseArgs(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		logger.Error("invalid invocation", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, inv); err != nil {
		logger.Error("migration failed", "command", inv.command, "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("migration finished", "command", inv.command, "duration", time.Since(start))
}
