// Command beacon-prune removes stale batches from a MySQL durable buffer.
//
// Batches older than the retention window were never delivered and no agent
// will retry them. It wraps mysql.PruneMaintainer for cron jobs and sidecars.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"

	"github.com/velmie/beacon"
	"github.com/velmie/beacon/mysql"
)

const exitUsage = 2

var errDSNRequired = errors.New("--dsn is required")

type options struct {
	dsn        string
	table      string
	retention  time.Duration
	checkEvery time.Duration
	limit      int
	lockName   string
	once       bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errDSNRequired) {
			os.Exit(exitUsage)
		}
		os.Exit(1)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("beacon-prune", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flagSet.StringVar(&opts.table, "table", "beacon_buffer", "buffer table name")
	flagSet.DurationVar(&opts.retention, "retention", 0, "delete batches older than this duration")
	flagSet.DurationVar(&opts.checkEvery, "check-every", time.Hour, "how often to prune")
	flagSet.IntVar(&opts.limit, "limit", 0, "max rows deleted per run (0 uses default)")
	flagSet.StringVar(&opts.lockName, "lock-name", "", "advisory lock name (optional)")
	flagSet.BoolVar(&opts.once, "once", false, "run once and exit")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if opts.dsn == "" {
		return options{}, errDSNRequired
	}

	return opts, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	db, err := sql.Open("mysql", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	maintainer, err := mysql.NewPruneMaintainer(db, mysql.PruneMaintainerConfig{
		Table:      opts.table,
		Retention:  opts.retention,
		CheckEvery: opts.checkEvery,
		Limit:      opts.limit,
		LockName:   opts.lockName,
		Clock:      beacon.SystemClock{},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if opts.once {
		removed, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		logger.Info("prune done", "table", opts.table, "removed", removed)

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
