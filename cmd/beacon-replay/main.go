// Command beacon-replay delivers batches left in a durable buffer by a
// previous session, or inspects and clears that buffer.
//
// It opens the same BadgerDB directory (--store) or MySQL table
// (--mysql-dsn) the agent wrote to, runs one startup pass and exits.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/velmie/beacon"
	"github.com/velmie/beacon/badger"
	"github.com/velmie/beacon/buffer"
	"github.com/velmie/beacon/mysql"
	"github.com/velmie/beacon/prommetrics"
	"github.com/velmie/beacon/seal"
)

const exitUsage = 2

var (
	errNoStore    = errors.New("one of --store or --mysql-dsn is required")
	errTwoStores  = errors.New("--store and --mysql-dsn are mutually exclusive")
	errNoEndpoint = errors.New("an endpoint is required to replay; set --endpoint or endpoint in --config")
)

type options struct {
	configPath      string
	endpoint        string
	storePath       string
	mysqlDSN        string
	mysqlTable      string
	recipients      []string
	timeout         time.Duration
	metricsTextfile string
	statsOnly       bool
	clear           bool
	jsonOut         bool
	verbose         bool
}

// report is what the command prints.
type report struct {
	Replay  *beacon.RetryReport `json:"replay,omitempty"`
	Cleared bool                `json:"cleared,omitempty"`
	Stored  beacon.DurableStats `json:"stored"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errNoStore) || errors.Is(err, errTwoStores) {
			os.Exit(exitUsage)
		}
		os.Exit(1)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("beacon-replay", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.configPath, "config", "", "YAML delivery policy (endpoint, headers, retry limits)")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "collector URL; overrides the config file")
	flagSet.StringVar(&opts.storePath, "store", "", "BadgerDB directory holding the durable buffer")
	flagSet.StringVar(&opts.mysqlDSN, "mysql-dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db")
	flagSet.StringVar(&opts.mysqlTable, "mysql-table", "beacon_buffer", "MySQL buffer table")
	flagSet.StringArrayVar(&opts.recipients, "age-recipient", nil, "age public key to seal payloads to (repeatable)")
	flagSet.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline for the replay pass")
	flagSet.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	flagSet.BoolVar(&opts.statsOnly, "stats", false, "print buffer statistics without sending")
	flagSet.BoolVar(&opts.clear, "clear", false, "delete every stored batch without sending")
	flagSet.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	switch {
	case opts.storePath == "" && opts.mysqlDSN == "":
		return options{}, errNoStore
	case opts.storePath != "" && opts.mysqlDSN != "":
		return options{}, errTwoStores
	}

	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	store, closeStore, err := openStore(opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store failed", "err", err)
		}
	}()

	table, err := buffer.NewTable(store, logger)
	if err != nil {
		return err
	}
	if err := table.Initialize(ctx); err != nil {
		return err
	}
	defer table.Close()

	registry := prometheus.NewRegistry()
	metrics := prommetrics.New(prommetrics.Options{Registerer: registry})
	coord := buffer.New(table, buffer.WithLogger(logger), buffer.WithMetrics(metrics))

	var out report
	switch {
	case opts.clear:
		coord.Clear(ctx)
		out.Cleared = true
	case opts.statsOnly:
	default:
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		agent := beacon.NewAgent(
			beacon.WithDurableBuffer(coord),
			beacon.WithLogger(logger),
			beacon.WithMetrics(metrics),
		)
		if err := agent.Configure(cfg); err != nil {
			return err
		}
		replay := agent.Start(ctx)
		out.Replay = &replay
	}
	out.Stored = coord.Stats(ctx)

	if opts.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsTextfile, registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	return printReport(stdout, out, opts.jsonOut)
}

// loadConfig builds the delivery policy. The durable buffer is always
// enabled since it is what this command replays.
func loadConfig(opts options) (beacon.Config, error) {
	var (
		file beacon.FileConfig
		cfg  beacon.Config
	)
	if opts.configPath != "" {
		var err error
		file, cfg, err = beacon.LoadConfigFile(opts.configPath)
		if err != nil {
			return beacon.Config{}, err
		}
	}
	if opts.endpoint != "" {
		cfg.Endpoint = opts.endpoint
	}
	if cfg.Endpoint == "" {
		return beacon.Config{}, errNoEndpoint
	}
	cfg.UsePersistentBuffer = true

	recipients := append(append([]string(nil), file.AgeRecipients...), opts.recipients...)
	if len(recipients) > 0 {
		sealer, err := seal.New(recipients)
		if err != nil {
			return beacon.Config{}, err
		}
		cfg.Encrypt = sealer.Func()
	}

	return cfg, cfg.Validate()
}

func openStore(opts options, logger *slog.Logger) (beacon.Store, func() error, error) {
	if opts.storePath != "" {
		cfg := badger.DefaultConfig(opts.storePath)
		cfg.Logger = logger
		cfg.GCInterval = 0
		store, err := badger.New(cfg)
		if err != nil {
			return nil, nil, err
		}

		return store, func() error { return nil }, nil
	}

	dsn, err := mysqldrv.ParseDSN(opts.mysqlDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dsn: %w", err)
	}
	dsn.ParseTime = true
	connector, err := mysqldrv.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	store, err := mysql.NewStore(db, mysql.WithTable(opts.mysqlTable))
	if err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}

	return store, db.Close, nil
}

func printReport(w io.Writer, out report, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if out.Cleared {
		fmt.Fprintln(w, "buffer cleared")
	}
	if out.Replay != nil {
		fmt.Fprintf(w, "replayed: attempted=%d delivered=%d failed=%d dropped=%d skipped=%d\n",
			out.Replay.Attempted, out.Replay.Delivered, out.Replay.Failed, out.Replay.Dropped, out.Replay.Skipped)
	}
	fmt.Fprintf(w, "stored: total=%d mean_attempt=%.2f available=%t\n",
		out.Stored.Total, out.Stored.MeanAttempt, out.Stored.Available)
	for attempt := 0; attempt <= maxAttempt(out.Stored.ByAttempt); attempt++ {
		if n := out.Stored.ByAttempt[attempt]; n > 0 {
			fmt.Fprintf(w, "  attempt %d: %d\n", attempt, n)
		}
	}

	return nil
}

func maxAttempt(byAttempt map[int]int) int {
	highest := 0
	for attempt := range byAttempt {
		highest = max(highest, attempt)
	}

	return highest
}
