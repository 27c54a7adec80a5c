package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dstotijn/netlog/pkg/db/bolt"
	"github.com/dstotijn/netlog/pkg/db/memory"
	"github.com/dstotijn/netlog/pkg/intercept"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/metrics"
	"github.com/dstotijn/netlog/pkg/netlog"
	"github.com/dstotijn/netlog/pkg/privacy"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

var version = "0.0.0"

const defaultDBPath = "~/.netlog/netlog.db"

type Config struct {
	dbPath        string
	memory        bool
	privacyConfig string
	maxEntries    int
	maxBodySize   int64
	verbose       bool
	jsonLogs      bool

	logger   *zap.Logger
	registry *prometheus.Registry
}

func main() {
	cfg := &Config{}

	fs := flag.NewFlagSet("netlog", flag.ExitOnError)

	fs.StringVar(&cfg.dbPath, "db", defaultDBPath, "Database file path.")
	fs.BoolVar(&cfg.memory, "memory", false, "Keep log entries in memory only.")
	fs.StringVar(&cfg.privacyConfig, "privacy-config", "", "Privacy policy file (YAML).")
	fs.IntVar(&cfg.maxEntries, "max-entries", reqlog.DefaultMaxEntries, "Maximum number of log entries kept.")
	fs.Int64Var(&cfg.maxBodySize, "max-body-size", intercept.DefaultMaxBodySize,
		"Maximum number of body bytes captured per request and response. Negative disables capture.")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Enable verbose logging.")
	fs.BoolVar(&cfg.jsonLogs, "json", false, "Encode logs as JSON, instead of pretty/human readable output.")
	_ = fs.String("config", "", "Config file (optional).")

	root := &ffcli.Command{
		Name:       "netlog",
		ShortUsage: "netlog [global flags] <subcommand> [flags] [args...]",
		ShortHelp:  "Record, inspect and export HTTP traffic.",
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix("NETLOG"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
		},
		Subcommands: []*ffcli.Command{
			newServeCommand(cfg),
			newSendCommand(cfg),
			newExportCommand(cfg),
			newClearCommand(cfg),
			newVersionCommand(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "netlog: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewZapLogger(cfg.verbose, cfg.jsonLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netlog: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg.logger = logger.Named("main")

	err = root.Run(context.Background())
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		cfg.logger.Fatal("Command failed.", zap.Error(err))
	}
}

// openService opens the repository, loads stored entries and returns a
// running service. The returned close function releases both.
func (cfg *Config) openService(ctx context.Context) (*netlog.Service, func(), error) {
	mainLogger := cfg.logger.Sugar()

	repo, closeRepo, err := cfg.openRepository()
	if err != nil {
		return nil, nil, err
	}

	settings := privacy.DefaultSettings()

	if cfg.privacyConfig != "" {
		path, err := homedir.Expand(cfg.privacyConfig)
		if err != nil {
			closeRepo()
			return nil, nil, fmt.Errorf("failed to expand privacy config path: %w", err)
		}

		settings, err = privacy.LoadFile(path)
		if err != nil {
			closeRepo()
			return nil, nil, err
		}
	}

	cfg.registry = prometheus.NewRegistry()
	cfg.registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(cfg.registry)

	store := reqlog.NewStore(reqlog.Config{
		Repository: repo,
		MaxEntries: cfg.maxEntries,
		Logger:     cfg.logger.Named("reqlog").Sugar(),
		Metrics:    m,
	})

	if err := store.Load(ctx); err != nil {
		mainLogger.Errorw("Failed to load log entries, continuing without stored entries.",
			"error", err)
	}

	svc := netlog.NewService(netlog.Config{
		Store:       store,
		Logger:      cfg.logger.Named("netlog").Sugar(),
		Metrics:     m,
		Privacy:     &settings,
		MaxBodySize: cfg.maxBodySize,
	})

	closeFn := func() {
		if err := svc.Close(); err != nil {
			mainLogger.Errorw("Failed to close service.", "error", err)
		}
		closeRepo()
	}

	return svc, closeFn, nil
}

func (cfg *Config) openRepository() (reqlog.Repository, func(), error) {
	mainLogger := cfg.logger.Sugar()

	if cfg.memory {
		db := memory.New()
		return db, func() { db.Close() }, nil
	}

	dbPath, err := homedir.Expand(cfg.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expand database path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.OpenDatabase(dbPath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if db.Recovered() {
		mainLogger.Infow("Database was unusable and has been recreated.",
			"path", dbPath)
	}

	closeFn := func() {
		if err := db.Close(); err != nil {
			mainLogger.Errorw("Failed to close database.", "error", err)
		}
	}

	return db, closeFn, nil
}

func newVersionCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "netlog version",
		ShortHelp:  "Print the version.",
		Exec: func(context.Context, []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
