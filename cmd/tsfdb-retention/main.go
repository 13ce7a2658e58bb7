// tsfdb-retention expires stored datapoints according to a YAML rules
// file. With -once it runs a single pass and exits.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/fdblayer"
	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/retention"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	envFile := flag.String("env", "", "optional .env file with overrides")
	rulesPath := flag.String("rules", "", "rules file (overrides RETENTION_RULES)")
	once := flag.Bool("once", false, "run one pass and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLogs := flag.Bool("json-logs", false, "emit logs as JSON")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("tsfdb-retention")
	log.Info("starting", "version", Version)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Error("load env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration", "error", err)
		os.Exit(1)
	}
	if *rulesPath != "" {
		cfg.RetentionRules = *rulesPath
	}
	if cfg.RetentionRules == "" {
		log.Error("no rules file configured (use -rules or RETENTION_RULES)")
		os.Exit(1)
	}

	rules, err := retention.LoadRules(cfg.RetentionRules)
	if err != nil {
		log.Error("load rules", "error", err)
		os.Exit(1)
	}

	db, err := fdblayer.Open(cfg)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}

	layer := tsdb.NewLayer(db, fdblayer.NewDirCache(), cfg)

	engine, err := retention.NewEngine(layer, rules, cfg.RetentionInterval)
	if err != nil {
		log.Error("compile rules", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := engine.Apply(ctx); err != nil {
			log.Error("retention pass", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("retention", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
