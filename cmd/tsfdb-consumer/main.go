// tsfdb-consumer drains the ingest queues: it claims queue leases,
// pops batches and writes them through the storage layer.
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
	"github.com/mistio/tsfdb-server/internal/ingest"
	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/queue"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	envFile := flag.String("env", "", "optional .env file with overrides")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLogs := flag.Bool("json-logs", false, "emit logs as JSON")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("tsfdb-consumer")
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

	db, err := fdblayer.Open(cfg)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}

	layer := tsdb.NewLayer(db, fdblayer.NewDirCache(), cfg)
	writer := ingest.NewWriter(layer, cfg)

	coord := queue.NewCoordinator(db, cfg, writer.WriteBatch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Run(ctx); err != nil {
		log.Error("consumer", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
