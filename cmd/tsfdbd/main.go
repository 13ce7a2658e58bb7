// tsfdbd is the time-series API daemon: it serves line-protocol writes
// and query reads over HTTP, backed by FoundationDB.
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
	"github.com/mistio/tsfdb-server/internal/metrics"
	"github.com/mistio/tsfdb-server/internal/server"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	envFile := flag.String("env", "", "optional .env file with overrides")
	listen := flag.String("listen", "", "listen address (overrides TSFDB_LISTEN)")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLogs := flag.Bool("json-logs", false, "emit logs as JSON")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("tsfdbd")
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
	if *listen != "" {
		cfg.ListenAddress = *listen
	}

	db, err := fdblayer.Open(cfg)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}

	layer := tsdb.NewLayer(db, fdblayer.NewDirCache(), cfg)
	writer := ingest.NewWriter(layer, cfg)
	collector := metrics.NewCollector(db, layer, cfg.ActiveMetricWindow)

	srv := server.New(cfg, layer, writer, collector.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server", "error", err)
		os.Exit(1)
	}
}
