// Command continuityd runs the continuity memory engine as a standalone
// daemon: it resolves the embedding provider chain, opens per-agent SQLite
// storage on demand, and keeps the background maintenance loop running
// until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coolmanns/continuity"
	"github.com/coolmanns/continuity/internal/config"
	"github.com/coolmanns/continuity/observer"
	"github.com/coolmanns/continuity/provider/resolve"
	"github.com/coolmanns/continuity/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONTINUITY_CONFIG"), "path to continuity.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []continuity.Option{
		continuity.WithLogger(logger),
		continuity.WithStoreOpener(func(dbPath string) continuity.ExchangeStore {
			return sqlite.New(dbPath, sqlite.WithLogger(logger))
		}),
	}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			logger.Error("observer init failed, continuing without export", "error", err)
		} else {
			defer shutdown(context.Background()) //nolint:errcheck
			opts = append(opts, continuity.WithTracer(observer.NewTracer()))
		}
	}

	embedding, err := resolve.Embedding(ctx, cfg.Embedding)
	if err != nil {
		// Retrieval degrades; session context and archiving still work.
		logger.Warn("no embedding provider available", "error", err)
	} else {
		if inst != nil {
			embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		}
		opts = append(opts, continuity.WithEmbedding(embedding))
	}

	engine := continuity.New(cfg, opts...)
	defer engine.Close() //nolint:errcheck

	logger.Info("continuityd running", "data_dir", cfg.DataDir)
	engine.RunMaintenance(ctx)
}
