// Aegis - real-time compliance scoring for ISO 20022 payments
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbd888/aegis/internal/config"
	"github.com/mbd888/aegis/internal/pipeline"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	replayPath := flag.String("replay-mode", "", "replay payments from a local file instead of the live bus")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Config failures happen before the configured logger exists.
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger()
	logger.Info("starting aegis",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	p, err := pipeline.New(cfg, logger, *replayPath)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline error", "error", err)
		os.Exit(1)
	}
}
