// Package rules watches the model-weights file on disk and publishes new
// weight sets to the scoring engine through its double-buffered swap.
//
// The watcher polls rather than using inotify: the file is rewritten at
// most every few seconds and a poll keeps the code portable. A reload that
// fails to read or parse leaves the previously active weights in place.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbd888/aegis/internal/risk"
)

// MinPollInterval is the floor for the watcher's poll cadence.
const MinPollInterval = time.Second

// Publisher is the engine-side hook the watcher publishes through.
type Publisher interface {
	Publish(w risk.Weights) uint64
}

// Config for the weights watcher.
type Config struct {
	Path         string
	PollInterval time.Duration
}

// Watcher polls the weights file and publishes changed contents.
type Watcher struct {
	config    Config
	publisher Publisher
	logger    *slog.Logger

	lastModTime time.Time
	lastSize    int64

	stop chan struct{}
	done chan struct{}
}

// New creates a watcher. Intervals below MinPollInterval are raised to it.
func New(cfg Config, publisher Publisher, logger *slog.Logger) *Watcher {
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	return &Watcher{
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start performs an initial load attempt and begins polling. A missing or
// invalid file at startup is not fatal: the engine keeps its defaults.
func (w *Watcher) Start(ctx context.Context) {
	if err := w.reload(); err != nil {
		w.logger.Warn("initial weights load failed, keeping defaults",
			"path", w.config.Path, "error", err)
	}
	go w.pollLoop(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.reload(); err != nil {
				w.logger.Warn("weights reload failed, keeping active set",
					"path", w.config.Path, "error", err)
			}
		}
	}
}

// reload re-reads the file if it changed since the last successful load
// and publishes the parsed weights.
func (w *Watcher) reload() error {
	info, err := os.Stat(w.config.Path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.ModTime().Equal(w.lastModTime) && info.Size() == w.lastSize {
		return nil
	}

	weights, err := Load(w.config.Path)
	if err != nil {
		return err
	}

	gen := w.publisher.Publish(weights)
	w.lastModTime = info.ModTime()
	w.lastSize = info.Size()

	w.logger.Info("weights published",
		"generation", gen,
		"velocity_weight", weights.VelocityWeight,
		"structuring_weight", weights.StructuringWeight,
		"velocity_threshold", weights.VelocityThreshold,
		"structuring_threshold", weights.StructuringThreshold,
		"baseline", weights.Baseline,
	)
	return nil
}

// Load reads and validates a weights file.
func Load(path string) (risk.Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return risk.Weights{}, fmt.Errorf("read: %w", err)
	}
	var weights risk.Weights
	if err := json.Unmarshal(data, &weights); err != nil {
		return risk.Weights{}, fmt.Errorf("parse: %w", err)
	}
	if err := validate(weights); err != nil {
		return risk.Weights{}, err
	}
	return weights, nil
}

func validate(w risk.Weights) error {
	if w.VelocityThreshold <= 0 {
		return fmt.Errorf("velocity_threshold must be positive, got %v", w.VelocityThreshold)
	}
	if w.StructuringThreshold <= 0 {
		return fmt.Errorf("structuring_threshold must be positive, got %v", w.StructuringThreshold)
	}
	if w.VelocityWeight < 0 || w.StructuringWeight < 0 || w.Baseline < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	return nil
}
