package ingress

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/mbd888/aegis/internal/iso"
	"github.com/mbd888/aegis/internal/ring"
)

// maxLineBytes bounds a single replay record. ISO documents on one line
// run a few kilobytes; a megabyte is generous.
const maxLineBytes = 1 << 20

// Replay feeds the ring from a local file of one XML document per line.
// Lines that fail to decode are skipped silently.
type Replay struct {
	path   string
	ring   *ring.Ring[iso.Payment]
	logger *slog.Logger
}

// NewReplay creates a file ingress.
func NewReplay(path string, r *ring.Ring[iso.Payment], logger *slog.Logger) *Replay {
	return &Replay{path: path, ring: r, logger: logger}
}

// Run reads the file to completion or until stop is requested. A missing
// file is a startup error.
func (r *Replay) Run(stop *atomic.Bool) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.path, err)
	}
	defer f.Close()

	r.logger.Info("replay started", "path", r.path)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var read, pushed, skipped int
	var payment iso.Payment

	for scanner.Scan() {
		if stop.Load() {
			break
		}
		read++
		if err := iso.Decode(scanner.Bytes(), &payment); err != nil {
			skipped++
			continue
		}
		if !pushBlocking(r.ring, &payment, stop) {
			break
		}
		pushed++
	}
	if err := scanner.Err(); err != nil {
		r.logger.Error("replay read failed", "path", r.path, "error", err)
	}

	r.logger.Info("replay finished", "read", read, "pushed", pushed, "skipped", skipped)
	return nil
}
