package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mbd888/aegis/internal/iso"
	"github.com/mbd888/aegis/internal/ring"
)

// pollTimeout bounds each fetch so the stop flag is observed promptly.
const pollTimeout = time.Second

// Live consumes ISO 20022 documents from the upstream bus and feeds the
// scoring ring. Offsets are committed asynchronously every commitBatch
// successfully pushed messages; a message that fails to decode is neither
// pushed nor counted toward a commit. Commits are cumulative, so the next
// batch commit moves the group offset past a skipped message.
type Live struct {
	reader *kafka.Reader
	ring   *ring.Ring[iso.Payment]
	logger *slog.Logger
}

// NewLive creates a bus ingress. Brokers is a comma-separated host:port
// list; the consumer joins GroupID with auto-commit off and starts from
// the latest offset when the group has none committed.
func NewLive(brokers, topic string, r *ring.Ring[iso.Payment], logger *slog.Logger) *Live {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     strings.Split(brokers, ","),
		GroupID:     GroupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     100 * time.Millisecond,
	})
	return &Live{reader: reader, ring: r, logger: logger}
}

// Run consumes until stop is requested or the bus fails fatally. A fatal
// error is logged and returned; the caller lets the pipeline drain.
func (l *Live) Run(ctx context.Context, stop *atomic.Bool) error {
	l.logger.Info("live ingress started",
		"topic", l.reader.Config().Topic,
		"group", GroupID,
	)

	var pushed int
	var payment iso.Payment

	for !stop.Load() {
		fetchCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		msg, err := l.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue // idle poll
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil // shutdown
			}
			l.logger.Error("upstream fatal", "error", err)
			return err
		}

		if err := iso.Decode(msg.Value, &payment); err != nil {
			// Skip, and do not commit: the offset stays uncommitted.
			continue
		}
		if !pushBlocking(l.ring, &payment, stop) {
			return nil
		}
		pushed++

		if pushed%commitBatch == 0 {
			l.commitAsync(msg)
		}
	}
	return nil
}

// commitAsync commits up to and including msg in the background. Commits
// are cumulative, so the latest message covers the whole batch.
func (l *Live) commitAsync(msg kafka.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			l.logger.Warn("offset commit failed", "error", err)
		}
	}()
}

// Close releases the consumer and leaves the group.
func (l *Live) Close() error { return l.reader.Close() }
