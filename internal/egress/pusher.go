package egress

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/mbd888/aegis/internal/ring"
)

// Pusher drains the egress ring into a ZeroMQ PUSH socket. Delivery is
// best-effort: send failures are dropped silently, matching the lossy
// downstream contract.
type Pusher struct {
	ring     *ring.Ring[Alert]
	endpoint string
	logger   *slog.Logger

	sock zmq4.Socket

	// fanout receives a copy of every pushed line (websocket feed, audit
	// store). Each callback must be non-blocking.
	fanout []func([]byte)
}

// NewPusher creates a pusher over the given ring. Fanout callbacks are
// invoked after the socket send with the formatted line.
func NewPusher(r *ring.Ring[Alert], endpoint string, logger *slog.Logger, fanout ...func([]byte)) *Pusher {
	return &Pusher{ring: r, endpoint: endpoint, logger: logger, fanout: fanout}
}

// Dial connects the PUSH socket. A connection failure is a startup error;
// once dialed, ZeroMQ handles reconnects internally. Cancelling ctx makes
// any in-flight send fail fast, which Run treats as a drop.
func (p *Pusher) Dial(ctx context.Context) error {
	sock := zmq4.NewPush(ctx)
	if err := sock.Dial(p.endpoint); err != nil {
		return fmt.Errorf("egress: dial %s: %w", p.endpoint, err)
	}
	p.sock = sock
	p.logger.Info("egress connected", "endpoint", p.endpoint)
	return nil
}

// Run consumes the ring until stop is set and the producer has exited,
// then drains whatever is left within the grace period. It is the ring's
// single consumer; producerDone gates the final-empty exit so alerts the
// scorer emits while draining ring₁ are not stranded.
func (p *Pusher) Run(stop *atomic.Bool, producerDone <-chan struct{}, grace time.Duration) {
	var deadline time.Time

	for {
		msg, ok := p.ring.TryPop()
		if ok {
			p.send(&msg)
			continue
		}

		if stop.Load() {
			select {
			case <-producerDone:
				if deadline.IsZero() {
					deadline = time.Now().Add(grace)
				}
				if p.ring.Len() == 0 || time.Now().After(deadline) {
					return
				}
			default:
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *Pusher) send(msg *Alert) {
	if p.sock != nil {
		// Drop on error: the subscriber may be absent or slow and the
		// scorer must never feel it.
		_ = p.sock.Send(zmq4.NewMsg(msg.Bytes()))
	}
	for _, fn := range p.fanout {
		fn(msg.Bytes())
	}
}

// Close tears the socket down. Call after Run has returned.
func (p *Pusher) Close() {
	if p.sock != nil {
		_ = p.sock.Close()
	}
}
