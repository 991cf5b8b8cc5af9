// Package ingress produces decoded payments into the scoring ring.
//
// Two closed variants exist: Replay reads one XML document per line from
// a local file, Live consumes a Kafka topic. Both are the ring's single
// producer and both apply the same backpressure policy — when the ring is
// full they yield and retry until the push lands or stop is requested.
// The scorer is never asked to slow down for an alert; ingress is the
// only side that ever waits.
package ingress

import (
	"runtime"
	"sync/atomic"

	"github.com/mbd888/aegis/internal/iso"
	"github.com/mbd888/aegis/internal/ring"
)

// GroupID is the fixed upstream consumer group.
const GroupID = "aegis_group_v1"

// DefaultTopic is consumed when no topic is configured.
const DefaultTopic = "transactions.euro.v1"

// commitBatch is how many successfully pushed messages sit between
// asynchronous offset commits.
const commitBatch = 1000

// pushBlocking spins the payment into the ring, yielding the CPU on every
// failed attempt. Returns false only if stop was requested first.
func pushBlocking(r *ring.Ring[iso.Payment], p *iso.Payment, stop *atomic.Bool) bool {
	for !r.TryPush(*p) {
		if stop.Load() {
			return false
		}
		runtime.Gosched()
	}
	return true
}
