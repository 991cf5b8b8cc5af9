// Package metrics provides Prometheus instrumentation for the scoring
// pipeline and the /metrics endpoint.
//
// Recording functions sit on the hot path: they are single atomic adds.
// Gauges (TPS, ring utilization) are sampled by the scorer loop, never
// computed per message.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IngressTPS reports messages per second into the scorer, computed
	// over windows of at least one second.
	IngressTPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_ingress_tps",
		Help: "Transactions per second entering the system.",
	})

	// RingBufferUsage reports the most recent sampled utilization of the
	// ingress ring, 0..1.
	RingBufferUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_ring_buffer_usage",
		Help: "Ring buffer utilization ratio (0-1).",
	})

	// TransactionsTotal counts payments scored.
	TransactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_transactions_total",
		Help: "Total transactions processed.",
	})

	// RiskBlocksTotal counts payments scored with blocked=true.
	RiskBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_risk_blocks_total",
		Help: "Total transactions blocked due to high risk.",
	})

	// DropsTotal counts alerts dropped because the egress ring was full
	// or the formatted line overflowed the record.
	DropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_drops_total",
		Help: "Total messages dropped due to backpressure.",
	})
)

func init() {
	prometheus.MustRegister(
		IngressTPS,
		RingBufferUsage,
		TransactionsTotal,
		RiskBlocksTotal,
		DropsTotal,
	)
}

// RecordBlock counts one blocked payment.
func RecordBlock() { RiskBlocksTotal.Inc() }

// RecordDrop counts one dropped alert.
func RecordDrop() { DropsTotal.Inc() }

// UpdateRingUsage samples ring occupancy into the usage gauge.
func UpdateRingUsage(length, capacity int) {
	if capacity <= 0 {
		return
	}
	RingBufferUsage.Set(float64(length) / float64(capacity))
}

// TPSWindow accumulates scored-message counts and publishes a
// messages-per-second gauge over windows of at least one second. Record is
// hot-path safe; Publish is called periodically by the scorer loop.
type TPSWindow struct {
	count      atomic.Uint64
	lastMillis atomic.Int64
}

// Record counts one scored payment, bumping both the process counter and
// the current window.
func (w *TPSWindow) Record() {
	TransactionsTotal.Inc()
	w.count.Add(1)
}

// Publish recomputes the TPS gauge if the window spans at least a second.
func (w *TPSWindow) Publish(now time.Time) {
	nowMillis := now.UnixMilli()
	last := w.lastMillis.Load()
	if last == 0 {
		w.lastMillis.Store(nowMillis)
		return
	}
	elapsed := nowMillis - last
	if elapsed < 1000 {
		return
	}
	count := w.count.Swap(0)
	IngressTPS.Set(float64(count) * 1000 / float64(elapsed))
	w.lastMillis.Store(nowMillis)
}

// Handler returns the Prometheus exposition handler for gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Router builds the metrics router: every method and path serves the
// exposition body. The endpoint deliberately ignores the request — a
// scraper, a load balancer probe, and a curl all get the same answer.
func Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.NoRoute(Handler())
	return r
}
