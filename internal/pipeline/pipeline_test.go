package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/aegis/internal/config"
	"github.com/mbd888/aegis/internal/egress"
	"github.com/mbd888/aegis/internal/iso"
	"github.com/mbd888/aegis/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// pullCollector is a ZeroMQ PULL endpoint capturing pushed alerts.
type pullCollector struct {
	sock zmq4.Socket
	mu   sync.Mutex
	msgs []string
}

func newPullCollector(t *testing.T) (*pullCollector, string) {
	t.Helper()
	sock := zmq4.NewPull(context.Background())
	require.NoError(t, sock.Listen("tcp://127.0.0.1:0"))
	c := &pullCollector{sock: sock}
	go func() {
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			c.mu.Lock()
			c.msgs = append(c.msgs, string(msg.Bytes()))
			c.mu.Unlock()
		}
	}()
	t.Cleanup(func() { sock.Close() })
	return c, fmt.Sprintf("tcp://%s", sock.Addr().String())
}

func (c *pullCollector) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func testConfig(pushEndpoint string) *config.Config {
	return &config.Config{
		LogLevel:          "error",
		KafkaBrokers:      "unused:9092",
		KafkaTopic:        "transactions.euro.v1",
		PushEndpoint:      pushEndpoint,
		MetricsAddr:       "127.0.0.1:0",
		OpsAddr:           "127.0.0.1:0",
		TelemetryAddr:     "", // disabled
		RulesPath:         filepath.Join(os.TempDir(), "absent_weights.json"),
		RulesPollInterval: time.Hour,
		RingCapacity:      16384,
		AlertRingCapacity: 4096,
		ShardSoftCap:      config.DefaultShardSoftCap,
		GracePeriod:       time.Second,
	}
}

func paymentLine(debtor, amount string) string {
	return `<Document><CstmrCdtTrfinitn><PmtInf>` +
		`<PmtId><UETR>uetr-1</UETR></PmtId>` +
		`<Dbtr><Nm>` + debtor + `</Nm></Dbtr>` +
		`<Cdtr><Nm>Creditor</Nm></Cdtr>` +
		`<Amt><InstdAmt Ccy="EUR">` + amount + `</InstdAmt></Amt>` +
		`</PmtInf></CstmrCdtTrfinitn></Document>`
}

func writeReplayFile(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// TestReplayDrain runs the whole pipeline over a replay file and checks
// that every valid record is scored and the alert burst reaches the
// downstream PULL socket.
func TestReplayDrain(t *testing.T) {
	collector, endpoint := newPullCollector(t)

	// 2000 distinct low-risk payments plus a structuring burst from one
	// entity that saturates velocity.
	var lines []string
	for i := 0; i < 2000; i++ {
		lines = append(lines, paymentLine(fmt.Sprintf("Debtor-%d", i), "100.00"))
	}
	for i := 0; i < 20; i++ {
		lines = append(lines, paymentLine("Mule Corp", "9000.00"))
	}
	path := writeReplayFile(t, lines)

	cfg := testConfig(endpoint)
	p, err := New(cfg, testLogger(), path)
	require.NoError(t, err)

	txBefore := testutil.ToFloat64(metrics.TransactionsTotal)
	blocksBefore := testutil.ToFloat64(metrics.RiskBlocksTotal)

	require.Equal(t, StateInit, p.State())
	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, StateStopped, p.State())

	scored := testutil.ToFloat64(metrics.TransactionsTotal) - txBefore
	assert.Equal(t, float64(2020), scored, "every valid record is scored")

	blocked := testutil.ToFloat64(metrics.RiskBlocksTotal) - blocksBefore
	assert.Greater(t, blocked, float64(0), "the burst produces blocks")

	// The burst alerts arrive downstream (delivery is lossy but local).
	assert.Eventually(t, func() bool {
		return len(collector.received()) > 0
	}, 3*time.Second, 20*time.Millisecond)

	for _, msg := range collector.received() {
		assert.Contains(t, msg, `"debtor":"Mule Corp"`)
		assert.Contains(t, msg, `"amount":9000.000000`)
	}
}

// TestScorerNeverBlocksOnFullAlertRing fills ring₂ and checks scoring
// continues while the drop counter absorbs the overflow.
func TestScorerNeverBlocksOnFullAlertRing(t *testing.T) {
	cfg := testConfig("tcp://127.0.0.1:1") // never dialed in this test
	cfg.AlertRingCapacity = 4
	p, err := New(cfg, testLogger(), "")
	require.NoError(t, err)
	p.sink = nil // telemetry disabled; a nil sink discards spans

	// Repeat one structuring-sized payment so velocity climbs; from the
	// fourth observation on every payment is alertable.
	var payment iso.Payment
	require.NoError(t, iso.Decode([]byte(paymentLine("Mule Corp", "9000.00")), &payment))

	txBefore := testutil.ToFloat64(metrics.TransactionsTotal)
	dropsBefore := testutil.ToFloat64(metrics.DropsTotal)

	var alert egress.Alert
	const n = 100
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			p.scoreOne(&payment, &alert)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scorer blocked on a full alert ring")
	}

	scored := testutil.ToFloat64(metrics.TransactionsTotal) - txBefore
	assert.Equal(t, float64(n), scored)

	drops := testutil.ToFloat64(metrics.DropsTotal) - dropsBefore
	// Ring capacity 4 holds 3 alerts; nearly the whole alertable burst
	// drops, and every payment was still scored.
	assert.Greater(t, drops, float64(50))
}

// TestRulesFileLoadedOnRun starts the pipeline with a weights file on disk
// and checks the watcher's initial load published it into the engine.
func TestRulesFileLoadedOnRun(t *testing.T) {
	_, endpoint := newPullCollector(t)

	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "model_weights.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(
		`{"velocity_weight":0.8,"structuring_weight":0.1,"velocity_threshold":3,"structuring_threshold":8000,"baseline":0.05}`,
	), 0o644))

	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, paymentLine(fmt.Sprintf("D-%d", i), "50.00"))
	}
	path := writeReplayFile(t, lines)

	cfg := testConfig(endpoint)
	cfg.RulesPath = rulesPath
	p, err := New(cfg, testLogger(), path)
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))

	// The watcher's initial load published generation 1.
	assert.Equal(t, uint64(1), p.engine.Generation())
	assert.Equal(t, 0.8, p.engine.ActiveWeights().VelocityWeight)
}
