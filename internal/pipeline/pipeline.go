// Package pipeline owns the scoring pipeline: both rings, the risk
// engine, every worker goroutine, and the shared stop flag.
//
// There are no process-wide singletons. One Pipeline value is built, its
// collaborators are handed to the worker goroutines, and shutdown walks
// the start order in reverse. Start order: metrics endpoint, rule
// watcher, pusher, scorer, ingress. Entering the draining state sets the
// stop flag; ingress finishes its current message and exits, the scorer
// drains the payment ring and the pusher drains the alert ring, both
// bounded by the grace period.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/aegis/internal/alerts"
	"github.com/mbd888/aegis/internal/config"
	"github.com/mbd888/aegis/internal/egress"
	"github.com/mbd888/aegis/internal/ingress"
	"github.com/mbd888/aegis/internal/iso"
	"github.com/mbd888/aegis/internal/metrics"
	"github.com/mbd888/aegis/internal/realtime"
	"github.com/mbd888/aegis/internal/ring"
	"github.com/mbd888/aegis/internal/risk"
	"github.com/mbd888/aegis/internal/rules"
	"github.com/mbd888/aegis/internal/server"
	"github.com/mbd888/aegis/internal/telemetry"
	"github.com/mbd888/aegis/internal/traces"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateInit State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Pipeline wires ingress, scoring, and egress together.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	// replayPath selects file ingress when non-empty.
	replayPath string

	ring1 *ring.Ring[iso.Payment]
	ring2 *ring.Ring[egress.Alert]

	store  *risk.Store
	engine *risk.Engine

	sink *telemetry.Sink
	tps  metrics.TPSWindow

	hub      *realtime.Hub
	recorder *alerts.Recorder
	pusher   *egress.Pusher
	watcher  *rules.Watcher
	live     *ingress.Live

	metricsSrv *http.Server
	metricsLn  net.Listener
	opsSrv     *server.Server

	db             *sql.DB
	tracesShutdown func(context.Context) error

	stop  atomic.Bool
	state atomic.Int32
}

// New builds a pipeline from configuration. replayPath selects replay
// ingress; empty means live.
func New(cfg *config.Config, logger *slog.Logger, replayPath string) (*Pipeline, error) {
	ring1, err := ring.New[iso.Payment](cfg.RingCapacity)
	if err != nil {
		return nil, err
	}
	ring2, err := ring.New[egress.Alert](cfg.AlertRingCapacity)
	if err != nil {
		return nil, err
	}

	store := risk.NewStore(cfg.ShardSoftCap)
	p := &Pipeline{
		cfg:        cfg,
		logger:     logger,
		replayPath: replayPath,
		ring1:      ring1,
		ring2:      ring2,
		store:      store,
		engine:     risk.NewEngine(store, risk.DefaultWeights),
	}
	p.state.Store(int32(StateInit))
	return p, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Run starts every component, processes until the ingress finishes (replay)
// or ctx is cancelled (live), then drains and stops. Any startup failure
// aborts before the pipeline enters the running state.
func (p *Pipeline) Run(ctx context.Context) error {
	p.state.Store(int32(StateStarting))

	shutdownTraces, err := traces.Init(ctx, p.cfg.OTLPEndpoint, p.logger)
	if err != nil {
		return fmt.Errorf("traces init: %w", err)
	}
	p.tracesShutdown = shutdownTraces

	_, startSpan := traces.StartSpan(ctx, "pipeline.start",
		traces.IngressMode(p.mode()),
		traces.RulesPath(p.cfg.RulesPath),
	)

	if err := p.startMetrics(); err != nil {
		startSpan.End()
		return err
	}

	p.sink, err = telemetry.Dial(p.cfg.TelemetryAddr)
	if err != nil {
		startSpan.End()
		return err
	}

	if err := p.startOps(ctx); err != nil {
		startSpan.End()
		return err
	}

	// Rule watcher publishes into the engine's inactive slot.
	p.watcher = rules.New(rules.Config{
		Path:         p.cfg.RulesPath,
		PollInterval: p.cfg.RulesPollInterval,
	}, p.engine, p.logger)
	p.watcher.Start(ctx)

	// Pusher: ring₂ consumer, with best-effort fan-out to the live feed
	// and the audit trail.
	fanout := []func([]byte){p.hub.Broadcast, p.recorder.Submit}
	p.pusher = egress.NewPusher(p.ring2, p.cfg.PushEndpoint, p.logger, fanout...)
	if err := p.pusher.Dial(ctx); err != nil {
		startSpan.End()
		return err
	}
	ingressExited := make(chan struct{})
	scorerDone := make(chan struct{})

	pusherDone := make(chan struct{})
	go func() {
		defer close(pusherDone)
		p.pusher.Run(&p.stop, scorerDone, p.cfg.GracePeriod)
	}()

	go p.scoreLoop(scorerDone, ingressExited)

	p.state.Store(int32(StateRunning))
	startSpan.End()
	p.logger.Info("pipeline running", "mode", p.mode())

	ingressErrCh := make(chan error, 1)
	go func() {
		defer close(ingressExited)
		ingressErrCh <- p.runIngress(ctx)
	}()

	select {
	case <-ctx.Done():
		p.logger.Info("shutdown requested")
	case <-ingressExited:
	}

	p.shutdown(ingressExited, scorerDone, pusherDone)

	select {
	case err := <-ingressErrCh:
		return err
	default:
		return nil
	}
}

func (p *Pipeline) mode() string {
	if p.replayPath != "" {
		return "replay"
	}
	return "live"
}

// startMetrics binds the Prometheus endpoint. A bind failure is fatal.
func (p *Pipeline) startMetrics() error {
	ln, err := net.Listen("tcp", p.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics: bind %s: %w", p.cfg.MetricsAddr, err)
	}
	p.metricsLn = ln
	p.metricsSrv = &http.Server{Handler: metrics.Router()}
	go func() {
		if err := p.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("metrics server error", "error", err)
		}
	}()
	p.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return nil
}

// startOps wires the audit store, the websocket hub, and the ops server.
func (p *Pipeline) startOps(ctx context.Context) error {
	var store alerts.Store
	if p.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", p.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("alert store: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("alert store: ping: %w", err)
		}
		p.db = db
		store = alerts.NewPostgresStore(db)
		p.logger.Info("alert audit trail using postgres")
	} else {
		store = alerts.NewMemoryStore()
	}

	p.recorder = alerts.NewRecorder(store, p.logger)
	p.hub = realtime.NewHub(p.logger)
	go p.hub.Run(ctx)

	if p.cfg.OpsAddr == "" {
		return nil
	}
	p.opsSrv = server.New(p.cfg.OpsAddr, store, p.hub, p.store, p.logger)
	return p.opsSrv.Start()
}

// runIngress runs the configured producer until completion or stop.
func (p *Pipeline) runIngress(ctx context.Context) error {
	if p.replayPath != "" {
		return ingress.NewReplay(p.replayPath, p.ring1, p.logger).Run(&p.stop)
	}
	p.live = ingress.NewLive(p.cfg.KafkaBrokers, p.cfg.KafkaTopic, p.ring1, p.logger)
	return p.live.Run(ctx, &p.stop)
}

// scoreLoop is the ring₁ consumer and ring₂ producer. It never blocks:
// alerts that do not fit are dropped and counted, and an empty input ring
// yields the CPU. After stop it drains ring₁ to completion, bounded by
// the grace period; producerDone gates the final-empty exit so a payment
// the ingress pushes on its way out is still scored.
func (p *Pipeline) scoreLoop(done chan struct{}, producerDone <-chan struct{}) {
	defer close(done)

	var alert egress.Alert
	var drainDeadline time.Time
	var sincePublish int

	for {
		payment, ok := p.ring1.TryPop()
		if ok {
			p.scoreOne(&payment, &alert)
			sincePublish++
			if sincePublish >= 1024 {
				sincePublish = 0
				p.tps.Publish(time.Now())
				metrics.UpdateRingUsage(p.ring1.Len(), p.ring1.Cap())
			}
			continue
		}

		p.tps.Publish(time.Now())
		metrics.UpdateRingUsage(p.ring1.Len(), p.ring1.Cap())

		if p.stop.Load() {
			select {
			case <-producerDone:
				if drainDeadline.IsZero() {
					drainDeadline = time.Now().Add(p.cfg.GracePeriod)
				}
				if p.ring1.Len() == 0 || time.Now().After(drainDeadline) {
					return
				}
			default:
			}
		}
		runtime.Gosched()
	}
}

// scoreOne scores a single payment and emits an alert when warranted.
func (p *Pipeline) scoreOne(payment *iso.Payment, alert *egress.Alert) {
	span := p.sink.Start()
	res := p.engine.Score(payment.DebtorBytes(), payment.AmountMicros)
	p.sink.End(span, res.Score, res.Blocked)

	p.tps.Record()

	if res.Blocked {
		metrics.RecordBlock()
	}
	if !res.Alertable() {
		return
	}
	if !egress.Format(alert, payment.DebtorBytes(), payment.AmountMicros, payment.UETRBytes()) {
		metrics.RecordDrop()
		return
	}
	if !p.ring2.TryPush(*alert) {
		// Alerts are best-effort; scoring never stalls for one.
		metrics.RecordDrop()
	}
}

// shutdown drains and stops everything in reverse start order.
func (p *Pipeline) shutdown(ingressExited, scorerDone, pusherDone chan struct{}) {
	p.state.Store(int32(StateDraining))
	p.stop.Store(true)

	_, span := traces.StartSpan(context.Background(), "pipeline.drain")
	defer span.End()

	// Ingress exits after its current message.
	<-ingressExited
	if p.live != nil {
		_ = p.live.Close()
	}

	// Scorer drains ring₁, pusher drains ring₂, both grace-bounded.
	<-scorerDone
	<-pusherDone
	p.pusher.Close()

	p.watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if p.opsSrv != nil {
		_ = p.opsSrv.Shutdown(shutdownCtx)
	}
	if p.metricsSrv != nil {
		_ = p.metricsSrv.Shutdown(shutdownCtx)
	}

	p.recorder.Close()
	p.sink.Close()
	if p.db != nil {
		_ = p.db.Close()
	}
	if p.tracesShutdown != nil {
		_ = p.tracesShutdown(shutdownCtx)
	}

	p.state.Store(int32(StateStopped))
	p.logger.Info("pipeline stopped")
}
