package ingress

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/auth"
	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/parser"
)

var (
	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_publish_failures_total",
		Help: "Total number of events that failed to publish to the queue",
	})

	linesWithoutSession = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_lines_without_session_total",
		Help: "Total number of log lines dropped for lack of an authenticated source",
	})

	workerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlx_ingress_worker_queue_depth",
		Help: "Summed depth of the ingress worker mailboxes",
	})
)

// GameResolver maps a serverId to its game code for parser construction.
type GameResolver interface {
	GameFor(ctx context.Context, serverID int64) (string, error)
}

// Config wires an Orchestrator.
type Config struct {
	Authenticator *auth.Authenticator
	Factory       *parser.Factory
	Games         GameResolver
	Publisher     events.Publisher
	Logger        *zap.Logger
	WorkerCount   int
	QueueSize     int
	ShutdownGrace time.Duration
}

// Orchestrator fans datagrams across a worker pool. A datagram's worker is
// chosen by hashing its UDP source, so each source is processed in arrival
// order and a beacon's cache write is visible to the source's next log line.
type Orchestrator struct {
	auth      *auth.Authenticator
	factory   *parser.Factory
	games     GameResolver
	publisher events.Publisher
	logger    *zap.SugaredLogger
	grace     time.Duration

	mailboxes []chan Datagram
	wg        sync.WaitGroup

	mu      sync.Mutex
	parsers map[int64]parser.Parser
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	o := &Orchestrator{
		auth:      cfg.Authenticator,
		factory:   cfg.Factory,
		games:     cfg.Games,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.Sugar(),
		grace:     cfg.ShutdownGrace,
		parsers:   make(map[int64]parser.Parser),
	}
	o.mailboxes = make([]chan Datagram, cfg.WorkerCount)
	for i := range o.mailboxes {
		o.mailboxes[i] = make(chan Datagram, cfg.QueueSize)
	}
	return o
}

// Start launches the workers. ctx cancellation stops intake; Stop drains.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, mailbox := range o.mailboxes {
		o.wg.Add(1)
		go o.worker(ctx, mailbox)
	}
	go o.reportQueueDepth(ctx)
	o.logger.Infow("Ingress workers started", "workers", len(o.mailboxes))
}

// Stop closes the mailboxes and waits for in-flight datagrams up to the
// grace period.
func (o *Orchestrator) Stop() {
	for _, mailbox := range o.mailboxes {
		close(mailbox)
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Ingress workers drained")
	case <-time.After(o.grace):
		o.logger.Warn("Ingress worker drain timed out")
	}
}

// Dispatch routes a datagram to its source's worker. Blocks when the worker
// is behind; per-source ordering forbids rerouting.
func (o *Orchestrator) Dispatch(dg Datagram) {
	h := fnv.New32a()
	h.Write([]byte(sourceKey(dg.SourceAddr, dg.SourcePort)))
	o.mailboxes[int(h.Sum32())%len(o.mailboxes)] <- dg
}

func sourceKey(addr string, port int) string {
	// Matches the authenticator's cache key shape.
	return addr + ":" + strconv.Itoa(port)
}

func (o *Orchestrator) worker(ctx context.Context, mailbox <-chan Datagram) {
	defer o.wg.Done()
	// The stop signal cancels ctx before the drain; in-flight datagrams still
	// need working publishes, so processing detaches from cancellation and
	// relies on per-call timeouts.
	processCtx := context.WithoutCancel(ctx)
	for dg := range mailbox {
		o.process(processCtx, dg)
	}
}

func (o *Orchestrator) process(ctx context.Context, dg Datagram) {
	switch c := Classify(dg.Line); c.Kind {
	case KindBeacon:
		o.auth.HandleBeacon(ctx, c.Token, c.GamePort, dg.SourceAddr, dg.SourcePort)

	case KindLogLine:
		serverID, ok := o.auth.LookupSource(dg.SourceAddr, dg.SourcePort)
		if !ok {
			linesWithoutSession.Inc()
			o.auth.WarnNoSession(dg.SourceAddr, dg.SourcePort)
			return
		}

		result := o.parserFor(ctx, serverID).ParseLine(c.Line, serverID)
		if !result.Success {
			o.logger.Warnw("Parse failure", "serverId", serverID, "error", result.Error)
			return
		}
		if result.Event == nil {
			return
		}

		if err := o.publisher.Publish(ctx, result.Event); err != nil {
			publishFailures.Inc()
			o.logger.Errorw("Failed to publish event",
				"serverId", serverID, "eventType", result.Event.EventType, "error", err)
		}

	case KindRejected:
		datagramsDropped.Inc()
	}
}

// parserFor returns the cached parser for a server, creating it on first
// use. Entries live for the process lifetime; the population is bounded by
// the server count.
func (o *Orchestrator) parserFor(ctx context.Context, serverID int64) parser.Parser {
	o.mu.Lock()
	p, ok := o.parsers[serverID]
	o.mu.Unlock()
	if ok {
		return p
	}

	game, err := o.games.GameFor(ctx, serverID)
	if err != nil {
		o.logger.Warnw("Failed to resolve game for server, using no-op parser",
			"serverId", serverID, "error", err)
		return o.factory.New("")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.parsers[serverID]; ok {
		return p
	}
	p = o.factory.New(game)
	o.parsers[serverID] = p
	return p
}

func (o *Orchestrator) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			depth := 0
			for _, mailbox := range o.mailboxes {
				depth += len(mailbox)
			}
			workerQueueDepth.Set(float64(depth))
		case <-ctx.Done():
			return
		}
	}
}
