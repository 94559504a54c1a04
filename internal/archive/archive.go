// Package archive implements the buffered writer that lands every parsed
// event in ClickHouse for offline analytics. This decouples the hot UDP path
// from analytical writes, providing:
// - Backpressure handling via load shedding
// - Batch inserts for efficient ClickHouse writes
// - Graceful shutdown with flush guarantees
package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

var (
	eventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_events_archived_total",
		Help: "Total number of events written to the archive",
	})

	eventsArchiveFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_events_archive_failed_total",
		Help: "Total number of events that failed archival",
	})

	eventsLoadShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_archive_load_shed_total",
		Help: "Total number of events dropped because the archive queue was full",
	})

	archiveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlx_archive_queue_depth",
		Help: "Current depth of the archive queue",
	})

	batchInsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlx_archive_batch_insert_duration_seconds",
		Help:    "Duration of batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})
)

// Config configures the archive writer.
type Config struct {
	ClickHouse    driver.Conn
	Logger        *zap.Logger
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Writer batches events into ClickHouse. Archival is best effort: a full
// queue sheds the event and the pipeline moves on.
type Writer struct {
	cfg    Config
	queue  chan *models.ParsedEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

func NewWriter(cfg Config) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Writer{
		cfg:    cfg,
		queue:  make(chan *models.ParsedEvent, cfg.QueueSize),
		logger: cfg.Logger.Sugar(),
	}
}

// Start launches the flush goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run()
	go w.reportQueueDepth()
	w.logger.Infow("Archive writer started",
		"queueSize", w.cfg.QueueSize, "batchSize", w.cfg.BatchSize)
}

// Stop flushes the remaining batch and waits for the writer to exit.
func (w *Writer) Stop() {
	w.cancel()
	close(w.queue)
	w.wg.Wait()
	w.logger.Info("Archive writer stopped")
}

// Enqueue queues an event for archival. Returns false when shed.
func (w *Writer) Enqueue(event *models.ParsedEvent) bool {
	select {
	case w.queue <- event:
		return true
	default:
		eventsLoadShed.Inc()
		return false
	}
}

// QueueDepth returns the current queue size.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

func (w *Writer) run() {
	defer w.wg.Done()

	batch := make([]*models.ParsedEvent, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.writeBatch(batch); err != nil {
			w.logger.Errorw("Archive batch failed", "batchSize", len(batch), "error", err)
			eventsArchiveFailed.Add(float64(len(batch)))
		} else {
			eventsArchived.Add(float64(len(batch)))
		}
		batchInsertDuration.Observe(time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) writeBatch(batch []*models.ParsedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chBatch, err := w.cfg.ClickHouse.PrepareBatch(ctx, `
		INSERT INTO hlx.parsed_events (
			event_id, correlation_id, event_type, server_id, timestamp,
			steam_id, player_name, is_bot, raw, payload
		)
	`)
	if err != nil {
		return err
	}

	for _, ev := range batch {
		payload, _ := json.Marshal(ev.Data)
		var steamID, playerName string
		var isBot bool
		if ev.Meta != nil {
			steamID = ev.Meta.SteamID
			playerName = ev.Meta.PlayerName
			isBot = ev.Meta.IsBot
		}
		if err := chBatch.Append(
			ev.EventID,
			ev.CorrelationID,
			string(ev.EventType),
			uint64(ev.ServerID),
			ev.Timestamp,
			steamID,
			playerName,
			isBot,
			ev.Raw,
			string(payload),
		); err != nil {
			w.logger.Warnw("Failed to append event to archive batch",
				"eventId", ev.EventID, "error", err)
		}
	}

	return chBatch.Send()
}

func (w *Writer) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			archiveQueueDepth.Set(float64(len(w.queue)))
		case <-w.ctx.Done():
			return
		}
	}
}
