// Package queue publishes parsed events onto the downstream Redis Stream
// consumed by the scoring workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlx_events_published_total",
		Help: "Total number of events published to the downstream stream",
	}, []string{"event_type"})

	publishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_publish_retries_total",
		Help: "Total number of publish attempts that were retried",
	})
)

// StreamClient is the subset of the Redis client the publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends events to a capped Redis Stream. Transient failures are
// retried with exponential backoff before surfacing.
type Publisher struct {
	client  StreamClient
	stream  string
	maxLen  int64
	logger  *zap.SugaredLogger
	retries uint64
}

func NewPublisher(client StreamClient, stream string, maxLen int64, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		logger:  logger.Sugar(),
		retries: 3,
	}
}

// Publish appends one event to the stream. The envelope is one JSON payload
// field plus indexable id/type/server fields.
func (p *Publisher) Publish(ctx context.Context, event *models.ParsedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":       event.EventID,
			"correlation_id": event.CorrelationID,
			"event_type":     string(event.EventType),
			"server_id":      event.ServerID,
			"payload":        payload,
		},
	}

	attempt := 0
	op := func() error {
		if attempt > 0 {
			publishRetries.Inc()
			p.logger.Debugw("Retrying event publish", "eventId", event.EventID, "attempt", attempt)
		}
		attempt++
		return p.client.XAdd(ctx, args).Err()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond
	expo.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, p.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("publish %s to stream %s: %w", event.EventID, p.stream, err)
	}

	eventsPublished.WithLabelValues(string(event.EventType)).Inc()
	return nil
}
