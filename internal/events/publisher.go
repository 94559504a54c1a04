package events

import (
	"context"

	"github.com/hlstatsnext/ingress/internal/models"
)

// Publisher hands a parsed event to the downstream queue. Implementations
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event *models.ParsedEvent) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event *models.ParsedEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event *models.ParsedEvent) error {
	return f(ctx, event)
}
