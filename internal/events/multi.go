package events

import (
	"context"
	"errors"

	"github.com/hlstatsnext/ingress/internal/models"
)

// Multi fans one event out to several publishers in order. Every publisher
// sees the event even when an earlier one fails; errors are joined.
func Multi(pubs ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, event *models.ParsedEvent) error {
		var errs []error
		for _, p := range pubs {
			if err := p.Publish(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
