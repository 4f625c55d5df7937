package notify

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
