package notify

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/ports"
	"errors"
)

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []ports.Notifier

func (f Fanout) Notify(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
