package ports

import (
	"context"
	"courier-dispatch-service/internal/domain"
)

// Port: receives typed dispatch events. Delivery guarantees are the implementation's concern.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Port: accepts courier position pings for an active delivery.
type PositionSink interface {
	RecordPosition(ctx context.Context, requestID string, pos domain.Position) error
}
