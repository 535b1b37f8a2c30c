package notify

import (
	"context"
	"courier-dispatch-service/internal/domain"

	"go.uber.org/zap"
)

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, ev domain.Event) error {
	l.logger.Info("dispatch event",
		zap.String("event_id", ev.ID),
		zap.String("event", string(ev.Type)),
		zap.String("request_id", ev.RequestID),
		zap.String("courier_id", ev.CourierID),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.Any("data", ev.Data),
	)
	return nil
}
