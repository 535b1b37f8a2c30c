package events

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocationPing is the wire form of a courier position update.
type LocationPing struct {
	RequestID      string    `json:"request_id"`
	CourierID      string    `json:"courier_id"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	SpeedKmh       float64   `json:"speed_kmh"`
	AccuracyMeters float64   `json:"accuracy_m"`
	RecordedAt     time.Time `json:"recorded_at"`
}

func (p LocationPing) Position() domain.Position {
	return domain.Position{
		Point:          domain.GeoPoint{Lat: p.Lat, Lon: p.Lon},
		SpeedKmh:       p.SpeedKmh,
		AccuracyMeters: p.AccuracyMeters,
		RecordedAt:     p.RecordedAt,
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// PingConsumer feeds courier location pings from Kafka into a PositionSink.
type PingConsumer struct {
	reader messageReader
	sink   ports.PositionSink
	logger *zap.Logger
}

// NewPingConsumer creates a consumer-group reader on topic.
func NewPingConsumer(
	brokers []string,
	groupID string,
	topic string,
	sink ports.PositionSink,
	log *zap.Logger,
) *PingConsumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	return newPingConsumer(reader, sink, log)
}

func newPingConsumer(reader messageReader, sink ports.PositionSink, log *zap.Logger) *PingConsumer {
	return &PingConsumer{reader: reader, sink: sink, logger: logger.OrNop(log)}
}

// Start consumes pings until ctx is cancelled. Pings are committed whether or
// not they apply; a stale position is never worth redelivering.
func (c *PingConsumer) Start(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch ping: %w", err)
		}

		c.handleMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("failed to commit ping offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *PingConsumer) Close() error {
	return c.reader.Close()
}

func (c *PingConsumer) handleMessage(ctx context.Context, msg kafkago.Message) {
	var ping LocationPing
	if err := json.Unmarshal(msg.Value, &ping); err != nil {
		c.logger.Error("failed to parse location ping",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return
	}
	if ping.RequestID == "" {
		c.logger.Warn("location ping without request id", zap.String("courier_id", ping.CourierID))
		return
	}

	err := c.sink.RecordPosition(ctx, ping.RequestID, ping.Position())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionNotFound):
		c.logger.Debug("ping for inactive delivery", zap.String("request_id", ping.RequestID))
	case domain.IsValidation(err):
		c.logger.Warn("invalid location ping", zap.String("request_id", ping.RequestID), zap.Error(err))
	default:
		c.logger.Error("failed to record position", zap.String("request_id", ping.RequestID), zap.Error(err))
	}
}
