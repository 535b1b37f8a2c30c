package notify

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaNotifier publishes dispatch events as JSON, keyed by request id so
// every event for one delivery lands on the same partition.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewSaramaConfig is the producer configuration used for dispatch events.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 10 * time.Second
	return cfg
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.Logger) (*KafkaNotifier, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create sarama producer: %w", err)
	}

	n := NewKafkaNotifierWithProducer(producer, topic, log)
	n.logger.Info("kafka notifier ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return n, nil
}

func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger.OrNop(log)}
}

func (k *KafkaNotifier) Notify(ctx context.Context, ev domain.Event) error {
	if k.producer == nil {
		return fmt.Errorf("kafka notifier: producer is not initialized")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka notifier: encode %s: %w", ev.Type, err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.RequestID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
		Timestamp: ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka notifier: send %s to %s: %w", ev.Type, k.topic, err)
	}

	k.logger.Debug("event published",
		zap.String("event", string(ev.Type)),
		zap.String("request_id", ev.RequestID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
