package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"frameworks/spyglass/pkg/api/spyglass"
	"frameworks/spyglass/pkg/logging"
)

// KafkaPublisher writes live-view notifications to a Kafka topic. The
// fan-out channel name travels as the record key so downstream consumers can
// partition per tenant.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger logging.Logger
}

// NewKafkaPublisher connects to the brokers and targets topic for all
// notifications.
func NewKafkaPublisher(brokers []string, topic string, logger logging.Logger) (*KafkaPublisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("spyglass"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, n spyglass.LiveViewNotification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(topic),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "tenant_id", Value: []byte(n.TenantID)},
			{Key: "video_id", Value: []byte(n.VideoID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce notification: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

// HealthCheck pings the brokers.
func (p *KafkaPublisher) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks.
func (p *KafkaPublisher) GetClient() *kgo.Client {
	return p.client
}
