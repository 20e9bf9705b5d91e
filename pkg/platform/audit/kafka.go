package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic layout: one topic per category so retention can differ (security and
// reconciliation events outlive operational noise).
const (
	TopicSecurity       = "civica.audit.security"
	TopicOperations     = "civica.audit.operations"
	TopicReconciliation = "civica.audit.reconciliation"
)

// KafkaPublisher emits audit events to Kafka, keyed by correlation id so all
// events for one signup flow land in the same partition, in order.
type KafkaPublisher struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewKafkaPublisher connects to the given brokers. The produce path is
// synchronous: audit loss on process crash is acceptable for operations
// events but not for reconciliation events, so Emit waits for the ack.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProduceRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka audit publisher: %w", err)
	}
	return &KafkaPublisher{client: client, logger: logger}, nil
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: topicFor(event.Category),
		Key:   []byte(event.CorrelationID),
		Value: payload,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		// Audit must never fail the business operation; callers log and move on.
		p.logger.Error("audit publish failed",
			"action", event.Action,
			"topic", record.Topic,
			"error", err,
		)
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func topicFor(category EventCategory) string {
	switch category {
	case CategorySecurity:
		return TopicSecurity
	case CategoryReconciliation:
		return TopicReconciliation
	default:
		return TopicOperations
	}
}
