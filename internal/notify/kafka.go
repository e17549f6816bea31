package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"custodyledger/pkg/domain"
)

// producer is the subset of *kgo.Client used by KafkaSink.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink writes each event as one record keyed by product id, so that a
// product's events stay ordered within a partition.
type KafkaSink struct {
	client producer
	topic  string
}

// NewKafkaSink connects a franz-go client to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, events []domain.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   eventKey(e),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "kind", Value: []byte(e.Kind)},
				{Key: "event_id", Value: []byte(e.ID)},
			},
		})
	}
	return k.client.ProduceSync(ctx, records...).FirstErr()
}

// Close flushes and closes the client.
func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}

func eventKey(e domain.Event) []byte {
	if e.ProductID == 0 {
		return []byte("roles")
	}
	return []byte(strconv.FormatUint(e.ProductID, 10))
}
