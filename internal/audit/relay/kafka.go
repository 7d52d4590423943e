// Package relay ships recorded configuration changes to Kafka.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"trackgate/internal/audit"
)

type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// KafkaProducer publishes changes keyed by client_id so per-client order is kept.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

// NewKafkaProducer connects to the brokers and makes sure the topic exists.
func NewKafkaProducer(ctx context.Context, cfg Config) (*KafkaProducer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopic(ctx, client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaProducer{client: client, topic: cfg.Topic}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, cfg Config) error {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, cfg.Topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("ensure topic %s: %w", cfg.Topic, err)
	}
	return nil
}

// Publish produces the batch synchronously and fails if any record failed.
func (p *KafkaProducer) Publish(ctx context.Context, changes []audit.ConfigurationChange) error {
	records, err := Records(p.topic, changes)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce config changes: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// Records encodes changes as Kafka records.
func Records(topic string, changes []audit.ConfigurationChange) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(changes))
	for _, c := range changes {
		value, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal config change %s: %w", c.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: topic,
			Key:   []byte(c.ClientID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "action", Value: []byte(c.Action)},
				{Key: "change_id", Value: []byte(c.ID)},
			},
		})
	}
	return records, nil
}
