package pipeline

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSource reads envelopes from a topic as part of a consumer group.
type KafkaSource struct {
	reader *kafka.Reader
}

// NewKafkaSource creates a consumer group reader for topic.
func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
	}
}

func (s *KafkaSource) Fetch(ctx context.Context) (Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		raw:       m,
	}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msg Message) error {
	m, ok := msg.raw.(kafka.Message)
	if !ok {
		return fmt.Errorf("message was not fetched from kafka")
	}
	return s.reader.CommitMessages(ctx, m)
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// KafkaSink writes results to a topic.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a writer for topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, msg Message) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
